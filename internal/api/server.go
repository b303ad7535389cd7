package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-importer/internal/importer"
	"github.com/JakeFAU/readlater-importer/internal/metrics"
	"github.com/JakeFAU/readlater-importer/internal/pipeline"
	"github.com/JakeFAU/readlater-importer/internal/service"
	"github.com/JakeFAU/readlater-importer/internal/store"
)

const readTimeout = 30 * time.Second

// Runner executes one import batch. *service.Importer satisfies it.
type Runner interface {
	Run(
		ctx context.Context,
		urls []string,
		opts pipeline.Options,
		onEvent func(importer.ProgressEvent),
	) (service.Result, error)
}

// Config controls the HTTP surface.
type Config struct {
	AuthEnabled bool
	APIKey      string
	// Ready, when set, backs /readyz.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the importer and the run repository.
type Server struct {
	router chi.Router
	runner Runner
	runs   *RunHandler
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. runs may be nil,
// in which case the history endpoints answer 503.
func NewServer(runner Runner, runs store.RunRepository, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner: runner,
		runs:   NewRunHandler(runs, logger),
		cfg:    cfg,
		logger: logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/imports", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/", s.runImport)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(readTimeout))
			r.Get("/", s.runs.ListRuns)
			r.Get("/{batch_id}", s.runs.GetRun)
			r.Get("/{batch_id}/items", s.runs.ListItems)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
