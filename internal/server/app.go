// Package server builds the importer's dependency graph from configuration and
// runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-importer/internal/api"
	"github.com/JakeFAU/readlater-importer/internal/clock/system"
	"github.com/JakeFAU/readlater-importer/internal/config"
	idgen "github.com/JakeFAU/readlater-importer/internal/id/uuid"
	"github.com/JakeFAU/readlater-importer/internal/importer"
	"github.com/JakeFAU/readlater-importer/internal/logging"
	"github.com/JakeFAU/readlater-importer/internal/metrics"
	"github.com/JakeFAU/readlater-importer/internal/pipeline"
	"github.com/JakeFAU/readlater-importer/internal/policy/ratelimit"
	"github.com/JakeFAU/readlater-importer/internal/progress"
	progresssinks "github.com/JakeFAU/readlater-importer/internal/progress/sinks"
	collyprovider "github.com/JakeFAU/readlater-importer/internal/provider/colly"
	"github.com/JakeFAU/readlater-importer/internal/provider/detector"
	"github.com/JakeFAU/readlater-importer/internal/provider/firecrawl"
	"github.com/JakeFAU/readlater-importer/internal/provider/headless"
	memorypublisher "github.com/JakeFAU/readlater-importer/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/readlater-importer/internal/publisher/pubsub"
	"github.com/JakeFAU/readlater-importer/internal/scrape"
	"github.com/JakeFAU/readlater-importer/internal/service"
	gcsstorage "github.com/JakeFAU/readlater-importer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/readlater-importer/internal/storage/local"
	memorystorage "github.com/JakeFAU/readlater-importer/internal/storage/memory"
	pgstore "github.com/JakeFAU/readlater-importer/internal/storage/postgres"
	"github.com/JakeFAU/readlater-importer/internal/store"
	"github.com/JakeFAU/readlater-importer/internal/telemetry"
)

type publisher interface {
	importer.DraftPublisher
	Close() error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithLogger uses logger instead of building one from the logging section.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) {
		o.logger = logger
	}
}

// WithRegisterer registers progress collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) {
		o.registerer = reg
	}
}

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	importer       *service.Importer
	apiServer      *api.Server
	progressHub    *progress.Hub
	runRepo        store.RunRepository
	pgStore        *pgstore.RunStore
	headless       *headless.Provider
	publisher      publisher
	gcsClient      *storage.Client
	tracerShutdown telemetry.Shutdown
}

// Importer returns the batch runner.
func (a *App) Importer() *service.Importer {
	return a.importer
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Runs exposes the run repository.
func (a *App) Runs() store.RunRepository {
	return a.runRepo
}

// Build creates the application's dependencies. On failure everything built
// so far is released.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (app *App, err error) {
	o := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger, err = loggingFromConfig(cfg)
		if err != nil {
			return nil, err
		}
	}
	metrics.Init()

	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()

	app.tracerShutdown, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		ProjectID:      cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return app, fmt.Errorf("tracer init failed: %w", err)
	}

	app.logger.Info("building application dependencies",
		zap.String("provider", cfg.Provider.Kind),
		zap.String("storage", cfg.Storage.Backend),
	)

	reports, err := setupStorage(ctx, app)
	if err != nil {
		return app, err
	}
	if err = setupDatabase(ctx, app); err != nil {
		return app, err
	}
	if err = setupPublisher(ctx, app); err != nil {
		return app, err
	}
	emitter := setupProgress(ctx, app, o.registerer)

	provider, err := setupProvider(app)
	if err != nil {
		return app, err
	}
	adapter := scrape.New(
		provider,
		ratelimit.New(ratelimit.Config{RPS: cfg.Scrape.RateLimitRPS, Burst: cfg.Scrape.RateLimitBurst}),
		scrape.Config{
			ProviderName: cfg.Provider.Kind,
			Timeout:      cfg.ScrapeTimeout(),
			Retry:        cfg.RetryPolicy(),
		},
		app.logger,
	)
	app.logger.Info("scrape adapter configured",
		zap.Duration("timeout", cfg.ScrapeTimeout()),
		zap.Int("max_retries", adapter.Policy().MaxRetries()),
		zap.Float64("rate_limit_rps", cfg.Scrape.RateLimitRPS),
	)

	clock := system.New()
	pipe := pipeline.New(adapter, pipeline.Config{
		DefaultConcurrency: cfg.Import.Concurrency,
		MaxConcurrency:     cfg.Import.MaxConcurrency,
		MaxBatchSize:       cfg.Import.MaxBatchSize,
	}, idgen.New(), emitter, clock, app.logger)

	app.importer = service.New(pipe, app.publisher, reports, clock, service.Config{
		ReportPrefix: cfg.Storage.Prefix,
	}, app.logger)

	apiCfg := api.Config{AuthEnabled: cfg.Auth.Enabled, APIKey: cfg.Auth.APIKey}
	if app.pgStore != nil {
		apiCfg.Ready = app.pgStore.Ping
	}
	app.apiServer = api.NewServer(app.importer, app.runRepo, apiCfg, app.logger)
	return app, nil
}

// Run serves HTTP until ctx ends or SIGINT/SIGTERM arrives, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close releases every dependency. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub close: %w", err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher close: %w", err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, err := range errs {
		a.logger.Warn("shutdown step failed", zap.Error(err))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func loggingFromConfig(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func setupStorage(ctx context.Context, app *App) (importer.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS report storage", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobs, nil
	case config.StorageLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local report storage", zap.String("path", app.cfg.Storage.LocalDir))
		return blobs, nil
	case config.StorageNone:
		app.logger.Info("batch reports disabled")
		return nil, nil
	default:
		app.logger.Info("using in-memory report storage")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, keeping run history in memory")
		app.runRepo = memorystorage.NewRunStore()
		return nil
	}
	pg, err := pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:        app.cfg.DB.DSN,
		RunsTable:  app.cfg.DB.RunsTable,
		ItemsTable: app.cfg.DB.ItemsTable,
		MaxConns:   app.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.pgStore = pg
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("run store migrate failed: %w", err)
	}
	app.runRepo = pg
	app.logger.Info("run store initialized",
		zap.String("runs_table", app.cfg.DB.RunsTable),
		zap.String("items_table", app.cfg.DB.ItemsTable),
	)
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.TopicName == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		app.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.publisher = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return nil
}

func setupProgress(ctx context.Context, app *App, reg prometheus.Registerer) progress.Emitter {
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(app.runRepo, app.logger.Named("progress_store")),
		progresssinks.NewLogSink(app.logger),
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		app.logger.Warn("prometheus progress sink disabled", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}

	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   app.cfg.ProgressWait(),
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return app.progressHub
}

func setupProvider(app *App) (importer.Provider, error) {
	cfg := app.cfg
	collyCfg := collyprovider.Config{
		UserAgent:     cfg.Provider.UserAgent,
		RespectRobots: cfg.Provider.RespectRobots,
		Timeout:       cfg.ScrapeTimeout(),
	}

	switch cfg.Provider.Kind {
	case config.ProviderHeadless, config.ProviderAuto:
		renderer, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Provider.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
		}, app.logger)
		if err != nil {
			return nil, fmt.Errorf("headless provider init failed: %w", err)
		}
		app.headless = renderer
		if cfg.Provider.Kind == config.ProviderHeadless {
			app.logger.Info("using headless provider", zap.Int("max_parallel", cfg.Headless.MaxParallel))
			return renderer, nil
		}
		app.logger.Info("using colly provider with headless fallback",
			zap.Int("promotion_threshold", cfg.Headless.PromotionThresh),
		)
		return collyprovider.New(collyCfg, app.logger,
			collyprovider.WithRenderer(renderer, detector.NewHeuristic(cfg.Headless.PromotionThresh)),
		), nil
	case config.ProviderFirecrawl:
		client, err := firecrawl.New(firecrawl.Config{
			BaseURL: cfg.Firecrawl.BaseURL,
			APIKey:  cfg.Firecrawl.APIKey,
			Timeout: cfg.ScrapeTimeout(),
		}, nil, app.logger)
		if err != nil {
			return nil, fmt.Errorf("firecrawl provider init failed: %w", err)
		}
		app.logger.Info("using firecrawl provider", zap.String("base_url", cfg.Firecrawl.BaseURL))
		return client, nil
	default:
		app.logger.Info("using colly provider", zap.String("user_agent", cfg.Provider.UserAgent))
		return collyprovider.New(collyCfg, app.logger), nil
	}
}

// Import runs one batch through the importer.
func (a *App) Import(
	ctx context.Context,
	urls []string,
	opts pipeline.Options,
	onEvent func(importer.ProgressEvent),
) (service.Result, error) {
	return a.importer.Run(ctx, urls, opts, onEvent)
}
