package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-importer/internal/importer"
	"github.com/JakeFAU/readlater-importer/internal/pipeline"
	"github.com/JakeFAU/readlater-importer/internal/service"
)

const ndjsonContentType = "application/x-ndjson"

// maxImportBody caps the request body; MaxBatchSize URLs fit comfortably.
const maxImportBody = 1 << 20

type importRequest struct {
	URLs        []string `json:"urls"`
	Concurrency int      `json:"concurrency"`
}

type progressLine struct {
	Type string `json:"type"`
	importer.ProgressEvent
}

type summaryLine struct {
	Type      string `json:"type"`
	BatchID   string `json:"batch_id"`
	Message   string `json:"message"`
	ReportURI string `json:"report_uri,omitempty"`
	importer.BatchSummary
}

type errorLine struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ndjsonWriter writes one JSON document per line, sending the 200 header on
// first use so configuration errors can still become a 400.
type ndjsonWriter struct {
	w       http.ResponseWriter
	enc     *json.Encoder
	started bool
}

func newNDJSONWriter(w http.ResponseWriter) *ndjsonWriter {
	return &ndjsonWriter{w: w, enc: json.NewEncoder(w)}
}

func (n *ndjsonWriter) write(v any) error {
	if !n.started {
		n.w.Header().Set("Content-Type", ndjsonContentType)
		n.w.Header().Set("Cache-Control", "no-cache")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	if err := n.enc.Encode(v); err != nil {
		return err
	}
	if f, ok := n.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// runImport handles POST /v1/imports. The batch runs on a child of the request
// context, canceled on client disconnect or on the first failed line write.
func (s *Server) runImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	out := newNDJSONWriter(w)
	var writeErr error
	res, err := s.runner.Run(ctx, req.URLs, pipeline.Options{Concurrency: req.Concurrency},
		func(evt importer.ProgressEvent) {
			if writeErr != nil {
				return
			}
			if writeErr = out.write(progressLine{Type: "progress", ProgressEvent: evt}); writeErr != nil {
				cancel(writeErr)
			}
		})

	if writeErr != nil {
		s.logger.Warn("import stream write failed, batch canceled", zap.Error(writeErr))
		return
	}
	if err != nil {
		if !out.started {
			writeError(w, statusFor(err), err.Error())
			return
		}
		s.logger.Warn("import stream ended early", zap.Error(err))
		_ = out.write(errorLine{Type: "error", Error: err.Error()})
		return
	}
	_ = out.write(summaryLine{
		Type:         "summary",
		BatchID:      res.BatchID.String(),
		Message:      res.Summary.Message(),
		ReportURI:    res.ReportURI,
		BatchSummary: res.Summary,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, importer.ErrEmptyBatch),
		errors.Is(err, importer.ErrInvalidConcurrency),
		errors.Is(err, importer.ErrBatchTooLarge):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var _ Runner = (*service.Importer)(nil)
