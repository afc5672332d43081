// Package main provides the API router setup.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/glyphic-ai/enrichment-engine/cmd/enrichment-api/handlers"
	"github.com/glyphic-ai/enrichment-engine/internal/ingest"
	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/progress"
	"github.com/glyphic-ai/enrichment-engine/internal/search"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

// Deps carries the wired services the routes expose.
type Deps struct {
	Orchestrator *ingest.Orchestrator
	Batches      *storage.CleansedBatchRepository
	Notifier     *progress.Notifier
	Search       *search.Service
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, db *sql.DB, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"enrichment-engine"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ready"}`))
	})

	ingestionHandler := handlers.NewIngestionHandler(logger, deps.Orchestrator)
	statusHandler := handlers.NewStatusHandler(logger, deps.Batches)
	progressHandler := handlers.NewProgressHandler(logger, deps.Notifier)
	searchHandler := handlers.NewSearchHandler(logger, deps.Search)

	r.Get("/extract-cleanse-enrich-and-store", ingestionHandler.IngestURI)
	r.Post("/ingest-json-payload", ingestionHandler.IngestPayload)
	r.Get("/cleansed-data-status/{id}", statusHandler.GetStatus)
	r.Get("/progress/{jobId}", progressHandler.Stream)

	r.Route("/api", func(r chi.Router) {
		r.Get("/refine", searchHandler.Refine)
		r.Post("/search", searchHandler.Search)
	})

	return r
}

// requestLogger emits one structured line per request.
func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("Request handled")
		})
	}
}
