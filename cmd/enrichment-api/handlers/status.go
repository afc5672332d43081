package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

// BatchReader loads a cleansed batch by id.
type BatchReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*storage.CleansedBatch, error)
}

// StatusHandler serves cleansed batch status lookups.
type StatusHandler struct {
	logger  *observability.Logger
	batches BatchReader
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(logger *observability.Logger, batches BatchReader) *StatusHandler {
	return &StatusHandler{logger: logger, batches: batches}
}

// BatchStatusDTO is the API response for a status lookup.
type BatchStatusDTO struct {
	ID          string         `json:"id"`
	SourceURI   string         `json:"sourceUri"`
	Version     int            `json:"version"`
	Status      string         `json:"status"`
	ItemCount   int            `json:"itemCount"`
	CleansedAt  time.Time      `json:"cleansedAt"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

// GetStatus handles GET /cleansed-data-status/{id}.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id", err.Error())
		return
	}

	batch, err := h.batches.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cleansed batch not found", "")
			return
		}
		h.logger.Error().Err(err).Str("batch_id", id.String()).Msg("Status lookup failed")
		writeError(w, http.StatusInternalServerError, "status lookup failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, BatchStatusDTO{
		ID:          batch.ID.String(),
		SourceURI:   batch.SourceURI,
		Version:     batch.Version,
		Status:      string(batch.Status),
		ItemCount:   len(batch.Items),
		CleansedAt:  batch.CleansedAt,
		Diagnostics: batch.Diagnostics,
	})
}
