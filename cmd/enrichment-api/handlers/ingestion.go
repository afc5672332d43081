package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/glyphic-ai/enrichment-engine/internal/ingest"
	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

// Ingestor runs the ingestion pipeline for a URI or an inline payload.
type Ingestor interface {
	IngestURI(ctx context.Context, sourceURI string) (*ingest.Result, error)
	IngestPayload(ctx context.Context, payload []byte) (*ingest.Result, error)
}

// IngestionHandler handles ingestion kickoff requests.
type IngestionHandler struct {
	logger       *observability.Logger
	orchestrator Ingestor
}

// NewIngestionHandler creates a new ingestion handler.
func NewIngestionHandler(logger *observability.Logger, orchestrator Ingestor) *IngestionHandler {
	return &IngestionHandler{logger: logger, orchestrator: orchestrator}
}

// IngestionResultDTO is the API response for an accepted or settled ingestion.
type IngestionResultDTO struct {
	SourceURI      string `json:"sourceUri"`
	Status         string `json:"status"`
	Version        int    `json:"version,omitempty"`
	CleansedDataID string `json:"cleansedDataId,omitempty"`
	JobID          string `json:"jobId,omitempty"`
	ItemCount      int    `json:"itemCount"`
	EnqueuedCount  int    `json:"enqueuedCount,omitempty"`
	ProgressURL    string `json:"progressUrl,omitempty"`
}

// IngestURI handles GET /extract-cleanse-enrich-and-store?sourceUri=<uri>.
func (h *IngestionHandler) IngestURI(w http.ResponseWriter, r *http.Request) {
	sourceURI := r.URL.Query().Get("sourceUri")

	result, err := h.orchestrator.IngestURI(r.Context(), sourceURI)
	if err != nil {
		h.logger.Error().Err(err).Str("source_uri", sourceURI).Msg("Ingestion failed")
		writeError(w, http.StatusInternalServerError, "ingestion failed", err.Error())
		return
	}
	h.respond(w, result)
}

// IngestPayload handles POST /ingest-json-payload with a raw JSON body.
func (h *IngestionHandler) IngestPayload(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body", err.Error())
		return
	}

	result, err := h.orchestrator.IngestPayload(r.Context(), payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("Payload ingestion failed")
		writeError(w, http.StatusInternalServerError, "ingestion failed", err.Error())
		return
	}
	h.respond(w, result)
}

func (h *IngestionHandler) respond(w http.ResponseWriter, result *ingest.Result) {
	dto := IngestionResultDTO{
		SourceURI:     result.SourceURI,
		Status:        string(result.Status),
		Version:       result.Version,
		ItemCount:     result.ItemCount,
		EnqueuedCount: result.EnqueuedCount,
	}
	if result.CleansedDataID != uuid.Nil {
		dto.CleansedDataID = result.CleansedDataID.String()
	}
	if result.JobID != uuid.Nil {
		dto.JobID = result.JobID.String()
		dto.ProgressURL = "/progress/" + dto.JobID
	}
	writeJSON(w, httpStatusFor(result.Status), dto)
}

// httpStatusFor maps a terminal ingestion status to an HTTP code; accepted
// enrichment work answers 202.
func httpStatusFor(status storage.BatchStatus) int {
	switch status {
	case storage.StatusInvalidURI:
		return http.StatusBadRequest
	case storage.StatusSourceFileNotFound, storage.StatusEmptyPayload:
		return http.StatusNotFound
	case storage.StatusEmptyContentLoaded, storage.StatusJSONParseError, storage.StatusExtractionFailed:
		return http.StatusUnprocessableEntity
	case storage.StatusDownloadFailed:
		return http.StatusBadGateway
	case storage.StatusFileError:
		return http.StatusInternalServerError
	case storage.StatusProcessedNoChanges, storage.StatusEnrichedAllSkippedEmptyText:
		return http.StatusOK
	default:
		return http.StatusAccepted
	}
}
