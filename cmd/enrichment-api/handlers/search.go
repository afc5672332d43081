package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/search"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

// Searcher runs query embedding, vector search, and refinement.
type Searcher interface {
	Search(ctx context.Context, req search.Request) ([]storage.SearchHit, error)
	Refine(ctx context.Context, query string) ([]search.Chip, error)
}

// SearchHandler serves semantic search and refinement chips.
type SearchHandler struct {
	logger  *observability.Logger
	service Searcher
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(logger *observability.Logger, service Searcher) *SearchHandler {
	return &SearchHandler{logger: logger, service: service}
}

// SearchHitDTO is one ranked result.
type SearchHitDTO struct {
	Score             float64        `json:"score"`
	ChunkText         string         `json:"chunkText"`
	SourceURI         string         `json:"sourceUri"`
	SectionPath       string         `json:"sectionPath"`
	OriginalFieldName string         `json:"originalFieldName"`
	Summary           string         `json:"summary"`
	Keywords          []string       `json:"keywords"`
	Tags              []string       `json:"tags"`
	Sentiment         string         `json:"sentiment"`
	Classification    string         `json:"classification"`
	Context           map[string]any `json:"context,omitempty"`
}

// Search handles POST /api/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required", "")
		return
	}

	hits, err := h.service.Search(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("query", req.Query).Msg("Search failed")
		writeError(w, http.StatusInternalServerError, "search failed", err.Error())
		return
	}

	out := make([]SearchHitDTO, 0, len(hits))
	for _, hit := range hits {
		out = append(out, SearchHitDTO{
			Score:             hit.Score(),
			ChunkText:         hit.ChunkText,
			SourceURI:         hit.SourceURI,
			SectionPath:       hit.SectionPath,
			OriginalFieldName: hit.OriginalFieldName,
			Summary:           hit.Summary,
			Keywords:          hit.Keywords,
			Tags:              hit.Tags,
			Sentiment:         hit.Sentiment,
			Classification:    hit.Classification,
			Context:           hit.Context,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// Refine handles GET /api/refine?query=<text>.
func (h *SearchHandler) Refine(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required", "")
		return
	}

	chips, err := h.service.Refine(r.Context(), query)
	if err != nil {
		h.logger.Error().Err(err).Str("query", query).Msg("Refine failed")
		writeError(w, http.StatusInternalServerError, "refine failed", err.Error())
		return
	}
	if chips == nil {
		chips = []search.Chip{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chips": chips})
}
