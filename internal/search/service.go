// Package search embeds caller queries and runs vector similarity over
// consolidated sections, plus the facet aggregation behind refinement chips.
package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

const (
	refineThreshold = 0.9
	refineLimit     = 20
	maxChips        = 10
)

// Embedder turns query text into a vector.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Store runs the filtered cosine-distance query.
type Store interface {
	Search(ctx context.Context, embedding []float32, filter storage.SearchFilter) ([]storage.SearchHit, error)
}

// Request is a caller-facing search request.
type Request struct {
	Query             string         `json:"query"`
	OriginalFieldName string         `json:"original_field_name,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
	Keywords          []string       `json:"keywords,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
	Threshold         float64        `json:"threshold,omitempty"`
	Limit             int            `json:"limit,omitempty"`
}

// Chip is one refinement suggestion aggregated across matching sections.
type Chip struct {
	Type  string  `json:"type"`
	Value string  `json:"value"`
	Score float64 `json:"score"`
	Count int     `json:"count"`
}

// Service wires the embedder and the chunk store together.
type Service struct {
	embedder Embedder
	store    Store
	logger   *observability.Logger
}

// NewService creates a Service.
func NewService(embedder Embedder, store Store, logger *observability.Logger) *Service {
	return &Service{embedder: embedder, store: store, logger: logger}
}

// Search embeds the query and returns ranked hits.
func (s *Service) Search(ctx context.Context, req Request) ([]storage.SearchHit, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	embedding, err := s.embedder.GenerateEmbedding(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.store.Search(ctx, embedding, storage.SearchFilter{
		OriginalFieldName: req.OriginalFieldName,
		Tags:              req.Tags,
		Keywords:          req.Keywords,
		Context:           req.Context,
		Threshold:         req.Threshold,
		Limit:             req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	s.logger.Debug().Int("hits", len(hits)).Msg("Search completed")
	return hits, nil
}

// Refine searches broadly and harvests tags, keywords, and selected context
// fields into scored chips.
func (s *Service) Refine(ctx context.Context, query string) ([]Chip, error) {
	hits, err := s.Search(ctx, Request{
		Query:     query,
		Threshold: refineThreshold,
		Limit:     refineLimit,
	})
	if err != nil {
		return nil, err
	}

	type chipState struct {
		chip     Chip
		sections map[uuid.UUID]struct{}
	}
	states := make(map[string]*chipState)

	add := func(chipType, value string, hit storage.SearchHit) {
		if value == "" {
			return
		}
		key := chipType + "\x00" + value
		state, ok := states[key]
		if !ok {
			state = &chipState{
				chip:     Chip{Type: chipType, Value: value},
				sections: make(map[uuid.UUID]struct{}),
			}
			states[key] = state
		}
		state.chip.Score += hit.Score()
		state.sections[hit.SectionID] = struct{}{}
	}

	for _, hit := range hits {
		for _, tag := range hit.Tags {
			add("Tag", tag, hit)
		}
		for _, keyword := range hit.Keywords {
			add("Keyword", keyword, hit)
		}
		for _, field := range contextChipFields {
			add("Context:"+field.prefix+"."+field.key, contextField(hit.Context, field.prefix, field.key), hit)
		}
	}

	chips := make([]Chip, 0, len(states))
	for _, state := range states {
		state.chip.Count = len(state.sections)
		chips = append(chips, state.chip)
	}
	sort.Slice(chips, func(i, j int) bool {
		if chips[i].Score != chips[j].Score {
			return chips[i].Score > chips[j].Score
		}
		if chips[i].Type != chips[j].Type {
			return chips[i].Type < chips[j].Type
		}
		return chips[i].Value < chips[j].Value
	})
	if len(chips) > maxChips {
		chips = chips[:maxChips]
	}
	return chips, nil
}

var contextChipFields = []struct {
	prefix string
	key    string
}{
	{"facets", "sectionModel"},
	{"facets", "eventType"},
	{"envelope", "sectionName"},
	{"envelope", "locale"},
	{"envelope", "country"},
}

// contextField digs prefix.key out of a section's context mapping.
func contextField(contextData map[string]any, prefix, key string) string {
	nested, ok := contextData[prefix].(map[string]any)
	if !ok {
		return ""
	}
	value, _ := nested[key].(string)
	return value
}
