package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SearchFilter narrows a vector search over consolidated sections.
type SearchFilter struct {
	OriginalFieldName string
	Tags              []string
	Keywords          []string
	Context           map[string]any
	// Threshold keeps only hits with cosine distance strictly below it.
	// Zero disables the cut-off.
	Threshold float64
	Limit     int
}

// SearchHit is one chunk-level match joined with its owning section.
type SearchHit struct {
	SectionID         uuid.UUID
	ChunkID           uuid.UUID
	ChunkText         string
	SourceURI         string
	SectionPath       string
	SectionURI        string
	OriginalFieldName string
	CleansedText      string
	Summary           string
	Keywords          []string
	Tags              []string
	Sentiment         string
	Classification    string
	Context           map[string]any
	Distance          float64
}

// Score is the user-visible similarity, 1 minus the cosine distance.
func (h SearchHit) Score() float64 {
	return 1 - h.Distance
}

// SearchRepository runs cosine-distance queries over content chunks.
type SearchRepository struct {
	db DB
}

// NewSearchRepository creates a new search repository.
func NewSearchRepository(db DB) *SearchRepository {
	return &SearchRepository{db: db}
}

// Search ranks chunks by cosine distance to the query embedding, joined with
// their sections and filtered per the request.
func (r *SearchRepository) Search(ctx context.Context, embedding []float32, filter SearchFilter) ([]SearchHit, error) {
	args := []any{VectorLiteral(embedding)}
	var conditions []string

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.OriginalFieldName != "" {
		conditions = append(conditions,
			fmt.Sprintf("LOWER(s.original_field_name) = LOWER(%s)", arg(filter.OriginalFieldName)))
	}
	for _, tag := range filter.Tags {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM unnest(s.tags) AS t WHERE t ILIKE '%%' || %s || '%%')", arg(tag)))
	}
	if len(filter.Keywords) > 0 {
		conditions = append(conditions, fmt.Sprintf("s.keywords @> %s", arg(pq.Array(filter.Keywords))))
	}
	if len(filter.Context) > 0 {
		contextJSON, err := json.Marshal(filter.Context)
		if err != nil {
			return nil, fmt.Errorf("marshal context filter: %w", err)
		}
		conditions = append(conditions, fmt.Sprintf("s.context @> %s::jsonb", arg(string(contextJSON))))
	}
	if filter.Threshold > 0 {
		conditions = append(conditions, fmt.Sprintf("(c.embedding <=> $1::vector) < %s", arg(filter.Threshold)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT s.id, c.id, c.chunk_text, s.source_uri, s.section_path, s.section_uri,
		       s.original_field_name, s.cleansed_text, s.summary, s.keywords, s.tags,
		       s.sentiment, s.classification, s.context,
		       c.embedding <=> $1::vector AS distance
		FROM content_chunks c
		JOIN consolidated_enriched_sections s ON s.id = c.section_id
		%s
		ORDER BY distance ASC
		LIMIT %s`, where, arg(limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		hit := SearchHit{}
		var contextData []byte
		err := rows.Scan(
			&hit.SectionID, &hit.ChunkID, &hit.ChunkText, &hit.SourceURI,
			&hit.SectionPath, &hit.SectionURI, &hit.OriginalFieldName,
			&hit.CleansedText, &hit.Summary,
			pq.Array(&hit.Keywords), pq.Array(&hit.Tags),
			&hit.Sentiment, &hit.Classification, &contextData, &hit.Distance,
		)
		if err != nil {
			return nil, err
		}
		if len(contextData) > 0 {
			if err := json.Unmarshal(contextData, &hit.Context); err != nil {
				return nil, fmt.Errorf("unmarshal context: %w", err)
			}
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}
