package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ConsolidatedSectionRepository persists merged, searchable sections.
type ConsolidatedSectionRepository struct {
	db DB
}

// NewConsolidatedSectionRepository creates a new consolidated section repository.
func NewConsolidatedSectionRepository(db DB) *ConsolidatedSectionRepository {
	return &ConsolidatedSectionRepository{db: db}
}

// Exists reports whether an identical consolidated row is already present for
// this version. Used by the optional consolidation dedup pass.
func (r *ConsolidatedSectionRepository) Exists(ctx context.Context, section *ConsolidatedSection) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM consolidated_enriched_sections
		WHERE source_uri = $1 AND version = $2 AND section_path = $3
		  AND section_uri = $4 AND original_field_name = $5 AND cleansed_text = $6`,
		section.SourceURI, section.Version, section.SectionPath,
		section.SectionURI, section.OriginalFieldName, section.CleansedText,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create persists one consolidated section.
func (r *ConsolidatedSectionRepository) Create(ctx context.Context, section *ConsolidatedSection) error {
	if section.ID == uuid.Nil {
		section.ID = uuid.New()
	}
	if section.SavedAt.IsZero() {
		section.SavedAt = time.Now()
	}
	contextData, err := marshalNullable(section.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO consolidated_enriched_sections (
			id, source_uri, version, section_path, section_uri, original_field_name,
			cleansed_text, summary, keywords, tags, sentiment, classification,
			content_hash, context, saved_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		section.ID, section.SourceURI, section.Version, section.SectionPath,
		section.SectionURI, section.OriginalFieldName, section.CleansedText,
		section.Summary, pq.Array(section.Keywords), pq.Array(section.Tags),
		section.Sentiment, section.Classification, section.ContentHash,
		contextData, section.SavedAt,
	)
	return err
}

// ListBySourceVersion retrieves the consolidated sections of one source version.
func (r *ConsolidatedSectionRepository) ListBySourceVersion(ctx context.Context, sourceURI string, version int) ([]ConsolidatedSection, error) {
	query := `
		SELECT id, source_uri, version, section_path, section_uri, original_field_name,
		       cleansed_text, summary, keywords, tags, sentiment, classification,
		       content_hash, context, saved_at
		FROM consolidated_enriched_sections
		WHERE source_uri = $1 AND version = $2
		ORDER BY saved_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sourceURI, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConsolidatedSection
	for rows.Next() {
		section := ConsolidatedSection{}
		var contextData []byte
		err := rows.Scan(
			&section.ID, &section.SourceURI, &section.Version, &section.SectionPath,
			&section.SectionURI, &section.OriginalFieldName, &section.CleansedText,
			&section.Summary, pq.Array(&section.Keywords), pq.Array(&section.Tags),
			&section.Sentiment, &section.Classification, &section.ContentHash,
			&contextData, &section.SavedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(contextData) > 0 {
			if err := json.Unmarshal(contextData, &section.Context); err != nil {
				return nil, fmt.Errorf("unmarshal context: %w", err)
			}
		}
		out = append(out, section)
	}
	return out, rows.Err()
}

// ContentChunkRepository persists vector-indexed text chunks.
type ContentChunkRepository struct {
	db DB
}

// NewContentChunkRepository creates a new content chunk repository.
func NewContentChunkRepository(db DB) *ContentChunkRepository {
	return &ContentChunkRepository{db: db}
}

// Create persists one chunk with its embedding.
func (r *ContentChunkRepository) Create(ctx context.Context, chunk *ContentChunk) error {
	if chunk.ID == uuid.Nil {
		chunk.ID = uuid.New()
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO content_chunks (id, section_id, chunk_text, source_field, section_path, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7)`,
		chunk.ID, chunk.SectionID, chunk.ChunkText, chunk.SourceField,
		chunk.SectionPath, VectorLiteral(chunk.Embedding), chunk.CreatedAt,
	)
	return err
}

// CountBySection returns the number of chunks stored for a section.
func (r *ContentChunkRepository) CountBySection(ctx context.Context, sectionID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content_chunks WHERE section_id = $1`, sectionID,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}
