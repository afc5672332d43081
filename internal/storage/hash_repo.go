package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ContentHashRepository tracks the last seen content and context hashes per
// content slot, keyed by (sourcePath, itemType, usagePath).
type ContentHashRepository struct {
	db DB
}

// NewContentHashRepository creates a new content hash repository.
func NewContentHashRepository(db DB) *ContentHashRepository {
	return &ContentHashRepository{db: db}
}

// Get retrieves the dedup row for a content slot.
func (r *ContentHashRepository) Get(ctx context.Context, sourcePath, itemType, usagePath string) (*ContentHashRow, error) {
	query := `
		SELECT source_path, item_type, usage_path, content_hash, context_hash, updated_at
		FROM content_hashes
		WHERE source_path = $1 AND item_type = $2 AND usage_path = $3
	`
	row := &ContentHashRow{}
	err := r.db.QueryRowContext(ctx, query, sourcePath, itemType, usagePath).Scan(
		&row.SourcePath, &row.ItemType, &row.UsagePath,
		&row.ContentHash, &row.ContextHash, &row.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return row, err
}

// Upsert inserts or refreshes the dedup row for a content slot.
func (r *ContentHashRepository) Upsert(ctx context.Context, row *ContentHashRow) error {
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO content_hashes (source_path, item_type, usage_path, content_hash, context_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_path, item_type, usage_path)
		DO UPDATE SET content_hash = EXCLUDED.content_hash,
		              context_hash = EXCLUDED.context_hash,
		              updated_at = EXCLUDED.updated_at`,
		row.SourcePath, row.ItemType, row.UsagePath,
		row.ContentHash, row.ContextHash, row.UpdatedAt,
	)
	return err
}
