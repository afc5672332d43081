package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glyphic-ai/enrichment-engine/internal/extract"
)

// RawSourceRepository handles raw payload snapshots.
type RawSourceRepository struct {
	db *sql.DB
}

// NewRawSourceRepository creates a new raw source repository.
func NewRawSourceRepository(db *sql.DB) *RawSourceRepository {
	return &RawSourceRepository{db: db}
}

// GetLatest retrieves the latest raw source for a source URI.
func (r *RawSourceRepository) GetLatest(ctx context.Context, sourceURI string) (*RawSource, error) {
	query := `
		SELECT id, source_uri, version, content_text, binary_payload, content_hash, received_at, status, latest
		FROM raw_data_store
		WHERE source_uri = $1 AND latest = TRUE
	`
	src := &RawSource{}
	err := r.db.QueryRowContext(ctx, query, sourceURI).Scan(
		&src.ID, &src.SourceURI, &src.Version, &src.ContentText, &src.Binary,
		&src.ContentHash, &src.ReceivedAt, &src.Status, &src.Latest,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return src, err
}

// InsertNewVersion flips the previous latest row and inserts the new snapshot
// in a single transaction, serializing concurrent ingestions per source URI.
func (r *RawSourceRepository) InsertNewVersion(ctx context.Context, src *RawSource) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.ReceivedAt.IsZero() {
		src.ReceivedAt = time.Now()
	}
	src.Latest = true

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE raw_data_store SET latest = FALSE WHERE source_uri = $1 AND latest = TRUE`,
		src.SourceURI,
	); err != nil {
		return fmt.Errorf("flip latest: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO raw_data_store (id, source_uri, version, content_text, binary_payload, content_hash, received_at, status, latest)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		src.ID, src.SourceURI, src.Version, src.ContentText, src.Binary,
		src.ContentHash, src.ReceivedAt, src.Status, src.Latest,
	); err != nil {
		return fmt.Errorf("insert raw source: %w", err)
	}

	return tx.Commit()
}

// CleansedBatchRepository handles cleansed batch persistence.
type CleansedBatchRepository struct {
	db DB
}

// NewCleansedBatchRepository creates a new cleansed batch repository.
func NewCleansedBatchRepository(db DB) *CleansedBatchRepository {
	return &CleansedBatchRepository{db: db}
}

// Create persists a new cleansed batch with its items in extraction order.
func (r *CleansedBatchRepository) Create(ctx context.Context, batch *CleansedBatch) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.CleansedAt.IsZero() {
		batch.CleansedAt = time.Now()
	}

	items, err := json.Marshal(batch.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	diagnostics, err := marshalNullable(batch.Diagnostics)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}
	cleansingErrors, err := marshalNullable(batch.CleansingErrors)
	if err != nil {
		return fmt.Errorf("marshal cleansing errors: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cleansed_data_store (id, raw_source_id, source_uri, version, status, items, cleansed_at, cleansing_errors, diagnostics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		batch.ID, batch.RawSourceID, batch.SourceURI, batch.Version, batch.Status,
		items, batch.CleansedAt, cleansingErrors, diagnostics,
	)
	return err
}

// GetByID retrieves a cleansed batch by ID.
func (r *CleansedBatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*CleansedBatch, error) {
	query := `
		SELECT id, raw_source_id, source_uri, version, status, items, cleansed_at, cleansing_errors, diagnostics
		FROM cleansed_data_store WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetLatestBySource retrieves the most recent cleansed batch for a source URI.
func (r *CleansedBatchRepository) GetLatestBySource(ctx context.Context, sourceURI string) (*CleansedBatch, error) {
	query := `
		SELECT id, raw_source_id, source_uri, version, status, items, cleansed_at, cleansing_errors, diagnostics
		FROM cleansed_data_store
		WHERE source_uri = $1
		ORDER BY version DESC, cleansed_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, sourceURI))
}

// GetByRawSource retrieves the cleansed batch bound to a raw source snapshot.
func (r *CleansedBatchRepository) GetByRawSource(ctx context.Context, rawSourceID uuid.UUID) (*CleansedBatch, error) {
	query := `
		SELECT id, raw_source_id, source_uri, version, status, items, cleansed_at, cleansing_errors, diagnostics
		FROM cleansed_data_store WHERE raw_source_id = $1
		ORDER BY cleansed_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, rawSourceID))
}

// UpdateStatus transitions the batch status.
func (r *CleansedBatchRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status BatchStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE cleansed_data_store SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdateFinal writes the final status together with the job summary
// diagnostics.
func (r *CleansedBatchRepository) UpdateFinal(ctx context.Context, id uuid.UUID, status BatchStatus, diagnostics map[string]any) error {
	data, err := marshalNullable(diagnostics)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE cleansed_data_store SET status = $1, diagnostics = $2 WHERE id = $3`,
		status, data, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *CleansedBatchRepository) scanOne(row *sql.Row) (*CleansedBatch, error) {
	batch := &CleansedBatch{}
	var items, cleansingErrors, diagnostics []byte
	err := row.Scan(
		&batch.ID, &batch.RawSourceID, &batch.SourceURI, &batch.Version, &batch.Status,
		&items, &batch.CleansedAt, &cleansingErrors, &diagnostics,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(items) > 0 {
		if err := json.Unmarshal(items, &batch.Items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
	}
	if len(cleansingErrors) > 0 {
		if err := json.Unmarshal(cleansingErrors, &batch.CleansingErrors); err != nil {
			return nil, fmt.Errorf("unmarshal cleansing errors: %w", err)
		}
	}
	if len(diagnostics) > 0 {
		if err := json.Unmarshal(diagnostics, &batch.Diagnostics); err != nil {
			return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
		}
	}
	return batch, nil
}

// NonEmptyItems returns the items of a batch whose cleansed content survived
// cleansing. Only these are enqueued for enrichment.
func NonEmptyItems(items []extract.Item) []extract.Item {
	out := make([]extract.Item, 0, len(items))
	for _, item := range items {
		if item.CleansedContent != "" {
			out = append(out, item)
		}
	}
	return out
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
