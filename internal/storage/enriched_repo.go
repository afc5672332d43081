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

// EnrichedElementRepository persists per-item enrichment attempts.
type EnrichedElementRepository struct {
	db DB
}

// NewEnrichedElementRepository creates a new enriched element repository.
func NewEnrichedElementRepository(db DB) *EnrichedElementRepository {
	return &EnrichedElementRepository{db: db}
}

// Create persists one enrichment attempt, successful or failed.
func (r *EnrichedElementRepository) Create(ctx context.Context, el *EnrichedElement) error {
	if el.ID == uuid.Nil {
		el.ID = uuid.New()
	}
	if el.EnrichedAt.IsZero() {
		el.EnrichedAt = time.Now()
	}

	metadata, err := marshalStringMap(el.EnrichmentMetadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	contextData, err := marshalNullable(el.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO enriched_data_elements (
			id, cleansed_data_id, version, item_source_path, item_original_field_name,
			cleansed_text, enriched_at, summary, keywords, tags, sentiment,
			classification, model_used, enrichment_metadata, status, context
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		el.ID, el.CleansedDataID, el.Version, el.ItemSourcePath, el.ItemOriginalFieldName,
		el.CleansedText, el.EnrichedAt, el.Summary,
		pq.Array(el.Keywords), pq.Array(el.Tags),
		el.Sentiment, el.Classification, el.ModelUsed, metadata, el.Status, contextData,
	)
	return err
}

// ListByBatch retrieves all enrichment attempts for one batch and version in
// persistence order.
func (r *EnrichedElementRepository) ListByBatch(ctx context.Context, cleansedDataID uuid.UUID, version int) ([]EnrichedElement, error) {
	query := `
		SELECT id, cleansed_data_id, version, item_source_path, item_original_field_name,
		       cleansed_text, enriched_at, summary, keywords, tags, sentiment,
		       classification, model_used, enrichment_metadata, status, context
		FROM enriched_data_elements
		WHERE cleansed_data_id = $1 AND version = $2
		ORDER BY enriched_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, cleansedDataID, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EnrichedElement
	for rows.Next() {
		el := EnrichedElement{}
		var metadata, contextData []byte
		err := rows.Scan(
			&el.ID, &el.CleansedDataID, &el.Version, &el.ItemSourcePath, &el.ItemOriginalFieldName,
			&el.CleansedText, &el.EnrichedAt, &el.Summary,
			pq.Array(&el.Keywords), pq.Array(&el.Tags),
			&el.Sentiment, &el.Classification, &el.ModelUsed, &metadata, &el.Status, &contextData,
		)
		if err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &el.EnrichmentMetadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		if len(contextData) > 0 {
			if err := json.Unmarshal(contextData, &el.Context); err != nil {
				return nil, fmt.Errorf("unmarshal context: %w", err)
			}
		}
		out = append(out, el)
	}
	return out, rows.Err()
}

// CountByBatch returns how many attempts exist for one batch and version.
func (r *EnrichedElementRepository) CountByBatch(ctx context.Context, cleansedDataID uuid.UUID, version int) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enriched_data_elements WHERE cleansed_data_id = $1 AND version = $2`,
		cleansedDataID, version,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func marshalStringMap(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
