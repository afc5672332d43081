package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements are applied in order at startup. All statements are
// idempotent so repeated startups are safe.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS raw_data_store (
		id UUID PRIMARY KEY,
		source_uri TEXT NOT NULL,
		version INTEGER NOT NULL,
		content_text TEXT NOT NULL DEFAULT '',
		binary_payload BYTEA,
		content_hash TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		status TEXT NOT NULL DEFAULT '',
		latest BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (source_uri, version)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_raw_latest
		ON raw_data_store (source_uri) WHERE latest`,

	`CREATE TABLE IF NOT EXISTS cleansed_data_store (
		id UUID PRIMARY KEY,
		raw_source_id UUID NOT NULL REFERENCES raw_data_store(id),
		source_uri TEXT NOT NULL,
		version INTEGER NOT NULL,
		status TEXT NOT NULL,
		items JSONB NOT NULL DEFAULT '[]',
		cleansed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		cleansing_errors JSONB,
		diagnostics JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cleansed_source
		ON cleansed_data_store (source_uri, version DESC)`,

	`CREATE TABLE IF NOT EXISTS content_hashes (
		source_path TEXT NOT NULL,
		item_type TEXT NOT NULL,
		usage_path TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		context_hash TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (source_path, item_type, usage_path)
	)`,

	`CREATE TABLE IF NOT EXISTS enriched_data_elements (
		id UUID PRIMARY KEY,
		cleansed_data_id UUID NOT NULL REFERENCES cleansed_data_store(id),
		version INTEGER NOT NULL,
		item_source_path TEXT NOT NULL,
		item_original_field_name TEXT NOT NULL DEFAULT '',
		cleansed_text TEXT NOT NULL DEFAULT '',
		enriched_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		summary TEXT NOT NULL DEFAULT '',
		keywords TEXT[] NOT NULL DEFAULT '{}',
		tags TEXT[] NOT NULL DEFAULT '{}',
		sentiment TEXT NOT NULL DEFAULT '',
		classification TEXT NOT NULL DEFAULT '',
		model_used TEXT NOT NULL DEFAULT '',
		enrichment_metadata JSONB,
		status TEXT NOT NULL,
		context JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_enriched_batch
		ON enriched_data_elements (cleansed_data_id, version)`,

	`CREATE TABLE IF NOT EXISTS enrichment_job_tracker (
		job_id UUID PRIMARY KEY,
		cleansed_data_store_id UUID NOT NULL REFERENCES cleansed_data_store(id),
		total_items INTEGER NOT NULL,
		processed_items INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS consolidated_enriched_sections (
		id UUID PRIMARY KEY,
		source_uri TEXT NOT NULL,
		version INTEGER NOT NULL,
		section_path TEXT NOT NULL,
		section_uri TEXT NOT NULL,
		original_field_name TEXT NOT NULL DEFAULT '',
		cleansed_text TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		keywords TEXT[] NOT NULL DEFAULT '{}',
		tags TEXT[] NOT NULL DEFAULT '{}',
		sentiment TEXT NOT NULL DEFAULT '',
		classification TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		context JSONB,
		saved_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sections_source
		ON consolidated_enriched_sections (source_uri, version)`,

	`CREATE TABLE IF NOT EXISTS content_chunks (
		id UUID PRIMARY KEY,
		section_id UUID NOT NULL REFERENCES consolidated_enriched_sections(id),
		chunk_text TEXT NOT NULL,
		source_field TEXT NOT NULL DEFAULT '',
		section_path TEXT NOT NULL DEFAULT '',
		embedding vector(1024),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_section
		ON content_chunks (section_id)`,
}

// EnsureSchema applies the schema statements in order.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
