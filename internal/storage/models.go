// Package storage provides database models and repositories for the
// enrichment engine.
package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/glyphic-ai/enrichment-engine/internal/extract"
)

// BatchStatus is the user-visible lifecycle state of a cleansed batch.
type BatchStatus string

// Ingestion and enrichment statuses.
const (
	// Terminal ingestion failures.
	StatusInvalidURI         BatchStatus = "INVALID_URI"
	StatusSourceFileNotFound BatchStatus = "SOURCE_FILE_NOT_FOUND"
	StatusDownloadFailed     BatchStatus = "DOWNLOAD_FAILED"
	StatusEmptyPayload       BatchStatus = "EMPTY_PAYLOAD"
	StatusEmptyContentLoaded BatchStatus = "EMPTY_CONTENT_LOADED"
	StatusJSONParseError     BatchStatus = "JSON_PARSE_ERROR"
	StatusExtractionFailed   BatchStatus = "EXTRACTION_FAILED"
	StatusFileError          BatchStatus = "FILE_ERROR"

	// Successful ingestion states.
	StatusProcessedNoChanges        BatchStatus = "PROCESSED_NO_CHANGES"
	StatusCleansedPendingEnrichment BatchStatus = "CLEANSED_PENDING_ENRICHMENT"
	StatusEnrichmentInProgress      BatchStatus = "ENRICHMENT_IN_PROGRESS"

	// Final enrichment outcomes.
	StatusEnrichedComplete             BatchStatus = "ENRICHED_COMPLETE"
	StatusPartiallyEnriched            BatchStatus = "PARTIALLY_ENRICHED"
	StatusEnrichmentFailedAllAttempted BatchStatus = "ENRICHMENT_FAILED_ALL_ATTEMPTED"
	StatusEnrichmentSkippedAllRate     BatchStatus = "ENRICHMENT_SKIPPED_ALL_RATE_LIMIT"
	StatusEnrichmentIssuesDetected     BatchStatus = "ENRICHMENT_ISSUES_DETECTED"
	StatusEnrichedNoItems              BatchStatus = "ENRICHED_NO_ITEMS_TO_PROCESS"
	StatusEnrichedAllSkippedEmptyText  BatchStatus = "ENRICHED_ALL_SKIPPED_EMPTY_TEXT"
)

// JobStatus is the job tracker state.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusRunning    JobStatus = "RUNNING"
	JobStatusFinalizing JobStatus = "FINALIZING"
	JobStatusCompleted  JobStatus = "COMPLETED"
)

// ElementStatus is the per-item enrichment outcome.
type ElementStatus string

const (
	ElementStatusEnriched        ElementStatus = "ENRICHED"
	ElementStatusErrorProvider   ElementStatus = "ERROR_PROVIDER"
	ElementStatusErrorValidation ElementStatus = "ERROR_VALIDATION_FAILED"
	ElementStatusErrorUnexpected ElementStatus = "ERROR_UNEXPECTED"
	// ElementStatusErrorRateLimit records an item the queue dead-lettered
	// after sustained throttling exhausted its redeliveries.
	ElementStatusErrorRateLimit ElementStatus = "ERROR_RATE_LIMITED"
)

// IsError reports whether the element records a failed attempt.
func (s ElementStatus) IsError() bool {
	return s != ElementStatusEnriched
}

// RawSource is an immutable snapshot of an ingested payload. Versions per
// sourceUri are strictly increasing and exactly one row per sourceUri has
// Latest set.
type RawSource struct {
	ID          uuid.UUID
	SourceURI   string
	Version     int
	ContentText string
	Binary      []byte
	ContentHash string
	ReceivedAt  time.Time
	Status      string
	Latest      bool
}

// CleansedBatch is the ordered set of content items cleansed from one version
// of a source. Never mutated after its status settles, except for the final
// status and diagnostics written at job completion.
type CleansedBatch struct {
	ID              uuid.UUID
	RawSourceID     uuid.UUID
	SourceURI       string
	Version         int
	Status          BatchStatus
	Items           []extract.Item
	CleansedAt      time.Time
	CleansingErrors []string
	Diagnostics     map[string]any
}

// ContentHashRow is the dedup state for one content slot, keyed by
// (sourcePath, itemType, usagePath).
type ContentHashRow struct {
	SourcePath  string
	ItemType    string
	UsagePath   string
	ContentHash string
	ContextHash string
	UpdatedAt   time.Time
}

// EnrichedElement is one successful or failed enrichment attempt.
type EnrichedElement struct {
	ID                    uuid.UUID
	CleansedDataID        uuid.UUID
	Version               int
	ItemSourcePath        string
	ItemOriginalFieldName string
	CleansedText          string
	EnrichedAt            time.Time
	Summary               string
	Keywords              []string
	Tags                  []string
	Sentiment             string
	Classification        string
	ModelUsed             string
	EnrichmentMetadata    map[string]string
	Status                ElementStatus
	Context               map[string]any
}

// ConsolidatedSection is the merged, searchable row per
// (sourceUri, version, sectionPath, sectionUri, originalFieldName, cleansedText).
type ConsolidatedSection struct {
	ID                uuid.UUID
	SourceURI         string
	Version           int
	SectionPath       string
	SectionURI        string
	OriginalFieldName string
	CleansedText      string
	Summary           string
	Keywords          []string
	Tags              []string
	Sentiment         string
	Classification    string
	ContentHash       string
	Context           map[string]any
	SavedAt           time.Time
}

// ContentChunk is a vector-indexed fragment of a consolidated section's text.
type ContentChunk struct {
	ID          uuid.UUID
	SectionID   uuid.UUID
	ChunkText   string
	SourceField string
	SectionPath string
	Embedding   []float32
	CreatedAt   time.Time
}

// JobTracker is the mutable counter row that determines when an enrichment
// job is complete. Mutated only under a row-level lock.
type JobTracker struct {
	JobID               uuid.UUID
	CleansedDataStoreID uuid.UUID
	TotalItems          int
	ProcessedItems      int
	SuccessCount        int
	FailureCount        int
	Status              JobStatus
	UpdatedAt           time.Time
}
