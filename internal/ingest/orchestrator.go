// Package ingest ties resolution, cleansing, extraction, deduplication, and
// enrichment scheduling together per ingestion request.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/glyphic-ai/enrichment-engine/internal/extract"
	"github.com/glyphic-ai/enrichment-engine/internal/hashutil"
	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/queue"
	"github.com/glyphic-ai/enrichment-engine/internal/source"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

// PayloadResolver loads payload bytes for a source URI.
type PayloadResolver interface {
	Resolve(ctx context.Context, sourceURI string) ([]byte, error)
}

// RawStore is the slice of the raw source repository the orchestrator uses.
type RawStore interface {
	GetLatest(ctx context.Context, sourceURI string) (*storage.RawSource, error)
	InsertNewVersion(ctx context.Context, src *storage.RawSource) error
}

// BatchStore persists cleansed batches.
type BatchStore interface {
	Create(ctx context.Context, batch *storage.CleansedBatch) error
	GetByRawSource(ctx context.Context, rawSourceID uuid.UUID) (*storage.CleansedBatch, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status storage.BatchStatus) error
	UpdateFinal(ctx context.Context, id uuid.UUID, status storage.BatchStatus, diagnostics map[string]any) error
}

// HashStore is the dedup row store.
type HashStore interface {
	Get(ctx context.Context, sourcePath, itemType, usagePath string) (*storage.ContentHashRow, error)
	Upsert(ctx context.Context, row *storage.ContentHashRow) error
}

// TrackerStore registers job trackers.
type TrackerStore interface {
	Create(ctx context.Context, tracker *storage.JobTracker) error
}

// Sender publishes queue messages.
type Sender interface {
	Send(ctx context.Context, body []byte) (string, error)
}

// Result is the outcome of one ingestion request.
type Result struct {
	SourceURI      string
	Version        int
	Status         storage.BatchStatus
	CleansedDataID uuid.UUID
	JobID          uuid.UUID
	ItemCount      int
	EnqueuedCount  int
}

// Terminal reports whether the ingestion ended without scheduling enrichment.
func (r *Result) Terminal() bool {
	return r.JobID == uuid.Nil
}

// Orchestrator runs the ingestion pipeline.
type Orchestrator struct {
	resolver  PayloadResolver
	extractor *extract.Extractor
	raws      RawStore
	batches   BatchStore
	hashes    HashStore
	trackers  TrackerStore
	sender    Sender
	logger    *observability.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	resolver PayloadResolver,
	extractor *extract.Extractor,
	raws RawStore,
	batches BatchStore,
	hashes HashStore,
	trackers TrackerStore,
	sender Sender,
	logger *observability.Logger,
) *Orchestrator {
	return &Orchestrator{
		resolver:  resolver,
		extractor: extractor,
		raws:      raws,
		batches:   batches,
		hashes:    hashes,
		trackers:  trackers,
		sender:    sender,
		logger:    logger,
	}
}

// IngestURI resolves a source URI and runs the pipeline on its payload.
func (o *Orchestrator) IngestURI(ctx context.Context, sourceURI string) (*Result, error) {
	payload, err := o.resolver.Resolve(ctx, sourceURI)
	if err != nil {
		if status, ok := source.StatusForError(err); ok {
			o.logger.WithSource(sourceURI).Warn().Err(err).Str("status", string(status)).Msg("Source resolution failed")
			return &Result{SourceURI: sourceURI, Status: status}, nil
		}
		return nil, fmt.Errorf("resolve %s: %w", sourceURI, err)
	}
	return o.ingest(ctx, sourceURI, payload)
}

// IngestPayload runs the pipeline on an inline document, assigning a
// synthetic source identifier.
func (o *Orchestrator) IngestPayload(ctx context.Context, payload []byte) (*Result, error) {
	sourceURI := source.InlineSourceID()
	if len(payload) == 0 {
		return &Result{SourceURI: sourceURI, Status: storage.StatusEmptyPayload}, nil
	}
	return o.ingest(ctx, sourceURI, payload)
}

func (o *Orchestrator) ingest(ctx context.Context, sourceURI string, payload []byte) (*Result, error) {
	log := o.logger.WithSource(sourceURI)
	if len(payload) == 0 {
		return &Result{SourceURI: sourceURI, Status: storage.StatusEmptyContentLoaded}, nil
	}

	payloadHash := hashutil.Content(string(payload))

	raw, previous, reused, err := o.resolveRawVersion(ctx, sourceURI, payload, payloadHash)
	if err != nil {
		return nil, err
	}
	if reused && previous != nil {
		// Byte-identical payload with an existing batch: nothing to do.
		log.Info().Int("version", raw.Version).Msg("Payload unchanged, returning existing batch")
		return &Result{
			SourceURI:      sourceURI,
			Version:        raw.Version,
			Status:         storage.StatusProcessedNoChanges,
			CleansedDataID: previous.ID,
		}, nil
	}

	var root any
	if err := json.Unmarshal(payload, &root); err != nil {
		log.Warn().Err(err).Msg("Payload is not valid JSON")
		return o.terminalBatch(ctx, raw, storage.StatusJSONParseError)
	}

	items, err := o.extractor.Extract(root, extract.Envelope{SourcePath: sourceURI})
	if err != nil {
		log.Warn().Err(err).Msg("Extraction failed")
		return o.terminalBatch(ctx, raw, storage.StatusExtractionFailed)
	}

	kept, err := o.dedupeItems(ctx, items)
	if err != nil {
		return nil, err
	}

	if len(kept) == 0 {
		log.Info().Int("extracted", len(items)).Msg("No changed items, nothing to enrich")
		result, err := o.terminalBatch(ctx, raw, storage.StatusProcessedNoChanges)
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	batch := &storage.CleansedBatch{
		RawSourceID: raw.ID,
		SourceURI:   sourceURI,
		Version:     raw.Version,
		Status:      storage.StatusCleansedPendingEnrichment,
		Items:       kept,
	}
	if err := o.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("persist cleansed batch: %w", err)
	}

	log.Info().
		Int("version", batch.Version).
		Int("items", len(kept)).
		Msg("Cleansed batch persisted")

	return o.startEnrichment(ctx, batch)
}

// resolveRawVersion applies the payload-level dedup and versioning rules.
// reused means the latest raw row matched the payload hash byte for byte;
// previous is its bound batch when one exists.
func (o *Orchestrator) resolveRawVersion(ctx context.Context, sourceURI string, payload []byte, payloadHash string) (*storage.RawSource, *storage.CleansedBatch, bool, error) {
	latest, err := o.raws.GetLatest(ctx, sourceURI)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, false, fmt.Errorf("load latest raw source: %w", err)
	}

	if latest != nil && latest.ContentHash == payloadHash {
		previous, err := o.batches.GetByRawSource(ctx, latest.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, nil, false, fmt.Errorf("load previous batch: %w", err)
		}
		// previous == nil means the earlier run never produced a batch;
		// re-process this raw version without a duplicate insert.
		return latest, previous, previous != nil, nil
	}

	version := 1
	if latest != nil {
		version = latest.Version + 1
	}
	raw := &storage.RawSource{
		SourceURI:   sourceURI,
		Version:     version,
		ContentText: string(payload),
		ContentHash: payloadHash,
		Status:      "RECEIVED",
	}
	if err := o.raws.InsertNewVersion(ctx, raw); err != nil {
		return nil, nil, false, fmt.Errorf("insert raw source: %w", err)
	}
	return raw, nil, false, nil
}

// dedupeItems keeps items whose content or context hash moved since the last
// ingestion and refreshes their dedup rows.
func (o *Orchestrator) dedupeItems(ctx context.Context, items []extract.Item) ([]extract.Item, error) {
	var kept []extract.Item
	for _, item := range items {
		row, err := o.hashes.Get(ctx, item.SourcePath, item.ItemType, item.Envelope.UsagePath)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("dedup lookup: %w", err)
		}
		if row != nil && row.ContentHash == item.ContentHash && row.ContextHash == item.ContextHash {
			continue
		}

		if err := o.hashes.Upsert(ctx, &storage.ContentHashRow{
			SourcePath:  item.SourcePath,
			ItemType:    item.ItemType,
			UsagePath:   item.Envelope.UsagePath,
			ContentHash: item.ContentHash,
			ContextHash: item.ContextHash,
		}); err != nil {
			return nil, fmt.Errorf("dedup upsert: %w", err)
		}
		kept = append(kept, item)
	}
	return kept, nil
}

// startEnrichment creates the job tracker, enqueues one message per
// non-empty item, and transitions the batch in progress. Batches whose items
// all cleansed to empty finish immediately.
func (o *Orchestrator) startEnrichment(ctx context.Context, batch *storage.CleansedBatch) (*Result, error) {
	nonEmpty := storage.NonEmptyItems(batch.Items)
	result := &Result{
		SourceURI:      batch.SourceURI,
		Version:        batch.Version,
		CleansedDataID: batch.ID,
		ItemCount:      len(batch.Items),
	}

	if len(nonEmpty) == 0 {
		status := storage.StatusEnrichedAllSkippedEmptyText
		summary := map[string]any{
			"totalDeserializedItems":      len(batch.Items),
			"itemsAttempted":              0,
			"successfullyEnriched":        0,
			"failedEnrichmentAttempts":    0,
			"skippedByRateLimit":          0,
			"itemProcessingErrorMessages": []string{},
		}
		if err := o.batches.UpdateFinal(ctx, batch.ID, status, summary); err != nil {
			return nil, fmt.Errorf("finish empty-text batch: %w", err)
		}
		result.Status = status
		return result, nil
	}

	tracker := &storage.JobTracker{
		JobID:               uuid.New(),
		CleansedDataStoreID: batch.ID,
		TotalItems:          len(nonEmpty),
		Status:              storage.JobStatusPending,
	}
	if err := o.trackers.Create(ctx, tracker); err != nil {
		return nil, fmt.Errorf("create job tracker: %w", err)
	}

	if err := o.batches.UpdateStatus(ctx, batch.ID, storage.StatusEnrichmentInProgress); err != nil {
		return nil, fmt.Errorf("mark batch in progress: %w", err)
	}

	for _, item := range nonEmpty {
		msg := &queue.QueueMessage{
			JobID:               tracker.JobID,
			CleansedDataStoreID: batch.ID,
			SourcePath:          item.SourcePath,
			OriginalFieldName:   item.OriginalFieldName,
			CleansedContent:     item.CleansedContent,
			Model:               item.Model,
			Context: queue.MessageContext{
				Envelope: item.Envelope,
				Facets:   item.Facets,
				ItemType: item.ItemType,
			},
			TotalItems: len(nonEmpty),
		}
		body, err := msg.Encode()
		if err != nil {
			return nil, err
		}
		if _, err := o.sender.Send(ctx, body); err != nil {
			return nil, fmt.Errorf("enqueue item %s: %w", item.SourcePath, err)
		}
		result.EnqueuedCount++
	}

	o.logger.WithJob(tracker.JobID.String()).Info().
		Str("cleansed_data_id", batch.ID.String()).
		Int("enqueued", result.EnqueuedCount).
		Msg("Enrichment job scheduled")

	result.Status = storage.StatusEnrichmentInProgress
	result.JobID = tracker.JobID
	return result, nil
}

// terminalBatch persists a zero-item batch carrying a terminal status.
func (o *Orchestrator) terminalBatch(ctx context.Context, raw *storage.RawSource, status storage.BatchStatus) (*Result, error) {
	batch := &storage.CleansedBatch{
		RawSourceID: raw.ID,
		SourceURI:   raw.SourceURI,
		Version:     raw.Version,
		Status:      status,
	}
	if err := o.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("persist terminal batch: %w", err)
	}
	return &Result{
		SourceURI:      raw.SourceURI,
		Version:        raw.Version,
		Status:         status,
		CleansedDataID: batch.ID,
	}, nil
}
