package consolidate

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

// BatchStore is the slice of the batch repository the finalizer uses.
type BatchStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*storage.CleansedBatch, error)
	UpdateFinal(ctx context.Context, id uuid.UUID, status storage.BatchStatus, diagnostics map[string]any) error
}

// ElementStore lists a job's enrichment attempts.
type ElementStore interface {
	ListByBatch(ctx context.Context, cleansedDataID uuid.UUID, version int) ([]storage.EnrichedElement, error)
}

// TrackerStore settles the job tracker.
type TrackerStore interface {
	MarkCompleted(ctx context.Context, jobID uuid.UUID) error
}

// Completer receives the job's terminal event.
type Completer interface {
	JobComplete(jobID uuid.UUID, status storage.BatchStatus)
}

// Finalizer runs once per job, by the worker that processed the last item.
// Consolidation happens in its own transaction scope; vector write failures
// downgrade to summary warnings so the job still completes.
type Finalizer struct {
	batches      BatchStore
	elements     ElementStore
	trackers     TrackerStore
	consolidator *Consolidator
	vectors      *VectorWriter
	notifier     Completer
	logger       *observability.Logger
}

// NewFinalizer creates a Finalizer.
func NewFinalizer(
	batches BatchStore,
	elements ElementStore,
	trackers TrackerStore,
	consolidator *Consolidator,
	vectors *VectorWriter,
	notifier Completer,
	logger *observability.Logger,
) *Finalizer {
	return &Finalizer{
		batches:      batches,
		elements:     elements,
		trackers:     trackers,
		consolidator: consolidator,
		vectors:      vectors,
		notifier:     notifier,
		logger:       logger,
	}
}

// Finalize consolidates the job's elements, writes vectors, computes the
// final batch status with its summary, and settles the tracker.
func (f *Finalizer) Finalize(ctx context.Context, tracker *storage.JobTracker) error {
	log := f.logger.WithJob(tracker.JobID.String())

	batch, err := f.batches.GetByID(ctx, tracker.CleansedDataStoreID)
	if err != nil {
		return fmt.Errorf("load batch for finalization: %w", err)
	}

	elements, err := f.elements.ListByBatch(ctx, batch.ID, batch.Version)
	if err != nil {
		return fmt.Errorf("list enriched elements: %w", err)
	}

	var warnings []string
	sections, err := f.consolidator.Consolidate(ctx, batch, elements)
	if err != nil {
		// Partial consolidation still proceeds to completion; the failure is
		// recorded rather than stranding the job in FINALIZING.
		warnings = append(warnings, fmt.Sprintf("consolidation incomplete: %v", err))
		log.Error().Err(err).Msg("Consolidation failed part-way")
	}

	saved, vectorWarnings := f.vectors.WriteVectors(ctx, sections)
	warnings = append(warnings, vectorWarnings...)

	// Rate-limited skips count as failures on the tracker; split them back
	// out so the summary and the final status report them separately.
	rateLimited := countRateLimited(elements)
	failures := tracker.FailureCount - rateLimited
	if failures < 0 {
		failures = 0
	}
	counts := Counts{
		TotalDeserialized: len(batch.Items),
		SkippedEmptyText:  len(batch.Items) - len(storage.NonEmptyItems(batch.Items)),
		Success:           tracker.SuccessCount,
		Failure:           failures,
		RateLimited:       rateLimited,
	}
	status := ComputeFinalStatus(counts)
	summary := BuildSummary(counts, collectErrorMessages(elements), warnings)

	if err := f.batches.UpdateFinal(ctx, batch.ID, status, summary); err != nil {
		return fmt.Errorf("write final batch status: %w", err)
	}
	if err := f.trackers.MarkCompleted(ctx, tracker.JobID); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}

	log.Info().
		Str("status", string(status)).
		Int("sections", len(sections)).
		Int("chunks_saved", saved).
		Int("warnings", len(warnings)).
		Msg("Job finalized")

	if f.notifier != nil {
		f.notifier.JobComplete(tracker.JobID, status)
	}
	return nil
}

func countRateLimited(elements []storage.EnrichedElement) int {
	n := 0
	for i := range elements {
		if elements[i].Status == storage.ElementStatusErrorRateLimit {
			n++
		}
	}
	return n
}

func collectErrorMessages(elements []storage.EnrichedElement) []string {
	var out []string
	for i := range elements {
		el := &elements[i]
		if !el.Status.IsError() {
			continue
		}
		if msg, ok := el.EnrichmentMetadata["enrichmentError"]; ok && msg != "" {
			out = append(out, msg)
		}
	}
	return out
}
