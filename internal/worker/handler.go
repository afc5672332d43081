// Package worker consumes enrichment messages, invokes the AI client, and
// records per-item outcomes and job progress.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glyphic-ai/enrichment-engine/internal/bedrock"
	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/queue"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

// QueueClient is the queue surface one worker needs.
type QueueClient interface {
	Receive(ctx context.Context) (*queue.Message, error)
	ExtendVisibility(ctx context.Context, id string, d time.Duration) error
	Delete(ctx context.Context, id string) error
}

// Enricher invokes the chat model for one item.
type Enricher interface {
	EnrichItem(ctx context.Context, content string, itemContext map[string]any) (*bedrock.EnrichmentResult, error)
	ModelID() string
}

// BatchGetter loads the batch a message belongs to.
type BatchGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*storage.CleansedBatch, error)
}

// ElementWriter persists enrichment attempts.
type ElementWriter interface {
	Create(ctx context.Context, el *storage.EnrichedElement) error
}

// ProgressRecorder applies the row-locked tracker increment.
type ProgressRecorder interface {
	RecordProgress(ctx context.Context, jobID uuid.UUID, success bool) (*storage.JobTracker, bool, error)
}

// FinalizeRunner runs job finalization for the worker that trips completion.
type FinalizeRunner interface {
	Finalize(ctx context.Context, tracker *storage.JobTracker) error
}

// ProgressNotifier pushes per-item progress events.
type ProgressNotifier interface {
	JobProgress(jobID uuid.UUID, processed, total, success, failure int)
}

// Handler processes one queue message at a time.
type Handler struct {
	queue         QueueClient
	enricher      Enricher
	batches       BatchGetter
	elements      ElementWriter
	progress      ProgressRecorder
	finalizer     FinalizeRunner
	notifier      ProgressNotifier
	throttleDelay time.Duration
	logger        *observability.Logger
}

// NewHandler creates a Handler.
func NewHandler(
	queueClient QueueClient,
	enricher Enricher,
	batches BatchGetter,
	elements ElementWriter,
	progress ProgressRecorder,
	finalizer FinalizeRunner,
	notifier ProgressNotifier,
	throttleDelay time.Duration,
	logger *observability.Logger,
) *Handler {
	if throttleDelay <= 0 {
		throttleDelay = 180 * time.Second
	}
	return &Handler{
		queue:         queueClient,
		enricher:      enricher,
		batches:       batches,
		elements:      elements,
		progress:      progress,
		finalizer:     finalizer,
		notifier:      notifier,
		throttleDelay: throttleDelay,
		logger:        logger,
	}
}

// Handle runs the full lifecycle for one received message.
func (h *Handler) Handle(ctx context.Context, raw *queue.Message) error {
	msg, err := queue.DecodeMessage(raw.Body)
	if err != nil {
		if raw.DeadLettered {
			h.logger.Error().Err(err).Str("message_id", raw.ID).Msg("Undecodable message dead-lettered, its job cannot account for it")
			return nil
		}
		// Leave the message to the visibility timeout; repeated failures end
		// in the DLQ.
		h.logger.Warn().Err(err).Str("message_id", raw.ID).Msg("Malformed queue message, leaving for redelivery")
		return nil
	}

	log := h.logger.WithJob(msg.JobID.String())

	batch, err := h.batches.GetByID(ctx, msg.CleansedDataStoreID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn().Str("cleansed_data_id", msg.CleansedDataStoreID.String()).Msg("Batch vanished, dropping message")
			return h.queue.Delete(ctx, raw.ID)
		}
		return fmt.Errorf("load batch: %w", err)
	}

	if raw.DeadLettered {
		// Sustained throttling is what exhausts redeliveries; record the item
		// as rate-limited so the job still reaches its total and finalizes.
		log.Warn().Str("message_id", raw.ID).Int("receive_count", raw.ReceiveCount).Msg("Message dead-lettered, recording rate-limited skip")
		return h.recordOutcome(ctx, raw, msg, h.errorElement(msg, batch, storage.ElementStatusErrorRateLimit, "enrichment skipped: queue redeliveries exhausted while throttled"))
	}

	itemContext := map[string]any{
		"envelope": msg.Context.Envelope,
		"facets":   msg.Context.Facets,
		"itemType": msg.Context.ItemType,
	}

	result, err := h.enrich(ctx, msg.CleansedContent, itemContext)
	if err != nil {
		if errors.Is(err, bedrock.ErrThrottled) {
			// Hand the item back; no tracker update, no element row.
			log.Info().Str("message_id", raw.ID).Dur("delay", h.throttleDelay).Msg("Item throttled, extending visibility")
			return h.queue.ExtendVisibility(ctx, raw.ID, h.throttleDelay)
		}
		status := storage.ElementStatusErrorProvider
		if errors.Is(err, errUnexpected) {
			status = storage.ElementStatusErrorUnexpected
		}
		log.Error().Err(err).Str("source_path", msg.SourcePath).Msg("Provider call failed")
		return h.recordOutcome(ctx, raw, msg, h.errorElement(msg, batch, status, err.Error()))
	}

	if result.Failed() {
		log.Warn().Str("source_path", msg.SourcePath).Str("reason", result.Error).Msg("Model output rejected")
		return h.recordOutcome(ctx, raw, msg, h.errorElement(msg, batch, storage.ElementStatusErrorProvider, result.Error))
	}

	augmentContext(result, msg, h.enricher.ModelID())
	if err := bedrock.ValidateResult(result); err != nil {
		log.Warn().Err(err).Str("source_path", msg.SourcePath).Msg("Enrichment failed validation")
		return h.recordOutcome(ctx, raw, msg, h.errorElement(msg, batch, storage.ElementStatusErrorValidation, err.Error()))
	}

	element := &storage.EnrichedElement{
		CleansedDataID:        msg.CleansedDataStoreID,
		Version:               batch.Version,
		ItemSourcePath:        msg.SourcePath,
		ItemOriginalFieldName: msg.OriginalFieldName,
		CleansedText:          msg.CleansedContent,
		Summary:               result.Enrichment.Summary,
		Keywords:              result.Enrichment.Keywords,
		Tags:                  result.Enrichment.Tags,
		Sentiment:             result.Enrichment.Sentiment,
		Classification:        result.Enrichment.Classification,
		ModelUsed:             result.ModelUsed,
		EnrichmentMetadata: map[string]string{
			"enrichedWithModel":   result.ModelUsed,
			"enrichmentTimestamp": time.Now().UTC().Format(time.RFC3339),
		},
		Status:  storage.ElementStatusEnriched,
		Context: result.Context,
	}
	return h.recordOutcome(ctx, raw, msg, element)
}

var errUnexpected = errors.New("unexpected enrichment failure")

// enrich calls the provider, converting panics into errors so one bad item
// records a failure instead of killing its worker.
func (h *Handler) enrich(ctx context.Context, content string, itemContext map[string]any) (result *bedrock.EnrichmentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errUnexpected, r)
		}
	}()
	return h.enricher.EnrichItem(ctx, content, itemContext)
}

// recordOutcome persists the element, acknowledges the message, and applies
// the locked progress update, triggering finalization exactly once.
func (h *Handler) recordOutcome(ctx context.Context, raw *queue.Message, msg *queue.QueueMessage, element *storage.EnrichedElement) error {
	if err := h.elements.Create(ctx, element); err != nil {
		return fmt.Errorf("persist enriched element: %w", err)
	}
	// Persisted work is committed; only now is the message acknowledged.
	// Dead-lettered messages are already off the queue.
	if !raw.DeadLettered {
		if err := h.queue.Delete(ctx, raw.ID); err != nil {
			h.logger.Warn().Err(err).Str("message_id", raw.ID).Msg("Queue delete failed, duplicate row possible on redelivery")
		}
	}

	tracker, finalize, err := h.progress.RecordProgress(ctx, msg.JobID, !element.Status.IsError())
	if err != nil {
		return fmt.Errorf("record job progress: %w", err)
	}

	if h.notifier != nil {
		h.notifier.JobProgress(msg.JobID, tracker.ProcessedItems, tracker.TotalItems, tracker.SuccessCount, tracker.FailureCount)
	}

	if finalize {
		if err := h.finalizer.Finalize(ctx, tracker); err != nil {
			return fmt.Errorf("finalize job %s: %w", msg.JobID, err)
		}
	}
	return nil
}

func (h *Handler) errorElement(msg *queue.QueueMessage, batch *storage.CleansedBatch, status storage.ElementStatus, message string) *storage.EnrichedElement {
	return &storage.EnrichedElement{
		CleansedDataID:        msg.CleansedDataStoreID,
		Version:               batch.Version,
		ItemSourcePath:        msg.SourcePath,
		ItemOriginalFieldName: msg.OriginalFieldName,
		CleansedText:          msg.CleansedContent,
		ModelUsed:             h.enricher.ModelID(),
		EnrichmentMetadata:    map[string]string{"enrichmentError": message},
		Status:                status,
		Context: map[string]any{
			"envelope": msg.Context.Envelope,
			"facets":   msg.Context.Facets,
			"itemType": msg.Context.ItemType,
		},
	}
}

// augmentContext adds the identifying fields validation requires.
func augmentContext(result *bedrock.EnrichmentResult, msg *queue.QueueMessage, modelID string) {
	if result.Context == nil {
		result.Context = make(map[string]any)
	}
	result.Context["fullContextId"] = msg.SourcePath + "::" + msg.OriginalFieldName
	result.Context["sourcePath"] = msg.SourcePath

	prov, ok := result.Context["provenance"].(map[string]any)
	if !ok {
		prov = make(map[string]any)
	}
	prov["modelId"] = modelID
	result.Context["provenance"] = prov
}
