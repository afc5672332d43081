package consolidate

import (
	"context"
	"errors"
	"fmt"

	"github.com/glyphic-ai/enrichment-engine/internal/extract"
	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

// SectionStore is the slice of the section repository the consolidator uses.
type SectionStore interface {
	Exists(ctx context.Context, section *storage.ConsolidatedSection) (bool, error)
	Create(ctx context.Context, section *storage.ConsolidatedSection) error
}

// HashLookup resolves the stored content hash for a content slot.
type HashLookup interface {
	Get(ctx context.Context, sourcePath, itemType, usagePath string) (*storage.ContentHashRow, error)
}

// Consolidator merges enriched elements into section-level records.
type Consolidator struct {
	sections    SectionStore
	hashes      HashLookup
	deduplicate bool
	logger      *observability.Logger
}

// NewConsolidator creates a Consolidator. When deduplicate is set, identical
// sections within a version are inserted once.
func NewConsolidator(sections SectionStore, hashes HashLookup, deduplicate bool, logger *observability.Logger) *Consolidator {
	return &Consolidator{sections: sections, hashes: hashes, deduplicate: deduplicate, logger: logger}
}

// Consolidate writes one ConsolidatedSection per successfully enriched
// element and returns the inserted sections. Elements that recorded errors
// carry no enrichment payload and are skipped.
func (c *Consolidator) Consolidate(ctx context.Context, batch *storage.CleansedBatch, elements []storage.EnrichedElement) ([]storage.ConsolidatedSection, error) {
	var out []storage.ConsolidatedSection
	for i := range elements {
		el := &elements[i]
		if el.Status.IsError() {
			continue
		}

		usagePath := usagePathOf(el)
		sectionPath, sectionURI := extract.SplitUsagePath(usagePath)

		section := storage.ConsolidatedSection{
			SourceURI:         batch.SourceURI,
			Version:           el.Version,
			SectionPath:       sectionPath,
			SectionURI:        sectionURI,
			OriginalFieldName: el.ItemOriginalFieldName,
			CleansedText:      el.CleansedText,
			Summary:           el.Summary,
			Keywords:          el.Keywords,
			Tags:              el.Tags,
			Sentiment:         el.Sentiment,
			Classification:    el.Classification,
			Context:           el.Context,
		}

		if c.deduplicate {
			exists, err := c.sections.Exists(ctx, &section)
			if err != nil {
				return out, fmt.Errorf("check section exists: %w", err)
			}
			if exists {
				continue
			}
		}

		section.ContentHash = c.lookupContentHash(ctx, el, usagePath)

		if err := c.sections.Create(ctx, &section); err != nil {
			return out, fmt.Errorf("insert section %s: %w", sectionURI, err)
		}
		out = append(out, section)
	}
	return out, nil
}

// lookupContentHash copies the stored hash for the element's content slot.
// A missing row just leaves the hash empty.
func (c *Consolidator) lookupContentHash(ctx context.Context, el *storage.EnrichedElement, usagePath string) string {
	row, err := c.hashes.Get(ctx, el.ItemSourcePath, itemTypeOf(el), usagePath)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn().Err(err).
				Str("source_path", el.ItemSourcePath).
				Msg("Content hash lookup failed during consolidation")
		}
		return ""
	}
	return row.ContentHash
}

func usagePathOf(el *storage.EnrichedElement) string {
	if envelope, ok := el.Context["envelope"].(map[string]any); ok {
		if up, ok := envelope["usagePath"].(string); ok && up != "" {
			return up
		}
	}
	return el.ItemSourcePath
}

func itemTypeOf(el *storage.EnrichedElement) string {
	if it, ok := el.Context["itemType"].(string); ok && it != "" {
		return it
	}
	return el.ItemOriginalFieldName
}
