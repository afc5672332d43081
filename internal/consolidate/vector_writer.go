package consolidate

import (
	"context"
	"fmt"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

// BatchEmbedder turns texts into vectors in one provider call.
type BatchEmbedder interface {
	GenerateEmbeddingsInBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkStore persists vector rows.
type ChunkStore interface {
	Create(ctx context.Context, chunk *storage.ContentChunk) error
}

// VectorWriter chunks section text and stores the embedded chunks.
type VectorWriter struct {
	embedder BatchEmbedder
	chunks   ChunkStore
	chunker  *Chunker
	logger   *observability.Logger
}

// NewVectorWriter creates a VectorWriter.
func NewVectorWriter(embedder BatchEmbedder, chunks ChunkStore, chunker *Chunker, logger *observability.Logger) *VectorWriter {
	return &VectorWriter{embedder: embedder, chunks: chunks, chunker: chunker, logger: logger}
}

// WriteVectors chunks every section, embeds all chunks in one batch call, and
// persists them in order. Per-chunk persistence failures become warnings so
// one bad row never strands the job. Returns the saved count and warnings.
func (w *VectorWriter) WriteVectors(ctx context.Context, sections []storage.ConsolidatedSection) (int, []string) {
	var pending []storage.ContentChunk
	var texts []string
	for i := range sections {
		section := &sections[i]
		for _, text := range w.chunker.Chunk(section.CleansedText) {
			pending = append(pending, storage.ContentChunk{
				SectionID:   section.ID,
				ChunkText:   text,
				SourceField: section.OriginalFieldName,
				SectionPath: section.SectionPath,
			})
			texts = append(texts, text)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var warnings []string
	vectors, err := w.embedder.GenerateEmbeddingsInBatch(ctx, texts)
	if err != nil {
		warning := fmt.Sprintf("embedding batch failed: %v", err)
		w.logger.Error().Err(err).Int("chunks", len(pending)).Msg("Embedding batch failed, no vectors written")
		return 0, []string{warning}
	}

	save := len(pending)
	if len(vectors) != len(pending) {
		warning := fmt.Sprintf("embedding count mismatch: %d chunks, %d vectors", len(pending), len(vectors))
		w.logger.Warn().
			Int("chunks", len(pending)).
			Int("vectors", len(vectors)).
			Msg("Embedding count mismatch, saving the overlap")
		warnings = append(warnings, warning)
		if len(vectors) < save {
			save = len(vectors)
		}
	}

	saved := 0
	for i := 0; i < save; i++ {
		chunk := pending[i]
		chunk.Embedding = vectors[i]
		if err := w.chunks.Create(ctx, &chunk); err != nil {
			warnings = append(warnings, fmt.Sprintf("chunk save failed for section %s: %v", chunk.SectionID, err))
			w.logger.Error().Err(err).Str("section_id", chunk.SectionID.String()).Msg("Chunk save failed")
			continue
		}
		saved++
	}
	return saved, warnings
}
