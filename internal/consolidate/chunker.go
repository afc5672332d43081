// Package consolidate merges enriched items into searchable sections and
// writes their vector-indexed chunks.
package consolidate

import (
	"regexp"
	"strings"
)

// ChunkerConfig holds chunking thresholds.
type ChunkerConfig struct {
	// LengthThreshold is the text length at or below which the text passes
	// through as a single chunk.
	LengthThreshold int
	// SentencesPerChunk is the window size.
	SentencesPerChunk int
	// SentenceOverlap is how many sentences consecutive windows share.
	SentenceOverlap int
}

// DefaultChunkerConfig returns the standard thresholds.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		LengthThreshold:   500,
		SentencesPerChunk: 2,
		SentenceOverlap:   1,
	}
}

// Chunker splits long text into overlapping sentence windows.
type Chunker struct {
	cfg ChunkerConfig
}

// NewChunker creates a Chunker, falling back to defaults for unset values.
func NewChunker(cfg ChunkerConfig) *Chunker {
	def := DefaultChunkerConfig()
	if cfg.LengthThreshold <= 0 {
		cfg.LengthThreshold = def.LengthThreshold
	}
	if cfg.SentencesPerChunk <= 0 {
		cfg.SentencesPerChunk = def.SentencesPerChunk
	}
	if cfg.SentenceOverlap < 0 || cfg.SentenceOverlap >= cfg.SentencesPerChunk {
		cfg.SentenceOverlap = def.SentenceOverlap
	}
	return &Chunker{cfg: cfg}
}

// sentenceBoundary marks a sentence end: terminal punctuation followed by
// whitespace. The split keeps the punctuation with its sentence.
var sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)

// Chunk splits text into chunks. Text at or below the length threshold is
// returned trimmed as a single chunk.
func (c *Chunker) Chunk(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= c.cfg.LengthThreshold {
		return []string{trimmed}
	}

	sentences := splitSentences(trimmed)
	if len(sentences) <= c.cfg.SentencesPerChunk {
		return []string{strings.Join(sentences, " ")}
	}

	step := c.cfg.SentencesPerChunk - c.cfg.SentenceOverlap
	var chunks []string
	covered := 0
	for start := 0; start+c.cfg.SentencesPerChunk <= len(sentences); start += step {
		window := sentences[start : start+c.cfg.SentencesPerChunk]
		chunks = append(chunks, strings.Join(window, " "))
		covered = start + c.cfg.SentencesPerChunk
	}
	if covered < len(sentences) {
		// The step overshot the end; clamp a final window so trailing
		// sentences still land in a chunk.
		window := sentences[len(sentences)-c.cfg.SentencesPerChunk:]
		chunks = append(chunks, strings.Join(window, " "))
	}
	return chunks
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		sentence := strings.TrimSpace(text[start : loc[0]+1])
		if sentence != "" {
			out = append(out, sentence)
		}
		start = loc[1]
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}
