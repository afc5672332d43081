package consolidate

import (
	"unicode/utf8"

	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

// Counts summarizes one job's item outcomes.
type Counts struct {
	TotalDeserialized int
	SkippedEmptyText  int
	Success           int
	Failure           int
	RateLimited       int
}

// Attempted is the number of items that reached a terminal outcome.
func (c Counts) Attempted() int {
	return c.Success + c.Failure + c.RateLimited
}

// ComputeFinalStatus derives the user-visible batch status from the counts.
func ComputeFinalStatus(c Counts) storage.BatchStatus {
	if c.TotalDeserialized == 0 {
		return storage.StatusEnrichedNoItems
	}
	attempted := c.Attempted()
	if attempted == 0 && c.SkippedEmptyText == c.TotalDeserialized {
		return storage.StatusEnrichedAllSkippedEmptyText
	}
	switch {
	case c.Failure == 0 && c.RateLimited == 0 && c.Success == attempted:
		return storage.StatusEnrichedComplete
	case c.Success > 0 && (c.Failure > 0 || c.RateLimited > 0):
		return storage.StatusPartiallyEnriched
	case c.Failure == attempted:
		return storage.StatusEnrichmentFailedAllAttempted
	case c.RateLimited == attempted:
		return storage.StatusEnrichmentSkippedAllRate
	default:
		return storage.StatusEnrichmentIssuesDetected
	}
}

// maxErrorMessageLen bounds each stored item error message.
const maxErrorMessageLen = 255

// BuildSummary assembles the job diagnostics persisted onto the batch.
func BuildSummary(c Counts, errorMessages, warnings []string) map[string]any {
	truncated := make([]string, 0, len(errorMessages))
	for _, msg := range errorMessages {
		truncated = append(truncated, truncate(msg, maxErrorMessageLen))
	}

	summary := map[string]any{
		"totalDeserializedItems":      c.TotalDeserialized,
		"itemsAttempted":              c.Attempted(),
		"successfullyEnriched":        c.Success,
		"failedEnrichmentAttempts":    c.Failure,
		"skippedByRateLimit":          c.RateLimited,
		"itemProcessingErrorMessages": truncated,
	}
	if len(warnings) > 0 {
		summary["warnings"] = warnings
	}
	return summary
}

// truncate cuts s to at most n bytes, backing up to a rune boundary so a
// multi-byte character is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
