package storage

import "database/sql"

// Repositories bundles all repositories over one connection pool.
type Repositories struct {
	RawSources    *RawSourceRepository
	Batches       *CleansedBatchRepository
	ContentHashes *ContentHashRepository
	Elements      *EnrichedElementRepository
	Trackers      *JobTrackerRepository
	Sections      *ConsolidatedSectionRepository
	Chunks        *ContentChunkRepository
	Search        *SearchRepository
}

// NewRepositories creates the repository bundle.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		RawSources:    NewRawSourceRepository(db),
		Batches:       NewCleansedBatchRepository(db),
		ContentHashes: NewContentHashRepository(db),
		Elements:      NewEnrichedElementRepository(db),
		Trackers:      NewJobTrackerRepository(db),
		Sections:      NewConsolidatedSectionRepository(db),
		Chunks:        NewContentChunkRepository(db),
		Search:        NewSearchRepository(db),
	}
}
