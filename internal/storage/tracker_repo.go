package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobTrackerRepository owns the per-job progress counters. All mutation goes
// through a row-level lock so that concurrent workers cannot double-count an
// item or trigger finalization twice.
type JobTrackerRepository struct {
	db *sql.DB
}

// NewJobTrackerRepository creates a new job tracker repository.
func NewJobTrackerRepository(db *sql.DB) *JobTrackerRepository {
	return &JobTrackerRepository{db: db}
}

// Create registers a new job before any of its messages are enqueued.
func (r *JobTrackerRepository) Create(ctx context.Context, tracker *JobTracker) error {
	if tracker.JobID == uuid.Nil {
		tracker.JobID = uuid.New()
	}
	if tracker.Status == "" {
		tracker.Status = JobStatusPending
	}
	tracker.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enrichment_job_tracker (job_id, cleansed_data_store_id, total_items, processed_items, success_count, failure_count, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tracker.JobID, tracker.CleansedDataStoreID, tracker.TotalItems,
		tracker.ProcessedItems, tracker.SuccessCount, tracker.FailureCount,
		tracker.Status, tracker.UpdatedAt,
	)
	return err
}

// Get retrieves a tracker by job ID.
func (r *JobTrackerRepository) Get(ctx context.Context, jobID uuid.UUID) (*JobTracker, error) {
	query := `
		SELECT job_id, cleansed_data_store_id, total_items, processed_items, success_count, failure_count, status, updated_at
		FROM enrichment_job_tracker WHERE job_id = $1
	`
	tracker := &JobTracker{}
	err := r.db.QueryRowContext(ctx, query, jobID).Scan(
		&tracker.JobID, &tracker.CleansedDataStoreID, &tracker.TotalItems,
		&tracker.ProcessedItems, &tracker.SuccessCount, &tracker.FailureCount,
		&tracker.Status, &tracker.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tracker, err
}

// RecordProgress increments the counters for one processed item under a row
// lock. When the increment completes the job, the tracker transitions to
// FINALIZING inside the same transaction and the returned flag is true for
// exactly one caller; every other worker observes the transition and stays
// out of finalization.
func (r *JobTrackerRepository) RecordProgress(ctx context.Context, jobID uuid.UUID, success bool) (*JobTracker, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tracker := &JobTracker{}
	err = tx.QueryRowContext(ctx, `
		SELECT job_id, cleansed_data_store_id, total_items, processed_items, success_count, failure_count, status, updated_at
		FROM enrichment_job_tracker WHERE job_id = $1
		FOR UPDATE`,
		jobID,
	).Scan(
		&tracker.JobID, &tracker.CleansedDataStoreID, &tracker.TotalItems,
		&tracker.ProcessedItems, &tracker.SuccessCount, &tracker.FailureCount,
		&tracker.Status, &tracker.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}

	tracker.ProcessedItems++
	if success {
		tracker.SuccessCount++
	} else {
		tracker.FailureCount++
	}
	if tracker.Status == JobStatusPending {
		tracker.Status = JobStatusRunning
	}

	finalize := false
	if tracker.ProcessedItems >= tracker.TotalItems && tracker.Status == JobStatusRunning {
		tracker.Status = JobStatusFinalizing
		finalize = true
	}
	tracker.UpdatedAt = time.Now()

	if _, err := tx.ExecContext(ctx, `
		UPDATE enrichment_job_tracker
		SET processed_items = $1, success_count = $2, failure_count = $3, status = $4, updated_at = $5
		WHERE job_id = $6`,
		tracker.ProcessedItems, tracker.SuccessCount, tracker.FailureCount,
		tracker.Status, tracker.UpdatedAt, jobID,
	); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit tracker update: %w", err)
	}
	return tracker, finalize, nil
}

// MarkCompleted settles the tracker after consolidation finishes.
func (r *JobTrackerRepository) MarkCompleted(ctx context.Context, jobID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE enrichment_job_tracker SET status = $1, updated_at = $2 WHERE job_id = $3`,
		JobStatusCompleted, time.Now(), jobID,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}
