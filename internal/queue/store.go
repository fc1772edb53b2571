package queue

import (
	"context"

	"pg-job-queue/internal/models"
)

// Store is the only gateway to the jobs and failed_jobs tables. Reserve,
// Release, Delete and MoveToFailed must each be individually atomic against
// concurrent workers sharing the same store.
type Store interface {
	// Insert adds a job row and returns its id.
	Insert(ctx context.Context, p models.InsertParams) (int64, error)

	// Reserve atomically claims one eligible job: unreserved (or holding a
	// stale lease) and available, ordered by priority then availability.
	// queue == "" means any queue. Returns nil when no job is eligible.
	Reserve(ctx context.Context, queue string) (*models.Job, error)

	// Delete removes a completed job row.
	Delete(ctx context.Context, id int64) error

	// Release returns a reserved job to the pending state with an updated
	// attempt count and a new availability time.
	Release(ctx context.Context, id int64, attempts int, availableAt int64) error

	// MoveToFailed dead-letters the job: inserts a failed_jobs row and
	// deletes the jobs row in one transaction.
	MoveToFailed(ctx context.Context, job models.Job, exception string) error

	// Stats counts pending, reserved and failed jobs, optionally filtered
	// by queue. Read-only.
	Stats(ctx context.Context, queue string) (models.QueueStats, error)

	FailedJobs(ctx context.Context, limit, offset int) ([]models.FailedJob, error)
	FailedJob(ctx context.Context, id int64) (*models.FailedJob, error)

	// RetryFailed re-inserts a fresh job derived from the failed row with
	// attempts reset to zero and removes the failed_jobs row. Returns false
	// when no such failed job exists.
	RetryFailed(ctx context.Context, id int64) (bool, error)

	// RetryAllFailed requeues every failed job, optionally filtered by
	// queue, and returns how many were requeued.
	RetryAllFailed(ctx context.Context, queue string) (int64, error)

	// PurgeOld deletes jobs rows created before the cutoff (unix seconds)
	// and returns the number deleted.
	PurgeOld(ctx context.Context, cutoff int64) (int64, error)

	// PurgeFailed deletes failed_jobs rows, optionally filtered by queue.
	PurgeFailed(ctx context.Context, queue string) (int64, error)
}
