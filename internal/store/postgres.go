package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"pg-job-queue/internal/models"
)

// Options tunes store behavior shared by all workers on the same tables.
type Options struct {
	// LeaseTimeout is how long a reservation stays valid before the job is
	// considered abandoned and eligible again.
	LeaseTimeout time.Duration
	// DefaultPriority is assigned to jobs re-inserted from failed_jobs.
	DefaultPriority int
}

func (o *Options) applyDefaults() {
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 90 * time.Second
	}
	if o.DefaultPriority == 0 {
		o.DefaultPriority = 5
	}
}

// Postgres owns the jobs and failed_jobs tables atop a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
	opts Options
	now  func() time.Time
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string, opts Options) (*Postgres, error) {
	opts.applyDefaults()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool, opts: opts, now: time.Now}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Insert adds a job row and returns its id.
func (s *Postgres) Insert(ctx context.Context, p models.InsertParams) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (queue, job_type, payload, priority, attempts, available_at, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		RETURNING id
	`, p.Queue, p.JobType, string(p.Payload), p.Priority, p.AvailableAt, p.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// Reserve claims one eligible job in a single atomic statement. SKIP LOCKED
// keeps concurrent workers from blocking on or double-claiming the same row.
func (s *Postgres) Reserve(ctx context.Context, queueName string) (*models.Job, error) {
	now := s.now().Unix()
	stale := now - int64(s.opts.LeaseTimeout/time.Second)

	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET reserved_at = $1
		WHERE id = (
			SELECT id FROM jobs
			WHERE (reserved_at IS NULL OR reserved_at <= $2)
			  AND available_at <= $1
			  AND ($3 = '' OR queue = $3)
			ORDER BY priority ASC, available_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, queue, job_type, payload, priority, attempts, reserved_at, available_at, created_at
	`, now, stale, queueName)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve job: %w", err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	var reserved pgtype.Int8
	if err := row.Scan(&job.ID, &job.Queue, &job.JobType, &job.Payload, &job.Priority,
		&job.Attempts, &reserved, &job.AvailableAt, &job.CreatedAt); err != nil {
		return nil, err
	}
	if reserved.Valid {
		job.ReservedAt = reserved.Int64
	}
	return &job, nil
}

// Delete removes a completed job row.
func (s *Postgres) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	return nil
}

// Release clears the reservation and reschedules the job for a retry.
func (s *Postgres) Release(ctx context.Context, id int64, attempts int, availableAt int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET reserved_at = NULL, attempts = $2, available_at = $3
		WHERE id = $1
	`, id, attempts, availableAt)
	if err != nil {
		return fmt.Errorf("release job %d: %w", id, err)
	}
	return nil
}

// MoveToFailed dead-letters the job in one transaction so the row is never
// present in both tables or in neither.
func (s *Postgres) MoveToFailed(ctx context.Context, job models.Job, exception string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	_, err = tx.Exec(ctx, `
		INSERT INTO failed_jobs (uuid, queue, job_type, payload, exception, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), job.Queue, job.JobType, string(job.Payload), exception, s.now().UTC())
	if err != nil {
		return fmt.Errorf("insert failed job: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, job.ID); err != nil {
		return fmt.Errorf("delete dead-lettered job %d: %w", job.ID, err)
	}
	return tx.Commit(ctx)
}

// Stats counts pending, reserved and failed jobs. A stale reservation counts
// as pending, matching the eligibility predicate.
func (s *Postgres) Stats(ctx context.Context, queueName string) (models.QueueStats, error) {
	stale := s.now().Unix() - int64(s.opts.LeaseTimeout/time.Second)

	var st models.QueueStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE reserved_at IS NULL OR reserved_at <= $1),
			COUNT(*) FILTER (WHERE reserved_at > $1)
		FROM jobs
		WHERE ($2 = '' OR queue = $2)
	`, stale, queueName).Scan(&st.Pending, &st.Reserved)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("count jobs: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM failed_jobs WHERE ($1 = '' OR queue = $1)
	`, queueName).Scan(&st.Failed)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("count failed jobs: %w", err)
	}
	return st, nil
}

// FailedJobs lists dead-lettered jobs, newest first.
func (s *Postgres) FailedJobs(ctx context.Context, limit, offset int) ([]models.FailedJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, uuid, queue, job_type, payload, exception, failed_at
		FROM failed_jobs
		ORDER BY id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query failed jobs: %w", err)
	}
	defer rows.Close()

	var out []models.FailedJob
	for rows.Next() {
		var fj models.FailedJob
		if err := rows.Scan(&fj.ID, &fj.UUID, &fj.Queue, &fj.JobType, &fj.Payload, &fj.Exception, &fj.FailedAt); err != nil {
			return nil, fmt.Errorf("scan failed job: %w", err)
		}
		out = append(out, fj)
	}
	return out, rows.Err()
}

// FailedJob fetches one dead-lettered job by id, or nil if absent.
func (s *Postgres) FailedJob(ctx context.Context, id int64) (*models.FailedJob, error) {
	var fj models.FailedJob
	err := s.pool.QueryRow(ctx, `
		SELECT id, uuid, queue, job_type, payload, exception, failed_at
		FROM failed_jobs WHERE id = $1
	`, id).Scan(&fj.ID, &fj.UUID, &fj.Queue, &fj.JobType, &fj.Payload, &fj.Exception, &fj.FailedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query failed job %d: %w", id, err)
	}
	return &fj, nil
}

// RetryFailed re-inserts a fresh job from a failed row and removes the
// failed row, transactionally.
func (s *Postgres) RetryFailed(ctx context.Context, id int64) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var queueName, jobType string
	var payload []byte
	err = tx.QueryRow(ctx, `
		SELECT queue, job_type, payload FROM failed_jobs WHERE id = $1 FOR UPDATE
	`, id).Scan(&queueName, &jobType, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query failed job %d: %w", id, err)
	}

	now := s.now().Unix()
	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (queue, job_type, payload, priority, attempts, available_at, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
	`, queueName, jobType, string(payload), s.opts.DefaultPriority, now)
	if err != nil {
		return false, fmt.Errorf("reinsert job: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM failed_jobs WHERE id = $1`, id); err != nil {
		return false, fmt.Errorf("delete failed job %d: %w", id, err)
	}
	return true, tx.Commit(ctx)
}

// RetryAllFailed moves every matching failed row back into jobs in a single
// statement.
func (s *Postgres) RetryAllFailed(ctx context.Context, queueName string) (int64, error) {
	now := s.now().Unix()
	tag, err := s.pool.Exec(ctx, `
		WITH moved AS (
			DELETE FROM failed_jobs WHERE ($1 = '' OR queue = $1)
			RETURNING queue, job_type, payload
		)
		INSERT INTO jobs (queue, job_type, payload, priority, attempts, available_at, created_at)
		SELECT queue, job_type, payload, $2, 0, $3, $3 FROM moved
	`, queueName, s.opts.DefaultPriority, now)
	if err != nil {
		return 0, fmt.Errorf("retry all failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeOld deletes jobs created before the cutoff.
func (s *Postgres) PurgeOld(ctx context.Context, cutoff int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeFailed deletes failed_jobs rows, optionally scoped to one queue.
func (s *Postgres) PurgeFailed(ctx context.Context, queueName string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM failed_jobs WHERE ($1 = '' OR queue = $1)`, queueName)
	if err != nil {
		return 0, fmt.Errorf("purge failed jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
