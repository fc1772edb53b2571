package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"pg-job-queue/internal/models"
	"pg-job-queue/internal/telemetry"
)

// Config tunes the manager. Zero values fall back to the documented defaults.
type Config struct {
	// Enabled gates all dispatch and processing. A disabled manager refuses
	// Add and returns immediately from Process.
	Enabled bool
	// DefaultQueue receives jobs dispatched without an explicit queue.
	DefaultQueue string
	// DefaultPriority is assigned when AddParams leaves priority unset.
	// Lower values are served first.
	DefaultPriority int
	// PollInterval is how long Process sleeps when no job is eligible.
	PollInterval time.Duration
	// StoreFailureLimit is how many consecutive reservation failures
	// Process tolerates before giving up on the store.
	StoreFailureLimit int
	Policy            RetryPolicy
	Logger            *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.DefaultQueue == "" {
		c.DefaultQueue = "default"
	}
	if c.DefaultPriority == 0 {
		c.DefaultPriority = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StoreFailureLimit <= 0 {
		c.StoreFailureLimit = 10
	}
	if c.Policy.MaxAttempts == 0 && c.Policy.Backoff == nil {
		c.Policy = DefaultRetryPolicy()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager is the public entry point for dispatch, processing, stats,
// failed-job management and maintenance. All table access goes through the
// injected Store.
type Manager struct {
	store    Store
	registry *Registry
	executor *Executor
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewManager(st Store, registry *Registry, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		store:    st,
		registry: registry,
		executor: NewExecutor(registry, cfg.Logger),
		cfg:      cfg,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Executor exposes the manager's executor for inline execution.
func (m *Manager) Executor() *Executor {
	return m.executor
}

// AddParams collects dispatch inputs. Queue, Priority and Delay are optional.
type AddParams struct {
	JobType  string
	Payload  []byte
	Queue    string
	Priority int
	Delay    time.Duration
}

// Add enqueues a job. It returns false (and logs) on validation or store
// failure rather than surfacing an error to producers.
func (m *Manager) Add(ctx context.Context, p AddParams) bool {
	if !m.cfg.Enabled {
		m.logger.Warn("queue disabled, job refused", "job_type", p.JobType)
		telemetry.EnqueueRejects.Inc()
		return false
	}
	if p.JobType == "" {
		m.logger.Warn("empty job type refused")
		telemetry.EnqueueRejects.Inc()
		return false
	}
	if !m.registry.Known(p.JobType) {
		m.logger.Warn("unknown job type refused", "job_type", p.JobType)
		telemetry.EnqueueRejects.Inc()
		return false
	}
	if p.Queue == "" {
		p.Queue = m.cfg.DefaultQueue
	}
	if p.Priority == 0 {
		p.Priority = m.cfg.DefaultPriority
	}
	if p.Delay < 0 {
		p.Delay = 0
	}

	now := m.now()
	id, err := m.store.Insert(ctx, models.InsertParams{
		Queue:       p.Queue,
		JobType:     p.JobType,
		Payload:     p.Payload,
		Priority:    p.Priority,
		AvailableAt: now.Add(p.Delay).Unix(),
		CreatedAt:   now.Unix(),
	})
	if err != nil {
		m.logger.Error("enqueue failed", "job_type", p.JobType, "queue", p.Queue, "error", err)
		return false
	}

	m.logger.Debug("job enqueued", "job_id", id, "job_type", p.JobType, "queue", p.Queue, "priority", p.Priority)
	telemetry.EnqueueCounter.Inc()
	return true
}

// Process reserves and executes jobs one at a time until ctx is cancelled.
// The stop signal is checked between jobs; an in-flight handler always
// finishes. queue == "" processes all queues. Transient store errors back
// off at the poll interval; only a sustained run of store failures returns
// an error.
func (m *Manager) Process(ctx context.Context, queue string) error {
	if !m.cfg.Enabled {
		m.logger.Info("queue disabled, worker idle")
		return nil
	}

	storeFailures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := m.store.Reserve(ctx, queue)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			storeFailures++
			m.logger.Error("reservation failed", "queue", queue, "error", err, "consecutive", storeFailures)
			if storeFailures >= m.cfg.StoreFailureLimit {
				return fmt.Errorf("store unreachable after %d reservation attempts: %w", storeFailures, err)
			}
			m.sleep(ctx)
			continue
		}
		storeFailures = 0

		if job == nil {
			m.sleep(ctx)
			continue
		}
		m.runOne(ctx, *job)
	}
}

// BatchParams bounds one ProcessBatch call.
type BatchParams struct {
	// Size caps how many jobs are processed.
	Size int
	// Queue filters reservation; empty means all queues.
	Queue string
	// MaxExecution is a soft time budget checked between jobs, sized for
	// time-boxed environments. An in-flight handler is never preempted.
	MaxExecution time.Duration
}

// BatchResult summarizes one ProcessBatch call.
type BatchResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ProcessBatch reserves and executes up to Size jobs. Per-job failures are
// counted, never returned; the error reports only a failed reservation.
func (m *Manager) ProcessBatch(ctx context.Context, p BatchParams) (BatchResult, error) {
	var res BatchResult
	if !m.cfg.Enabled {
		return res, nil
	}
	if p.Size <= 0 {
		p.Size = 10
	}
	if p.MaxExecution <= 0 {
		p.MaxExecution = 55 * time.Second
	}
	deadline := m.now().Add(p.MaxExecution)

	for res.Processed < p.Size {
		if ctx.Err() != nil || !m.now().Before(deadline) {
			break
		}
		job, err := m.store.Reserve(ctx, p.Queue)
		if err != nil {
			return res, fmt.Errorf("reserve job: %w", err)
		}
		if job == nil {
			break
		}
		res.Processed++
		if m.runOne(ctx, *job) {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

// runOne executes a reserved job and settles it: delete on success, release
// with backoff or dead-letter on failure. Returns whether the attempt
// succeeded. Settlement errors are logged and left to stale-lease recovery.
func (m *Manager) runOne(ctx context.Context, job models.Job) bool {
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)
	start := m.now()

	execErr := m.executor.Execute(ctx, job)

	elapsed := m.now().Sub(start)
	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)
	telemetry.ExecutionDuration.Observe(elapsed.Seconds())

	attrs := []any{
		"job_id", job.ID,
		"job_type", job.JobType,
		"queue", job.Queue,
		"duration_ms", elapsed.Milliseconds(),
		"alloc_bytes", int64(memAfter.TotalAlloc - memBefore.TotalAlloc),
	}

	if execErr == nil {
		if err := m.store.Delete(ctx, job.ID); err != nil {
			m.logger.Error("completed job not deleted, lease will expire", append(attrs, "error", err)...)
		}
		telemetry.JobsSucceeded.Inc()
		m.logger.Info("job succeeded", attrs...)
		return true
	}

	attempts := job.Attempts + 1
	decision := m.cfg.Policy.Decide(attempts)
	attrs = append(attrs, "attempts", attempts, "error", execErr)

	if decision.DeadLetter {
		if err := m.store.MoveToFailed(ctx, job, execErr.Error()); err != nil {
			m.logger.Error("dead-letter move failed, lease will expire", append(attrs, "store_error", err)...)
			return false
		}
		telemetry.JobsDeadLettered.Inc()
		m.logger.Error("job dead-lettered", attrs...)
		return false
	}

	availableAt := m.now().Add(decision.Delay).Unix()
	if err := m.store.Release(ctx, job.ID, attempts, availableAt); err != nil {
		m.logger.Error("retry release failed, lease will expire", append(attrs, "store_error", err)...)
		return false
	}
	telemetry.JobsRetried.Inc()
	m.logger.Warn("job failed, retry scheduled", append(attrs, "retry_in", decision.Delay.String())...)
	return false
}

func (m *Manager) sleep(ctx context.Context) {
	t := time.NewTimer(m.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Stats returns pending/reserved/failed counts without mutating state.
func (m *Manager) Stats(ctx context.Context, queue string) (models.QueueStats, error) {
	return m.store.Stats(ctx, queue)
}

// FailedJobs lists dead-lettered jobs, newest first.
func (m *Manager) FailedJobs(ctx context.Context, limit, offset int) ([]models.FailedJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return m.store.FailedJobs(ctx, limit, offset)
}

// FailedJob fetches one dead-lettered job, or nil if absent.
func (m *Manager) FailedJob(ctx context.Context, id int64) (*models.FailedJob, error) {
	return m.store.FailedJob(ctx, id)
}

// RetryFailedJob requeues one dead-lettered job with a reset attempt count.
func (m *Manager) RetryFailedJob(ctx context.Context, id int64) (bool, error) {
	ok, err := m.store.RetryFailed(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		m.logger.Info("failed job requeued", "failed_job_id", id)
	}
	return ok, nil
}

// RetryAllFailedJobs requeues every dead-lettered job, optionally scoped to
// one queue, and returns how many were requeued.
func (m *Manager) RetryAllFailedJobs(ctx context.Context, queue string) (int64, error) {
	n, err := m.store.RetryAllFailed(ctx, queue)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("failed jobs requeued", "queue", queue, "count", n)
	}
	return n, nil
}

// PurgeOldJobs deletes jobs rows older than the given age in days and
// returns how many were deleted.
func (m *Manager) PurgeOldJobs(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		olderThanDays = 0
	}
	cutoff := m.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour).Unix()
	n, err := m.store.PurgeOld(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("old jobs purged", "older_than_days", olderThanDays, "count", n)
	}
	return n, nil
}

// PurgeFailedJobs deletes dead-lettered jobs, optionally scoped to one queue.
func (m *Manager) PurgeFailedJobs(ctx context.Context, queue string) (int64, error) {
	n, err := m.store.PurgeFailed(ctx, queue)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("failed jobs purged", "queue", queue, "count", n)
	}
	return n, nil
}
