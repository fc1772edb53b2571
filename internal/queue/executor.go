package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"pg-job-queue/internal/models"
)

// Handler executes one job attempt. Returning a non-nil error routes the job
// through the retry policy.
type Handler func(ctx context.Context, job models.Job) error

// Factory builds a handler for a job type. Factories are registered at
// startup; the executor never resolves types by reflection.
type Factory func() (Handler, error)

// Registry maps job type identifiers to handler factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a factory to a job type. Empty types and nil factories are
// ignored.
func (r *Registry) Register(jobType string, f Factory) {
	if jobType == "" || f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[jobType] = f
}

// RegisterHandler binds a fixed handler to a job type.
func (r *Registry) RegisterHandler(jobType string, h Handler) {
	if h == nil {
		return
	}
	r.Register(jobType, func() (Handler, error) { return h, nil })
}

// Known reports whether a job type has a registered factory.
func (r *Registry) Known(jobType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[jobType]
	return ok
}

// Resolve returns a handler instance for the job type.
func (r *Registry) Resolve(jobType string) (Handler, error) {
	r.mu.RLock()
	f, ok := r.factories[jobType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no handler registered for job type %q", jobType)
	}
	h, err := f()
	if err != nil {
		return nil, fmt.Errorf("resolve job type %q: %w", jobType, err)
	}
	if h == nil {
		return nil, fmt.Errorf("factory for job type %q returned no handler", jobType)
	}
	return h, nil
}

// Executor resolves and runs job handlers. Handler errors and panics are
// captured and reported as a failure outcome, never propagated.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
}

func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, logger: logger}
}

// Execute resolves the job's handler and invokes it with the stored payload.
// A resolution failure is an execution failure like any other, subject to
// the retry policy.
func (e *Executor) Execute(ctx context.Context, job models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			buf = buf[:runtime.Stack(buf, false)]
			err = fmt.Errorf("handler panic: %v\n%s", r, buf)
		}
	}()

	handler, err := e.registry.Resolve(job.JobType)
	if err != nil {
		return err
	}
	return handler(ctx, job)
}

// ExecuteSync runs a handler inline, bypassing the store entirely. Meant for
// tests and one-off invocations.
func (e *Executor) ExecuteSync(ctx context.Context, jobType string, payload []byte) bool {
	job := models.Job{
		JobType:     jobType,
		Payload:     payload,
		AvailableAt: time.Now().Unix(),
		CreatedAt:   time.Now().Unix(),
	}
	if err := e.Execute(ctx, job); err != nil {
		e.logger.Warn("inline execution failed", "job_type", jobType, "error", err)
		return false
	}
	return true
}
