package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"pg-job-queue/internal/backoff"
	"pg-job-queue/internal/config"
	"pg-job-queue/internal/models"
	"pg-job-queue/internal/queue"
	"pg-job-queue/internal/store"
	"pg-job-queue/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		logger.Info("shutdown signal received, finishing in-flight jobs")
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN, store.Options{
		LeaseTimeout:    cfg.LeaseTimeout,
		DefaultPriority: cfg.DefaultPriority,
	})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("migrations", "error", err)
		os.Exit(1)
	}

	registry := queue.NewRegistry()
	registerHandlers(registry, logger)

	manager := queue.NewManager(st, registry, managerConfig(cfg, logger))

	if cfg.WorkerMode == "batch" {
		// One time-boxed batch per invocation, sized for scheduled or
		// serverless execution.
		res, err := manager.ProcessBatch(ctx, queue.BatchParams{
			Size:         cfg.BatchSize,
			MaxExecution: cfg.BatchMaxExecution,
		})
		if err != nil {
			logger.Error("batch aborted", "error", err, "processed", res.Processed)
			os.Exit(1)
		}
		logger.Info("batch complete",
			"processed", res.Processed, "succeeded", res.Succeeded, "failed", res.Failed)
		return
	}

	janitor := cron.New()
	_, err = janitor.AddFunc(cfg.PurgeCronSpec, func() {
		if n, err := manager.PurgeOldJobs(ctx, cfg.PurgeOlderThanDays); err != nil {
			logger.Error("purge old jobs", "error", err)
		} else {
			logger.Info("janitor purge complete", "deleted", n)
		}
	})
	if err != nil {
		logger.Error("janitor schedule", "spec", cfg.PurgeCronSpec, "error", err)
		os.Exit(1)
	}
	janitor.Start()
	defer janitor.Stop()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("worker started",
		"workers", cfg.WorkerCount,
		"lease_timeout", cfg.LeaseTimeout.String(),
		"max_attempts", cfg.MaxAttempts,
		"backoff_base", cfg.BackoffBase.String())

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.WorkerCount; i++ {
		g.Go(func() error {
			return manager.Process(gctx, "")
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func managerConfig(cfg config.Config, logger *slog.Logger) queue.Config {
	var strategy backoff.Strategy = backoff.NewExponential(cfg.BackoffBase, cfg.BackoffMax)
	if cfg.BackoffJitter {
		strategy = backoff.WithJitter(strategy)
	}
	return queue.Config{
		Enabled:           cfg.Enabled,
		DefaultQueue:      cfg.DefaultQueue,
		DefaultPriority:   cfg.DefaultPriority,
		PollInterval:      cfg.WorkerPollInterval,
		StoreFailureLimit: cfg.StoreFailureLimit,
		Policy: queue.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     strategy,
		},
		Logger: logger,
	}
}

// registerHandlers binds the job types this worker serves. Deployments
// replace these with their own factories.
func registerHandlers(registry *queue.Registry, logger *slog.Logger) {
	registry.RegisterHandler("noop", func(_ context.Context, _ models.Job) error {
		return nil
	})
	registry.RegisterHandler("echo", func(_ context.Context, job models.Job) error {
		var fields map[string]any
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &fields); err != nil {
				return err
			}
		}
		logger.Info("echo job", "job_id", job.ID, "fields", fields)
		return nil
	})
	registry.RegisterHandler("sleep", func(ctx context.Context, job models.Job) error {
		var p struct {
			DurationMS int `json:"duration_ms"`
		}
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(p.DurationMS) * time.Millisecond):
			return nil
		}
	})
}

func newLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
