package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"pg-job-queue/internal/api"
	"pg-job-queue/internal/backoff"
	"pg-job-queue/internal/config"
	"pg-job-queue/internal/queue"
	"pg-job-queue/internal/ratelimit"
	"pg-job-queue/internal/store"
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

	// The API validates job types against the same registry the workers use.
	// Types registered here must stay in sync with cmd/worker.
	registry := queue.NewRegistry()
	for _, jobType := range []string{"noop", "echo", "sleep"} {
		registry.Register(jobType, acceptOnly(jobType))
	}

	manager := queue.NewManager(st, registry, queue.Config{
		Enabled:         cfg.Enabled,
		DefaultQueue:    cfg.DefaultQueue,
		DefaultPriority: cfg.DefaultPriority,
		Policy: queue.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     backoff.NewExponential(cfg.BackoffBase, cfg.BackoffMax),
		},
		Logger: logger,
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(manager, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("api listening", "port", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

// acceptOnly marks a job type dispatchable from this process without
// providing an executable handler; execution happens in the workers.
func acceptOnly(jobType string) queue.Factory {
	return func() (queue.Handler, error) {
		return nil, &notExecutableError{jobType: jobType}
	}
}

type notExecutableError struct{ jobType string }

func (e *notExecutableError) Error() string {
	return "job type " + e.jobType + " is dispatch-only in the api process"
}

func newLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
