package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pg-job-queue/internal/backoff"
	"pg-job-queue/internal/models"
	"pg-job-queue/internal/queue"
	"pg-job-queue/internal/ratelimit"
	"pg-job-queue/internal/store"
)

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) (*Server, *queue.Manager) {
	t.Helper()
	mem := store.NewMemory(store.Options{LeaseTimeout: time.Minute})

	registry := queue.NewRegistry()
	registry.RegisterHandler("ok", func(context.Context, models.Job) error { return nil })
	registry.RegisterHandler("fail", func(context.Context, models.Job) error {
		return errors.New("handler exploded")
	})

	manager := queue.NewManager(mem, registry, queue.Config{
		Enabled: true,
		Policy:  queue.RetryPolicy{MaxAttempts: 1, Backoff: backoff.NewConstant(time.Minute)},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return New(manager, limiter), manager
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	router := s.Router()

	rec := doJSON(t, router, http.MethodPost, "/jobs", `{"job_type":"ok","payload":{"n":1}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d, want 202", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/jobs", `{"job_type":"unknown"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown type status = %d, want 422", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/jobs", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/jobs", `{"payload":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing job_type status = %d, want 400", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, manager := newTestServer(t, nil)
	router := s.Router()

	ctx := context.Background()
	manager.Add(ctx, queue.AddParams{JobType: "ok", Queue: "a"})
	manager.Add(ctx, queue.AddParams{JobType: "ok", Queue: "a"})
	manager.Add(ctx, queue.AddParams{JobType: "ok", Queue: "b"})

	rec := doJSON(t, router, http.MethodGet, "/jobs/stats?queue=a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats models.QueueStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Pending != 2 {
		t.Fatalf("queue a pending = %d, want 2", stats.Pending)
	}
}

func TestFailedJobLifecycleOverHTTP(t *testing.T) {
	s, manager := newTestServer(t, nil)
	router := s.Router()
	ctx := context.Background()

	manager.Add(ctx, queue.AddParams{JobType: "fail", Queue: "x"})
	if _, err := manager.ProcessBatch(ctx, queue.BatchParams{Size: 1}); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	rec := doJSON(t, router, http.MethodGet, "/failed-jobs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listing struct {
		FailedJobs []models.FailedJob `json:"failed_jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.FailedJobs) != 1 {
		t.Fatalf("failed jobs = %d, want 1", len(listing.FailedJobs))
	}
	id := listing.FailedJobs[0].ID

	rec = doJSON(t, router, http.MethodGet, "/failed-jobs/9999", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing failed job status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/failed-jobs/"+strconv.FormatInt(id, 10)+"/retry", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d", rec.Code)
	}
	stats, _ := manager.Stats(ctx, "x")
	if stats.Pending != 1 || stats.Failed != 0 {
		t.Fatalf("stats after retry = %+v", stats)
	}
}

func TestPurgeFailedEndpoint(t *testing.T) {
	s, manager := newTestServer(t, nil)
	router := s.Router()
	ctx := context.Background()

	manager.Add(ctx, queue.AddParams{JobType: "fail"})
	_, _ = manager.ProcessBatch(ctx, queue.BatchParams{Size: 1})

	rec := doJSON(t, router, http.MethodDelete, "/failed-jobs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("purge status = %d", rec.Code)
	}
	var out map[string]int64
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out["deleted"] != 1 {
		t.Fatalf("deleted = %d, want 1", out["deleted"])
	}
}

func TestEnqueueRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewLimiter(client, 1, 0.001, time.Minute)
	s, _ := newTestServer(t, limiter)
	router := s.Router()

	rec := doJSON(t, router, http.MethodPost, "/jobs", `{"job_type":"ok"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first enqueue status = %d, want 202", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/jobs", `{"job_type":"ok"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second enqueue status = %d, want 429", rec.Code)
	}
}
