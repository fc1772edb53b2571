package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"pg-job-queue/internal/queue"
	"pg-job-queue/internal/ratelimit"
	"pg-job-queue/internal/telemetry"
)

// Server exposes the producer and operations HTTP surface over the queue
// manager.
type Server struct {
	manager *queue.Manager
	limiter *ratelimit.Limiter
}

func New(manager *queue.Manager, limiter *ratelimit.Limiter) *Server {
	return &Server{manager: manager, limiter: limiter}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleEnqueue)
	r.Get("/jobs/stats", s.handleStats)
	r.Delete("/jobs/old", s.handlePurgeOld)

	r.Get("/failed-jobs", s.handleFailedJobs)
	r.Get("/failed-jobs/{id}", s.handleFailedJob)
	r.Post("/failed-jobs/{id}/retry", s.handleRetryFailed)
	r.Post("/failed-jobs/retry", s.handleRetryAllFailed)
	r.Delete("/failed-jobs", s.handlePurgeFailed)

	return r
}

type enqueueRequest struct {
	JobType      string          `json:"job_type"`
	Payload      json.RawMessage `json:"payload"`
	Queue        string          `json:"queue"`
	Priority     int             `json:"priority"`
	DelaySeconds int             `json:"delay_seconds"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.JobType == "" {
		http.Error(w, "job_type is required", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), producerFromRequest(r))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	ok := s.manager.Add(r.Context(), queue.AddParams{
		JobType:  req.JobType,
		Payload:  req.Payload,
		Queue:    req.Queue,
		Priority: req.Priority,
		Delay:    time.Duration(req.DelaySeconds) * time.Second,
	})
	if !ok {
		http.Error(w, "job refused", http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.Stats(r.Context(), r.URL.Query().Get("queue"))
	if err != nil {
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	jobs, err := s.manager.FailedJobs(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, "failed jobs unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"failed_jobs": jobs})
}

func (s *Server) handleFailedJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	fj, err := s.manager.FailedJob(r.Context(), id)
	if err != nil {
		http.Error(w, "failed job unavailable", http.StatusInternalServerError)
		return
	}
	if fj == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, fj)
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	ok, err := s.manager.RetryFailedJob(r.Context(), id)
	if err != nil {
		http.Error(w, "retry failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"retried": true})
}

func (s *Server) handleRetryAllFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.manager.RetryAllFailedJobs(r.Context(), r.URL.Query().Get("queue"))
	if err != nil {
		http.Error(w, "retry failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"retried": n})
}

func (s *Server) handlePurgeOld(w http.ResponseWriter, r *http.Request) {
	n, err := s.manager.PurgeOldJobs(r.Context(), queryInt(r, "older_than_days", 7))
	if err != nil {
		http.Error(w, "purge failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handlePurgeFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.manager.PurgeFailedJobs(r.Context(), r.URL.Query().Get("queue"))
	if err != nil {
		http.Error(w, "purge failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func producerFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Producer-ID"); v != "" {
		return v
	}
	return "default"
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
