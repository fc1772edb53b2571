package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_enqueued_total", Help: "Total jobs enqueued"})
	EnqueueRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_enqueue_rejected_total", Help: "Enqueue attempts refused by validation or a disabled queue"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_rate_limit_rejects_total", Help: "Producer requests rejected by the rate limiter"})
	JobsSucceeded     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_succeeded_total", Help: "Jobs completed successfully"})
	JobsRetried       = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_retried_total", Help: "Job attempts that failed and were rescheduled"})
	JobsDeadLettered  = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_dead_lettered_total", Help: "Jobs moved to failed_jobs"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_inflight", Help: "Jobs currently reserved by this process"})
	ExecutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "job_execution_seconds",
		Help:    "Handler execution time per attempt",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	})
)

// Handler exposes the /metrics HTTP handler with singleton registration.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			EnqueueRejects,
			RateLimitRejects,
			JobsSucceeded,
			JobsRetried,
			JobsDeadLettered,
			InFlightGauge,
			ExecutionDuration,
		)
	})
	return promhttp.Handler()
}
