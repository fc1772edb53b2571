package models

import (
	"time"
)

// Job is a row in the jobs table. Timestamps are unix seconds to match the
// persisted schema; the payload is opaque to the queue core.
type Job struct {
	ID          int64  `json:"id"`
	Queue       string `json:"queue"`
	JobType     string `json:"job_type"`
	Payload     []byte `json:"payload"`
	Priority    int    `json:"priority"`
	Attempts    int    `json:"attempts"`
	ReservedAt  int64  `json:"reserved_at,omitempty"` // 0 means not reserved
	AvailableAt int64  `json:"available_at"`
	CreatedAt   int64  `json:"created_at"`
}

// Reserved reports whether the job holds a valid reservation, i.e. one
// younger than the lease timeout.
func (j Job) Reserved(now time.Time, lease time.Duration) bool {
	if j.ReservedAt == 0 {
		return false
	}
	return j.ReservedAt > now.Add(-lease).Unix()
}

// Eligible reports whether the job may be reserved: available, and either
// unreserved or holding a stale (abandoned) reservation.
func (j Job) Eligible(now time.Time, lease time.Duration) bool {
	return j.AvailableAt <= now.Unix() && !j.Reserved(now, lease)
}

// InsertParams collects inputs required to insert a job row.
type InsertParams struct {
	Queue       string
	JobType     string
	Payload     []byte
	Priority    int
	AvailableAt int64
	CreatedAt   int64
}

// FailedJob is a dead-lettered job in the failed_jobs table.
type FailedJob struct {
	ID        int64     `json:"id"`
	UUID      string    `json:"uuid"`
	Queue     string    `json:"queue"`
	JobType   string    `json:"job_type"`
	Payload   []byte    `json:"payload"`
	Exception string    `json:"exception"`
	FailedAt  time.Time `json:"failed_at"`
}

// QueueStats summarizes a queue (or all queues) at a point in time.
type QueueStats struct {
	Pending  int64 `json:"pending"`
	Reserved int64 `json:"reserved"`
	Failed   int64 `json:"failed"`
}
