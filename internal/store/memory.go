package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pg-job-queue/internal/models"
)

// Memory is a mutex-guarded Store for tests and inline tooling. It honors
// the same eligibility, ordering and atomicity contract as Postgres.
type Memory struct {
	mu           sync.Mutex
	opts         Options
	nextID       int64
	nextFailedID int64
	jobs         map[int64]*models.Job
	failed       map[int64]*models.FailedJob
	now          func() time.Time
}

func NewMemory(opts Options) *Memory {
	opts.applyDefaults()
	return &Memory{
		opts:   opts,
		jobs:   make(map[int64]*models.Job),
		failed: make(map[int64]*models.FailedJob),
		now:    time.Now,
	}
}

// SetNow overrides the clock. Tests use it to cross availability and lease
// boundaries without sleeping.
func (s *Memory) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Memory) Insert(_ context.Context, p models.InsertParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.jobs[s.nextID] = &models.Job{
		ID:          s.nextID,
		Queue:       p.Queue,
		JobType:     p.JobType,
		Payload:     p.Payload,
		Priority:    p.Priority,
		AvailableAt: p.AvailableAt,
		CreatedAt:   p.CreatedAt,
	}
	return s.nextID, nil
}

func (s *Memory) Reserve(_ context.Context, queueName string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var pick *models.Job
	for _, j := range s.jobs {
		if queueName != "" && j.Queue != queueName {
			continue
		}
		if !j.Eligible(now, s.opts.LeaseTimeout) {
			continue
		}
		if pick == nil || before(j, pick) {
			pick = j
		}
	}
	if pick == nil {
		return nil, nil
	}
	pick.ReservedAt = now.Unix()
	out := *pick
	return &out, nil
}

// before orders eligible jobs: priority ascending, then availability, then id.
func before(a, b *models.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.AvailableAt != b.AvailableAt {
		return a.AvailableAt < b.AvailableAt
	}
	return a.ID < b.ID
}

func (s *Memory) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *Memory) Release(_ context.Context, id int64, attempts int, availableAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.ReservedAt = 0
		j.Attempts = attempts
		j.AvailableAt = availableAt
	}
	return nil
}

func (s *Memory) MoveToFailed(_ context.Context, job models.Job, exception string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFailedID++
	s.failed[s.nextFailedID] = &models.FailedJob{
		ID:        s.nextFailedID,
		UUID:      uuid.New().String(),
		Queue:     job.Queue,
		JobType:   job.JobType,
		Payload:   job.Payload,
		Exception: exception,
		FailedAt:  s.now().UTC(),
	}
	delete(s.jobs, job.ID)
	return nil
}

func (s *Memory) Stats(_ context.Context, queueName string) (models.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var st models.QueueStats
	for _, j := range s.jobs {
		if queueName != "" && j.Queue != queueName {
			continue
		}
		if j.Reserved(now, s.opts.LeaseTimeout) {
			st.Reserved++
		} else {
			st.Pending++
		}
	}
	for _, fj := range s.failed {
		if queueName == "" || fj.Queue == queueName {
			st.Failed++
		}
	}
	return st, nil
}

func (s *Memory) FailedJobs(_ context.Context, limit, offset int) ([]models.FailedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]models.FailedJob, 0, len(s.failed))
	for _, fj := range s.failed {
		all = append(all, *fj)
	}
	sort.Slice(all, func(i, k int) bool { return all[i].ID > all[k].ID })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *Memory) FailedJob(_ context.Context, id int64) (*models.FailedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fj, ok := s.failed[id]; ok {
		out := *fj
		return &out, nil
	}
	return nil, nil
}

func (s *Memory) RetryFailed(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fj, ok := s.failed[id]
	if !ok {
		return false, nil
	}
	now := s.now().Unix()
	s.nextID++
	s.jobs[s.nextID] = &models.Job{
		ID:          s.nextID,
		Queue:       fj.Queue,
		JobType:     fj.JobType,
		Payload:     fj.Payload,
		Priority:    s.opts.DefaultPriority,
		AvailableAt: now,
		CreatedAt:   now,
	}
	delete(s.failed, id)
	return true, nil
}

func (s *Memory) RetryAllFailed(_ context.Context, queueName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	var n int64
	for id, fj := range s.failed {
		if queueName != "" && fj.Queue != queueName {
			continue
		}
		s.nextID++
		s.jobs[s.nextID] = &models.Job{
			ID:          s.nextID,
			Queue:       fj.Queue,
			JobType:     fj.JobType,
			Payload:     fj.Payload,
			Priority:    s.opts.DefaultPriority,
			AvailableAt: now,
			CreatedAt:   now,
		}
		delete(s.failed, id)
		n++
	}
	return n, nil
}

func (s *Memory) PurgeOld(_ context.Context, cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, j := range s.jobs {
		if j.CreatedAt < cutoff {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *Memory) PurgeFailed(_ context.Context, queueName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, fj := range s.failed {
		if queueName == "" || fj.Queue == queueName {
			delete(s.failed, id)
			n++
		}
	}
	return n, nil
}

// Len returns how many jobs rows exist, for tests.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
