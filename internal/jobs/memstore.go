package jobs

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"jobdemo/internal/shared"
)

// MemoryStore keeps state in process memory. Everything is lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	recurring map[string]*RecurringJob
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*Job),
		recurring: make(map[string]*RecurringJob),
	}
}

func (s *MemoryStore) CreateJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return shared.Conflictf("job %q already exists", job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return shared.NotFoundf("job %q", job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, shared.NotFoundf("job %q", id)
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]Job, error) {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.Matches(j) {
			out = append(out, *cloneJob(j))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Job) int {
		if c := b.EnqueuedAt.Compare(a.EnqueuedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteFinishedBefore(_ context.Context, t time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if j.Status.Finished() && j.FinishedAt != nil && j.FinishedAt.Before(t) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpsertRecurring(_ context.Context, rj *RecurringJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneRecurring(rj)
	if existing, ok := s.recurring[rj.Name]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	s.recurring[rj.Name] = c
	return nil
}

func (s *MemoryStore) GetRecurring(_ context.Context, name string) (*RecurringJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rj, ok := s.recurring[name]
	if !ok {
		return nil, shared.NotFoundf("recurring job %q", name)
	}
	return cloneRecurring(rj), nil
}

func (s *MemoryStore) ListRecurring(_ context.Context) ([]RecurringJob, error) {
	s.mu.RLock()
	out := make([]RecurringJob, 0, len(s.recurring))
	for _, rj := range s.recurring {
		out = append(out, *cloneRecurring(rj))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b RecurringJob) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *MemoryStore) DeleteRecurring(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.recurring[name]
	delete(s.recurring, name)
	return ok, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func cloneJob(j *Job) *Job {
	c := *j
	c.Payload = slices.Clone(j.Payload)
	if j.StartedAt != nil {
		c.StartedAt = timePtr(*j.StartedAt)
	}
	if j.FinishedAt != nil {
		c.FinishedAt = timePtr(*j.FinishedAt)
	}
	return &c
}

func cloneRecurring(rj *RecurringJob) *RecurringJob {
	c := *rj
	c.Payload = slices.Clone(rj.Payload)
	if rj.LastRunAt != nil {
		c.LastRunAt = timePtr(*rj.LastRunAt)
	}
	return &c
}
