package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Finished reports whether s is terminal.
func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job is one execution request for a registered handler.
type Job struct {
	ID      string          `json:"id"`
	Handler string          `json:"handler"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Status  Status          `json:"status"`
	// Recurring names the registration that produced the job, empty for one-shot jobs.
	Recurring  string     `json:"recurring,omitempty"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RecurringJob is a named cron registration. Name is unique.
type RecurringJob struct {
	Name      string          `json:"name"`
	Handler   string          `json:"handler"`
	Cron      string          `json:"cron"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	NextDue   time.Time       `json:"next_due"`
	LastRunAt *time.Time      `json:"last_run_at,omitempty"`
	LastJobID string          `json:"last_job_id,omitempty"`
	Enabled   bool            `json:"enabled"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// JobFilter narrows ListJobs. Zero value lists everything, newest first.
type JobFilter struct {
	Statuses []Status
	Limit    int
}

// Matches reports whether j passes the status part of the filter.
func (f JobFilter) Matches(j *Job) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if j.Status == s {
			return true
		}
	}
	return false
}

// HandlerFunc executes a job. The context is canceled when the server stops
// or the job timeout elapses.
type HandlerFunc func(ctx context.Context, job Job) error

// Hooks observe job lifecycle events. All fields are optional.
type Hooks struct {
	OnEnqueue       func(job Job)
	OnStart         func(job Job)
	OnFinish        func(job Job, duration time.Duration, err error)
	OnRecurringFire func(rj RecurringJob)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
