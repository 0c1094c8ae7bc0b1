package jobs

import (
	"context"
	"time"
)

// Store persists jobs and recurring registrations.
//
// Implementations return errors marked with shared kinds: NotFound for missing
// records, Conflict for duplicate job ids, DependencyFailure for backend
// failures.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	UpdateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	// ListJobs returns jobs newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	// DeleteFinishedBefore removes succeeded and failed jobs finished before t.
	DeleteFinishedBefore(ctx context.Context, t time.Time) (int, error)

	// UpsertRecurring inserts or replaces by name, keeping CreatedAt of an existing row.
	UpsertRecurring(ctx context.Context, rj *RecurringJob) error
	GetRecurring(ctx context.Context, name string) (*RecurringJob, error)
	// ListRecurring returns registrations ordered by name.
	ListRecurring(ctx context.Context) ([]RecurringJob, error)
	// DeleteRecurring removes name and reports whether it existed.
	DeleteRecurring(ctx context.Context, name string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// Transactor is implemented by stores that can group several calls into one
// transaction. Store calls made with the ctx passed to fn join it.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
