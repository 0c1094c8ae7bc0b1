// Package sqlitestore implements jobs.Store on SQLite. Timestamps are stored
// as UTC unix nanoseconds.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"jobdemo/internal/jobs"
	platform "jobdemo/internal/platform/sqlite"
	"jobdemo/internal/shared"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema to db.
func Migrate(db *sql.DB) error {
	return platform.ApplyMigrations(db, migrations, "migrations")
}

// Store is a jobs.Store backed by a SQLite database.
type Store struct {
	db *sql.DB
	tx *platform.TxRunner
}

var _ jobs.Store = (*Store)(nil)

// New wraps an open database. The schema must already be migrated.
func New(db *sql.DB) *Store {
	return &Store{db: db, tx: platform.NewTxRunner(db)}
}

// Open opens path, applies migrations and returns the store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := platform.Open(ctx, path, platform.DefaultOptions())
	if err != nil {
		return nil, backendErr(err, "open sqlite")
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, backendErr(err, "migrate sqlite")
	}
	return New(db), nil
}

const jobColumns = `id, handler, payload, status, recurring, attempts, last_error, enqueued_at, started_at, finished_at`

// exec runs a single write statement in a transaction so SQLITE_BUSY from a
// concurrent writer is retried.
func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		res, err := s.tx.Querier(ctx).ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *Store) CreateJob(ctx context.Context, job *jobs.Job) error {
	_, err := s.exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Handler, payloadArg(job.Payload), string(job.Status), job.Recurring,
		job.Attempts, job.LastError, toNanos(job.EnqueuedAt), nullNanos(job.StartedAt), nullNanos(job.FinishedAt),
	)
	if isUniqueViolation(err) {
		return shared.Conflictf("job %q already exists", job.ID)
	}
	return backendErr(err, "insert job")
}

func (s *Store) UpdateJob(ctx context.Context, job *jobs.Job) error {
	n, err := s.exec(ctx, `
		UPDATE jobs SET handler = ?, payload = ?, status = ?, recurring = ?, attempts = ?,
			last_error = ?, enqueued_at = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		job.Handler, payloadArg(job.Payload), string(job.Status), job.Recurring, job.Attempts,
		job.LastError, toNanos(job.EnqueuedAt), nullNanos(job.StartedAt), nullNanos(job.FinishedAt),
		job.ID,
	)
	if err != nil {
		return backendErr(err, "update job")
	}
	if n == 0 {
		return shared.NotFoundf("job %q", job.ID)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NotFoundf("job %q", id)
	}
	if err != nil {
		return nil, backendErr(err, "get job")
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]jobs.Job, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + jobColumns + ` FROM jobs`)
	if len(filter.Statuses) > 0 {
		sb.WriteString(` WHERE status IN (?` + strings.Repeat(", ?", len(filter.Statuses)-1) + `)`)
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	sb.WriteString(` ORDER BY enqueued_at DESC, id DESC`)
	if filter.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, backendErr(err, "list jobs")
	}
	defer rows.Close()

	out := make([]jobs.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, backendErr(err, "scan job")
		}
		out = append(out, *job)
	}
	return out, backendErr(rows.Err(), "list jobs")
}

func (s *Store) DeleteFinishedBefore(ctx context.Context, t time.Time) (int, error) {
	n, err := s.exec(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		string(jobs.StatusSucceeded), string(jobs.StatusFailed), toNanos(t),
	)
	if err != nil {
		return 0, backendErr(err, "delete finished jobs")
	}
	return int(n), nil
}

const recurringColumns = `name, handler, cron, payload, next_due, last_run_at, last_job_id, enabled, created_at, updated_at`

func (s *Store) UpsertRecurring(ctx context.Context, rj *jobs.RecurringJob) error {
	_, err := s.exec(ctx, `
		INSERT INTO recurring_jobs (`+recurringColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			handler = excluded.handler,
			cron = excluded.cron,
			payload = excluded.payload,
			next_due = excluded.next_due,
			last_run_at = excluded.last_run_at,
			last_job_id = excluded.last_job_id,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		rj.Name, rj.Handler, rj.Cron, payloadArg(rj.Payload), toNanos(rj.NextDue), nullNanos(rj.LastRunAt),
		rj.LastJobID, rj.Enabled, toNanos(rj.CreatedAt), toNanos(rj.UpdatedAt),
	)
	return backendErr(err, "upsert recurring job")
}

func (s *Store) GetRecurring(ctx context.Context, name string) (*jobs.RecurringJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recurringColumns+` FROM recurring_jobs WHERE name = ?`, name)
	rj, err := scanRecurring(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NotFoundf("recurring job %q", name)
	}
	if err != nil {
		return nil, backendErr(err, "get recurring job")
	}
	return rj, nil
}

func (s *Store) ListRecurring(ctx context.Context) ([]jobs.RecurringJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recurringColumns+` FROM recurring_jobs ORDER BY name`)
	if err != nil {
		return nil, backendErr(err, "list recurring jobs")
	}
	defer rows.Close()

	out := make([]jobs.RecurringJob, 0)
	for rows.Next() {
		rj, err := scanRecurring(rows)
		if err != nil {
			return nil, backendErr(err, "scan recurring job")
		}
		out = append(out, *rj)
	}
	return out, backendErr(rows.Err(), "list recurring jobs")
}

func (s *Store) DeleteRecurring(ctx context.Context, name string) (bool, error) {
	n, err := s.exec(ctx, `DELETE FROM recurring_jobs WHERE name = ?`, name)
	if err != nil {
		return false, backendErr(err, "delete recurring job")
	}
	return n > 0, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return backendErr(s.db.PingContext(ctx), "ping sqlite")
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*jobs.Job, error) {
	var (
		job               jobs.Job
		payload           []byte
		status            string
		enqueued          int64
		started, finished sql.NullInt64
	)
	err := sc.Scan(&job.ID, &job.Handler, &payload, &status, &job.Recurring, &job.Attempts,
		&job.LastError, &enqueued, &started, &finished)
	if err != nil {
		return nil, err
	}
	job.Payload = payload
	job.Status = jobs.Status(status)
	job.EnqueuedAt = fromNanos(enqueued)
	job.StartedAt = fromNullNanos(started)
	job.FinishedAt = fromNullNanos(finished)
	return &job, nil
}

func scanRecurring(sc scanner) (*jobs.RecurringJob, error) {
	var (
		rj                        jobs.RecurringJob
		payload                   []byte
		nextDue, created, updated int64
		lastRun                   sql.NullInt64
	)
	err := sc.Scan(&rj.Name, &rj.Handler, &rj.Cron, &payload, &nextDue, &lastRun,
		&rj.LastJobID, &rj.Enabled, &created, &updated)
	if err != nil {
		return nil, err
	}
	rj.Payload = payload
	rj.NextDue = fromNanos(nextDue)
	rj.LastRunAt = fromNullNanos(lastRun)
	rj.CreatedAt = fromNanos(created)
	rj.UpdatedAt = fromNanos(updated)
	return &rj, nil
}

func payloadArg(p []byte) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func backendErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return shared.Wrap(shared.MarkKind(err, shared.KindDependencyFailure), op)
}
