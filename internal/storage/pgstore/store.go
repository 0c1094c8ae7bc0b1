// Package pgstore implements jobs.Store on PostgreSQL through a pgx pool.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobdemo/internal/jobs"
	"jobdemo/internal/platform/pg"
	"jobdemo/internal/shared"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Migrate applies the embedded schema using dsn.
func Migrate(dsn string) (pg.MigrationInfo, error) {
	return pg.ApplyMigrations(dsn, migrations, "migrations")
}

// Store is a jobs.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	tx   *pg.TxRunner
}

var (
	_ jobs.Store      = (*Store)(nil)
	_ jobs.Transactor = (*Store)(nil)
)

// New wraps an open pool. The schema must already be migrated.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, tx: pg.NewTxRunner(pool)}
}

// Open migrates the database behind dsn and opens a pool.
func Open(ctx context.Context, dsn string, opts pg.PoolOptions) (*Store, error) {
	if _, err := Migrate(dsn); err != nil {
		return nil, backendErr(err, "migrate postgres")
	}
	pool, err := pg.NewPool(ctx, dsn, opts)
	if err != nil {
		return nil, backendErr(err, "open postgres")
	}
	return New(pool), nil
}

// WithinTx runs fn in a transaction; store calls made with the ctx passed to
// fn join it.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.WithinTx(ctx, fn)
}

const jobColumns = `id, handler, payload, status, recurring, attempts, last_error, enqueued_at, started_at, finished_at`

func (s *Store) CreateJob(ctx context.Context, job *jobs.Job) error {
	_, err := s.tx.Querier(ctx).Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Handler, payloadArg(job.Payload), string(job.Status), job.Recurring,
		job.Attempts, job.LastError, job.EnqueuedAt, job.StartedAt, job.FinishedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return shared.Conflictf("job %q already exists", job.ID)
	}
	return backendErr(err, "insert job")
}

func (s *Store) UpdateJob(ctx context.Context, job *jobs.Job) error {
	tag, err := s.tx.Querier(ctx).Exec(ctx, `
		UPDATE jobs SET handler = $2, payload = $3, status = $4, recurring = $5, attempts = $6,
			last_error = $7, enqueued_at = $8, started_at = $9, finished_at = $10
		WHERE id = $1`,
		job.ID, job.Handler, payloadArg(job.Payload), string(job.Status), job.Recurring,
		job.Attempts, job.LastError, job.EnqueuedAt, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return backendErr(err, "update job")
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("job %q", job.ID)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	row := s.tx.Querier(ctx).QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		sb.WriteString(` WHERE status = ANY($1)`)
	}
	sb.WriteString(` ORDER BY enqueued_at DESC, id DESC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := s.tx.Querier(ctx).Query(ctx, sb.String(), args...)
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
	tag, err := s.tx.Querier(ctx).Exec(ctx,
		`DELETE FROM jobs WHERE status = ANY($1) AND finished_at < $2`,
		[]string{string(jobs.StatusSucceeded), string(jobs.StatusFailed)}, t,
	)
	if err != nil {
		return 0, backendErr(err, "delete finished jobs")
	}
	return int(tag.RowsAffected()), nil
}

const recurringColumns = `name, handler, cron, payload, next_due, last_run_at, last_job_id, enabled, created_at, updated_at`

func (s *Store) UpsertRecurring(ctx context.Context, rj *jobs.RecurringJob) error {
	_, err := s.tx.Querier(ctx).Exec(ctx, `
		INSERT INTO recurring_jobs (`+recurringColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO UPDATE SET
			handler = EXCLUDED.handler,
			cron = EXCLUDED.cron,
			payload = EXCLUDED.payload,
			next_due = EXCLUDED.next_due,
			last_run_at = EXCLUDED.last_run_at,
			last_job_id = EXCLUDED.last_job_id,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at`,
		rj.Name, rj.Handler, rj.Cron, payloadArg(rj.Payload), rj.NextDue, rj.LastRunAt,
		rj.LastJobID, rj.Enabled, rj.CreatedAt, rj.UpdatedAt,
	)
	return backendErr(err, "upsert recurring job")
}

func (s *Store) GetRecurring(ctx context.Context, name string) (*jobs.RecurringJob, error) {
	row := s.tx.Querier(ctx).QueryRow(ctx, `SELECT `+recurringColumns+` FROM recurring_jobs WHERE name = $1`, name)
	rj, err := scanRecurring(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.NotFoundf("recurring job %q", name)
	}
	if err != nil {
		return nil, backendErr(err, "get recurring job")
	}
	return rj, nil
}

func (s *Store) ListRecurring(ctx context.Context) ([]jobs.RecurringJob, error) {
	rows, err := s.tx.Querier(ctx).Query(ctx, `SELECT `+recurringColumns+` FROM recurring_jobs ORDER BY name`)
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
	tag, err := s.tx.Querier(ctx).Exec(ctx, `DELETE FROM recurring_jobs WHERE name = $1`, name)
	if err != nil {
		return false, backendErr(err, "delete recurring job")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return backendErr(pg.HealthCheckPool(ctx, s.pool), "ping postgres")
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanJob(row pgx.Row) (*jobs.Job, error) {
	var (
		job    jobs.Job
		status string
	)
	err := row.Scan(&job.ID, &job.Handler, &job.Payload, &status, &job.Recurring, &job.Attempts,
		&job.LastError, &job.EnqueuedAt, &job.StartedAt, &job.FinishedAt)
	if err != nil {
		return nil, err
	}
	job.Status = jobs.Status(status)
	job.EnqueuedAt = job.EnqueuedAt.UTC()
	job.StartedAt = utcPtr(job.StartedAt)
	job.FinishedAt = utcPtr(job.FinishedAt)
	return &job, nil
}

func scanRecurring(row pgx.Row) (*jobs.RecurringJob, error) {
	var rj jobs.RecurringJob
	err := row.Scan(&rj.Name, &rj.Handler, &rj.Cron, &rj.Payload, &rj.NextDue, &rj.LastRunAt,
		&rj.LastJobID, &rj.Enabled, &rj.CreatedAt, &rj.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rj.NextDue = rj.NextDue.UTC()
	rj.LastRunAt = utcPtr(rj.LastRunAt)
	rj.CreatedAt = rj.CreatedAt.UTC()
	rj.UpdatedAt = rj.UpdatedAt.UTC()
	return &rj, nil
}

// payloadArg maps an empty payload to SQL NULL.
func payloadArg(p []byte) any {
	if len(p) == 0 {
		return nil
	}
	return p
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func backendErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return shared.Wrap(shared.MarkKind(err, shared.KindDependencyFailure), op)
}
