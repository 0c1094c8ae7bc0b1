package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdemo/internal/jobs"
	"jobdemo/internal/jobs/jobstest"
	platform "jobdemo/internal/platform/sqlite"
	"jobdemo/internal/storage/sqlitestore"
)

func newMemoryStore(t *testing.T) jobs.Store {
	t.Helper()

	db, err := platform.OpenInMemory(context.Background())
	require.NoError(t, err)
	require.NoError(t, sqlitestore.Migrate(db))

	s := sqlitestore.New(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	jobstest.RunStoreSuite(t, newMemoryStore)
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	s, err := sqlitestore.Open(ctx, path)
	require.NoError(t, err)

	enqueued := time.Date(2025, 3, 1, 8, 30, 0, 123456789, time.UTC)
	require.NoError(t, s.CreateJob(ctx, &jobs.Job{
		ID: "persisted", Handler: "fire-and-forget", Status: jobs.StatusPending, EnqueuedAt: enqueued,
	}))
	require.NoError(t, s.Close())

	// Второе открытие не должно падать на уже применённых миграциях.
	s, err = sqlitestore.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	job, err := s.GetJob(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, enqueued, job.EnqueuedAt, "nanosecond precision survives the round trip")
	assert.Nil(t, job.Payload)
}

func TestServerOnSQLite(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	reg := jobs.NewRegistry()
	reg.MustRegister("fire-and-forget", func(context.Context, jobs.Job) error { return nil })

	srv, err := jobs.NewServer(jobs.Options{Store: store, Registry: reg, Workers: 2})
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	ids := make([]string, 0, 5)
	for range 5 {
		id, err := srv.Enqueue(ctx, "fire-and-forget", map[string]int{"n": len(ids)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.Eventually(t, func() bool {
		done, err := srv.Jobs(ctx, jobs.JobFilter{Statuses: []jobs.Status{jobs.StatusSucceeded}})
		return err == nil && len(done) == len(ids)
	}, 3*time.Second, 10*time.Millisecond)
}
