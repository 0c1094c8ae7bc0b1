// Package jobstest holds the behavior every jobs.Store implementation must share.
package jobstest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdemo/internal/jobs"
	"jobdemo/internal/shared"
)

// RunStoreSuite runs the store contract against stores created by newStore.
// Each subtest gets a fresh store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) jobs.Store) {
	t.Helper()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job := &jobs.Job{
			ID:         "job-1",
			Handler:    "fire-and-forget",
			Payload:    json.RawMessage(`{"n":1}`),
			Status:     jobs.StatusPending,
			Recurring:  "recurring-event",
			EnqueuedAt: base,
		}
		require.NoError(t, s.CreateJob(ctx, job))

		got, err := s.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "fire-and-forget", got.Handler)
		assert.JSONEq(t, `{"n":1}`, string(got.Payload))
		assert.Equal(t, jobs.StatusPending, got.Status)
		assert.Equal(t, "recurring-event", got.Recurring)
		assert.True(t, base.Equal(got.EnqueuedAt), "enqueued_at = %s", got.EnqueuedAt)
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.FinishedAt)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job := &jobs.Job{ID: "dup", Handler: "h", Status: jobs.StatusPending, EnqueuedAt: base}
		require.NoError(t, s.CreateJob(ctx, job))
		err := s.CreateJob(ctx, job)
		require.Error(t, err)
		assert.True(t, shared.IsConflict(err), "got %v", err)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetJob(context.Background(), "nope")
		require.Error(t, err)
		assert.True(t, shared.IsNotFound(err), "got %v", err)
	})

	t.Run("Update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job := &jobs.Job{ID: "u", Handler: "h", Status: jobs.StatusPending, EnqueuedAt: base}
		require.NoError(t, s.CreateJob(ctx, job))

		started := base.Add(time.Second)
		finished := base.Add(2 * time.Second)
		job.Status = jobs.StatusFailed
		job.Attempts = 3
		job.LastError = "boom"
		job.StartedAt = &started
		job.FinishedAt = &finished
		require.NoError(t, s.UpdateJob(ctx, job))

		got, err := s.GetJob(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusFailed, got.Status)
		assert.Equal(t, 3, got.Attempts)
		assert.Equal(t, "boom", got.LastError)
		require.NotNil(t, got.StartedAt)
		require.NotNil(t, got.FinishedAt)
		assert.True(t, started.Equal(*got.StartedAt))
		assert.True(t, finished.Equal(*got.FinishedAt))
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := newStore(t)
		err := s.UpdateJob(context.Background(), &jobs.Job{ID: "ghost", Status: jobs.StatusFailed})
		require.Error(t, err)
		assert.True(t, shared.IsNotFound(err), "got %v", err)
	})

	t.Run("ListFilterAndOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		statuses := []jobs.Status{jobs.StatusPending, jobs.StatusSucceeded, jobs.StatusFailed, jobs.StatusPending}
		for i, st := range statuses {
			require.NoError(t, s.CreateJob(ctx, &jobs.Job{
				ID:         string(rune('a' + i)),
				Handler:    "h",
				Status:     st,
				EnqueuedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}

		all, err := s.ListJobs(ctx, jobs.JobFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "c", "b", "a"}, ids(all))

		pending, err := s.ListJobs(ctx, jobs.JobFilter{Statuses: []jobs.Status{jobs.StatusPending}})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "a"}, ids(pending))

		finished, err := s.ListJobs(ctx, jobs.JobFilter{
			Statuses: []jobs.Status{jobs.StatusSucceeded, jobs.StatusFailed},
			Limit:    1,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, ids(finished))
	})

	t.Run("DeleteFinishedBefore", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		old := base.Add(-2 * time.Hour)
		recent := base.Add(-time.Minute)
		create := func(id string, st jobs.Status, finished *time.Time) {
			require.NoError(t, s.CreateJob(ctx, &jobs.Job{
				ID: id, Handler: "h", Status: st, EnqueuedAt: old, FinishedAt: finished,
			}))
		}
		create("old-ok", jobs.StatusSucceeded, &old)
		create("old-failed", jobs.StatusFailed, &old)
		create("recent-ok", jobs.StatusSucceeded, &recent)
		create("pending", jobs.StatusPending, nil)

		n, err := s.DeleteFinishedBefore(ctx, base.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		left, err := s.ListJobs(ctx, jobs.JobFilter{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"recent-ok", "pending"}, ids(left))
	})

	t.Run("RecurringUpsertKeepsCreatedAt", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rj := &jobs.RecurringJob{
			Name:      "recurring-event",
			Handler:   "recurring-event",
			Cron:      "*/5 * * * * *",
			NextDue:   base.Add(5 * time.Second),
			Enabled:   true,
			CreatedAt: base,
			UpdatedAt: base,
		}
		require.NoError(t, s.UpsertRecurring(ctx, rj))

		last := base.Add(5 * time.Second)
		replaced := &jobs.RecurringJob{
			Name:      "recurring-event",
			Handler:   "recurring-event",
			Cron:      "*/10 * * * * *",
			Payload:   json.RawMessage(`"x"`),
			NextDue:   base.Add(10 * time.Second),
			LastRunAt: &last,
			LastJobID: "job-9",
			Enabled:   false,
			CreatedAt: base.Add(time.Hour),
			UpdatedAt: base.Add(time.Hour),
		}
		require.NoError(t, s.UpsertRecurring(ctx, replaced))

		got, err := s.GetRecurring(ctx, "recurring-event")
		require.NoError(t, err)
		assert.Equal(t, "*/10 * * * * *", got.Cron)
		assert.JSONEq(t, `"x"`, string(got.Payload))
		assert.True(t, base.Add(10*time.Second).Equal(got.NextDue))
		require.NotNil(t, got.LastRunAt)
		assert.True(t, last.Equal(*got.LastRunAt))
		assert.Equal(t, "job-9", got.LastJobID)
		assert.False(t, got.Enabled)
		assert.True(t, base.Equal(got.CreatedAt), "created_at = %s", got.CreatedAt)
		assert.True(t, base.Add(time.Hour).Equal(got.UpdatedAt))

		list, err := s.ListRecurring(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("RecurringListOrderAndDelete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, name := range []string{"charlie", "alpha", "bravo"} {
			require.NoError(t, s.UpsertRecurring(ctx, &jobs.RecurringJob{
				Name: name, Handler: "h", Cron: "@hourly", NextDue: base, Enabled: true,
				CreatedAt: base, UpdatedAt: base,
			}))
		}

		list, err := s.ListRecurring(ctx)
		require.NoError(t, err)
		names := make([]string, 0, len(list))
		for _, rj := range list {
			names = append(names, rj.Name)
		}
		assert.Equal(t, []string{"alpha", "bravo", "charlie"}, names)

		removed, err := s.DeleteRecurring(ctx, "bravo")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = s.DeleteRecurring(ctx, "bravo")
		require.NoError(t, err)
		assert.False(t, removed)

		_, err = s.GetRecurring(ctx, "bravo")
		assert.True(t, shared.IsNotFound(err), "got %v", err)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func ids(list []jobs.Job) []string {
	out := make([]string, 0, len(list))
	for _, j := range list {
		out = append(out, j.ID)
	}
	return out
}
