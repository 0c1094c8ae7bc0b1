package jobs

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdemo/internal/shared"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestServer(t *testing.T, clock *fakeClock, queueSize int) *Server {
	t.Helper()

	reg := NewRegistry()
	reg.MustRegister("tick", func(context.Context, Job) error { return nil })

	s, err := NewServer(Options{
		Store:     NewMemoryStore(),
		Registry:  reg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		QueueSize: queueSize,
		Now:       clock.Now,
	})
	require.NoError(t, err)
	return s
}

func TestRecurringAddOrUpdate(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)}
	s := newTestServer(t, clock, 16)
	ctx := context.Background()

	rj, err := s.AddOrUpdate(ctx, "every-5s", "tick", "*/5 * * * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 5, 0, time.UTC), rj.NextDue)
	assert.True(t, rj.Enabled)

	t.Run("invalid cron keeps previous", func(t *testing.T) {
		_, err := s.AddOrUpdate(ctx, "every-5s", "tick", "bogus")
		require.Error(t, err)
		assert.True(t, shared.IsValidation(err))

		got, err := s.Recurring(ctx, "every-5s")
		require.NoError(t, err)
		assert.Equal(t, "*/5 * * * * *", got.Cron)
	})

	t.Run("unknown handler", func(t *testing.T) {
		_, err := s.AddOrUpdate(ctx, "x", "missing", "@hourly")
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := s.AddOrUpdate(ctx, "", "tick", "@hourly")
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("replace", func(t *testing.T) {
		_, err := s.AddOrUpdate(ctx, "every-5s", "tick", "@hourly")
		require.NoError(t, err)

		list, err := s.RecurringJobs(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "@hourly", list[0].Cron)
		assert.Equal(t, time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC), list[0].NextDue)
	})
}

func TestRecurringTick(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)}
	s := newTestServer(t, clock, 16)
	ctx := context.Background()

	_, err := s.AddOrUpdate(ctx, "every-5s", "tick", "*/5 * * * * *")
	require.NoError(t, err)

	// Not due yet.
	require.NoError(t, s.recurring.tick(ctx))
	assert.Equal(t, 0, s.QueueLength())

	clock.Advance(4 * time.Second)
	require.NoError(t, s.recurring.tick(ctx))
	assert.Equal(t, 1, s.QueueLength())

	rj, err := s.Recurring(ctx, "every-5s")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 10, 0, time.UTC), rj.NextDue)
	require.NotNil(t, rj.LastRunAt)
	assert.Equal(t, clock.Now(), *rj.LastRunAt)

	job, err := s.Job(ctx, rj.LastJobID)
	require.NoError(t, err)
	assert.Equal(t, "every-5s", job.Recurring)
	assert.Equal(t, "tick", job.Handler)
	assert.Equal(t, StatusPending, job.Status)

	// A long gap collapses into one execution.
	clock.Advance(time.Minute)
	require.NoError(t, s.recurring.tick(ctx))
	assert.Equal(t, 2, s.QueueLength())

	rj, err = s.Recurring(ctx, "every-5s")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 1, 10, 0, time.UTC), rj.NextDue)
}

func TestRecurringRemoveIfExists(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newTestServer(t, clock, 16)
	ctx := context.Background()

	removed, err := s.RemoveIfExists(ctx, "recurring-event")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.AddOrUpdate(ctx, "recurring-event", "tick", "*/5 * * * * *")
	require.NoError(t, err)

	removed, err = s.RemoveIfExists(ctx, "recurring-event")
	require.NoError(t, err)
	assert.True(t, removed)

	clock.Advance(time.Minute)
	require.NoError(t, s.recurring.tick(ctx))
	assert.Equal(t, 0, s.QueueLength())
}

func TestRecurringTrigger(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newTestServer(t, clock, 16)
	ctx := context.Background()

	_, err := s.Trigger(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))

	rj, err := s.AddOrUpdate(ctx, "hourly", "tick", "@hourly")
	require.NoError(t, err)

	id, err := s.Trigger(ctx, "hourly")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, s.QueueLength())

	got, err := s.Recurring(ctx, "hourly")
	require.NoError(t, err)
	assert.Equal(t, rj.NextDue, got.NextDue)
	assert.Equal(t, id, got.LastJobID)
}

func TestRecurringPauseResume(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newTestServer(t, clock, 16)
	ctx := context.Background()

	_, err := s.AddOrUpdate(ctx, "every-5s", "tick", "*/5 * * * * *")
	require.NoError(t, err)

	paused, err := s.Pause(ctx, "every-5s")
	require.NoError(t, err)
	assert.False(t, paused.Enabled)

	clock.Advance(time.Hour)
	require.NoError(t, s.recurring.tick(ctx))
	assert.Equal(t, 0, s.QueueLength())

	resumed, err := s.Resume(ctx, "every-5s")
	require.NoError(t, err)
	assert.True(t, resumed.Enabled)
	assert.Equal(t, clock.Now().Add(5*time.Second), resumed.NextDue)

	_, err = s.Pause(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestRecurringReregisterKeepsPaused(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newTestServer(t, clock, 16)
	ctx := context.Background()

	_, err := s.AddOrUpdate(ctx, "job", "tick", "*/5 * * * * *")
	require.NoError(t, err)
	_, err = s.Pause(ctx, "job")
	require.NoError(t, err)

	rj, err := s.AddOrUpdate(ctx, "job", "tick", "@every 1s")
	require.NoError(t, err)
	assert.False(t, rj.Enabled)
	assert.Equal(t, "@every 1s", rj.Cron)

	clock.Advance(time.Minute)
	require.NoError(t, s.recurring.tick(ctx))
	assert.Equal(t, 0, s.QueueLength())
}

func TestRecurringPayloadReachesJobs(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newTestServer(t, clock, 16)
	ctx := context.Background()

	rj, err := s.AddOrUpdateWithPayload(ctx, "with-payload", "tick", "@every 1s", map[string]int{"n": 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":7}`, string(rj.Payload))

	clock.Advance(time.Second)
	require.NoError(t, s.recurring.tick(ctx))

	got, err := s.Recurring(ctx, "with-payload")
	require.NoError(t, err)
	job, err := s.Job(ctx, got.LastJobID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":7}`, string(job.Payload))
	assert.Equal(t, "with-payload", job.Recurring)

	_, err = s.AddOrUpdateWithPayload(ctx, "bad", "tick", "@hourly", make(chan int))
	assert.True(t, shared.IsValidation(err))
}

func TestRecurringTickQueueFull(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newTestServer(t, clock, 1)
	ctx := context.Background()

	_, err := s.AddOrUpdate(ctx, "a", "tick", "@every 1s")
	require.NoError(t, err)
	_, err = s.AddOrUpdate(ctx, "b", "tick", "@every 1s")
	require.NoError(t, err)

	clock.Advance(time.Second)
	err = s.recurring.tick(ctx)
	require.Error(t, err)
	assert.True(t, shared.IsConflict(err))

	// Both registrations moved on, so the rejected one does not refire every tick.
	list, err := s.RecurringJobs(ctx)
	require.NoError(t, err)
	for _, rj := range list {
		assert.Equal(t, clock.Now().Add(time.Second), rj.NextDue, rj.Name)
	}
}
