package jobs_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdemo/internal/jobs"
	"jobdemo/internal/jobs/jobstest"
)

func TestMemoryStore(t *testing.T) {
	jobstest.RunStoreSuite(t, func(t *testing.T) jobs.Store {
		return jobs.NewMemoryStore()
	})
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	s := jobs.NewMemoryStore()
	ctx := context.Background()

	started := time.Now()
	ts := started
	job := &jobs.Job{ID: "x", Handler: "h", Payload: json.RawMessage(`[1]`), Status: jobs.StatusRunning, StartedAt: &ts}
	require.NoError(t, s.CreateJob(ctx, job))

	job.Payload[1] = '2'
	job.Status = jobs.StatusFailed
	ts = ts.Add(time.Hour)

	got, err := s.GetJob(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(got.Payload))
	assert.Equal(t, jobs.StatusRunning, got.Status)
	assert.True(t, started.Equal(*got.StartedAt))

	got.Status = jobs.StatusSucceeded
	again, err := s.GetJob(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusRunning, again.Status)
}
