package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdemo/internal/jobs"
)

func TestJobHooks(t *testing.T) {
	m := New()
	hooks := m.JobHooks()

	job := jobs.Job{ID: "1", Handler: "fire-and-forget"}
	hooks.OnEnqueue(job)
	hooks.OnStart(job)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.running))

	job.Status = jobs.StatusSucceeded
	hooks.OnFinish(job, 20*time.Millisecond, nil)

	failed := jobs.Job{ID: "2", Handler: "fire-and-forget", Status: jobs.StatusFailed}
	hooks.OnStart(failed)
	hooks.OnFinish(failed, time.Millisecond, errors.New("boom"))

	hooks.OnRecurringFire(jobs.RecurringJob{Name: "recurring-event"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.enqueued.WithLabelValues("fire-and-forget")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finished.WithLabelValues("fire-and-forget", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finished.WithLabelValues("fire-and-forget", "failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.running))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recurringFire.WithLabelValues("recurring-event")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestPeriodicHooks(t *testing.T) {
	m := New()
	hooks := m.PeriodicHooks()

	hooks.OnFinish("recurring-poll", time.Millisecond, nil)
	hooks.OnFinish("recurring-poll", time.Millisecond, errors.New("db down"))
	hooks.OnFinish("recurring-poll", time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.periodicRuns.WithLabelValues("recurring-poll", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.periodicRuns.WithLabelValues("recurring-poll", "error")))
}

func TestHandlerExposesQueueGauges(t *testing.T) {
	m := New()
	m.ObserveQueue(func() int { return 3 }, func() int { return 1024 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "jobdemo_queue_length 3"), body)
	assert.True(t, strings.Contains(body, "jobdemo_queue_capacity 1024"), body)
	assert.Contains(t, body, "go_goroutines")
}
