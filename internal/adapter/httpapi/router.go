// Package httpapi is the gin HTTP surface of the job server.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"jobdemo/internal/jobs"
)

// Handler names and the recurring registration driven by the timer endpoints.
const (
	FireAndForgetHandler = "fire-and-forget"
	RecurringHandler     = "recurring-event"
	RecurringJobName     = "recurring-event"
)

// RecurringPayload is carried by every execution of the timer-driven job.
type RecurringPayload struct {
	Cron string `json:"cron"`
}

// JobServer is the part of jobs.Server the API uses.
type JobServer interface {
	Enqueue(ctx context.Context, handler string, payload any) (string, error)
	AddOrUpdateWithPayload(ctx context.Context, name, handler, expr string, payload any) (*jobs.RecurringJob, error)
	RemoveIfExists(ctx context.Context, name string) (bool, error)
	Trigger(ctx context.Context, name string) (string, error)
	Pause(ctx context.Context, name string) (*jobs.RecurringJob, error)
	Resume(ctx context.Context, name string) (*jobs.RecurringJob, error)
	Job(ctx context.Context, id string) (*jobs.Job, error)
	Jobs(ctx context.Context, filter jobs.JobFilter) ([]jobs.Job, error)
	RecurringJobs(ctx context.Context) ([]jobs.RecurringJob, error)
	Ping(ctx context.Context) error
}

var _ JobServer = (*jobs.Server)(nil)

// Deps are the router dependencies. Metrics may be nil.
type Deps struct {
	Jobs          JobServer
	Logger        *slog.Logger
	Metrics       http.Handler
	RecurringCron string
}

type api struct {
	jobs          JobServer
	log           *slog.Logger
	recurringCron string
}

// NewRouter builds the engine with all routes and middleware.
func NewRouter(deps Deps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "http")

	a := &api{jobs: deps.Jobs, log: log, recurringCron: deps.RecurringCron}

	r := gin.New()
	r.Use(recovery(log), requestID(), requestLogger(log), cors())

	r.GET("/fire", a.fire)
	r.GET("/timer/start", a.timerStart)
	r.GET("/timer/stop", a.timerStop)

	r.GET("/jobs", a.listJobs)
	r.GET("/jobs/:id", a.getJob)
	r.GET("/recurring", a.listRecurring)
	r.POST("/recurring/:name/trigger", a.triggerRecurring)
	r.POST("/recurring/:name/pause", a.pauseRecurring)
	r.POST("/recurring/:name/resume", a.resumeRecurring)

	r.GET("/healthz", a.healthz)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	return r
}
