package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"jobdemo/internal/jobs"
	"jobdemo/internal/shared"
)

const defaultListLimit = 100

type messageResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

func (a *api) fire(c *gin.Context) {
	a.log.Info("/fire called")
	id, err := a.jobs.Enqueue(c.Request.Context(), FireAndForgetHandler, nil)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Fire-and-forget job enqueued", JobID: id})
}

func (a *api) timerStart(c *gin.Context) {
	a.log.Info("/timer/start called")
	payload := RecurringPayload{Cron: a.recurringCron}
	if _, err := a.jobs.AddOrUpdateWithPayload(c.Request.Context(), RecurringJobName, RecurringHandler, a.recurringCron, payload); err != nil {
		a.writeError(c, err)
		return
	}
	a.log.Info("Recurring job started", "name", RecurringJobName, "cron", a.recurringCron)
	c.JSON(http.StatusOK, messageResponse{Message: "Recurring job started"})
}

func (a *api) timerStop(c *gin.Context) {
	a.log.Info("/timer/stop called")
	removed, err := a.jobs.RemoveIfExists(c.Request.Context(), RecurringJobName)
	if err != nil {
		a.writeError(c, err)
		return
	}
	a.log.Info("Recurring job stopped", "name", RecurringJobName, "removed", removed)
	c.JSON(http.StatusOK, messageResponse{Message: "Recurring job stopped"})
}

type listJobsQuery struct {
	// Status is a comma-separated list of statuses.
	Status string `form:"status"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

func (q listJobsQuery) filter() (jobs.JobFilter, error) {
	f := jobs.JobFilter{Limit: q.Limit}
	if f.Limit == 0 {
		f.Limit = defaultListLimit
	}
	if q.Status == "" {
		return f, nil
	}
	for _, raw := range strings.Split(q.Status, ",") {
		st := jobs.Status(strings.TrimSpace(strings.ToLower(raw)))
		if !st.Valid() {
			return f, shared.Validationf("unknown status %q", raw)
		}
		f.Statuses = append(f.Statuses, st)
	}
	return f, nil
}

type listJobsResponse struct {
	Jobs []jobs.Job `json:"jobs"`
}

func (a *api) listJobs(c *gin.Context) {
	var q listJobsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		a.writeError(c, shared.MarkKind(err, shared.KindValidation))
		return
	}
	filter, err := q.filter()
	if err != nil {
		a.writeError(c, err)
		return
	}

	list, err := a.jobs.Jobs(c.Request.Context(), filter)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listJobsResponse{Jobs: list})
}

func (a *api) getJob(c *gin.Context) {
	job, err := a.jobs.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

type listRecurringResponse struct {
	Recurring []jobs.RecurringJob `json:"recurring"`
}

func (a *api) listRecurring(c *gin.Context) {
	list, err := a.jobs.RecurringJobs(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listRecurringResponse{Recurring: list})
}

func (a *api) triggerRecurring(c *gin.Context) {
	id, err := a.jobs.Trigger(c.Request.Context(), c.Param("name"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, messageResponse{Message: "Recurring job triggered", JobID: id})
}

func (a *api) pauseRecurring(c *gin.Context) {
	rj, err := a.jobs.Pause(c.Request.Context(), c.Param("name"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rj)
}

func (a *api) resumeRecurring(c *gin.Context) {
	rj, err := a.jobs.Resume(c.Request.Context(), c.Param("name"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rj)
}

func (a *api) healthz(c *gin.Context) {
	if err := a.jobs.Ping(c.Request.Context()); err != nil {
		a.log.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
