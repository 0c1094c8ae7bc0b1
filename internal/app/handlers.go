package app

import (
	"context"
	"encoding/json"
	"log/slog"

	"jobdemo/internal/adapter/httpapi"
	"jobdemo/internal/jobs"
	"jobdemo/internal/shared"
)

// NewRegistry returns the built-in job handlers.
func NewRegistry(log *slog.Logger) *jobs.Registry {
	reg := jobs.NewRegistry()
	reg.MustRegister(httpapi.FireAndForgetHandler, func(ctx context.Context, job jobs.Job) error {
		log.InfoContext(ctx, "Fire-and-forget event fired", "job_id", job.ID)
		return nil
	})
	reg.MustRegister(httpapi.RecurringHandler, func(ctx context.Context, job jobs.Job) error {
		var p httpapi.RecurringPayload
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &p); err != nil {
				return shared.MarkKind(err, shared.KindValidation)
			}
		}
		log.InfoContext(ctx, "Recurring 5s event fired", "job_id", job.ID, "recurring", job.Recurring, "cron", p.Cron)
		return nil
	})
	return reg
}
