package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"jobdemo/internal/shared"
)

// enqueueFunc creates and queues a job on behalf of a recurring registration.
type enqueueFunc func(ctx context.Context, handler string, payload json.RawMessage, recurring string) (*Job, error)

// recurringScheduler owns the recurring registrations. A single mutex
// serializes registration changes with the poll tick, so a tick never fires
// a registration that was removed concurrently.
type recurringScheduler struct {
	mu       sync.Mutex
	store    Store
	registry *Registry
	enqueue  enqueueFunc
	log      *slog.Logger
	hooks    Hooks
	now      func() time.Time
}

func (r *recurringScheduler) addOrUpdate(ctx context.Context, name, handler, expr string, payload json.RawMessage) (*RecurringJob, error) {
	if name == "" {
		return nil, shared.Validationf("recurring job name is empty")
	}
	if _, ok := r.registry.Lookup(handler); !ok {
		return nil, shared.Validationf("handler %q is not registered", handler)
	}
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	next := sched.Next(now)
	if next.IsZero() {
		return nil, shared.Validationf("cron expression %q never fires", expr)
	}

	rj := &RecurringJob{
		Name:      name,
		Handler:   handler,
		Cron:      expr,
		Payload:   payload,
		NextDue:   next,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	prev, err := r.store.GetRecurring(ctx, name)
	switch {
	case err == nil:
		// Re-registering updates the schedule but leaves a paused job paused.
		rj.Enabled = prev.Enabled
		rj.LastRunAt = prev.LastRunAt
		rj.LastJobID = prev.LastJobID
	case !shared.IsNotFound(err):
		return nil, shared.Wrap(err, "load recurring job")
	}

	if err := r.store.UpsertRecurring(ctx, rj); err != nil {
		return nil, shared.Wrap(err, "save recurring job")
	}
	r.log.Info("recurring job registered", "name", name, "handler", handler, "cron", expr, "next_due", next)
	return rj, nil
}

func (r *recurringScheduler) remove(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed, err := r.store.DeleteRecurring(ctx, name)
	if err != nil {
		return false, shared.Wrap(err, "delete recurring job")
	}
	if removed {
		r.log.Info("recurring job removed", "name", name)
	}
	return removed, nil
}

// setEnabled pauses or resumes a registration. Resuming recomputes next-due
// from now so a long pause does not produce an immediate fire.
func (r *recurringScheduler) setEnabled(ctx context.Context, name string, enabled bool) (*RecurringJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rj, err := r.store.GetRecurring(ctx, name)
	if err != nil {
		return nil, err
	}
	if rj.Enabled == enabled {
		return rj, nil
	}

	now := r.now()
	if enabled {
		sched, err := ParseCron(rj.Cron)
		if err != nil {
			return nil, err
		}
		rj.NextDue = sched.Next(now)
	}
	rj.Enabled = enabled
	rj.UpdatedAt = now

	if err := r.store.UpsertRecurring(ctx, rj); err != nil {
		return nil, shared.Wrap(err, "save recurring job")
	}
	r.log.Info("recurring job state changed", "name", name, "enabled", enabled)
	return rj, nil
}

// trigger enqueues name right away. NextDue is left as is.
func (r *recurringScheduler) trigger(ctx context.Context, name string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rj, err := r.store.GetRecurring(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.fire(ctx, rj, r.now())
}

// tick enqueues every enabled registration whose next-due time has passed
// and advances it to the first schedule time after now.
func (r *recurringScheduler) tick(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.store.ListRecurring(ctx)
	if err != nil {
		return shared.Wrap(err, "list recurring jobs")
	}

	now := r.now()
	var errs []error
	for i := range list {
		rj := &list[i]
		if !rj.Enabled || rj.NextDue.After(now) {
			continue
		}

		sched, err := ParseCron(rj.Cron)
		if err != nil {
			// Only reachable when a stored row was edited by hand.
			r.log.Error("disabling recurring job with invalid cron", "name", rj.Name, "cron", rj.Cron, "error", err)
			rj.Enabled = false
			if uerr := r.store.UpsertRecurring(ctx, rj); uerr != nil {
				errs = append(errs, uerr)
			}
			continue
		}

		// Advance before firing so a full queue does not retrigger on every tick.
		rj.NextDue = sched.Next(now)
		if _, err := r.fire(ctx, rj, now); err != nil {
			errs = append(errs, shared.Wrapf(err, "fire recurring job %q", rj.Name))
		}
	}
	return errors.Join(errs...)
}

// fire enqueues one execution of rj and records it. Caller holds r.mu.
func (r *recurringScheduler) fire(ctx context.Context, rj *RecurringJob, now time.Time) (*Job, error) {
	job, err := r.enqueue(ctx, rj.Handler, rj.Payload, rj.Name)
	if err == nil {
		rj.LastRunAt = timePtr(now)
		rj.LastJobID = job.ID
	}
	if uerr := r.store.UpsertRecurring(ctx, rj); uerr != nil {
		return job, errors.Join(err, shared.Wrap(uerr, "save recurring job"))
	}
	if err != nil {
		return nil, err
	}

	r.log.Debug("recurring job fired", "name", rj.Name, "job_id", job.ID, "next_due", rj.NextDue)
	if r.hooks.OnRecurringFire != nil {
		r.hooks.OnRecurringFire(*rj)
	}
	return job, nil
}
