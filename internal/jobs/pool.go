package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jobdemo/internal/shared"
	"jobdemo/pkg/retry"
)

// pool is the set of workers draining the queue.
type pool struct {
	store    Store
	registry *Registry
	queue    *Queue
	log      *slog.Logger
	hooks    Hooks
	now      func() time.Time

	workers int
	timeout time.Duration
	retry   retry.Config

	wg sync.WaitGroup
}

func (p *pool) start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.Info("worker pool started", "workers", p.workers, "max_attempts", p.retry.MaxAttempts)
}

// wait blocks until all workers exit or ctx ends.
func (p *pool) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue.C():
			// Stop may race with a receive; the job stays pending for the next start.
			if ctx.Err() != nil {
				return
			}
			p.process(ctx, id, n)
		}
	}
}

func (p *pool) process(ctx context.Context, id string, worker int) {
	// State writes must land even while the server is shutting down.
	storeCtx := context.WithoutCancel(ctx)

	job, err := p.store.GetJob(storeCtx, id)
	if err != nil {
		p.log.Error("load queued job", "job_id", id, "error", err)
		return
	}
	if job.Status != StatusPending {
		p.log.Debug("skipping job that is no longer pending", "job_id", id, "status", job.Status)
		return
	}

	log := p.log.With("job_id", job.ID, "handler", job.Handler, "worker", worker)

	job.Status = StatusRunning
	job.StartedAt = timePtr(p.now())
	if err := p.store.UpdateJob(storeCtx, job); err != nil {
		log.Error("mark job running", "error", err)
		return
	}
	if p.hooks.OnStart != nil {
		p.hooks.OnStart(*job)
	}

	start := time.Now()
	var runErr error
	if fn, ok := p.registry.Lookup(job.Handler); ok {
		runErr = p.execute(ctx, storeCtx, job, fn, log)
	} else {
		job.Attempts++
		runErr = shared.Validationf("handler %q is not registered", job.Handler)
	}
	duration := time.Since(start)

	job.FinishedAt = timePtr(p.now())
	if runErr != nil {
		job.Status = StatusFailed
		job.LastError = runErr.Error()
		log.Error("job failed", "error", runErr, "attempts", job.Attempts, "duration", duration)
	} else {
		job.Status = StatusSucceeded
		job.LastError = ""
		log.Debug("job succeeded", "attempts", job.Attempts, "duration", duration)
	}

	if err := p.store.UpdateJob(storeCtx, job); err != nil {
		log.Error("record job result", "error", err)
	}
	if p.hooks.OnFinish != nil {
		p.hooks.OnFinish(*job, duration, runErr)
	}
}

// execute runs fn until it succeeds or the attempt budget is spent.
func (p *pool) execute(ctx, storeCtx context.Context, job *Job, fn HandlerFunc, log *slog.Logger) error {
	cfg := p.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("job attempt failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		job.LastError = err.Error()
		if uerr := p.store.UpdateJob(storeCtx, job); uerr != nil {
			log.Error("record job attempt", "error", uerr)
		}
	}

	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		job.Attempts++
		return p.invoke(ctx, *job, fn)
	})
}

func (p *pool) invoke(ctx context.Context, job Job, fn HandlerFunc) (err error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx, job)
}
