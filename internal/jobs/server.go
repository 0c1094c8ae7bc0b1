package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobdemo/internal/platform/periodic"
	"jobdemo/internal/shared"
	"jobdemo/pkg/retry"
)

const (
	DefaultWorkers         = 4
	DefaultQueueSize       = 1024
	DefaultPollInterval    = time.Second
	DefaultRetention       = 24 * time.Hour
	DefaultCleanupSchedule = "@every 10m"
	DefaultRetryDelay      = time.Second
)

// Options configure a Server. Store and Registry are required.
type Options struct {
	Store    Store
	Registry *Registry
	Logger   *slog.Logger
	Hooks    Hooks
	// PeriodicHooks observe the poll and cleanup entries.
	PeriodicHooks periodic.Hooks

	Workers   int
	QueueSize int
	// MaxAttempts above 1 retries failed jobs with exponential backoff.
	MaxAttempts int
	RetryDelay  time.Duration
	// Timeout bounds a single attempt. Zero disables it.
	Timeout time.Duration

	PollInterval    time.Duration
	Retention       time.Duration
	CleanupSchedule string

	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.CleanupSchedule == "" {
		o.CleanupSchedule = DefaultCleanupSchedule
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

type serverState int

const (
	stateNew serverState = iota
	stateRunning
	stateStopped
)

// Server owns the queue, worker pool, recurring scheduler and housekeeping.
// Jobs may be enqueued before Start; they run once workers are up.
type Server struct {
	opts      Options
	store     Store
	registry  *Registry
	queue     *Queue
	pool      *pool
	recurring *recurringScheduler
	log       *slog.Logger

	mu     sync.Mutex
	state  serverState
	runner *periodic.Runner
	cancel context.CancelFunc
	// early holds ids queued before Start so recovery does not queue them twice.
	early map[string]struct{}
}

// NewServer validates opts and builds a Server that is not yet running.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, shared.Validationf("jobs: store is required")
	}
	if opts.Registry == nil {
		return nil, shared.Validationf("jobs: registry is required")
	}
	opts.setDefaults()

	log := opts.Logger.With("component", "jobs")
	s := &Server{
		opts:     opts,
		store:    opts.Store,
		registry: opts.Registry,
		queue:    NewQueue(opts.QueueSize),
		log:      log,
		early:    make(map[string]struct{}),
	}

	rc := retry.DefaultConfig()
	rc.MaxAttempts = opts.MaxAttempts
	rc.InitialDelay = opts.RetryDelay
	rc.MinDelay = opts.RetryDelay

	s.pool = &pool{
		store:    opts.Store,
		registry: opts.Registry,
		queue:    s.queue,
		log:      log,
		hooks:    opts.Hooks,
		now:      opts.Now,
		workers:  opts.Workers,
		timeout:  opts.Timeout,
		retry:    rc,
	}
	s.recurring = &recurringScheduler{
		store:    opts.Store,
		registry: opts.Registry,
		enqueue:  s.enqueue,
		log:      log,
		hooks:    opts.Hooks,
		now:      opts.Now,
	}
	return s, nil
}

// Start recovers persisted work, starts the workers and the periodic entries.
// The server runs until ctx is canceled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return shared.Conflictf("jobs: server already started")
	case stateStopped:
		return shared.Conflictf("jobs: server stopped")
	}

	runCtx, cancel := context.WithCancel(ctx)
	runner := periodic.New(runCtx, periodic.Config{Logger: s.opts.Logger, Hooks: s.opts.PeriodicHooks})

	if _, err := runner.Every(s.opts.PollInterval, s.recurring.tick, periodic.Options{
		Name:          "recurring-poll",
		OverlapPolicy: periodic.SkipIfRunning,
	}); err != nil {
		cancel()
		return shared.Wrap(err, "jobs: schedule recurring poll")
	}
	if _, err := runner.Cron(s.opts.CleanupSchedule, s.expire, periodic.Options{
		Name:          "expire-finished",
		OverlapPolicy: periodic.SkipIfRunning,
	}); err != nil {
		cancel()
		return shared.Wrap(err, "jobs: schedule cleanup")
	}

	if err := s.recover(ctx); err != nil {
		cancel()
		return err
	}

	s.pool.start(runCtx)
	runner.Start()

	s.runner = runner
	s.cancel = cancel
	s.state = stateRunning
	s.early = nil

	s.log.Info("job server started",
		"workers", s.opts.Workers,
		"queue_size", s.opts.QueueSize,
		"poll_interval", s.opts.PollInterval,
		"retention", s.opts.Retention,
	)
	return nil
}

// Stop cancels running handlers and waits for workers and periodic entries
// until ctx expires. Calling Stop more than once is safe.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	s.state = stateStopped
	runner, cancel := s.runner, s.cancel
	s.mu.Unlock()

	if prev != stateRunning {
		return nil
	}

	cancel()
	err := errors.Join(runner.Stop(ctx), s.pool.wait(ctx))
	if err != nil {
		s.log.Warn("job server stopped with errors", "error", err)
		return err
	}
	s.log.Info("job server stopped")
	return nil
}

// Enqueue records a pending job for handler and returns its id without
// waiting for it to run. payload is marshaled to JSON; nil means no payload.
func (s *Server) Enqueue(ctx context.Context, handler string, payload any) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}
	job, err := s.enqueue(ctx, handler, raw, "")
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

func (s *Server) enqueue(ctx context.Context, handler string, payload json.RawMessage, recurring string) (*Job, error) {
	if _, ok := s.registry.Lookup(handler); !ok {
		return nil, shared.Validationf("handler %q is not registered", handler)
	}

	id := uuid.NewString()
	s.mu.Lock()
	state := s.state
	if state == stateNew {
		s.early[id] = struct{}{}
	}
	s.mu.Unlock()
	if state == stateStopped {
		return nil, shared.Conflictf("jobs: server stopped")
	}

	job := &Job{
		ID:         id,
		Handler:    handler,
		Payload:    payload,
		Status:     StatusPending,
		Recurring:  recurring,
		EnqueuedAt: s.opts.Now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, shared.Wrap(err, "create job")
	}

	if err := s.queue.Push(job.ID); err != nil {
		job.Status = StatusFailed
		job.LastError = err.Error()
		job.FinishedAt = timePtr(s.opts.Now())
		if uerr := s.store.UpdateJob(context.WithoutCancel(ctx), job); uerr != nil {
			s.log.Error("record rejected job", "job_id", job.ID, "error", uerr)
		}
		s.log.Warn("job rejected", "job_id", job.ID, "handler", handler, "error", err)
		return nil, err
	}

	if s.opts.Hooks.OnEnqueue != nil {
		s.opts.Hooks.OnEnqueue(*job)
	}
	s.log.Debug("job enqueued", "job_id", job.ID, "handler", handler, "recurring", recurring)
	return job, nil
}

// AddOrUpdate registers name to run handler on the cron schedule expr,
// replacing any previous registration. An invalid expression leaves the
// previous registration untouched.
func (s *Server) AddOrUpdate(ctx context.Context, name, handler, expr string) (*RecurringJob, error) {
	return s.recurring.addOrUpdate(ctx, name, handler, expr, nil)
}

// AddOrUpdateWithPayload is AddOrUpdate with a payload passed to every execution.
func (s *Server) AddOrUpdateWithPayload(ctx context.Context, name, handler, expr string, payload any) (*RecurringJob, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return s.recurring.addOrUpdate(ctx, name, handler, expr, raw)
}

// RemoveIfExists deletes the registration. Removing an unknown name is not an error.
func (s *Server) RemoveIfExists(ctx context.Context, name string) (bool, error) {
	return s.recurring.remove(ctx, name)
}

// Trigger enqueues one execution of name now, outside its schedule.
func (s *Server) Trigger(ctx context.Context, name string) (string, error) {
	job, err := s.recurring.trigger(ctx, name)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// Pause stops name from firing until Resume.
func (s *Server) Pause(ctx context.Context, name string) (*RecurringJob, error) {
	return s.recurring.setEnabled(ctx, name, false)
}

// Resume re-enables name with next-due computed from now.
func (s *Server) Resume(ctx context.Context, name string) (*RecurringJob, error) {
	return s.recurring.setEnabled(ctx, name, true)
}

func (s *Server) Job(ctx context.Context, id string) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *Server) Jobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	return s.store.ListJobs(ctx, filter)
}

func (s *Server) Recurring(ctx context.Context, name string) (*RecurringJob, error) {
	return s.store.GetRecurring(ctx, name)
}

func (s *Server) RecurringJobs(ctx context.Context) ([]RecurringJob, error) {
	return s.store.ListRecurring(ctx)
}

// QueueLength returns the number of jobs waiting for a worker.
func (s *Server) QueueLength() int {
	return s.queue.Len()
}

// QueueCapacity returns the queue bound.
func (s *Server) QueueCapacity() int {
	return s.queue.Cap()
}

// Ping checks the store.
func (s *Server) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// recover puts persisted pending jobs back on the queue and fails jobs that
// were running when the previous process died.
func (s *Server) recover(ctx context.Context) error {
	var running []Job
	err := s.withinTx(ctx, func(ctx context.Context) error {
		var err error
		running, err = s.store.ListJobs(ctx, JobFilter{Statuses: []Status{StatusRunning}})
		if err != nil {
			return shared.Wrap(err, "jobs: list interrupted jobs")
		}
		for i := range running {
			job := &running[i]
			job.Status = StatusFailed
			job.LastError = "interrupted"
			job.FinishedAt = timePtr(s.opts.Now())
			if err := s.store.UpdateJob(ctx, job); err != nil {
				return shared.Wrap(err, "jobs: fail interrupted job")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	pending, err := s.store.ListJobs(ctx, JobFilter{Statuses: []Status{StatusPending}})
	if err != nil {
		return shared.Wrap(err, "jobs: list pending jobs")
	}
	// ListJobs is newest first; requeue in arrival order.
	slices.Reverse(pending)

	requeued := 0
	for _, job := range pending {
		if _, ok := s.early[job.ID]; ok {
			continue
		}
		if err := s.queue.Push(job.ID); err != nil {
			s.log.Warn("queue full while recovering pending jobs", "left", len(pending)-requeued)
			break
		}
		requeued++
	}

	if len(running) > 0 || requeued > 0 {
		s.log.Info("recovered persisted jobs", "interrupted", len(running), "requeued", requeued)
	}
	return nil
}

// withinTx runs fn in one store transaction when the store supports it.
func (s *Server) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := s.store.(Transactor); ok {
		return tx.WithinTx(ctx, fn)
	}
	return fn(ctx)
}

// expire deletes finished jobs older than the retention window.
func (s *Server) expire(ctx context.Context) error {
	cutoff := s.opts.Now().Add(-s.opts.Retention)
	n, err := s.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return shared.Wrap(err, "expire finished jobs")
	}
	if n > 0 {
		s.log.Info("expired finished jobs", "count", n, "cutoff", cutoff)
	}
	return nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(p) > 0 && !json.Valid(p) {
			return nil, shared.Validationf("payload is not valid JSON")
		}
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindValidation)
	}
	return raw, nil
}
