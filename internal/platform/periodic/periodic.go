package periodic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Func представляет периодическую функцию.
type Func func(ctx context.Context) error

// EntryID идентифицирует зарегистрированную функцию.
type EntryID int

// OverlapPolicy определяет, что делать, если предыдущий запуск ещё не завершён.
type OverlapPolicy int

const (
	// AllowOverlap разрешает параллельные запуски.
	AllowOverlap OverlapPolicy = iota
	// SkipIfRunning пропускает запуск, если предыдущий ещё выполняется.
	SkipIfRunning
	// DelayIfRunning ждёт завершения предыдущего запуска.
	DelayIfRunning
)

// Options содержит опции запуска.
type Options struct {
	// Name - имя для логов и хуков.
	Name string
	// Timeout - ограничение на один запуск (0 - без ограничения).
	Timeout time.Duration
	// OverlapPolicy - политика перекрывающихся запусков.
	OverlapPolicy OverlapPolicy
}

// Hooks содержит необязательные хуки для наблюдаемости.
type Hooks struct {
	OnStart  func(name string)
	OnFinish func(name string, duration time.Duration, err error)
}

// Config содержит конфигурацию Runner.
type Config struct {
	Logger *slog.Logger
	Hooks  Hooks
}

type entry struct {
	id      EntryID
	fn      Func
	opts    Options
	running sync.Mutex

	// только для interval-записей
	interval time.Duration
	cancel   context.CancelFunc

	// только для cron-записей
	cronID cron.EntryID
}

// Runner запускает служебные функции по интервалу или cron-расписанию.
// Интервальные записи начинают тикать после Start.
type Runner struct {
	cron   *cron.Cron
	logger *slog.Logger
	hooks  Hooks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[EntryID]*entry
	nextID  EntryID
	started bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// New создаёт Runner, привязанный к parent.
func New(parent context.Context, cfg Config) *Runner {
	ctx, cancel := context.WithCancel(parent)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "periodic")

	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger{logger: logger}),
		),
		logger:  logger,
		hooks:   cfg.Hooks,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[EntryID]*entry),
		nextID:  1,
	}
}

// Every регистрирует функцию с фиксированным интервалом.
func (r *Runner) Every(interval time.Duration, fn Func, opts Options) (EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("periodic: interval must be positive, got %s", interval)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.addLocked(fn, opts)
	e.interval = interval
	if r.started {
		r.startIntervalLocked(e)
	}

	r.logger.Debug("interval entry added", "name", opts.Name, "interval", interval, "id", e.id)
	return e.id, nil
}

// Cron регистрирует функцию по cron-расписанию (6 полей, с секундами, или дескриптор @every/@hourly).
func (r *Runner) Cron(spec string, fn Func, opts Options) (EntryID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.addLocked(fn, opts)
	cronID, err := r.cron.AddFunc(spec, func() { r.run(e) })
	if err != nil {
		delete(r.entries, e.id)
		return 0, fmt.Errorf("periodic: bad schedule %q: %w", spec, err)
	}
	e.cronID = cronID

	r.logger.Debug("cron entry added", "name", opts.Name, "schedule", spec, "id", e.id)
	return e.id, nil
}

// Remove снимает запись с расписания. Возвращает false, если записи нет.
func (r *Runner) Remove(id EntryID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.cronID != 0 {
		r.cron.Remove(e.cronID)
	}
	delete(r.entries, id)

	r.logger.Debug("entry removed", "name", e.opts.Name, "id", id)
	return true
}

// Start запускает cron и интервальные записи. Повторные вызовы ничего не делают.
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		r.mu.Lock()
		r.started = true
		for _, e := range r.entries {
			if e.interval > 0 {
				r.startIntervalLocked(e)
			}
		}
		r.mu.Unlock()

		r.cron.Start()

		go func() {
			<-r.ctx.Done()
			r.stopOnce.Do(r.stop)
		}()
	})
}

// Stop останавливает Runner и ждёт завершения запусков. Если ctx истекает раньше,
// остановка всё равно доводится до конца, но возвращается ошибка контекста.
func (r *Runner) Stop(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.stopOnce.Do(r.stop)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.logger.Warn("periodic stop deadline exceeded, waiting for running entries")
		<-done
		return ctx.Err()
	}
}

// Running сообщает, работает ли Runner.
func (r *Runner) Running() bool {
	return r.ctx.Err() == nil
}

func (r *Runner) stop() {
	<-r.cron.Stop().Done()

	r.mu.Lock()
	for _, e := range r.entries {
		if e.cancel != nil {
			e.cancel()
		}
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Debug("periodic runner stopped")
}

func (r *Runner) addLocked(fn Func, opts Options) *entry {
	e := &entry{id: r.nextID, fn: fn, opts: opts}
	r.nextID++
	r.entries[e.id] = e
	return e
}

func (r *Runner) startIntervalLocked(e *entry) {
	ctx, cancel := context.WithCancel(r.ctx)
	e.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if e.opts.OverlapPolicy == AllowOverlap {
					r.wg.Add(1)
					go func() {
						defer r.wg.Done()
						r.run(e)
					}()
					continue
				}
				r.run(e)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// run выполняет запись с учётом политики перекрытий, таймаута и восстановления после паники.
func (r *Runner) run(e *entry) {
	name := e.opts.Name
	if name == "" {
		name = "unnamed"
	}

	switch e.opts.OverlapPolicy {
	case SkipIfRunning:
		if !e.running.TryLock() {
			r.logger.Debug("skipping run, previous still active", "name", name)
			return
		}
		defer e.running.Unlock()
	case DelayIfRunning:
		e.running.Lock()
		defer e.running.Unlock()
	}

	if r.ctx.Err() != nil {
		return
	}

	ctx := r.ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	if r.hooks.OnStart != nil {
		r.hooks.OnStart(name)
	}

	start := time.Now()
	err := r.call(ctx, e.fn)
	duration := time.Since(start)

	if r.hooks.OnFinish != nil {
		r.hooks.OnFinish(name, duration, err)
	}
	if err != nil {
		r.logger.Error("periodic run failed", "name", name, "error", err, "duration", duration)
		return
	}
	r.logger.Debug("periodic run completed", "name", name, "duration", duration)
}

func (r *Runner) call(ctx context.Context, fn Func) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// cronLogger адаптирует cron.Logger к slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
