// Package retry runs a function again with exponential backoff and jitter
// until it succeeds, the attempt budget is spent or the context ends.
//
// The job worker pool uses it to re-run failing handlers when
// JOBS_MAX_ATTEMPTS is above one:
//
//	cfg := retry.DefaultConfig()
//	cfg.MaxAttempts = 5
//	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
//	    log.Warn("job attempt failed", "attempt", attempt, "delay", delay, "error", err)
//	}
//	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
//	    return handler(ctx, payload)
//	})
//
// A handler that knows another attempt cannot help wraps its error with
// Permanent; Do stops immediately and returns the wrapped error.
package retry
