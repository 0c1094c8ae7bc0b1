// Package periodic runs housekeeping functions on a fixed interval or a cron
// schedule (github.com/robfig/cron/v3, seconds field enabled).
//
// The job server uses it for two things: polling recurring registrations for
// due fires and expiring finished jobs.
//
//	r := periodic.New(ctx, periodic.Config{Logger: logger})
//	_, _ = r.Every(time.Second, poll, periodic.Options{
//		Name:          "recurring-poll",
//		OverlapPolicy: periodic.SkipIfRunning,
//	})
//	_, _ = r.Cron("0 */10 * * * *", expire, periodic.Options{Name: "expire-finished"})
//	r.Start()
//	defer r.Stop(context.Background())
//
// Guarantees:
//   - overlap policies apply to both interval and cron entries
//   - panics are recovered and reported as errors
//   - errors are logged and never stop the runner
//   - Start is idempotent, Stop is safe to call repeatedly
package periodic
