package pg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobdemo/pkg/retry"
)

// WaitOptions настраивает ожидание доступности базы при старте.
type WaitOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// PingTimeout - таймаут одной попытки
	PingTimeout time.Duration
	Logger      *slog.Logger
}

// DefaultWaitOptions: до 10 попыток с экспоненциальной задержкой от 1s до 30s.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		PingTimeout:  5 * time.Second,
	}
}

// WaitForDB ждёт, пока база начнёт принимать подключения.
// Полезно при старте рядом с контейнером Postgres, который ещё поднимается.
func WaitForDB(ctx context.Context, dsn string, opts WaitOptions) error {
	// Ошибку в DSN повторами не исправить.
	if _, err := pgx.ParseConfig(dsn); err != nil {
		return fmt.Errorf("pg: parse dsn: %w", err)
	}

	cfg := retry.Config{
		MaxAttempts:    opts.MaxAttempts,
		InitialDelay:   opts.InitialDelay,
		MaxDelay:       opts.MaxDelay,
		Multiplier:     2,
		JitterStrategy: retry.JitterNone,
	}
	if opts.Logger != nil {
		cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
			opts.Logger.Warn("database not ready", "attempt", attempt, "retry_in", delay, "error", err)
		}
	}

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		return ping(ctx, dsn, opts.PingTimeout)
	})
	if err != nil {
		return fmt.Errorf("pg: database not available: %w", err)
	}
	return nil
}

// HealthCheckPool проверяет существующий пул простым запросом.
func HealthCheckPool(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("pg: pool is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var one int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("pg: health query: %w", err)
	}
	if one != 1 {
		return fmt.Errorf("pg: unexpected health result %d", one)
	}
	return nil
}

func ping(ctx context.Context, dsn string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

	return conn.Ping(ctx)
}
