package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobdemo/pkg/retry"
)

type txKey struct{}

// Querier объединяет методы, общие для *sql.DB и *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// TxRunner выполняет функции внутри транзакции с повтором на SQLITE_BUSY.
type TxRunner struct {
	db    *sql.DB
	retry retry.Config
}

// NewTxRunner создаёт TxRunner с короткими повторами для конкурирующих писателей.
func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{
		db: db,
		retry: retry.Config{
			MaxAttempts:    5,
			InitialDelay:   10 * time.Millisecond,
			MaxDelay:       500 * time.Millisecond,
			Multiplier:     2,
			JitterStrategy: retry.JitterEqual,
		},
	}
}

// DB возвращает подключение.
func (r *TxRunner) DB() *sql.DB {
	return r.db
}

// WithinTx выполняет fn в транзакции: ошибка откатывает, nil коммитит.
// Транзакция доступна внутри fn через Querier(ctx). Вложенные транзакции не поддерживаются.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return errors.New("sqlite: nested transactions are not supported")
	}

	err := retry.DoWithRetryable(ctx, r.retry, func(ctx context.Context) error {
		return r.execute(ctx, fn)
	}, IsBusy)

	// Наружу отдаём исходную ошибку, а не обёртку о превышении попыток.
	var exceeded *retry.RetriesExceededError
	if errors.As(err, &exceeded) {
		return exceeded.LastError
	}
	return err
}

// Querier возвращает транзакцию из ctx или само подключение.
func (r *TxRunner) Querier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return r.db
}

func (r *TxRunner) execute(ctx context.Context, fn func(context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// IsBusy сообщает, что база была заблокирована другим писателем.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}
