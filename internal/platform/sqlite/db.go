package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite драйвер
)

// TxLock определяет режим BEGIN для транзакций database/sql.
type TxLock string

const (
	// TxLockDeferred откладывает блокировку до первого чтения/записи.
	TxLockDeferred TxLock = "deferred"
	// TxLockImmediate сразу берёт RESERVED блокировку, чтобы писатели не упирались в SQLITE_BUSY посреди транзакции.
	TxLockImmediate TxLock = "immediate"
)

// Options содержит настройки SQLite базы.
type Options struct {
	// MaxOpenConns - максимальное количество открытых соединений
	MaxOpenConns int
	// MaxIdleConns - максимальное количество idle соединений
	MaxIdleConns int
	// ConnMaxIdleTime - максимальное время простоя соединения
	ConnMaxIdleTime time.Duration
	// PingTimeout - таймаут проверки соединения при открытии
	PingTimeout time.Duration
	// WALMode - включить WAL журнал (не работает для in-memory)
	WALMode bool
	// BusyTimeout - сколько ждать блокировку перед SQLITE_BUSY
	BusyTimeout time.Duration
	// TxLock - режим BEGIN для транзакций
	TxLock TxLock
}

// DefaultOptions возвращает настройки для файловой базы с одним процессом-писателем.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxIdleTime: 10 * time.Minute,
		PingTimeout:     5 * time.Second,
		WALMode:         true,
		BusyTimeout:     5 * time.Second,
		TxLock:          TxLockImmediate,
	}
}

// Open открывает файловую базу, создавая каталог при необходимости.
func Open(ctx context.Context, path string, opts Options) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}
	return open(ctx, BuildDSN(path, opts), opts)
}

// OpenInMemory открывает in-memory базу для тестов.
// Пул ограничен одним соединением: у каждого соединения своя :memory: база.
func OpenInMemory(ctx context.Context) (*sql.DB, error) {
	opts := DefaultOptions()
	opts.WALMode = false
	opts.MaxOpenConns = 1
	opts.MaxIdleConns = 1
	opts.ConnMaxIdleTime = 0
	return open(ctx, BuildDSN(":memory:", opts), opts)
}

func open(ctx context.Context, dsn string, opts Options) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	pingCtx := ctx
	if opts.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.PingTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	return db, nil
}

// BuildDSN строит DSN для modernc.org/sqlite. PRAGMA передаются через _pragma,
// поэтому применяются к каждому новому соединению пула, а не только к первому.
func BuildDSN(path string, opts Options) string {
	params := url.Values{}

	pragmas := []string{"foreign_keys(1)", "synchronous(NORMAL)"}
	if opts.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	}
	if opts.WALMode {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}
	for _, p := range pragmas {
		params.Add("_pragma", p)
	}
	if opts.TxLock != "" && opts.TxLock != TxLockDeferred {
		params.Set("_txlock", string(opts.TxLock))
	}
	return path + "?" + params.Encode()
}
