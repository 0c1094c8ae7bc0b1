package pg

import (
	"errors"
	"fmt"
	"io/fs"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationInfo содержит результат применения миграций.
type MigrationInfo struct {
	Applied        bool // Были ли применены новые миграции
	CurrentVersion uint // Версия до применения
	FinalVersion   uint // Версия после применения
}

func newMigrate(dsn string, fsys fs.FS, dir string) (*migrate.Migrate, error) {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("pg: migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create migrate instance: %w", err)
	}
	return m, nil
}

// ApplyMigrations применяет миграции из dir. Повторный вызов безопасен.
// База в dirty-состоянии не мигрируется: её нужно чинить вручную.
func ApplyMigrations(dsn string, fsys fs.FS, dir string) (MigrationInfo, error) {
	m, err := newMigrate(dsn, fsys, dir)
	if err != nil {
		return MigrationInfo{}, err
	}
	defer func() { _, _ = m.Close() }()

	var info MigrationInfo
	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return info, fmt.Errorf("pg: migration version: %w", err)
	}
	info.CurrentVersion = current
	info.FinalVersion = current
	if dirty {
		return info, fmt.Errorf("pg: database is dirty at version %d", current)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return info, nil
		}
		return info, fmt.Errorf("pg: apply migrations: %w", err)
	}

	info.Applied = true
	if v, _, err := m.Version(); err == nil {
		info.FinalVersion = v
	}
	return info, nil
}

// ResetMigrations откатывает все миграции. Используется в тестах.
func ResetMigrations(dsn string, fsys fs.FS, dir string) error {
	m, err := newMigrate(dsn, fsys, dir)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("pg: reset migrations: %w", err)
	}
	return nil
}
