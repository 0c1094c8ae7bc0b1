package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	migrate "github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// newMigrate собирает migrate поверх уже открытого db.
// Close у такого экземпляра закрыл бы и db, поэтому он не вызывается.
func newMigrate(db *sql.DB, migrations fs.FS, dir string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("sqlite: migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create migrate instance: %w", err)
	}
	return m, nil
}

// ApplyMigrations применяет все миграции из dir. Повторный вызов безопасен:
// migrate.ErrNoChange ошибкой не считается.
func ApplyMigrations(db *sql.DB, migrations fs.FS, dir string) error {
	m, err := newMigrate(db, migrations, dir)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite: apply migrations: %w", err)
	}
	return nil
}

// MigrationVersion возвращает текущую версию схемы. Для пустой базы - 0, false, nil.
func MigrationVersion(db *sql.DB, migrations fs.FS, dir string) (uint, bool, error) {
	m, err := newMigrate(db, migrations, dir)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: migration version: %w", err)
	}
	return version, dirty, nil
}

// ResetMigrations откатывает все миграции. Только для тестов и ручного сброса схемы.
func ResetMigrations(db *sql.DB, migrations fs.FS, dir string) error {
	m, err := newMigrate(db, migrations, dir)
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite: reset migrations: %w", err)
	}
	return nil
}
