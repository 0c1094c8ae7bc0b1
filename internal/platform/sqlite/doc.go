// Package sqlite предоставляет инфраструктуру для работы с SQLite через modernc.org/sqlite.
//
// Основные возможности:
// - Открытие базы с PRAGMA, применяемыми к каждому соединению пула
// - Транзакции с повтором на SQLITE_BUSY
// - Миграции golang-migrate из встроенной файловой системы (embed.FS)
//
// # Быстрый старт
//
//	db, err := sqlite.Open(ctx, "data/jobs.db", sqlite.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	if err := sqlite.ApplyMigrations(db, migrationsFS, "migrations"); err != nil {
//		return err
//	}
//
// # Транзакции
//
//	runner := sqlite.NewTxRunner(db)
//	err = runner.WithinTx(ctx, func(ctx context.Context) error {
//		q := runner.Querier(ctx)
//		_, err := q.ExecContext(ctx, "UPDATE jobs SET status = ? WHERE id = ?", "failed", id)
//		return err
//	})
//
// Внутри fn все запросы нужно выполнять через Querier(ctx), иначе они пойдут мимо транзакции.
//
// # Тесты
//
// OpenInMemory возвращает базу с одним соединением: каждое новое соединение
// к :memory: видело бы пустую схему.
package sqlite
