package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"

	"github.com/pressly/goose/v3"

	"studyguide-backend/internal/shared/telemetry"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsDir = "migrations"

// ErrNoDatabase is returned by Version when there is nothing to inspect.
var ErrNoDatabase = errors.New("db: no database configured")

func prepareGoose() error {
	goose.SetBaseFS(migrationFiles)
	return goose.SetDialect("postgres")
}

// RunMigrations applies the embedded schema (users, documents, analyses,
// history_entries, usage). A nil database is a no-op so memory-only dev
// setups can call it unconditionally.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	if database == nil {
		return nil
	}
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, database, migrationsDir); err != nil {
		return err
	}
	logVersion("db.migrated", database)
	return nil
}

// RollbackLast reverts the most recently applied migration.
func RollbackLast(ctx context.Context, database *sql.DB) error {
	if database == nil {
		return nil
	}
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, database, migrationsDir); err != nil {
		return err
	}
	logVersion("db.rolled_back", database)
	return nil
}

// Version reports the highest applied migration.
func Version(database *sql.DB) (int64, error) {
	if database == nil {
		return 0, ErrNoDatabase
	}
	if err := prepareGoose(); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(database)
}

func logVersion(event string, database *sql.DB) {
	v, err := Version(database)
	if err != nil {
		telemetry.Warn("db.version_unknown", map[string]any{"error": err.Error()})
		return
	}
	telemetry.Info(event, map[string]any{"version": v})
}
