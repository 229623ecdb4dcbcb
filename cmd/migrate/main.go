package main

// Run database migrations:
//   go run ./cmd/migrate            # apply pending migrations
//   go run ./cmd/migrate -down      # roll back the latest migration
//   go run ./cmd/migrate -version   # print the applied version

import (
	"context"
	"flag"
	"fmt"
	"os"

	"studyguide-backend/internal/shared/config"
	"studyguide-backend/internal/shared/storage/db"
	"studyguide-backend/internal/shared/telemetry"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	version := flag.Bool("version", false, "print the applied schema version and exit")
	flag.Parse()

	if err := run(*down, *version); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run(down, version bool) error {
	if down && version {
		return fmt.Errorf("-down and -version are mutually exclusive")
	}
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	ctx := context.Background()

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolFor(db.ProfileMigrate))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer sqlDB.Close()

	switch {
	case version:
		v, err := db.Version(sqlDB)
		if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		fmt.Println(v)
		return nil
	case down:
		if err := db.RollbackLast(ctx, sqlDB); err != nil {
			return fmt.Errorf("roll back: %w", err)
		}
	default:
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			return fmt.Errorf("apply: %w", err)
		}
	}
	return nil
}
