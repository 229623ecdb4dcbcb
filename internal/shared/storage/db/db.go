package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"golang.org/x/sync/singleflight"

	"studyguide-backend/internal/shared/telemetry"
)

// ErrNoURL is returned when DATABASE_URL is blank.
var ErrNoURL = errors.New("DATABASE_URL is empty")

// Options controls the database/sql pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// Profile names the kind of process that owns a pool.
type Profile string

const (
	ProfileServer  Profile = "server"
	ProfileLambda  Profile = "lambda"
	ProfileMigrate Profile = "migrate"
)

var profiles = map[Profile]Options{
	// Lambda fans out wide, so each environment holds very few connections.
	ProfileLambda: {
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxIdleTime: 30 * time.Second,
		ConnMaxLifetime: 15 * time.Minute,
		PingTimeout:     3 * time.Second,
	},
	ProfileServer: {
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
	},
	ProfileMigrate: {
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
	},
}

// PoolFor returns the pool defaults for p with DB_* env overrides applied.
// Unknown profiles get the server defaults.
func PoolFor(p Profile) Options {
	opts, ok := profiles[p]
	if !ok {
		opts = profiles[ProfileServer]
	}
	return OptionsFromEnv(opts)
}

// IsLambdaRuntime reports whether the process runs inside AWS Lambda, where
// warm invocations should share one pool through GetSingleton.
func IsLambdaRuntime() bool {
	return strings.TrimSpace(os.Getenv("AWS_LAMBDA_FUNCTION_NAME")) != ""
}

var (
	intOverrides = []struct {
		key string
		set func(*Options, int)
	}{
		{"DB_MAX_OPEN_CONNS", func(o *Options, v int) { o.MaxOpenConns = v }},
		{"DB_MAX_IDLE_CONNS", func(o *Options, v int) { o.MaxIdleConns = v }},
	}
	durationOverrides = []struct {
		key string
		set func(*Options, time.Duration)
	}{
		{"DB_CONN_MAX_LIFETIME", func(o *Options, v time.Duration) { o.ConnMaxLifetime = v }},
		{"DB_CONN_MAX_IDLE_TIME", func(o *Options, v time.Duration) { o.ConnMaxIdleTime = v }},
		{"DB_PING_TIMEOUT", func(o *Options, v time.Duration) { o.PingTimeout = v }},
	}
)

// OptionsFromEnv layers DB_* env vars over defaults. Unparseable values are
// logged and ignored.
func OptionsFromEnv(defaults Options) Options {
	opts := defaults
	for _, o := range intOverrides {
		raw := strings.TrimSpace(os.Getenv(o.key))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			invalidEnv(o.key, err)
			continue
		}
		o.set(&opts, v)
	}
	for _, o := range durationOverrides {
		raw := strings.TrimSpace(os.Getenv(o.key))
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			invalidEnv(o.key, err)
			continue
		}
		o.set(&opts, v)
	}
	return opts
}

func invalidEnv(key string, err error) {
	telemetry.Warn("db.invalid_env", map[string]any{"key": key, "error": err.Error()})
}

var openDB = sql.Open

// Connect opens a pgx-backed pool and pings it before returning.
func Connect(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, ErrNoURL
	}
	db, err := openDB("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	configure(db, opts)

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	stats := db.Stats()
	telemetry.Info("db.connected", map[string]any{
		"max_open": stats.MaxOpenConnections,
		"open":     stats.OpenConnections,
		"idle":     stats.Idle,
	})
	return db, nil
}

func configure(db *sql.DB, opts Options) {
	fallback := profiles[ProfileServer]
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = fallback.MaxOpenConns
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = fallback.MaxIdleConns
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = fallback.ConnMaxLifetime
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
}

var (
	singletonMu    sync.Mutex
	singletonDB    *sql.DB
	singletonGroup singleflight.Group
)

func cachedSingleton() *sql.DB {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	return singletonDB
}

// GetSingleton returns the process-wide pool, connecting on first use.
// Concurrent first callers share one attempt; a failed attempt is retried by
// the next caller.
func GetSingleton(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if db := cachedSingleton(); db != nil {
		return db, nil
	}
	v, err, _ := singletonGroup.Do("db", func() (any, error) {
		if db := cachedSingleton(); db != nil {
			return db, nil
		}
		db, err := Connect(ctx, databaseURL, opts)
		if err != nil {
			return nil, err
		}
		singletonMu.Lock()
		singletonDB = db
		singletonMu.Unlock()
		telemetry.Info("db.singleton_init", nil)
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

// Open picks the pool shape for the current runtime: a shared singleton in
// Lambda, a fresh server pool otherwise.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if IsLambdaRuntime() {
		return GetSingleton(ctx, databaseURL, PoolFor(ProfileLambda))
	}
	return Connect(ctx, databaseURL, PoolFor(ProfileServer))
}
