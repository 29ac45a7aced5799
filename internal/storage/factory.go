package storage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/taskvine/taskvine/internal/cache"
	"github.com/taskvine/taskvine/internal/db"
	"github.com/taskvine/taskvine/internal/db/driver"
)

// Options selects and tunes a backend.
type Options struct {
	Dialect string // "sqlite" or "postgres"
	DSN     string // file path for sqlite, connection string for postgres

	CacheCapacity int
	CacheTTL      time.Duration

	Pool   db.PoolConfig
	Logger *slog.Logger
}

// New builds a Backend from options: open, migrate, wrap with pool and
// cache. The only implemented adapter is SQL; the dialect decides the
// driver underneath it.
func New(opts Options) (Backend, error) {
	dialect, err := driver.ParseDialect(opts.Dialect)
	if err != nil {
		return nil, err
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("storage: dsn is required")
	}

	database, err := db.OpenWithDialect(opts.DSN, dialect)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	capacity := opts.CacheCapacity
	if capacity <= 0 {
		capacity = cache.DefaultCapacity
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}

	pool := db.NewPool(database, opts.Pool, opts.Logger)
	return NewSQLBackend(database, cache.New(capacity, ttl), pool), nil
}

// NewInMemory builds a throwaway sqlite-backed Backend for tests and
// one-shot runs. No pool; the single in-memory connection needs no gate.
func NewInMemory() (Backend, error) {
	database, err := db.OpenInMemory()
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return NewSQLBackend(database, cache.New(cache.DefaultCapacity, cache.DefaultTTL), nil), nil
}
