// Package db provides durable, path-keyed task persistence over an
// embedded SQLite database or an external PostgreSQL server, behind one
// driver abstraction.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/taskvine/taskvine/internal/db/driver"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// schemaType selects the tasks_NNN.sql migration series.
const schemaType = "tasks"

// embedFSAdapter wraps embed.FS to implement driver.SchemaFS.
type embedFSAdapter struct {
	fs embed.FS
}

func (e *embedFSAdapter) ReadDir(name string) ([]driver.DirEntry, error) {
	entries, err := e.fs.ReadDir(name)
	if err != nil {
		return nil, err
	}
	result := make([]driver.DirEntry, len(entries))
	for i, entry := range entries {
		result[i] = dirEntryAdapter{entry}
	}
	return result, nil
}

func (e *embedFSAdapter) ReadFile(name string) ([]byte, error) {
	return e.fs.ReadFile(name)
}

type dirEntryAdapter struct {
	fs.DirEntry
}

func (d dirEntryAdapter) Name() string {
	return d.DirEntry.Name()
}

func (d dirEntryAdapter) IsDir() bool {
	return d.DirEntry.IsDir()
}

// DB wraps a database connection with driver abstraction.
type DB struct {
	driver driver.Driver
	path   string
}

// Open opens a SQLite database at the given path, creating the parent
// directory if needed.
func Open(path string) (*DB, error) {
	return OpenWithDialect(path, driver.DialectSQLite)
}

// OpenInMemory opens an in-memory SQLite database. Each call creates a new
// isolated database; ideal for tests.
func OpenInMemory() (*DB, error) {
	drv, err := driver.New(driver.DialectSQLite)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(":memory:"); err != nil {
		return nil, err
	}
	return &DB{driver: drv, path: ":memory:"}, nil
}

// OpenWithDialect opens a database with a specific dialect.
func OpenWithDialect(dsn string, dialect driver.Dialect) (*DB, error) {
	if dialect == driver.DialectSQLite {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(dsn); err != nil {
		return nil, err
	}
	return &DB{driver: drv, path: dsn}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.driver.Close()
}

// Path returns the database DSN/path.
func (d *DB) Path() string {
	return d.path
}

// DB returns the underlying sql.DB for pool wiring and advanced operations.
func (d *DB) DB() *sql.DB {
	return d.driver.DB()
}

// Dialect returns the database dialect.
func (d *DB) Dialect() driver.Dialect {
	return d.driver.Dialect()
}

// Migrate applies all pending schema migrations.
func (d *DB) Migrate() error {
	adapter := &embedFSAdapter{fs: schemaFS}
	return d.driver.Migrate(context.Background(), adapter, schemaType)
}

// Exec executes a query without returning rows.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.driver.Exec(ctx, query, args...)
}

// Query executes a query that returns rows.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.driver.Query(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row.
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.driver.QueryRow(ctx, query, args...)
}

// BeginWrite starts a write transaction (BEGIN IMMEDIATE on SQLite).
func (d *DB) BeginWrite(ctx context.Context) (driver.Tx, error) {
	return d.driver.BeginWrite(ctx)
}

// Conn checks a dedicated connection out of the driver's pool.
func (d *DB) Conn(ctx context.Context) (driver.Conn, error) {
	return d.driver.Conn(ctx)
}

// Vacuum reclaims unused storage.
func (d *DB) Vacuum(ctx context.Context) error {
	return d.driver.Vacuum(ctx)
}

// Analyze refreshes the query planner statistics.
func (d *DB) Analyze(ctx context.Context) error {
	return d.driver.Analyze(ctx)
}

// Checkpoint flushes the write-ahead journal into the main store.
func (d *DB) Checkpoint(ctx context.Context) error {
	return d.driver.Checkpoint(ctx)
}

// Reset drops and recreates the schema, destroying all task data.
func (d *DB) Reset(ctx context.Context) error {
	for _, table := range []string{"task_dependencies", "tasks", "_migrations"} {
		if _, err := d.driver.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return d.Migrate()
}
