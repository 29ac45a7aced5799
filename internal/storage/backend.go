// Package storage defines the engine-facing persistence port and its SQL
// adapter. The adapter layers a read cache over the task store; every
// write invalidates the touched cache keys before it returns.
package storage

import (
	"context"

	"github.com/taskvine/taskvine/internal/cache"
	"github.com/taskvine/taskvine/internal/db"
	"github.com/taskvine/taskvine/internal/task"
)

// RepairReport re-exports the store's repair result for engine callers.
type RepairReport = db.RepairReport

// Metrics aggregates storage counters for the stats surface.
type Metrics struct {
	Reads   int64         `json:"reads"`
	Writes  int64         `json:"writes"`
	Deletes int64         `json:"deletes"`
	Batches int64         `json:"batches"`
	Tasks   int           `json:"tasks"`
	Cache   cache.Stats   `json:"cache"`
	Pool    *db.PoolStats `json:"pool,omitempty"`
}

// Batch stages saves and deletes to be applied in one atomic write.
type Batch interface {
	Save(t *task.Task)
	Delete(path string)
	Len() int
	Commit(ctx context.Context) error
	Rollback()
}

// Backend is the persistence port the engine and transaction coordinator
// operate against. Saves bump the task version by one; a task read back
// after a save carries version n+1.
type Backend interface {
	GetTask(ctx context.Context, path string) (*task.Task, error)
	GetTasks(ctx context.Context, paths []string) (map[string]*task.Task, error)
	GetTasksByPattern(ctx context.Context, pattern string) ([]*task.Task, error)
	GetTasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error)
	GetTasksByType(ctx context.Context, typ task.Type) ([]*task.Task, error)
	GetSubtasks(ctx context.Context, path string) ([]*task.Task, error)
	GetSubtree(ctx context.Context, path string, maxDepth int) ([]*task.Task, error)
	Dependents(ctx context.Context, path string) ([]string, error)

	SaveTask(ctx context.Context, t *task.Task) error
	SaveTasks(ctx context.Context, tasks []*task.Task) error
	DeleteTask(ctx context.Context, path string) error
	DeleteTasks(ctx context.Context, paths []string) error
	NewBatch() Batch

	RepairRelationships(ctx context.Context, dryRun bool) (*db.RepairReport, error)
	Metrics(ctx context.Context) (*Metrics, error)
	Vacuum(ctx context.Context) error
	Analyze(ctx context.Context) error
	Checkpoint(ctx context.Context) error
	Close() error
}
