package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/taskvine/taskvine/internal/cache"
	"github.com/taskvine/taskvine/internal/db"
	"github.com/taskvine/taskvine/internal/task"
)

// SQLBackend adapts the task store to the Backend port, fronting single
// and multi key reads with the LRU cache.
type SQLBackend struct {
	database *db.DB
	store    *db.TaskStore
	cache    *cache.Cache
	pool     *db.Pool

	reads   atomic.Int64
	writes  atomic.Int64
	deletes atomic.Int64
	batches atomic.Int64

	now func() time.Time
}

var _ Backend = (*SQLBackend)(nil)

// NewSQLBackend wraps an opened, migrated database. pool may be nil when
// the caller does not need bounded acquisition (tests, one-shot CLI runs).
func NewSQLBackend(database *db.DB, c *cache.Cache, pool *db.Pool) *SQLBackend {
	if c == nil {
		c = cache.New(cache.DefaultCapacity, cache.DefaultTTL)
	}
	return &SQLBackend{
		database: database,
		store:    db.NewTaskStore(database, pool),
		cache:    c,
		pool:     pool,
		now:      time.Now,
	}
}

// GetTask reads through the cache.
func (b *SQLBackend) GetTask(ctx context.Context, path string) (*task.Task, error) {
	b.reads.Add(1)
	if t := b.cache.Get(path); t != nil {
		return t, nil
	}
	t, err := b.store.GetTask(ctx, path)
	if err != nil {
		return nil, err
	}
	b.cache.Put(t)
	return t, nil
}

// GetTasks reads through the cache, fetching only the misses from the
// store in one query.
func (b *SQLBackend) GetTasks(ctx context.Context, paths []string) (map[string]*task.Task, error) {
	b.reads.Add(1)
	result := make(map[string]*task.Task, len(paths))
	var misses []string
	for _, p := range paths {
		if t := b.cache.Get(p); t != nil {
			result[p] = t
			continue
		}
		misses = append(misses, p)
	}
	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := b.store.GetTasks(ctx, misses)
	if err != nil {
		return nil, err
	}
	for p, t := range fetched {
		b.cache.Put(t)
		result[p] = t
	}
	return result, nil
}

// GetTasksByPattern queries the store directly; pattern scans bypass the
// cache but refresh it with what they find.
func (b *SQLBackend) GetTasksByPattern(ctx context.Context, pattern string) ([]*task.Task, error) {
	b.reads.Add(1)
	tasks, err := b.store.GetTasksByPattern(ctx, pattern)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		b.cache.Put(t)
	}
	return tasks, nil
}

func (b *SQLBackend) GetTasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	b.reads.Add(1)
	return b.store.GetTasksByStatus(ctx, status)
}

func (b *SQLBackend) GetTasksByType(ctx context.Context, typ task.Type) ([]*task.Task, error) {
	b.reads.Add(1)
	return b.store.GetTasksByType(ctx, typ)
}

func (b *SQLBackend) GetSubtasks(ctx context.Context, path string) ([]*task.Task, error) {
	b.reads.Add(1)
	return b.store.GetSubtasks(ctx, path)
}

func (b *SQLBackend) GetSubtree(ctx context.Context, path string, maxDepth int) ([]*task.Task, error) {
	b.reads.Add(1)
	return b.store.GetSubtree(ctx, path, maxDepth)
}

func (b *SQLBackend) Dependents(ctx context.Context, path string) ([]string, error) {
	b.reads.Add(1)
	return b.store.Dependents(ctx, path)
}

// SaveTask persists t with its version bumped by one and its updated
// timestamp and checksum refreshed. The caller's struct is not mutated.
func (b *SQLBackend) SaveTask(ctx context.Context, t *task.Task) error {
	return b.SaveTasks(ctx, []*task.Task{t})
}

// SaveTasks persists a batch atomically, bumping each task's version.
func (b *SQLBackend) SaveTasks(ctx context.Context, tasks []*task.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	b.writes.Add(int64(len(tasks)))

	prepared := make([]*task.Task, len(tasks))
	paths := make([]string, len(tasks))
	for i, t := range tasks {
		prepared[i] = b.prepare(t)
		paths[i] = t.Path
	}
	if err := b.store.SaveTasks(ctx, prepared); err != nil {
		return err
	}
	b.cache.Invalidate(paths...)
	return nil
}

func (b *SQLBackend) DeleteTask(ctx context.Context, path string) error {
	return b.DeleteTasks(ctx, []string{path})
}

func (b *SQLBackend) DeleteTasks(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	b.deletes.Add(int64(len(paths)))
	if err := b.store.DeleteTasks(ctx, paths); err != nil {
		return err
	}
	b.cache.Invalidate(paths...)
	return nil
}

// NewBatch stages writes that commit in one store transaction. Saves go
// through the same version-bump preparation as direct saves.
func (b *SQLBackend) NewBatch() Batch {
	return &sqlBatch{backend: b, inner: b.store.NewBatch()}
}

func (b *SQLBackend) RepairRelationships(ctx context.Context, dryRun bool) (*db.RepairReport, error) {
	report, err := b.store.RepairRelationships(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	if !dryRun && report.Fixed > 0 {
		b.cache.Clear()
	}
	return report, nil
}

func (b *SQLBackend) Metrics(ctx context.Context) (*Metrics, error) {
	count, err := b.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	m := &Metrics{
		Reads:   b.reads.Load(),
		Writes:  b.writes.Load(),
		Deletes: b.deletes.Load(),
		Batches: b.batches.Load(),
		Tasks:   count,
		Cache:   b.cache.Stats(),
	}
	if b.pool != nil {
		stats := b.pool.Stats()
		m.Pool = &stats
	}
	return m, nil
}

func (b *SQLBackend) Vacuum(ctx context.Context) error     { return b.database.Vacuum(ctx) }
func (b *SQLBackend) Analyze(ctx context.Context) error    { return b.database.Analyze(ctx) }
func (b *SQLBackend) Checkpoint(ctx context.Context) error { return b.database.Checkpoint(ctx) }

// Close releases the pool and the database connection.
func (b *SQLBackend) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	b.cache.Clear()
	return b.database.Close()
}

// prepare clones a task for persistence: version +1, fresh updated
// timestamp, recomputed checksum.
func (b *SQLBackend) prepare(t *task.Task) *task.Task {
	c := t.Clone()
	c.Version++
	c.Updated = b.now().UTC()
	c.Checksum = c.ComputeChecksum()
	return c
}

// sqlBatch wraps the store batch with version preparation and cache
// invalidation on commit.
type sqlBatch struct {
	backend *SQLBackend
	inner   *db.Batch
	touched []string
}

func (s *sqlBatch) Save(t *task.Task) {
	s.inner.Save(s.backend.prepare(t))
	s.touched = append(s.touched, t.Path)
}

func (s *sqlBatch) Delete(path string) {
	s.inner.Delete(path)
	s.touched = append(s.touched, path)
}

func (s *sqlBatch) Len() int {
	return s.inner.Len()
}

func (s *sqlBatch) Commit(ctx context.Context) error {
	if err := s.inner.Commit(ctx); err != nil {
		return err
	}
	s.backend.batches.Add(1)
	s.backend.cache.Invalidate(s.touched...)
	return nil
}

func (s *sqlBatch) Rollback() {
	s.inner.Rollback()
	s.touched = nil
}
