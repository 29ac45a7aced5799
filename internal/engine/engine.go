// Package engine implements the task lifecycle operations: create,
// update, delete, status changes with propagation, dependency validation,
// and relationship repair. Every mutation follows the same shape: acquire
// locks, validate, compute the full effect, apply it in one atomic batch,
// then emit events.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskvine/taskvine/internal/errors"
	"github.com/taskvine/taskvine/internal/events"
	"github.com/taskvine/taskvine/internal/graph"
	"github.com/taskvine/taskvine/internal/status"
	"github.com/taskvine/taskvine/internal/storage"
	"github.com/taskvine/taskvine/internal/task"
	"github.com/taskvine/taskvine/internal/txn"
)

// Options tunes an engine.
type Options struct {
	LockWait       time.Duration
	LockTTL        time.Duration
	TxnIdleTimeout time.Duration
	DepthWarn      int
	BreadthWarn    int
	Publisher      events.Publisher
	Logger         *slog.Logger
}

// Engine coordinates the lifecycle operations over a storage backend.
type Engine struct {
	store      storage.Backend
	locks      *txn.LockManager
	txns       *txn.Manager
	validator  *graph.Validator
	propagator *status.Propagator
	publisher  events.Publisher
	log        *slog.Logger
}

// New creates an engine over the given backend.
func New(store storage.Backend, opts Options) *Engine {
	if opts.Publisher == nil {
		opts.Publisher = events.NewNopPublisher()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		store:     store,
		locks:     txn.NewLockManager(opts.LockWait, opts.LockTTL),
		txns:      txn.NewManager(txnStore{store: store}, opts.TxnIdleTimeout, opts.Logger),
		validator: graph.NewValidator(opts.DepthWarn, opts.BreadthWarn),
		publisher: opts.Publisher,
		log:       opts.Logger,
	}
	e.propagator = status.NewPropagator(&backendSource{store: store})
	return e
}

// Close stops the transaction sweep and releases the backend.
func (e *Engine) Close() error {
	e.txns.Close()
	return e.store.Close()
}

// --- Reads (passthrough) ---

// GetTask returns the task at path.
func (e *Engine) GetTask(ctx context.Context, path string) (*task.Task, error) {
	return e.store.GetTask(ctx, path)
}

// ListTasks returns tasks whose paths match the glob pattern.
func (e *Engine) ListTasks(ctx context.Context, pattern string) ([]*task.Task, error) {
	return e.store.GetTasksByPattern(ctx, pattern)
}

// GetSubtree returns the task at path and its descendants.
func (e *Engine) GetSubtree(ctx context.Context, path string, maxDepth int) ([]*task.Task, error) {
	return e.store.GetSubtree(ctx, path, maxDepth)
}

// Metrics returns the storage counters.
func (e *Engine) Metrics(ctx context.Context) (*storage.Metrics, error) {
	return e.store.Metrics(ctx)
}

// --- Transactions ---

// BeginTransaction opens a coordinator transaction and returns its id.
func (e *Engine) BeginTransaction() string {
	return e.txns.Begin()
}

// TxnSave stages an upsert within a transaction. The write stays invisible
// until CommitTransaction.
func (e *Engine) TxnSave(id string, t *task.Task) error {
	return e.txns.Save(id, t)
}

// TxnDelete stages a removal within a transaction.
func (e *Engine) TxnDelete(id, path string) error {
	return e.txns.Delete(id, path)
}

// CommitTransaction applies the staged operations in one atomic batch.
func (e *Engine) CommitTransaction(ctx context.Context, id string) error {
	return e.txns.Commit(ctx, id)
}

// RollbackTransaction discards a transaction's staged operations.
func (e *Engine) RollbackTransaction(id string) error {
	return e.txns.Rollback(id)
}

// --- Validation and repair ---

// ValidateDependencies checks a candidate dependency set for path without
// applying it.
func (e *Engine) ValidateDependencies(ctx context.Context, path string, candidates []string) (*graph.ValidationResult, error) {
	return e.validator.Validate(ctx, path, candidates, e.lookup)
}

// RepairRelationships scans for and optionally fixes hierarchy and
// dependency inconsistencies.
func (e *Engine) RepairRelationships(ctx context.Context, dryRun bool) (*storage.RepairReport, error) {
	report, err := e.store.RepairRelationships(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	if !dryRun && report.Fixed > 0 {
		e.log.Info("repaired task relationships", "fixed", report.Fixed, "issues", len(report.Issues))
	}
	return report, nil
}

// --- Internals ---

// lookup adapts the backend to the (nil, nil)-on-missing convention the
// graph and status packages use.
func (e *Engine) lookup(ctx context.Context, path string) (*task.Task, error) {
	t, err := e.store.GetTask(ctx, path)
	if errors.HasCode(err, errors.CodeTaskNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// holder returns a unique lock-holder id for one engine operation.
func holder(op string) string {
	return op + ":" + uuid.NewString()
}

// emit publishes an event, never blocking a finished mutation.
func (e *Engine) emit(typ events.Type, path string, before, after *task.Task) {
	e.publisher.Publish(events.New(typ, path, before, after))
}

// txnStore adapts the backend's batch constructor to the transaction
// coordinator's Store.
type txnStore struct {
	store storage.Backend
}

func (s txnStore) NewBatch() txn.Batch {
	return s.store.NewBatch()
}

// backendSource adapts the backend to status.Source.
type backendSource struct {
	store storage.Backend
}

func (s *backendSource) Get(ctx context.Context, path string) (*task.Task, error) {
	t, err := s.store.GetTask(ctx, path)
	if errors.HasCode(err, errors.CodeTaskNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *backendSource) Dependents(ctx context.Context, path string) ([]string, error) {
	return s.store.Dependents(ctx, path)
}

func (s *backendSource) Children(ctx context.Context, parentPath string) ([]*task.Task, error) {
	return s.store.GetSubtasks(ctx, parentPath)
}
