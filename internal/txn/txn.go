package txn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskvine/taskvine/internal/errors"
	"github.com/taskvine/taskvine/internal/task"
)

// Transaction coordinator defaults.
const (
	DefaultIdleTimeout   = 30 * time.Second
	DefaultSweepInterval = 5 * time.Second
)

// TxStatus is the lifecycle state of a transaction.
type TxStatus string

const (
	TxPending    TxStatus = "pending"
	TxCommitted  TxStatus = "committed"
	TxRolledBack TxStatus = "rolled_back"
)

// OpKind classifies a staged operation.
type OpKind string

const (
	OpSave   OpKind = "save"
	OpDelete OpKind = "delete"
)

// Operation is one staged step in a transaction.
type Operation struct {
	Kind OpKind
	Path string
	Task *task.Task // nil for deletes
}

// Transaction accumulates staged operations. Nothing touches storage
// until Commit replays them through one atomic batch; rollback simply
// discards the staging area.
type Transaction struct {
	ID       string
	Status   TxStatus
	Ops      []Operation
	Started  time.Time
	LastUsed time.Time
}

// Batch is the atomic write unit transactions commit through.
type Batch interface {
	Save(t *task.Task)
	Delete(path string)
	Commit(ctx context.Context) error
	Rollback()
}

// Store is the storage surface the coordinator commits against.
// Implemented by the storage backend.
type Store interface {
	NewBatch() Batch
}

// Manager coordinates multi-operation transactions. Operations are staged
// in memory and stay invisible to readers until Commit hands them to the
// store's native batch, which applies them all or not at all. A failed
// commit retires the transaction; nothing partial is left behind. A
// background sweep discards transactions idle past the timeout.
type Manager struct {
	store Store
	log   *slog.Logger

	idleTimeout time.Duration

	mu     sync.Mutex
	active map[string]*Transaction

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewManager creates a transaction manager and starts its idle sweep.
func NewManager(store Store, idleTimeout time.Duration, log *slog.Logger) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	m := &Manager{
		store:       store,
		log:         log,
		idleTimeout: idleTimeout,
		active:      make(map[string]*Transaction),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// Begin opens a new transaction and returns its id.
func (m *Manager) Begin() string {
	id := uuid.NewString()
	now := m.now()
	m.mu.Lock()
	m.active[id] = &Transaction{
		ID:       id,
		Status:   TxPending,
		Started:  now,
		LastUsed: now,
	}
	m.mu.Unlock()
	m.log.Debug("transaction begun", "txn", id)
	return id
}

// Save stages an upsert. The task is cloned, so later caller mutations do
// not leak into the staged state.
func (m *Manager) Save(id string, t *task.Task) error {
	return m.stage(id, Operation{Kind: OpSave, Path: t.Path, Task: t.Clone()})
}

// Delete stages a removal.
func (m *Manager) Delete(id, path string) error {
	return m.stage(id, Operation{Kind: OpDelete, Path: path})
}

func (m *Manager) stage(id string, op Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.active[id]
	if !ok {
		return errors.ErrTransactionNotFound(id)
	}
	txn.Ops = append(txn.Ops, op)
	txn.LastUsed = m.now()
	return nil
}

// Commit replays the staged operations, in order, through one store batch.
// Later operations on a path supersede earlier ones inside the batch. On
// failure the batch is rolled back and the transaction retired; storage is
// left exactly as it was before Commit.
func (m *Manager) Commit(ctx context.Context, id string) error {
	m.mu.Lock()
	txn, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.mu.Unlock()
	if !ok {
		return errors.ErrTransactionNotFound(id)
	}

	batch := m.store.NewBatch()
	for _, op := range txn.Ops {
		switch op.Kind {
		case OpSave:
			batch.Save(op.Task)
		case OpDelete:
			batch.Delete(op.Path)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		batch.Rollback()
		txn.Status = TxRolledBack
		m.log.Warn("transaction commit failed, discarded", "txn", id, "ops", len(txn.Ops), "error", err)
		return errors.ErrTransactionFailed(id, "commit", err)
	}

	txn.Status = TxCommitted
	m.log.Debug("transaction committed", "txn", id, "ops", len(txn.Ops))
	return nil
}

// Rollback discards the staged operations. Nothing was written, so there
// is nothing to undo.
func (m *Manager) Rollback(id string) error {
	m.mu.Lock()
	txn, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.mu.Unlock()
	if !ok {
		return errors.ErrTransactionNotFound(id)
	}
	txn.Status = TxRolledBack
	m.log.Debug("transaction rolled back", "txn", id, "ops", len(txn.Ops))
	return nil
}

// ActiveCount returns the number of open transactions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close stops the idle sweep and discards open transactions.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, txn := range m.active {
		txn.Status = TxRolledBack
		delete(m.active, id)
		m.log.Warn("transaction discarded on close", "txn", id, "ops", len(txn.Ops))
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(DefaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

// sweepIdle discards transactions with no activity inside the idle
// timeout. Their staged operations never reached storage.
func (m *Manager) sweepIdle() {
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, txn := range m.active {
		if txn.LastUsed.Before(cutoff) {
			txn.Status = TxRolledBack
			delete(m.active, id)
			m.log.Warn("transaction expired, discarded", "txn", id, "ops", len(txn.Ops))
		}
	}
}
