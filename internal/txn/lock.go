// Package txn provides per-task advisory locking and a multi-operation
// transaction coordinator that stages work and commits it through one
// atomic store batch.
package txn

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/taskvine/taskvine/internal/errors"
)

// Locking defaults.
const (
	DefaultLockWait      = time.Second
	DefaultLockTTL       = 30 * time.Second
	DefaultRetryAttempts = 3
	retryBackoffFloor    = 100 * time.Millisecond
	retryBackoffSpread   = 100 * time.Millisecond
)

// lockEntry is one held advisory lock. retries counts how many waiters
// have blocked on it, a contention signal surfaced through Retries.
type lockEntry struct {
	holder   string
	acquired time.Time
	retries  int
	released chan struct{}
}

// LockManager hands out per-path advisory locks. A lock gates mutation of
// one task; holding it does not block readers. Locks expire after a TTL
// so a crashed holder cannot wedge its task forever.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*lockEntry

	wait time.Duration
	ttl  time.Duration
	now  func() time.Time
}

// NewLockManager creates a lock manager. wait bounds how long Acquire
// blocks for a contended path, ttl bounds how long a holder may keep a
// lock before it is considered stale.
func NewLockManager(wait, ttl time.Duration) *LockManager {
	if wait <= 0 {
		wait = DefaultLockWait
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &LockManager{
		locks: make(map[string]*lockEntry),
		wait:  wait,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Acquire takes the lock for path on behalf of holder. If the lock is
// held it waits up to the configured bound for release, then fails with
// retryable TASK_BUSY. A stale lock (held past its TTL) is broken
// immediately.
func (m *LockManager) Acquire(ctx context.Context, path, holder string) error {
	deadline := m.now().Add(m.wait)
	for {
		m.mu.Lock()
		entry, held := m.locks[path]
		if held && m.now().Sub(entry.acquired) > m.ttl {
			// Stale: the holder never released. Break it.
			close(entry.released)
			held = false
		}
		if !held {
			m.locks[path] = &lockEntry{
				holder:   holder,
				acquired: m.now(),
				released: make(chan struct{}),
			}
			m.mu.Unlock()
			return nil
		}
		entry.retries++
		released := entry.released
		m.mu.Unlock()

		remaining := deadline.Sub(m.now())
		if remaining <= 0 {
			return errors.ErrTaskBusy(path)
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.ErrTaskBusy(path).WithCause(ctx.Err())
		case <-released:
			timer.Stop()
		case <-timer.C:
			return errors.ErrTaskBusy(path)
		}
	}
}

// AcquireWithRetry wraps Acquire with bounded retries and a linear
// jittered backoff between attempts.
func (m *LockManager) AcquireWithRetry(ctx context.Context, path, holder string) error {
	var err error
	for attempt := 0; attempt < DefaultRetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := retryBackoffFloor + time.Duration(rand.Int63n(int64(retryBackoffSpread)))
			select {
			case <-ctx.Done():
				return errors.ErrTaskBusy(path).WithCause(ctx.Err())
			case <-time.After(backoff):
			}
		}
		if err = m.Acquire(ctx, path, holder); err == nil {
			return nil
		}
		if !errors.IsRetryable(err) {
			return err
		}
	}
	return err
}

// AcquireAll takes locks on every path in sorted order, which keeps two
// overlapping batch acquisitions from deadlocking each other. On any
// failure every lock taken so far is released.
func (m *LockManager) AcquireAll(ctx context.Context, paths []string, holder string) error {
	ordered := append([]string(nil), paths...)
	sort.Strings(ordered)

	taken := make([]string, 0, len(ordered))
	for _, p := range ordered {
		if err := m.Acquire(ctx, p, holder); err != nil {
			for _, t := range taken {
				m.Release(t, holder)
			}
			return err
		}
		taken = append(taken, p)
	}
	return nil
}

// Release drops the lock for path if holder owns it. Releasing a lock you
// do not hold is a no-op; the true holder keeps it.
func (m *LockManager) Release(path, holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.locks[path]
	if !ok || entry.holder != holder {
		return
	}
	close(entry.released)
	delete(m.locks, path)
}

// ReleaseAll drops every lock owned by holder.
func (m *LockManager) ReleaseAll(holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, entry := range m.locks {
		if entry.holder == holder {
			close(entry.released)
			delete(m.locks, path)
		}
	}
}

// SweepStale removes every lock held past its TTL and returns how many
// were broken.
func (m *LockManager) SweepStale() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	broken := 0
	for path, entry := range m.locks {
		if m.now().Sub(entry.acquired) > m.ttl {
			close(entry.released)
			delete(m.locks, path)
			broken++
		}
	}
	return broken
}

// Retries reports how many waiters have blocked on the lock for path
// since it was last acquired. Zero for an uncontended or unheld lock.
func (m *LockManager) Retries(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.locks[path]
	if !ok {
		return 0
	}
	return entry.retries
}

// Held reports whether any holder currently owns the lock for path.
func (m *LockManager) Held(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.locks[path]
	if !ok {
		return false
	}
	return m.now().Sub(entry.acquired) <= m.ttl
}
