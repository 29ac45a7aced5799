package engine

import (
	"context"

	"github.com/taskvine/taskvine/internal/errors"
	"github.com/taskvine/taskvine/internal/events"
	"github.com/taskvine/taskvine/internal/status"
	"github.com/taskvine/taskvine/internal/task"
)

// ChangeStatus moves the task at path to newStatus and applies the full
// propagation closure (blocked dependents, parent rollup, BLOCKED subtask
// cascade) atomically in one batch. bulk relaxes the transition table for
// batch resets: COMPLETED becomes reachable from any state provided all
// dependencies are COMPLETED, and PENDING from any state.
func (e *Engine) ChangeStatus(ctx context.Context, path string, newStatus task.Status, bulk bool) (*task.Task, error) {
	if !task.IsValidStatus(newStatus) {
		return nil, errors.ErrValidation("status", "unknown status "+string(newStatus))
	}

	h := holder("status")
	if err := e.locks.AcquireWithRetry(ctx, path, h); err != nil {
		return nil, err
	}
	defer e.locks.ReleaseAll(h)

	t, err := e.store.GetTask(ctx, path)
	if err != nil {
		return nil, err
	}
	if t.Status == newStatus {
		// Re-applying the current status is a no-op.
		return t, nil
	}

	changes, err := e.computeStatusChange(ctx, t, newStatus, bulk)
	if err != nil {
		return nil, err
	}

	if err := e.applyChanges(ctx, h, t, changes); err != nil {
		return nil, err
	}

	updated, err := e.store.GetTask(ctx, path)
	if err != nil {
		return nil, err
	}
	e.log.Info("status changed", "path", path, "from", t.Status, "to", newStatus, "propagated", len(changes)-1)
	return updated, nil
}

// computeStatusChange gate-checks the seed transition and returns the full
// ordered closure.
func (e *Engine) computeStatusChange(ctx context.Context, t *task.Task, newStatus task.Status, bulk bool) ([]status.Change, error) {
	if err := e.checkGates(ctx, t, newStatus, bulk); err != nil {
		return nil, err
	}
	return e.propagator.Closure(ctx, t, newStatus)
}

// checkGates enforces the transition table and the dependency/subtask
// gates for one task.
func (e *Engine) checkGates(ctx context.Context, t *task.Task, newStatus task.Status, bulk bool) error {
	allowed := task.CanTransition(t.Status, newStatus)
	if bulk {
		allowed = task.CanTransitionBulk(t.Status, newStatus)
	}
	if !allowed {
		return errors.ErrStatusTransition(t.Path, string(t.Status), string(newStatus))
	}

	if newStatus == task.StatusCompleted {
		// Dependencies gate completion in both modes.
		incomplete, err := status.IncompleteDependencies(ctx, t, e.lookup)
		if err != nil {
			return err
		}
		if len(incomplete) > 0 {
			return errors.ErrDependencyGate(t.Path, incomplete)
		}
		// Open subtasks gate only the IN_PROGRESS path to COMPLETED. A
		// PENDING task completed directly never claimed its children were
		// being worked, and bulk resets skip the gate entirely.
		if !bulk && t.Status == task.StatusInProgress {
			open, err := status.IncompleteSubtasks(ctx, &backendSource{store: e.store}, t)
			if err != nil {
				return err
			}
			if len(open) > 0 {
				return errors.ErrSubtaskGate(t.Path, open)
			}
		}
	}

	if t.Status == task.StatusBlocked && newStatus == task.StatusInProgress {
		unsatisfied, err := status.UnsatisfiedDependencies(ctx, t, e.lookup)
		if err != nil {
			return err
		}
		if len(unsatisfied) > 0 {
			return errors.ErrDependencyGate(t.Path, unsatisfied)
		}
	}
	return nil
}

// applyChanges locks every propagated path, writes the whole closure in
// one batch, and emits one status_changed event per mutation. The seed's
// lock is assumed held by h already.
func (e *Engine) applyChanges(ctx context.Context, h string, seed *task.Task, changes []status.Change) error {
	if len(changes) == 0 {
		return nil
	}

	var extra []string
	for _, c := range changes {
		if c.Path != seed.Path {
			extra = append(extra, c.Path)
		}
	}
	if err := e.locks.AcquireAll(ctx, extra, h); err != nil {
		return err
	}

	loaded, err := e.store.GetTasks(ctx, changePaths(changes))
	if err != nil {
		return err
	}

	type snapshot struct{ before, after *task.Task }
	applied := make([]snapshot, 0, len(changes))

	batch := e.store.NewBatch()
	for _, c := range changes {
		cur, ok := loaded[c.Path]
		if !ok {
			return errors.ErrTaskNotFound(c.Path)
		}
		next := cur.Clone()
		next.Status = c.To
		batch.Save(next)
		applied = append(applied, snapshot{before: cur, after: next})
	}
	if err := batch.Commit(ctx); err != nil {
		return err
	}

	for _, s := range applied {
		e.emit(events.TypeStatusChanged, s.after.Path, s.before, s.after)
	}
	return nil
}

func changePaths(changes []status.Change) []string {
	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.Path
	}
	return paths
}
