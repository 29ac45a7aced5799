package engine

import (
	"context"

	"github.com/taskvine/taskvine/internal/errors"
	"github.com/taskvine/taskvine/internal/events"
	"github.com/taskvine/taskvine/internal/status"
	"github.com/taskvine/taskvine/internal/task"
)

// Updates describes a partial task edit. Nil fields are left untouched.
// ExpectedVersion, when positive, makes the update conditional: if the
// stored version differs the update fails with retryable
// CONCURRENT_MODIFICATION and the caller re-reads and retries.
type Updates struct {
	Name            *string
	Description     *string
	Type            *task.Type
	Status          *task.Status
	BulkStatus      bool
	Dependencies    *[]string
	Metadata        *map[string]any
	AddNote         *task.Note
	ExpectedVersion int64
}

func (u Updates) empty() bool {
	return u.Name == nil && u.Description == nil && u.Type == nil &&
		u.Status == nil && u.Dependencies == nil && u.Metadata == nil && u.AddNote == nil
}

// UpdateTask applies a partial edit to the task at path. Field changes,
// dependency rewires, and a status change all land in the same atomic
// batch, with status propagation included. The stored version increases
// by one per successful update.
func (e *Engine) UpdateTask(ctx context.Context, path string, u Updates) (*task.Task, error) {
	h := holder("update")
	if err := e.locks.AcquireWithRetry(ctx, path, h); err != nil {
		return nil, err
	}
	defer e.locks.ReleaseAll(h)

	before, err := e.store.GetTask(ctx, path)
	if err != nil {
		return nil, err
	}
	if u.ExpectedVersion > 0 && before.Version != u.ExpectedVersion {
		return nil, errors.ErrConcurrentModification(path, u.ExpectedVersion, before.Version)
	}
	if u.empty() {
		return before, nil
	}

	next := before.Clone()
	if u.Name != nil {
		next.Name = *u.Name
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.Type != nil {
		next.Type = *u.Type
	}
	if u.Metadata != nil {
		next.Metadata = *u.Metadata
	}
	if u.AddNote != nil {
		next.Notes = append(next.Notes, *u.AddNote)
	}
	if u.Dependencies != nil {
		next.Dependencies = append([]string(nil), (*u.Dependencies)...)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if u.Dependencies != nil {
		res, err := e.validator.Validate(ctx, path, next.Dependencies, e.lookup)
		if err != nil {
			return nil, err
		}
		if len(res.Missing) > 0 {
			return nil, errors.ErrDependencyMissing(path, res.Missing)
		}
		if len(res.Cycles) > 0 {
			return nil, errors.ErrDependencyCycle(path, res.Cycles[0])
		}
		for _, w := range res.Warnings {
			e.log.Warn("dependency graph warning", "path", path, "warning", w)
		}
	}

	// A status edit rides the same batch as the field edits, closure
	// included. The closure is computed against the stored state; only the
	// seed's entry needs the edited fields.
	var changes []status.Change
	if u.Status != nil && *u.Status != before.Status {
		if !task.IsValidStatus(*u.Status) {
			return nil, errors.ErrValidation("status", "unknown status "+string(*u.Status))
		}
		changes, err = e.computeStatusChange(ctx, before, *u.Status, u.BulkStatus)
		if err != nil {
			return nil, err
		}
	}

	if len(changes) > 0 {
		next.Status = changes[0].To
		rest := changes[1:]

		var extra []string
		for _, c := range rest {
			extra = append(extra, c.Path)
		}
		if err := e.locks.AcquireAll(ctx, extra, h); err != nil {
			return nil, err
		}
		loaded, err := e.store.GetTasks(ctx, changePaths(rest))
		if err != nil {
			return nil, err
		}

		type snapshot struct{ before, after *task.Task }
		applied := make([]snapshot, 0, len(rest))

		batch := e.store.NewBatch()
		batch.Save(next)
		for _, c := range rest {
			cur, ok := loaded[c.Path]
			if !ok {
				return nil, errors.ErrTaskNotFound(c.Path)
			}
			propagated := cur.Clone()
			propagated.Status = c.To
			batch.Save(propagated)
			applied = append(applied, snapshot{before: cur, after: propagated})
		}
		if err := batch.Commit(ctx); err != nil {
			return nil, err
		}
		for _, s := range applied {
			e.emit(events.TypeStatusChanged, s.after.Path, s.before, s.after)
		}
	} else {
		if err := e.store.SaveTask(ctx, next); err != nil {
			return nil, err
		}
	}

	updated, err := e.store.GetTask(ctx, path)
	if err != nil {
		return nil, err
	}
	e.log.Info("task updated", "path", path, "version", updated.Version)
	e.emit(events.TypeUpdated, path, before, updated)
	if u.Status != nil && updated.Status != before.Status {
		e.emit(events.TypeStatusChanged, path, before, updated)
	}
	return updated, nil
}
