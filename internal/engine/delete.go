package engine

import (
	"context"
	"sort"

	"github.com/taskvine/taskvine/internal/errors"
	"github.com/taskvine/taskvine/internal/events"
	"github.com/taskvine/taskvine/internal/task"
)

// DeleteStrategy selects how a delete treats the task's subtasks.
type DeleteStrategy string

const (
	// DeleteCascade removes the task and its entire subtree.
	DeleteCascade DeleteStrategy = "cascade"
	// DeleteOrphan removes only the task, detaching its children. A child
	// keeps its path but loses its parent link; reattaching it elsewhere
	// would break the rule that a parent is the path minus one segment.
	DeleteOrphan DeleteStrategy = "orphan"
	// DeleteBlock refuses to remove a task that still has subtasks.
	DeleteBlock DeleteStrategy = "block"
)

// ParseDeleteStrategy validates a strategy name.
func ParseDeleteStrategy(s string) (DeleteStrategy, error) {
	switch DeleteStrategy(s) {
	case DeleteCascade, DeleteOrphan, DeleteBlock:
		return DeleteStrategy(s), nil
	case "":
		return DeleteBlock, nil
	}
	return "", errors.ErrValidation("strategy", "unknown delete strategy "+s)
}

// DeleteResult reports what a delete did: which paths were removed, which
// children were detached, and which tasks are now blocked, either
// because the delete was refused (strategy block) or because they
// depended on a removed task.
type DeleteResult struct {
	Deleted  []string `json:"deleted,omitempty"`
	Orphaned []string `json:"orphaned,omitempty"`
	Blocked  []string `json:"blocked,omitempty"`
}

// DeleteTask removes the task at path according to the strategy. Surviving
// tasks that depended on a removed path are moved to BLOCKED in the same
// batch. With strategy block and existing subtasks, nothing is removed and
// the result carries the path under Blocked.
func (e *Engine) DeleteTask(ctx context.Context, path string, strategy DeleteStrategy) (*DeleteResult, error) {
	if _, err := ParseDeleteStrategy(string(strategy)); err != nil {
		return nil, err
	}

	h := holder("delete")
	if err := e.locks.AcquireWithRetry(ctx, path, h); err != nil {
		return nil, err
	}
	defer e.locks.ReleaseAll(h)

	t, err := e.store.GetTask(ctx, path)
	if err != nil {
		return nil, err
	}

	children, err := e.store.GetSubtasks(ctx, path)
	if err != nil {
		return nil, err
	}

	if strategy == DeleteBlock && len(children) > 0 {
		return &DeleteResult{Blocked: []string{path}}, nil
	}

	// Work out the removal set.
	var doomed []*task.Task
	switch {
	case strategy == DeleteCascade:
		subtree, err := e.store.GetSubtree(ctx, path, 0)
		if err != nil {
			return nil, err
		}
		doomed = subtree
	default:
		doomed = []*task.Task{t}
	}

	doomedPaths := make([]string, len(doomed))
	doomedSet := make(map[string]bool, len(doomed))
	for i, d := range doomed {
		doomedPaths[i] = d.Path
		doomedSet[d.Path] = true
	}
	var toLock []string
	for _, p := range doomedPaths {
		if p != path {
			toLock = append(toLock, p)
		}
	}
	if err := e.locks.AcquireAll(ctx, toLock, h); err != nil {
		return nil, err
	}

	result := &DeleteResult{Deleted: doomedPaths}
	batch := e.store.NewBatch()

	// Orphan: detach surviving children. Their paths are their identity and
	// cannot move, and no other task qualifies as an immediate parent, so
	// the parent link is cleared.
	if strategy == DeleteOrphan {
		if err := e.locks.AcquireAll(ctx, subtaskPaths(children), h); err != nil {
			return nil, err
		}
		for _, c := range children {
			detached := c.Clone()
			detached.ParentPath = ""
			batch.Save(detached)
			result.Orphaned = append(result.Orphaned, c.Path)
		}
	}
	if t.ParentPath != "" {
		if err := e.locks.Acquire(ctx, t.ParentPath, h); err != nil {
			return nil, err
		}
		parent, err := e.store.GetTask(ctx, t.ParentPath)
		if err == nil {
			edited := parent.Clone()
			edited.RemoveSubtask(path)
			batch.Save(edited)
		} else if !errors.HasCode(err, errors.CodeTaskNotFound) {
			return nil, err
		}
	}

	// Surviving dependents of any removed task lose a dependency and
	// become BLOCKED.
	blocked := make(map[string]*task.Task)
	for _, p := range doomedPaths {
		dependents, err := e.store.Dependents(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, dep := range dependents {
			if doomedSet[dep] || blocked[dep] != nil {
				continue
			}
			if err := e.locks.Acquire(ctx, dep, h); err != nil {
				return nil, err
			}
			d, err := e.store.GetTask(ctx, dep)
			if err != nil {
				return nil, err
			}
			if d.Status == task.StatusBlocked || d.Status == task.StatusFailed || d.Status == task.StatusCompleted {
				continue
			}
			stalled := d.Clone()
			stalled.Status = task.StatusBlocked
			blocked[dep] = stalled
			batch.Save(stalled)
		}
	}
	for p := range blocked {
		result.Blocked = append(result.Blocked, p)
	}
	sort.Strings(result.Blocked)

	for _, p := range doomedPaths {
		batch.Delete(p)
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, err
	}

	for _, d := range doomed {
		e.emit(events.TypeDeleted, d.Path, d, nil)
	}
	e.log.Info("task deleted", "path", path, "strategy", strategy,
		"removed", len(result.Deleted), "orphaned", len(result.Orphaned), "blocked", len(result.Blocked))
	return result, nil
}

func subtaskPaths(tasks []*task.Task) []string {
	paths := make([]string, len(tasks))
	for i, t := range tasks {
		paths[i] = t.Path
	}
	return paths
}
