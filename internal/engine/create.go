package engine

import (
	"context"

	"github.com/taskvine/taskvine/internal/errors"
	"github.com/taskvine/taskvine/internal/events"
	"github.com/taskvine/taskvine/internal/task"
)

// CreateInput describes a task to create.
type CreateInput struct {
	Path         string
	Name         string
	Description  string
	Type         task.Type
	Dependencies []string
	Metadata     map[string]any
}

// CreateTask validates and persists a new task. The path must be unique,
// its parent (when the path is nested) must exist, every dependency must
// resolve, and the proposed edges must not close a cycle. The parent's
// subtask list is updated in the same batch.
func (e *Engine) CreateTask(ctx context.Context, in CreateInput) (*task.Task, error) {
	t := task.New(in.Path, in.Name)
	t.Description = in.Description
	if in.Type != "" {
		t.Type = in.Type
	}
	t.Dependencies = append([]string(nil), in.Dependencies...)
	t.Metadata = in.Metadata
	if err := t.Validate(); err != nil {
		return nil, err
	}

	h := holder("create")
	if err := e.locks.AcquireWithRetry(ctx, t.Path, h); err != nil {
		return nil, err
	}
	defer e.locks.ReleaseAll(h)

	if _, err := e.store.GetTask(ctx, t.Path); err == nil {
		return nil, errors.ErrDuplicatePath(t.Path)
	} else if !errors.HasCode(err, errors.CodeTaskNotFound) {
		return nil, err
	}

	var parent *task.Task
	if t.ParentPath != "" {
		if err := e.locks.Acquire(ctx, t.ParentPath, h); err != nil {
			return nil, err
		}
		p, err := e.store.GetTask(ctx, t.ParentPath)
		if errors.HasCode(err, errors.CodeTaskNotFound) {
			return nil, errors.ErrMissingParent(t.Path, t.ParentPath)
		}
		if err != nil {
			return nil, err
		}
		parent = p
	}

	if len(t.Dependencies) > 0 {
		res, err := e.validator.Validate(ctx, t.Path, t.Dependencies, e.lookup)
		if err != nil {
			return nil, err
		}
		if len(res.Missing) > 0 {
			return nil, errors.ErrDependencyMissing(t.Path, res.Missing)
		}
		if len(res.Cycles) > 0 {
			return nil, errors.ErrDependencyCycle(t.Path, res.Cycles[0])
		}
		for _, w := range res.Warnings {
			e.log.Warn("dependency graph warning", "path", t.Path, "warning", w)
		}
	}

	batch := e.store.NewBatch()
	batch.Save(t)
	if parent != nil {
		parent.AddSubtask(t.Path)
		batch.Save(parent)
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, err
	}

	created, err := e.store.GetTask(ctx, t.Path)
	if err != nil {
		return nil, err
	}
	e.log.Info("task created", "path", created.Path, "type", created.Type)
	e.emit(events.TypeCreated, created.Path, nil, created)
	return created, nil
}
