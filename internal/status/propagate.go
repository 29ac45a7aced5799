// Package status computes the cascading side effects of a status change:
// blocking dependents, rolling status up to parents, and cascading BLOCKED
// down to subtasks. The closure is deterministic so two computations over
// the same state produce the same ordered change list.
package status

import (
	"context"
	"fmt"
	"sort"

	"github.com/taskvine/taskvine/internal/task"
)

// Source resolves the graph neighborhood of a task. Get returns (nil, nil)
// for a missing path.
type Source interface {
	Get(ctx context.Context, path string) (*task.Task, error)
	Dependents(ctx context.Context, path string) ([]string, error)
	Children(ctx context.Context, parentPath string) ([]*task.Task, error)
}

// Change is one status mutation in a propagation closure.
type Change struct {
	Path string      `json:"path"`
	From task.Status `json:"from"`
	To   task.Status `json:"to"`
}

// Propagator computes propagation closures against a Source.
type Propagator struct {
	src Source
}

// NewPropagator creates a propagator over the given source.
func NewPropagator(src Source) *Propagator {
	return &Propagator{src: src}
}

// Closure returns the ordered list of status changes triggered by moving
// seed to newStatus, seed's own change first. Order is fixed: dependents,
// then parent rollup (recursing upward only on actual change), then the
// BLOCKED cascade to subtasks. Re-applying a state a task already holds
// produces no entry, which makes terminal re-application idempotent.
func (p *Propagator) Closure(ctx context.Context, seed *task.Task, newStatus task.Status) ([]Change, error) {
	var changes []Change
	// effective tracks pending statuses so later steps observe earlier ones.
	effective := map[string]task.Status{seed.Path: seed.Status}

	record := func(path string, from, to task.Status) {
		if from == to {
			return
		}
		effective[path] = to
		changes = append(changes, Change{Path: path, From: from, To: to})
	}

	record(seed.Path, seed.Status, newStatus)

	// 1. Dependents become BLOCKED when the task fails or un-completes.
	failing := newStatus == task.StatusFailed
	uncompleting := seed.Status == task.StatusCompleted && newStatus != task.StatusCompleted
	if failing || uncompleting {
		if err := p.blockDependents(ctx, seed.Path, effective, record); err != nil {
			return nil, err
		}
	}

	// 2. Parent rollup, recursing upward while the parent actually changes.
	if err := p.rollUp(ctx, seed.ParentPath, effective, record); err != nil {
		return nil, err
	}

	// 3. BLOCKED cascades down the subtree.
	if newStatus == task.StatusBlocked {
		if err := p.blockSubtree(ctx, seed.Path, effective, record); err != nil {
			return nil, err
		}
	}

	return changes, nil
}

func (p *Propagator) blockDependents(ctx context.Context, path string, effective map[string]task.Status, record func(string, task.Status, task.Status)) error {
	dependents, err := p.src.Dependents(ctx, path)
	if err != nil {
		return fmt.Errorf("resolve dependents of %q: %w", path, err)
	}
	sort.Strings(dependents)

	for _, dep := range dependents {
		cur, err := p.statusOf(ctx, dep, effective)
		if err != nil {
			return err
		}
		if cur == task.StatusFailed || cur == task.StatusBlocked {
			continue
		}
		record(dep, cur, task.StatusBlocked)
	}
	return nil
}

// rollUp recomputes a parent's status from its full child set. The parent
// only moves when the children are unanimous; mixed states leave it alone.
func (p *Propagator) rollUp(ctx context.Context, parentPath string, effective map[string]task.Status, record func(string, task.Status, task.Status)) error {
	for parentPath != "" {
		parent, err := p.src.Get(ctx, parentPath)
		if err != nil {
			return fmt.Errorf("resolve parent %q: %w", parentPath, err)
		}
		if parent == nil {
			return nil
		}

		children, err := p.src.Children(ctx, parentPath)
		if err != nil {
			return fmt.Errorf("resolve children of %q: %w", parentPath, err)
		}
		if len(children) == 0 {
			return nil
		}

		statuses := make([]task.Status, 0, len(children))
		for _, c := range children {
			cur := c.Status
			if pending, ok := effective[c.Path]; ok {
				cur = pending
			}
			statuses = append(statuses, cur)
		}

		cur, err := p.statusOf(ctx, parentPath, effective)
		if err != nil {
			return err
		}

		next := cur
		switch {
		case allAre(statuses, task.StatusCompleted):
			next = task.StatusCompleted
		case allAre(statuses, task.StatusFailed):
			next = task.StatusFailed
		case allAre(statuses, task.StatusBlocked):
			next = task.StatusBlocked
		}
		if next == cur {
			return nil
		}
		record(parentPath, cur, next)
		parentPath = parent.ParentPath
	}
	return nil
}

func (p *Propagator) blockSubtree(ctx context.Context, path string, effective map[string]task.Status, record func(string, task.Status, task.Status)) error {
	children, err := p.src.Children(ctx, path)
	if err != nil {
		return fmt.Errorf("resolve children of %q: %w", path, err)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })

	for _, c := range children {
		cur := c.Status
		if pending, ok := effective[c.Path]; ok {
			cur = pending
		}
		if cur != task.StatusBlocked {
			record(c.Path, cur, task.StatusBlocked)
		}
		if err := p.blockSubtree(ctx, c.Path, effective, record); err != nil {
			return err
		}
	}
	return nil
}

func (p *Propagator) statusOf(ctx context.Context, path string, effective map[string]task.Status) (task.Status, error) {
	if s, ok := effective[path]; ok {
		return s, nil
	}
	t, err := p.src.Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	if t == nil {
		return "", fmt.Errorf("task %q vanished during propagation", path)
	}
	return t.Status, nil
}

func allAre(statuses []task.Status, want task.Status) bool {
	for _, s := range statuses {
		if s != want {
			return false
		}
	}
	return true
}

// IsBlocked reports whether t is effectively blocked by its dependencies:
// false for COMPLETED/FAILED tasks, otherwise true iff any dependency is
// missing or FAILED. Open (PENDING/IN_PROGRESS) dependencies do not block
// parallel work.
func IsBlocked(ctx context.Context, t *task.Task, get Lookup) (bool, error) {
	if t.Status == task.StatusCompleted || t.Status == task.StatusFailed {
		return false, nil
	}
	for _, dep := range t.Dependencies {
		d, err := get(ctx, dep)
		if err != nil {
			return false, fmt.Errorf("resolve dependency %q: %w", dep, err)
		}
		if d == nil || d.Status == task.StatusFailed {
			return true, nil
		}
	}
	return false, nil
}

// Lookup resolves a path to a task; (nil, nil) means missing.
type Lookup func(ctx context.Context, path string) (*task.Task, error)

// IncompleteDependencies returns the dependencies of t that are not
// COMPLETED (missing paths included). Used as the gate for completing a
// task in either mode.
func IncompleteDependencies(ctx context.Context, t *task.Task, get Lookup) ([]string, error) {
	var incomplete []string
	for _, dep := range t.Dependencies {
		d, err := get(ctx, dep)
		if err != nil {
			return nil, fmt.Errorf("resolve dependency %q: %w", dep, err)
		}
		if d == nil || d.Status != task.StatusCompleted {
			incomplete = append(incomplete, dep)
		}
	}
	sort.Strings(incomplete)
	return incomplete, nil
}

// UnsatisfiedDependencies returns the dependencies of t that are missing or
// FAILED. Used as the gate for leaving BLOCKED.
func UnsatisfiedDependencies(ctx context.Context, t *task.Task, get Lookup) ([]string, error) {
	var unsatisfied []string
	for _, dep := range t.Dependencies {
		d, err := get(ctx, dep)
		if err != nil {
			return nil, fmt.Errorf("resolve dependency %q: %w", dep, err)
		}
		if d == nil || d.Status == task.StatusFailed {
			unsatisfied = append(unsatisfied, dep)
		}
	}
	sort.Strings(unsatisfied)
	return unsatisfied, nil
}

// IncompleteSubtasks returns the subtasks of t that are not COMPLETED.
// Used as the gate for the non-bulk IN_PROGRESS -> COMPLETED transition.
func IncompleteSubtasks(ctx context.Context, src Source, t *task.Task) ([]string, error) {
	children, err := src.Children(ctx, t.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve children of %q: %w", t.Path, err)
	}
	var incomplete []string
	for _, c := range children {
		if c.Status != task.StatusCompleted {
			incomplete = append(incomplete, c.Path)
		}
	}
	sort.Strings(incomplete)
	return incomplete, nil
}
