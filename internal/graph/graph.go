// Package graph validates the task dependency relation: existence checks,
// cycle detection, and topological ordering.
package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/taskvine/taskvine/internal/errors"
	"github.com/taskvine/taskvine/internal/task"
)

// Lookup resolves a task path to its record. A (nil, nil) return means the
// path does not exist; errors are reserved for storage failures.
type Lookup func(ctx context.Context, path string) (*task.Task, error)

// Default thresholds above which Validate attaches a performance warning.
const (
	DefaultDepthWarn   = 10
	DefaultBreadthWarn = 50
)

// ValidationResult reports everything wrong (or notable) about a proposed
// dependency set. Missing paths and cycles are each reported exhaustively,
// not just the first failure.
type ValidationResult struct {
	Valid    bool       `json:"valid"`
	Missing  []string   `json:"missing,omitempty"`
	Cycles   [][]string `json:"cycles,omitempty"`
	Depth    int        `json:"depth"`
	Breadth  int        `json:"breadth"`
	Warnings []string   `json:"warnings,omitempty"`
}

// Validator checks proposed dependency edges against the existing graph.
type Validator struct {
	depthWarn   int
	breadthWarn int
}

// NewValidator creates a validator with the given warning thresholds.
// Non-positive thresholds fall back to the defaults.
func NewValidator(depthWarn, breadthWarn int) *Validator {
	if depthWarn <= 0 {
		depthWarn = DefaultDepthWarn
	}
	if breadthWarn <= 0 {
		breadthWarn = DefaultBreadthWarn
	}
	return &Validator{depthWarn: depthWarn, breadthWarn: breadthWarn}
}

// Validate checks that every proposed dependency of path resolves via lookup
// and that no proposed edge closes a cycle. Depth/breadth metrics describe
// the resulting graph; exceeding a threshold adds a warning, never an error.
func (v *Validator) Validate(ctx context.Context, path string, proposed []string, lookup Lookup) (*ValidationResult, error) {
	res := &ValidationResult{Valid: true}

	deduped := dedupe(proposed)
	res.Breadth = len(deduped)

	for _, dep := range deduped {
		if dep == path {
			res.Valid = false
			res.Cycles = append(res.Cycles, []string{path, path})
			continue
		}
		t, err := lookup(ctx, dep)
		if err != nil {
			return nil, fmt.Errorf("resolve dependency %q: %w", dep, err)
		}
		if t == nil {
			res.Valid = false
			res.Missing = append(res.Missing, dep)
			continue
		}

		// A cycle exists iff the dependency can already reach path.
		chain, depth, err := v.search(ctx, dep, path, lookup)
		if err != nil {
			return nil, err
		}
		if chain != nil {
			res.Valid = false
			res.Cycles = append(res.Cycles, append([]string{path}, chain...))
		}
		if depth+1 > res.Depth {
			res.Depth = depth + 1
		}
	}
	sort.Strings(res.Missing)

	if res.Depth > v.depthWarn {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("dependency chain depth %d exceeds %d; operations on this task will touch long chains", res.Depth, v.depthWarn))
	}
	if res.Breadth > v.breadthWarn {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("dependency count %d exceeds %d; status propagation will fan out widely", res.Breadth, v.breadthWarn))
	}
	return res, nil
}

// search walks the existing dependency edges from start. It returns the
// chain start..target if target is reachable, and the longest chain length
// explored either way.
func (v *Validator) search(ctx context.Context, start, target string, lookup Lookup) ([]string, int, error) {
	visited := make(map[string]bool)
	var chain []string
	maxDepth := 0

	var walk func(path string, depth int, trail []string) (bool, error)
	walk = func(path string, depth int, trail []string) (bool, error) {
		if depth > maxDepth {
			maxDepth = depth
		}
		if path == target {
			chain = append(append([]string(nil), trail...), path)
			return true, nil
		}
		if visited[path] {
			return false, nil
		}
		visited[path] = true

		t, err := lookup(ctx, path)
		if err != nil {
			return false, fmt.Errorf("resolve %q: %w", path, err)
		}
		if t == nil {
			return false, nil
		}
		for _, dep := range t.Dependencies {
			found, err := walk(dep, depth+1, append(trail, path))
			if err != nil || found {
				return found, err
			}
		}
		return false, nil
	}

	found, err := walk(start, 0, nil)
	if err != nil {
		return nil, 0, err
	}
	if !found {
		chain = nil
	}
	return chain, maxDepth, nil
}

// SortByDependencies returns the task paths in dependency order using
// Kahn's algorithm: a task appears after everything it depends on. Edges to
// tasks outside the given set are ignored. If the subgraph is not a DAG the
// sort fails with a DEPENDENCY_CYCLE error and produces no partial output.
func SortByDependencies(tasks []*task.Task) ([]string, error) {
	inSet := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		inSet[t.Path] = t
	}

	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		indegree[t.Path] += 0
		for _, dep := range t.Dependencies {
			if _, ok := inSet[dep]; !ok {
				continue
			}
			indegree[t.Path]++
			dependents[dep] = append(dependents[dep], t.Path)
		}
	}

	// Deterministic output: seed and drain the ready set in path order.
	var ready []string
	for path, deg := range indegree {
		if deg == 0 {
			ready = append(ready, path)
		}
	}
	sort.Strings(ready)

	ordered := make([]string, 0, len(tasks))
	for len(ready) > 0 {
		path := ready[0]
		ready = ready[1:]
		ordered = append(ordered, path)

		next := append([]string(nil), dependents[path]...)
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
	}

	if len(ordered) != len(tasks) {
		var stuck []string
		for path, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, path)
			}
		}
		sort.Strings(stuck)
		cycle := findCycle(stuck, inSet)
		return nil, errors.ErrDependencyCycle(cycle[0], cycle)
	}
	return ordered, nil
}

// findCycle names one concrete cycle among nodes known to sit on cycles.
func findCycle(stuck []string, tasks map[string]*task.Task) []string {
	stuckSet := make(map[string]bool, len(stuck))
	for _, p := range stuck {
		stuckSet[p] = true
	}

	// Every stuck node has an in-set dependency that is also stuck; follow
	// those edges until a node repeats.
	seen := make(map[string]int)
	var trail []string
	cur := stuck[0]
	for {
		if at, ok := seen[cur]; ok {
			return append(trail[at:], cur)
		}
		seen[cur] = len(trail)
		trail = append(trail, cur)

		next := ""
		for _, dep := range tasks[cur].Dependencies {
			if stuckSet[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			// Should not happen for genuinely stuck nodes.
			return append(trail, trail[0])
		}
		cur = next
	}
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
