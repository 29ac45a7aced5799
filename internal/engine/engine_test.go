package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/taskvine/taskvine/internal/errors"
	"github.com/taskvine/taskvine/internal/events"
	"github.com/taskvine/taskvine/internal/storage"
	"github.com/taskvine/taskvine/internal/task"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	backend, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	e := New(backend, Options{})
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func mustCreate(t *testing.T, e *Engine, in CreateInput) *task.Task {
	t.Helper()
	created, err := e.CreateTask(context.Background(), in)
	if err != nil {
		t.Fatalf("create %s: %v", in.Path, err)
	}
	return created
}

func mustStatus(t *testing.T, e *Engine, path string, s task.Status) *task.Task {
	t.Helper()
	updated, err := e.ChangeStatus(context.Background(), path, s, false)
	if err != nil {
		t.Fatalf("status %s -> %s: %v", path, s, err)
	}
	return updated
}

func statusOf(t *testing.T, e *Engine, path string) task.Status {
	t.Helper()
	got, err := e.GetTask(context.Background(), path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	return got.Status
}

func TestCreateTask(t *testing.T) {
	e := newTestEngine(t)

	created := mustCreate(t, e, CreateInput{Path: "proj", Name: "Project"})
	if created.Status != task.StatusPending || created.Type != task.TypeTask {
		t.Errorf("defaults not applied: %+v", created)
	}
	if created.Version != 2 {
		t.Errorf("stored version = %d, want 2", created.Version)
	}

	child := mustCreate(t, e, CreateInput{Path: "proj/api", Name: "API"})
	if child.ParentPath != "proj" {
		t.Errorf("parent path = %q", child.ParentPath)
	}

	parent, err := e.GetTask(context.Background(), "proj")
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if !parent.HasSubtask("proj/api") {
		t.Errorf("parent subtasks = %v", parent.Subtasks)
	}
}

func TestCreateTask_DuplicatePath(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, CreateInput{Path: "proj", Name: "Project"})

	_, err := e.CreateTask(context.Background(), CreateInput{Path: "proj", Name: "Again"})
	if !errors.HasCode(err, errors.CodeDuplicatePath) {
		t.Fatalf("err = %v, want DUPLICATE_PATH", err)
	}
}

func TestCreateTask_MissingParent(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.CreateTask(context.Background(), CreateInput{Path: "ghost/child", Name: "Child"})
	if !errors.HasCode(err, errors.CodeHierarchyInvalid) {
		t.Fatalf("err = %v, want HIERARCHY_INVALID", err)
	}
}

func TestCreateTask_MissingDependencyThenSuccess(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "proj", Name: "Project"})

	_, err := e.CreateTask(ctx, CreateInput{
		Path: "proj/b", Name: "B", Dependencies: []string{"proj/a"},
	})
	if !errors.HasCode(err, errors.CodeDependencyMissing) {
		t.Fatalf("err = %v, want DEPENDENCY_MISSING", err)
	}
	// The failed create must not leave a record behind.
	if _, err := e.GetTask(ctx, "proj/b"); !errors.HasCode(err, errors.CodeTaskNotFound) {
		t.Fatalf("failed create left a record: %v", err)
	}

	mustCreate(t, e, CreateInput{Path: "proj/a", Name: "A"})
	created := mustCreate(t, e, CreateInput{
		Path: "proj/b", Name: "B", Dependencies: []string{"proj/a"},
	})
	if !created.DependsOn("proj/a") {
		t.Errorf("dependencies = %v", created.Dependencies)
	}
}

func TestUpdateTask_CycleRejectionLeavesGraphUnchanged(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "a", Name: "A"})
	mustCreate(t, e, CreateInput{Path: "b", Name: "B", Dependencies: []string{"a"}})

	deps := []string{"b"}
	_, err := e.UpdateTask(ctx, "a", Updates{Dependencies: &deps})
	if !errors.HasCode(err, errors.CodeDependencyCycle) {
		t.Fatalf("err = %v, want DEPENDENCY_CYCLE", err)
	}

	a, err := e.GetTask(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(a.Dependencies) != 0 {
		t.Errorf("rejected edge landed: %v", a.Dependencies)
	}
}

func TestChangeStatus_CompletionGate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "a", Name: "A"})
	mustCreate(t, e, CreateInput{Path: "b", Name: "B", Dependencies: []string{"a"}})
	mustStatus(t, e, "b", task.StatusInProgress)

	_, err := e.ChangeStatus(ctx, "b", task.StatusCompleted, false)
	if !errors.HasCode(err, errors.CodeDependencyGate) {
		t.Fatalf("err = %v, want DEPENDENCY_GATE", err)
	}

	mustStatus(t, e, "a", task.StatusInProgress)
	mustStatus(t, e, "a", task.StatusCompleted)
	done := mustStatus(t, e, "b", task.StatusCompleted)
	if done.Status != task.StatusCompleted {
		t.Errorf("status = %s", done.Status)
	}
}

func TestChangeStatus_SubtaskGate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "proj", Name: "Project"})
	mustCreate(t, e, CreateInput{Path: "proj/a", Name: "A"})
	mustStatus(t, e, "proj", task.StatusInProgress)

	_, err := e.ChangeStatus(ctx, "proj", task.StatusCompleted, false)
	if !errors.HasCode(err, errors.CodeSubtaskGate) {
		t.Fatalf("err = %v, want SUBTASK_GATE", err)
	}
}

func TestChangeStatus_SubtaskGateOnlyFromInProgress(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "proj", Name: "Project"})
	mustCreate(t, e, CreateInput{Path: "proj/a", Name: "A"})

	// Completing a PENDING parent directly skips the open-subtask gate;
	// only IN_PROGRESS -> COMPLETED asserts the children are done.
	done, err := e.ChangeStatus(ctx, "proj", task.StatusCompleted, false)
	if err != nil {
		t.Fatalf("PENDING -> COMPLETED with open subtask: %v", err)
	}
	if done.Status != task.StatusCompleted {
		t.Errorf("status = %s", done.Status)
	}
}

func TestChangeStatus_FailedBlocksDependents(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, CreateInput{Path: "a", Name: "A"})
	mustCreate(t, e, CreateInput{Path: "b", Name: "B", Dependencies: []string{"a"}})
	mustCreate(t, e, CreateInput{Path: "c", Name: "C", Dependencies: []string{"a"}})
	mustStatus(t, e, "a", task.StatusInProgress)
	mustStatus(t, e, "b", task.StatusInProgress)

	mustStatus(t, e, "a", task.StatusFailed)

	if got := statusOf(t, e, "b"); got != task.StatusBlocked {
		t.Errorf("b = %s, want BLOCKED", got)
	}
	if got := statusOf(t, e, "c"); got != task.StatusBlocked {
		t.Errorf("c = %s, want BLOCKED", got)
	}
}

func TestChangeStatus_BlockedExitGate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "a", Name: "A"})
	mustCreate(t, e, CreateInput{Path: "b", Name: "B", Dependencies: []string{"a"}})
	mustStatus(t, e, "a", task.StatusFailed)

	if got := statusOf(t, e, "b"); got != task.StatusBlocked {
		t.Fatalf("b = %s, want BLOCKED", got)
	}

	// The failed dependency still blocks the exit to IN_PROGRESS.
	_, err := e.ChangeStatus(ctx, "b", task.StatusInProgress, false)
	if !errors.HasCode(err, errors.CodeDependencyGate) {
		t.Fatalf("err = %v, want DEPENDENCY_GATE", err)
	}

	mustStatus(t, e, "a", task.StatusInProgress)
	if _, err := e.ChangeStatus(ctx, "b", task.StatusInProgress, false); err != nil {
		t.Fatalf("exit from BLOCKED after recovery: %v", err)
	}
}

func TestChangeStatus_ParentRollup(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, CreateInput{Path: "proj", Name: "Project"})
	mustCreate(t, e, CreateInput{Path: "proj/a", Name: "A"})
	mustCreate(t, e, CreateInput{Path: "proj/b", Name: "B"})

	for _, p := range []string{"proj/a", "proj/b"} {
		mustStatus(t, e, p, task.StatusInProgress)
	}
	mustStatus(t, e, "proj/a", task.StatusCompleted)
	if got := statusOf(t, e, "proj"); got != task.StatusPending {
		t.Errorf("mixed children moved parent to %s", got)
	}

	mustStatus(t, e, "proj/b", task.StatusCompleted)
	if got := statusOf(t, e, "proj"); got != task.StatusCompleted {
		t.Errorf("unanimous children left parent at %s", got)
	}
}

func TestChangeStatus_BlockedCascadesToSubtree(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, CreateInput{Path: "proj", Name: "Project"})
	mustCreate(t, e, CreateInput{Path: "proj/a", Name: "A"})
	mustCreate(t, e, CreateInput{Path: "proj/a/x", Name: "X"})

	mustStatus(t, e, "proj", task.StatusBlocked)

	if got := statusOf(t, e, "proj/a"); got != task.StatusBlocked {
		t.Errorf("child = %s, want BLOCKED", got)
	}
	if got := statusOf(t, e, "proj/a/x"); got != task.StatusBlocked {
		t.Errorf("grandchild = %s, want BLOCKED", got)
	}
}

func TestChangeStatus_TerminalIdempotence(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "a", Name: "A"})
	mustStatus(t, e, "a", task.StatusInProgress)
	done := mustStatus(t, e, "a", task.StatusCompleted)

	again, err := e.ChangeStatus(ctx, "a", task.StatusCompleted, false)
	if err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if again.Version != done.Version {
		t.Errorf("no-op re-apply bumped version %d -> %d", done.Version, again.Version)
	}
}

func TestChangeStatus_BulkMode(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "a", Name: "A"})

	_, err := e.ChangeStatus(ctx, "a", task.StatusCompleted, false)
	if err != nil {
		t.Fatalf("PENDING -> COMPLETED should be legal non-bulk: %v", err)
	}

	mustCreate(t, e, CreateInput{Path: "b", Name: "B", Dependencies: []string{"a"}})
	mustCreate(t, e, CreateInput{Path: "c", Name: "C", Dependencies: []string{"b"}})

	// b not COMPLETED: bulk completion of c must still respect the gate.
	_, err = e.ChangeStatus(ctx, "c", task.StatusCompleted, true)
	if !errors.HasCode(err, errors.CodeDependencyGate) {
		t.Fatalf("err = %v, want DEPENDENCY_GATE", err)
	}

	if _, err := e.ChangeStatus(ctx, "b", task.StatusCompleted, true); err != nil {
		t.Fatalf("bulk complete b: %v", err)
	}
	if _, err := e.ChangeStatus(ctx, "c", task.StatusCompleted, true); err != nil {
		t.Fatalf("bulk complete c: %v", err)
	}

	// Bulk PENDING resets from a terminal state.
	if _, err := e.ChangeStatus(ctx, "c", task.StatusPending, true); err != nil {
		t.Fatalf("bulk reset: %v", err)
	}
	if got := statusOf(t, e, "c"); got != task.StatusPending {
		t.Errorf("c = %s after bulk reset", got)
	}
}

func TestUpdateTask_Fields(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	created := mustCreate(t, e, CreateInput{Path: "a", Name: "A"})

	name := "renamed"
	desc := "described"
	updated, err := e.UpdateTask(ctx, "a", Updates{Name: &name, Description: &desc})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "renamed" || updated.Description != "described" {
		t.Errorf("update lost fields: %+v", updated)
	}
	if updated.Version != created.Version+1 {
		t.Errorf("version = %d, want %d", updated.Version, created.Version+1)
	}
}

func TestUpdateTask_VersionConflict(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	created := mustCreate(t, e, CreateInput{Path: "a", Name: "A"})

	name := "first"
	if _, err := e.UpdateTask(ctx, "a", Updates{Name: &name, ExpectedVersion: created.Version}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	name2 := "second"
	_, err := e.UpdateTask(ctx, "a", Updates{Name: &name2, ExpectedVersion: created.Version})
	if !errors.HasCode(err, errors.CodeConcurrentModification) {
		t.Fatalf("err = %v, want CONCURRENT_MODIFICATION", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("version conflict should be retryable")
	}
}

func TestUpdateTask_ConcurrentSingleWinner(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	created := mustCreate(t, e, CreateInput{Path: "a", Name: "A"})

	var wg sync.WaitGroup
	outcomes := make([]error, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "winner"
			_, err := e.UpdateTask(ctx, "a", Updates{Name: &name, ExpectedVersion: created.Version})
			outcomes[i] = err
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range outcomes {
		if err == nil {
			winners++
			continue
		}
		if !errors.HasCode(err, errors.CodeConcurrentModification) && !errors.HasCode(err, errors.CodeTaskBusy) {
			t.Errorf("unexpected loser error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestDeleteTask_BlockStrategy(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "proj", Name: "Project"})
	mustCreate(t, e, CreateInput{Path: "proj/a", Name: "A"})

	res, err := e.DeleteTask(ctx, "proj", DeleteBlock)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(res.Blocked) != 1 || res.Blocked[0] != "proj" {
		t.Errorf("result = %+v, want blocked [proj]", res)
	}
	if len(res.Deleted) != 0 {
		t.Errorf("block strategy deleted %v", res.Deleted)
	}
	if _, err := e.GetTask(ctx, "proj"); err != nil {
		t.Errorf("blocked delete removed the task: %v", err)
	}
}

func TestDeleteTask_Cascade(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "proj", Name: "Project"})
	mustCreate(t, e, CreateInput{Path: "proj/a", Name: "A"})
	mustCreate(t, e, CreateInput{Path: "proj/a/x", Name: "X"})

	res, err := e.DeleteTask(ctx, "proj/a", DeleteCascade)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(res.Deleted) != 2 {
		t.Errorf("deleted = %v, want 2 paths", res.Deleted)
	}
	for _, p := range []string{"proj/a", "proj/a/x"} {
		if _, err := e.GetTask(ctx, p); !errors.HasCode(err, errors.CodeTaskNotFound) {
			t.Errorf("%s survived cascade: %v", p, err)
		}
	}
	parent, err := e.GetTask(ctx, "proj")
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if parent.HasSubtask("proj/a") {
		t.Errorf("parent still lists deleted child: %v", parent.Subtasks)
	}
}

func TestDeleteTask_CascadeBlocksDependents(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "a", Name: "A"})
	mustCreate(t, e, CreateInput{Path: "b", Name: "B", Dependencies: []string{"a"}})
	mustStatus(t, e, "b", task.StatusInProgress)

	res, err := e.DeleteTask(ctx, "a", DeleteCascade)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(res.Blocked) != 1 || res.Blocked[0] != "b" {
		t.Errorf("blocked = %v, want [b]", res.Blocked)
	}
	if got := statusOf(t, e, "b"); got != task.StatusBlocked {
		t.Errorf("b = %s, want BLOCKED", got)
	}
}

func TestDeleteTask_Orphan(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "proj", Name: "Project"})
	mustCreate(t, e, CreateInput{Path: "proj/a", Name: "A"})
	mustCreate(t, e, CreateInput{Path: "proj/a/x", Name: "X"})

	res, err := e.DeleteTask(ctx, "proj/a", DeleteOrphan)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(res.Deleted) != 1 || res.Deleted[0] != "proj/a" {
		t.Errorf("deleted = %v", res.Deleted)
	}
	if len(res.Orphaned) != 1 || res.Orphaned[0] != "proj/a/x" {
		t.Errorf("orphaned = %v", res.Orphaned)
	}

	detached, err := e.GetTask(ctx, "proj/a/x")
	if err != nil {
		t.Fatalf("orphaned child gone: %v", err)
	}
	if detached.ParentPath != "" {
		t.Errorf("child parent = %q, want detached", detached.ParentPath)
	}
	grandparent, err := e.GetTask(ctx, "proj")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if grandparent.HasSubtask("proj/a") {
		t.Errorf("grandparent still lists deleted child: %v", grandparent.Subtasks)
	}

	// A detached child must stay editable.
	name := "still editable"
	updated, err := e.UpdateTask(ctx, "proj/a/x", Updates{Name: &name})
	if err != nil {
		t.Fatalf("update after orphan delete: %v", err)
	}
	if updated.Name != name {
		t.Errorf("update lost the edit: %+v", updated)
	}
}

func TestValidateDependencies(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "a", Name: "A"})
	mustCreate(t, e, CreateInput{Path: "b", Name: "B", Dependencies: []string{"a"}})

	res, err := e.ValidateDependencies(ctx, "a", []string{"b", "ghost"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Valid {
		t.Error("cycle + missing should be invalid")
	}
	if len(res.Missing) != 1 || res.Missing[0] != "ghost" {
		t.Errorf("missing = %v", res.Missing)
	}
	if len(res.Cycles) != 1 {
		t.Errorf("cycles = %v", res.Cycles)
	}
}

func TestTransaction_StagedWritesInvisibleUntilCommit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id := e.BeginTransaction()
	if err := e.TxnSave(id, task.New("staged", "staged")); err != nil {
		t.Fatalf("txn save: %v", err)
	}

	if _, err := e.GetTask(ctx, "staged"); !errors.HasCode(err, errors.CodeTaskNotFound) {
		t.Fatalf("staged write visible before commit: %v", err)
	}

	if err := e.CommitTransaction(ctx, id); err != nil {
		t.Fatalf("commit: %v", err)
	}
	committed, err := e.GetTask(ctx, "staged")
	if err != nil {
		t.Fatalf("committed task missing: %v", err)
	}
	if committed.Version != 2 {
		t.Errorf("committed version = %d, want 2", committed.Version)
	}
}

func TestTransaction_RollbackLeavesStoreUntouched(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, e, CreateInput{Path: "keep", Name: "Keep"})

	id := e.BeginTransaction()
	if err := e.TxnSave(id, task.New("ghost", "ghost")); err != nil {
		t.Fatalf("txn save: %v", err)
	}
	if err := e.TxnDelete(id, "keep"); err != nil {
		t.Fatalf("txn delete: %v", err)
	}
	if err := e.RollbackTransaction(id); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if _, err := e.GetTask(ctx, "ghost"); !errors.HasCode(err, errors.CodeTaskNotFound) {
		t.Errorf("rolled-back save reached storage: %v", err)
	}
	if _, err := e.GetTask(ctx, "keep"); err != nil {
		t.Errorf("rolled-back delete reached storage: %v", err)
	}
}

func TestEngineEvents(t *testing.T) {
	backend, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	pub := events.NewMemoryPublisher()
	e := New(backend, Options{Publisher: pub})
	t.Cleanup(func() { _ = e.Close() })

	ch := pub.Subscribe(events.GlobalPath)
	mustCreate(t, e, CreateInput{Path: "a", Name: "A"})

	ev := <-ch
	if ev.Type != events.TypeCreated || ev.Path != "a" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Before != nil || ev.After == nil {
		t.Errorf("create event snapshots: before=%v after=%v", ev.Before, ev.After)
	}
}

func TestRepairRelationships_Passthrough(t *testing.T) {
	e := newTestEngine(t)

	report, err := e.RepairRelationships(context.Background(), true)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(report.Issues) != 0 {
		t.Errorf("fresh store has issues: %v", report.Issues)
	}
}
