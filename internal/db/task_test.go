package db

import (
	"context"
	"testing"
	"time"

	"github.com/taskvine/taskvine/internal/errors"
	"github.com/taskvine/taskvine/internal/task"
)

func testStore(t *testing.T) *TaskStore {
	t.Helper()
	return NewTaskStore(openTestDB(t), nil)
}

func mustSave(t *testing.T, s *TaskStore, tasks ...*task.Task) {
	t.Helper()
	if err := s.SaveTasks(context.Background(), tasks); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestSaveAndGetTask(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := task.New("proj/api", "API work")
	in.Description = "Build the API"
	in.Dependencies = []string{"proj/schema"}
	in.Metadata = map[string]any{"owner": "backend", "estimate": float64(3)}
	in.Notes = []task.Note{{Type: task.NotePlanning, Content: "start here", CreatedAt: time.Now().UTC()}}
	in.Checksum = in.ComputeChecksum()
	mustSave(t, s, in)

	out, err := s.GetTask(ctx, "proj/api")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Name != "API work" || out.Description != "Build the API" {
		t.Errorf("round trip lost fields: %+v", out)
	}
	if out.ParentPath != "proj" {
		t.Errorf("parent_path = %q, want proj", out.ParentPath)
	}
	if len(out.Dependencies) != 1 || out.Dependencies[0] != "proj/schema" {
		t.Errorf("dependencies = %v", out.Dependencies)
	}
	if out.Metadata["owner"] != "backend" {
		t.Errorf("metadata = %v", out.Metadata)
	}
	if len(out.Notes) != 1 || out.Notes[0].Content != "start here" {
		t.Errorf("notes = %v", out.Notes)
	}
	if out.Version != 1 {
		t.Errorf("version = %d, want 1", out.Version)
	}
	if out.Checksum != in.Checksum {
		t.Errorf("checksum changed across round trip")
	}
}

func TestGetTask_NotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetTask(context.Background(), "missing")
	if !errors.HasCode(err, errors.CodeTaskNotFound) {
		t.Fatalf("err = %v, want TASK_NOT_FOUND", err)
	}
}

func TestSaveTask_Upsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := task.New("proj/a", "before")
	mustSave(t, s, in)

	in.Name = "after"
	in.Status = task.StatusInProgress
	in.Version = 2
	mustSave(t, s, in)

	out, err := s.GetTask(ctx, "proj/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Name != "after" || out.Status != task.StatusInProgress || out.Version != 2 {
		t.Errorf("upsert did not overwrite: %+v", out)
	}
}

func TestGetTasks_PartialHit(t *testing.T) {
	s := testStore(t)
	mustSave(t, s, task.New("a", "a"), task.New("b", "b"))

	got, err := s.GetTasks(context.Background(), []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("get tasks: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d tasks, want 2", len(got))
	}
	if _, ok := got["missing"]; ok {
		t.Error("missing path should be absent, not nil")
	}
}

func TestGetTasksByPattern(t *testing.T) {
	s := testStore(t)
	mustSave(t, s,
		task.New("proj", "root"),
		task.New("proj/api", "api"),
		task.New("proj/api/auth", "auth"),
		task.New("proj/web", "web"),
		task.New("other", "other"))

	tests := []struct {
		pattern string
		want    []string
	}{
		{"proj/*", []string{"proj/api", "proj/web"}},
		{"proj/**", []string{"proj/api", "proj/api/auth", "proj/web"}},
		{"**/auth", []string{"proj/api/auth"}},
		{"proj", []string{"proj"}},
		{"nomatch/*", nil},
	}
	for _, tt := range tests {
		got, err := s.GetTasksByPattern(context.Background(), tt.pattern)
		if err != nil {
			t.Fatalf("pattern %q: %v", tt.pattern, err)
		}
		var paths []string
		for _, tk := range got {
			paths = append(paths, tk.Path)
		}
		if len(paths) != len(tt.want) {
			t.Errorf("pattern %q = %v, want %v", tt.pattern, paths, tt.want)
			continue
		}
		for i := range paths {
			if paths[i] != tt.want[i] {
				t.Errorf("pattern %q = %v, want %v", tt.pattern, paths, tt.want)
				break
			}
		}
	}
}

func TestGetTasksByPattern_Malformed(t *testing.T) {
	s := testStore(t)

	_, err := s.GetTasksByPattern(context.Background(), "proj/[")
	if !errors.HasCode(err, errors.CodeValidationFailed) {
		t.Fatalf("err = %v, want VALIDATION_FAILED", err)
	}
}

func TestGetTasksByStatusAndType(t *testing.T) {
	s := testStore(t)
	a := task.New("a", "a")
	b := task.New("b", "b")
	b.Status = task.StatusCompleted
	m := task.New("m", "m")
	m.Type = task.TypeMilestone
	mustSave(t, s, a, b, m)

	done, err := s.GetTasksByStatus(context.Background(), task.StatusCompleted)
	if err != nil {
		t.Fatalf("by status: %v", err)
	}
	if len(done) != 1 || done[0].Path != "b" {
		t.Errorf("completed = %v", done)
	}

	milestones, err := s.GetTasksByType(context.Background(), task.TypeMilestone)
	if err != nil {
		t.Fatalf("by type: %v", err)
	}
	if len(milestones) != 1 || milestones[0].Path != "m" {
		t.Errorf("milestones = %v", milestones)
	}
}

func TestGetSubtree(t *testing.T) {
	s := testStore(t)
	mustSave(t, s,
		task.New("proj", "root"),
		task.New("proj/api", "api"),
		task.New("proj/api/auth", "auth"),
		task.New("proj/api/auth/jwt", "jwt"),
		task.New("projx", "sibling prefix"))

	all, err := s.GetSubtree(context.Background(), "proj", 0)
	if err != nil {
		t.Fatalf("subtree: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("subtree size = %d, want 4", len(all))
	}
	if all[0].Path != "proj" {
		t.Errorf("subtree root = %q", all[0].Path)
	}
	for _, tk := range all {
		if tk.Path == "projx" {
			t.Error("sibling prefix leaked into subtree")
		}
	}

	shallow, err := s.GetSubtree(context.Background(), "proj", 1)
	if err != nil {
		t.Fatalf("bounded subtree: %v", err)
	}
	if len(shallow) != 2 {
		t.Errorf("bounded subtree size = %d, want 2", len(shallow))
	}
}

func TestDependents(t *testing.T) {
	s := testStore(t)
	a := task.New("a", "a")
	b := task.New("b", "b")
	b.Dependencies = []string{"a"}
	c := task.New("c", "c")
	c.Dependencies = []string{"a", "b"}
	mustSave(t, s, a, b, c)

	deps, err := s.Dependents(context.Background(), "a")
	if err != nil {
		t.Fatalf("dependents: %v", err)
	}
	if len(deps) != 2 || deps[0] != "b" || deps[1] != "c" {
		t.Errorf("dependents of a = %v", deps)
	}

	// Dropping the dependency must drop the reverse edge.
	c.Dependencies = []string{"b"}
	mustSave(t, s, c)
	deps, err = s.Dependents(context.Background(), "a")
	if err != nil {
		t.Fatalf("dependents: %v", err)
	}
	if len(deps) != 1 || deps[0] != "b" {
		t.Errorf("dependents of a after edit = %v", deps)
	}
}

func TestDeleteTask(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := task.New("a", "a")
	b := task.New("b", "b")
	b.Dependencies = []string{"a"}
	mustSave(t, s, a, b)

	if err := s.DeleteTask(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetTask(ctx, "b"); !errors.HasCode(err, errors.CodeTaskNotFound) {
		t.Errorf("b still present: %v", err)
	}
	deps, err := s.Dependents(ctx, "a")
	if err != nil {
		t.Fatalf("dependents: %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("edges of deleted task survived: %v", deps)
	}
}

func TestBatch_CommitAtomic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustSave(t, s, task.New("old", "old"))

	batch := s.NewBatch()
	batch.Save(task.New("new", "new"))
	batch.Delete("old")
	if err := batch.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := s.GetTask(ctx, "new"); err != nil {
		t.Errorf("new missing after commit: %v", err)
	}
	if _, err := s.GetTask(ctx, "old"); !errors.HasCode(err, errors.CodeTaskNotFound) {
		t.Errorf("old survived commit: %v", err)
	}

	if err := batch.Commit(ctx); err == nil {
		t.Error("double commit should fail")
	}
}

func TestBatch_Rollback(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	batch := s.NewBatch()
	batch.Save(task.New("ghost", "ghost"))
	batch.Rollback()

	if _, err := s.GetTask(ctx, "ghost"); !errors.HasCode(err, errors.CodeTaskNotFound) {
		t.Errorf("rolled back save landed: %v", err)
	}
}

func TestBatch_SaveIsSnapshot(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tk := task.New("a", "original")
	batch := s.NewBatch()
	batch.Save(tk)
	tk.Name = "mutated after queue"
	if err := batch.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	out, err := s.GetTask(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Name != "original" {
		t.Errorf("batch stored live pointer, name = %q", out.Name)
	}
}

func TestCountAndStatusCounts(t *testing.T) {
	s := testStore(t)
	a := task.New("a", "a")
	b := task.New("b", "b")
	b.Status = task.StatusCompleted
	mustSave(t, s, a, b)

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	counts, err := s.StatusCounts(context.Background())
	if err != nil {
		t.Fatalf("status counts: %v", err)
	}
	if counts[task.StatusPending] != 1 || counts[task.StatusCompleted] != 1 {
		t.Errorf("status counts = %v", counts)
	}
}

func TestRepairRelationships_OrphanedParent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	root := task.New("proj", "root")
	orphan := task.New("proj/gone/child", "child")
	mustSave(t, s, root, orphan)

	report, err := s.RepairRelationships(ctx, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if len(report.Issues) == 0 || report.Fixed != 0 {
		t.Fatalf("dry run report = %+v", report)
	}

	// Dry run must not write.
	check, err := s.GetTask(ctx, "proj/gone/child")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if check.ParentPath != "proj/gone" {
		t.Fatalf("dry run modified parent: %q", check.ParentPath)
	}

	report, err = s.RepairRelationships(ctx, false)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if report.Fixed == 0 {
		t.Fatalf("repair fixed nothing: %+v", report)
	}

	// The immediate prefix proj/gone does not exist, so the child is
	// detached rather than pinned under a non-immediate ancestor.
	fixed, err := s.GetTask(ctx, "proj/gone/child")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fixed.ParentPath != "" {
		t.Errorf("parent after repair = %q, want detached", fixed.ParentPath)
	}
	if err := fixed.Validate(); err != nil {
		t.Errorf("repaired task fails validation: %v", err)
	}
}

func TestRepairRelationships_BrokenParentRepointed(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	root := task.New("proj", "root")
	crooked := task.New("proj/a", "a")
	crooked.ParentPath = "ghost"
	mustSave(t, s, root, crooked)

	report, err := s.RepairRelationships(ctx, false)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if report.Fixed == 0 {
		t.Fatalf("repair fixed nothing: %+v", report)
	}

	fixed, err := s.GetTask(ctx, "proj/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fixed.ParentPath != "proj" {
		t.Errorf("parent after repair = %q, want proj", fixed.ParentPath)
	}
	if err := fixed.Validate(); err != nil {
		t.Errorf("repaired task fails validation: %v", err)
	}
	parent, err := s.GetTask(ctx, "proj")
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if !parent.HasSubtask("proj/a") {
		t.Errorf("parent missing repaired subtask: %v", parent.Subtasks)
	}
}

func TestRepairRelationships_SubtaskSync(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	parent := task.New("proj", "root")
	parent.Subtasks = []string{"proj/gone"}
	child := task.New("proj/real", "real")
	mustSave(t, s, parent, child)

	report, err := s.RepairRelationships(ctx, false)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if report.Fixed < 2 {
		t.Fatalf("expected phantom removal and missing-child add, got %+v", report)
	}

	fixed, err := s.GetTask(ctx, "proj")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fixed.HasSubtask("proj/gone") {
		t.Error("phantom subtask survived repair")
	}
	if !fixed.HasSubtask("proj/real") {
		t.Error("real child not added to subtask list")
	}
}

func TestRepairRelationships_Clean(t *testing.T) {
	s := testStore(t)

	parent := task.New("proj", "root")
	parent.Subtasks = []string{"proj/a"}
	mustSave(t, s, parent, task.New("proj/a", "a"))

	report, err := s.RepairRelationships(context.Background(), false)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(report.Issues) != 0 || report.Fixed != 0 {
		t.Errorf("clean store reported issues: %+v", report)
	}
}

func TestStaticPrefix(t *testing.T) {
	tests := []struct {
		pattern, want string
	}{
		{"proj/api/*", "proj/api/"},
		{"proj/**", "proj/"},
		{"**", ""},
		{"plain/path", "plain/path"},
		{"a[bc]/d", "a"},
	}
	for _, tt := range tests {
		if got := staticPrefix(tt.pattern); got != tt.want {
			t.Errorf("staticPrefix(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}
