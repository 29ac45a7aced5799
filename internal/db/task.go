package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/taskvine/taskvine/internal/db/driver"
	"github.com/taskvine/taskvine/internal/errors"
	"github.com/taskvine/taskvine/internal/task"
)

// taskColumns is the canonical select list for task rows.
const taskColumns = `path, name, description, type, status, parent_path,
	dependencies, subtasks, metadata, notes, version, checksum, created_at, updated_at`

// TaskStore provides CRUD and query operations for task records. Every
// operation runs on a connection checked out of the pool for its
// duration; an unpooled store falls back to the shared handle.
type TaskStore struct {
	db   *DB
	pool *Pool
}

// NewTaskStore creates a task store over an opened database. pool may be
// nil for tests and one-shot runs that need no bounded acquisition.
func NewTaskStore(db *DB, pool *Pool) *TaskStore {
	return &TaskStore{db: db, pool: pool}
}

// querier is the per-operation execution surface: a pooled connection or
// the shared database handle.
type querier interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	BeginWrite(ctx context.Context) (driver.Tx, error)
}

// acquire checks a connection out of the pool for one store operation.
// The release func must be called with the operation's outcome error so
// the pool's error-rate accounting stays honest.
func (s *TaskStore) acquire(ctx context.Context) (querier, func(error), error) {
	if s.pool == nil {
		return s.db, func(error) {}, nil
	}
	return s.pool.Acquire(ctx)
}

// ignoreNotFound keeps lookup misses out of the pool's error counters.
func ignoreNotFound(err error) error {
	if errors.HasCode(err, errors.CodeTaskNotFound) {
		return nil
	}
	return err
}

// GetTask loads a single task by path. Returns TASK_NOT_FOUND if the path
// does not exist.
func (s *TaskStore) GetTask(ctx context.Context, path string) (*task.Task, error) {
	q, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	t, err := getTask(ctx, q, path)
	release(ignoreNotFound(err))
	return t, err
}

func getTask(ctx context.Context, q querier, path string) (*task.Task, error) {
	row := q.QueryRow(ctx, "SELECT "+taskColumns+" FROM tasks WHERE path = ?", path)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrTaskNotFound(path)
	}
	if err != nil {
		return nil, errors.ErrStorage("get task", err)
	}
	return t, nil
}

// GetTasks loads multiple tasks by path. Paths that do not exist are
// silently absent from the result; the caller decides whether that is an
// error.
func (s *TaskStore) GetTasks(ctx context.Context, paths []string) (map[string]*task.Task, error) {
	if len(paths) == 0 {
		return map[string]*task.Task{}, nil
	}
	q, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	result, err := getTasks(ctx, q, paths)
	release(err)
	return result, err
}

func getTasks(ctx context.Context, q querier, paths []string) (map[string]*task.Task, error) {
	result := make(map[string]*task.Task, len(paths))
	if len(paths) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(paths))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}

	query := "SELECT " + taskColumns + " FROM tasks WHERE path IN (" + placeholders + ")"
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.ErrStorage("get tasks", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.ErrStorage("scan task", err)
		}
		result[t.Path] = t
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrStorage("iterate tasks", err)
	}
	return result, nil
}

// GetTasksByPattern returns tasks whose paths match a glob pattern.
// Supports '*' within a segment and '**' across segments. The static
// prefix of the pattern narrows the scan with a LIKE before the glob
// filter runs in memory.
func (s *TaskStore) GetTasksByPattern(ctx context.Context, pattern string) ([]*task.Task, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, errors.ErrValidation("pattern", fmt.Sprintf("malformed glob pattern %q", pattern))
	}

	q, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	matched, err := getTasksByPattern(ctx, q, pattern)
	release(err)
	return matched, err
}

func getTasksByPattern(ctx context.Context, q querier, pattern string) ([]*task.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks"
	var args []any
	if prefix := staticPrefix(pattern); prefix != "" {
		query += ` WHERE path LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(prefix)+"%")
	}
	query += " ORDER BY path"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.ErrStorage("query by pattern", err)
	}
	defer func() { _ = rows.Close() }()

	var matched []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.ErrStorage("scan task", err)
		}
		ok, err := doublestar.Match(pattern, t.Path)
		if err != nil {
			return nil, errors.ErrValidation("pattern", err.Error())
		}
		if ok {
			matched = append(matched, t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrStorage("iterate tasks", err)
	}
	return matched, nil
}

// GetTasksByStatus returns all tasks in the given status, ordered by path.
func (s *TaskStore) GetTasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	return s.list(ctx, "status = ?", string(status))
}

// GetTasksByType returns all tasks of the given type, ordered by path.
func (s *TaskStore) GetTasksByType(ctx context.Context, typ task.Type) ([]*task.Task, error) {
	return s.list(ctx, "type = ?", string(typ))
}

// GetSubtasks returns the direct children of a path, ordered by path.
func (s *TaskStore) GetSubtasks(ctx context.Context, path string) ([]*task.Task, error) {
	return s.list(ctx, "parent_path = ?", path)
}

func (s *TaskStore) list(ctx context.Context, where string, args ...any) ([]*task.Task, error) {
	q, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := listWhere(ctx, q, where, args...)
	release(err)
	return tasks, err
}

// GetSubtree returns the task at path and every descendant, ordered by
// path. maxDepth bounds descent relative to path; 0 means unbounded.
func (s *TaskStore) GetSubtree(ctx context.Context, path string, maxDepth int) ([]*task.Task, error) {
	q, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	result, err := getSubtree(ctx, q, path, maxDepth)
	release(ignoreNotFound(err))
	return result, err
}

func getSubtree(ctx context.Context, q querier, path string, maxDepth int) ([]*task.Task, error) {
	root, err := getTask(ctx, q, path)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		"SELECT "+taskColumns+` FROM tasks WHERE path LIKE ? ESCAPE '\' ORDER BY path`,
		escapeLike(path+task.PathSeparator)+"%")
	if err != nil {
		return nil, errors.ErrStorage("query subtree", err)
	}
	defer func() { _ = rows.Close() }()

	rootDepth := task.Depth(path)
	result := []*task.Task{root}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.ErrStorage("scan task", err)
		}
		if maxDepth > 0 && task.Depth(t.Path)-rootDepth > maxDepth {
			continue
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrStorage("iterate subtree", err)
	}
	return result, nil
}

// Dependents returns the paths of tasks that depend on the given path,
// via the normalized reverse index.
func (s *TaskStore) Dependents(ctx context.Context, path string) ([]string, error) {
	q, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	dependents, err := dependents(ctx, q, path)
	release(err)
	return dependents, err
}

func dependents(ctx context.Context, q querier, path string) ([]string, error) {
	rows, err := q.Query(ctx,
		"SELECT task_path FROM task_dependencies WHERE depends_on = ? ORDER BY task_path", path)
	if err != nil {
		return nil, errors.ErrStorage("query dependents", err)
	}
	defer func() { _ = rows.Close() }()

	var result []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.ErrStorage("scan dependent", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrStorage("iterate dependents", err)
	}
	return result, nil
}

// SaveTask upserts a single task in its own write transaction.
func (s *TaskStore) SaveTask(ctx context.Context, t *task.Task) error {
	return s.SaveTasks(ctx, []*task.Task{t})
}

// SaveTasks upserts a batch of tasks in one native write transaction.
// Either every task lands or none do. The dependency edge table is synced
// to each task's dependency list.
func (s *TaskStore) SaveTasks(ctx context.Context, tasks []*task.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	q, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	err = saveTasks(ctx, q, tasks)
	release(err)
	return err
}

func saveTasks(ctx context.Context, q querier, tasks []*task.Task) error {
	tx, err := q.BeginWrite(ctx)
	if err != nil {
		return errors.ErrStorage("begin save", err)
	}

	for _, t := range tasks {
		if err := upsertTask(ctx, tx, t); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.ErrStorage("commit save", err)
	}
	return nil
}

// DeleteTask removes a single task and its dependency edges.
func (s *TaskStore) DeleteTask(ctx context.Context, path string) error {
	return s.DeleteTasks(ctx, []string{path})
}

// DeleteTasks removes a batch of tasks in one native write transaction.
func (s *TaskStore) DeleteTasks(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	q, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	err = deleteTasks(ctx, q, paths)
	release(err)
	return err
}

func deleteTasks(ctx context.Context, q querier, paths []string) error {
	tx, err := q.BeginWrite(ctx)
	if err != nil {
		return errors.ErrStorage("begin delete", err)
	}

	for _, p := range paths {
		if err := deleteTask(ctx, tx, p); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.ErrStorage("commit delete", err)
	}
	return nil
}

// Count returns the number of stored tasks.
func (s *TaskStore) Count(ctx context.Context) (int, error) {
	q, release, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = q.QueryRow(ctx, "SELECT COUNT(*) FROM tasks").Scan(&n)
	if err != nil {
		err = errors.ErrStorage("count tasks", err)
	}
	release(err)
	return n, err
}

// StatusCounts returns the number of tasks per status.
func (s *TaskStore) StatusCounts(ctx context.Context) (map[task.Status]int, error) {
	q, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := statusCounts(ctx, q)
	release(err)
	return counts, err
}

func statusCounts(ctx context.Context, q querier) (map[task.Status]int, error) {
	rows, err := q.Query(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, errors.ErrStorage("count by status", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[task.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.ErrStorage("scan status count", err)
		}
		counts[task.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrStorage("iterate status counts", err)
	}
	return counts, nil
}

// --- Batch ---

// Batch accumulates saves and deletes and applies them in one native
// write transaction on Commit. Used by the transaction coordinator so a
// multi-operation unit commits or rolls back as a whole.
type Batch struct {
	store   *TaskStore
	saves   []*task.Task
	deletes []string
	done    bool
}

// NewBatch starts an empty batch.
func (s *TaskStore) NewBatch() *Batch {
	return &Batch{store: s}
}

// Save queues an upsert. Later operations on the same path win.
func (b *Batch) Save(t *task.Task) {
	b.saves = append(b.saves, t.Clone())
}

// Delete queues a removal.
func (b *Batch) Delete(path string) {
	b.deletes = append(b.deletes, path)
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return len(b.saves) + len(b.deletes)
}

// Commit applies every queued operation atomically. A batch can only be
// committed once.
func (b *Batch) Commit(ctx context.Context) error {
	if b.done {
		return errors.ErrStorage("commit batch", fmt.Errorf("batch already finished"))
	}
	b.done = true
	if b.Len() == 0 {
		return nil
	}

	q, release, err := b.store.acquire(ctx)
	if err != nil {
		return err
	}
	err = b.commit(ctx, q)
	release(err)
	return err
}

func (b *Batch) commit(ctx context.Context, q querier) error {
	tx, err := q.BeginWrite(ctx)
	if err != nil {
		return errors.ErrStorage("begin batch", err)
	}

	for _, t := range b.saves {
		if err := upsertTask(ctx, tx, t); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	for _, p := range b.deletes {
		if err := deleteTask(ctx, tx, p); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.ErrStorage("commit batch", err)
	}
	return nil
}

// Rollback discards the queued operations.
func (b *Batch) Rollback() {
	b.done = true
	b.saves = nil
	b.deletes = nil
}

// --- Repair ---

// RepairReport describes the integrity issues a repair pass found.
type RepairReport struct {
	Issues []string `json:"issues"`
	Fixed  int      `json:"fixed"`
	DryRun bool     `json:"dry_run"`
}

// RepairRelationships scans for hierarchy and dependency inconsistencies
// and fixes them unless dryRun is set. Repairs covered:
//   - parent_path pointing at a missing task (repointed to the task's
//     immediate path prefix when that exists, otherwise detached; any
//     other ancestor would break the one-segment parent rule)
//   - parent subtask lists out of sync with children's parent_path
//   - dependency edges referencing deleted tasks (edge rows dropped;
//     the dependency list itself is kept so validation can flag it)
func (s *TaskStore) RepairRelationships(ctx context.Context, dryRun bool) (*RepairReport, error) {
	q, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	report, err := repairRelationships(ctx, q, dryRun)
	release(err)
	return report, err
}

func repairRelationships(ctx context.Context, q querier, dryRun bool) (*RepairReport, error) {
	report := &RepairReport{DryRun: dryRun}

	all, err := listWhere(ctx, q, "1 = 1")
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]*task.Task, len(all))
	for _, t := range all {
		byPath[t.Path] = t
	}

	changed := make(map[string]*task.Task)
	touch := func(t *task.Task) *task.Task {
		if c, ok := changed[t.Path]; ok {
			return c
		}
		c := t.Clone()
		changed[t.Path] = c
		byPath[t.Path] = c
		return c
	}

	// Orphaned parent references. The only valid non-empty parent is the
	// path's immediate prefix; anything else gets detached.
	for _, t := range all {
		if t.ParentPath == "" {
			continue
		}
		if _, ok := byPath[t.ParentPath]; ok && t.ParentPath == task.ParentOf(t.Path) {
			continue
		}
		anchor := ""
		if immediate := task.ParentOf(t.Path); immediate != "" {
			if _, ok := byPath[immediate]; ok {
				anchor = immediate
			}
		}
		if anchor != "" {
			report.Issues = append(report.Issues,
				fmt.Sprintf("task %q has broken parent %q (reparent to %q)", t.Path, t.ParentPath, anchor))
		} else {
			report.Issues = append(report.Issues,
				fmt.Sprintf("task %q has broken parent %q (detach)", t.Path, t.ParentPath))
		}
		if !dryRun {
			c := touch(t)
			c.ParentPath = anchor
			if anchor != "" {
				touch(byPath[anchor]).AddSubtask(t.Path)
			}
			report.Fixed++
		}
	}

	// Subtask lists out of sync with parent_path.
	for _, t := range all {
		cur := byPath[t.Path]
		for _, sub := range append([]string(nil), cur.Subtasks...) {
			child, ok := byPath[sub]
			if ok && child.ParentPath == t.Path {
				continue
			}
			if !ok {
				report.Issues = append(report.Issues,
					fmt.Sprintf("task %q lists missing subtask %q", t.Path, sub))
			} else {
				report.Issues = append(report.Issues,
					fmt.Sprintf("task %q lists subtask %q whose parent is %q", t.Path, sub, child.ParentPath))
			}
			if !dryRun {
				touch(cur).RemoveSubtask(sub)
				report.Fixed++
			}
		}
	}
	for _, t := range all {
		cur := byPath[t.Path]
		if cur.ParentPath == "" {
			continue
		}
		parent, ok := byPath[cur.ParentPath]
		if !ok || parent.HasSubtask(t.Path) {
			continue
		}
		report.Issues = append(report.Issues,
			fmt.Sprintf("task %q is missing from subtask list of parent %q", t.Path, cur.ParentPath))
		if !dryRun {
			touch(parent).AddSubtask(t.Path)
			report.Fixed++
		}
	}

	// Dependency edges pointing at deleted tasks.
	rows, err := q.Query(ctx, `
		SELECT d.task_path, d.depends_on FROM task_dependencies d
		LEFT JOIN tasks t ON t.path = d.depends_on
		WHERE t.path IS NULL
		ORDER BY d.task_path, d.depends_on`)
	if err != nil {
		return nil, errors.ErrStorage("query dangling edges", err)
	}
	type edge struct{ from, to string }
	var dangling []edge
	for rows.Next() {
		var e edge
		if err := rows.Scan(&e.from, &e.to); err != nil {
			_ = rows.Close()
			return nil, errors.ErrStorage("scan dangling edge", err)
		}
		dangling = append(dangling, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, errors.ErrStorage("iterate dangling edges", err)
	}
	_ = rows.Close()

	for _, e := range dangling {
		report.Issues = append(report.Issues,
			fmt.Sprintf("task %q has dependency edge to deleted task %q", e.from, e.to))
	}

	if dryRun {
		return report, nil
	}

	if len(changed) > 0 {
		updated := make([]*task.Task, 0, len(changed))
		for _, t := range changed {
			t.Updated = time.Now().UTC()
			t.Checksum = t.ComputeChecksum()
			updated = append(updated, t)
		}
		sort.Slice(updated, func(i, j int) bool { return updated[i].Path < updated[j].Path })
		if err := saveTasks(ctx, q, updated); err != nil {
			return nil, err
		}
	}

	for _, e := range dangling {
		if _, err := q.Exec(ctx,
			"DELETE FROM task_dependencies WHERE task_path = ? AND depends_on = ?", e.from, e.to); err != nil {
			return nil, errors.ErrStorage("drop dangling edge", err)
		}
		report.Fixed++
	}

	return report, nil
}

// --- Internals ---

func listWhere(ctx context.Context, q querier, where string, args ...any) ([]*task.Task, error) {
	rows, err := q.Query(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE "+where+" ORDER BY path", args...)
	if err != nil {
		return nil, errors.ErrStorage("query tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.ErrStorage("scan task", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrStorage("iterate tasks", err)
	}
	return tasks, nil
}

// upsertTask writes one task row and resyncs its dependency edges.
func upsertTask(ctx context.Context, tx driver.Tx, t *task.Task) error {
	deps, err := marshalJSON(t.Dependencies)
	if err != nil {
		return errors.ErrStorage("marshal dependencies", err)
	}
	subs, err := marshalJSON(t.Subtasks)
	if err != nil {
		return errors.ErrStorage("marshal subtasks", err)
	}
	meta, err := marshalJSON(t.Metadata)
	if err != nil {
		return errors.ErrStorage("marshal metadata", err)
	}
	notes, err := marshalJSON(t.Notes)
	if err != nil {
		return errors.ErrStorage("marshal notes", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tasks (path, name, description, type, status, parent_path,
			dependencies, subtasks, metadata, notes, version, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			type = excluded.type,
			status = excluded.status,
			parent_path = excluded.parent_path,
			dependencies = excluded.dependencies,
			subtasks = excluded.subtasks,
			metadata = excluded.metadata,
			notes = excluded.notes,
			version = excluded.version,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at`,
		t.Path, t.Name, nullable(t.Description), string(t.Type), string(t.Status),
		nullable(t.ParentPath), deps, subs, meta, notes, t.Version,
		nullable(t.Checksum), formatTime(t.Created), formatTime(t.Updated))
	if err != nil {
		return errors.ErrStorage("upsert task", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM task_dependencies WHERE task_path = ?", t.Path); err != nil {
		return errors.ErrStorage("clear dependency edges", err)
	}
	for _, dep := range t.Dependencies {
		if _, err := tx.Exec(ctx,
			"INSERT INTO task_dependencies (task_path, depends_on) VALUES (?, ?)", t.Path, dep); err != nil {
			return errors.ErrStorage("insert dependency edge", err)
		}
	}
	return nil
}

func deleteTask(ctx context.Context, tx driver.Tx, path string) error {
	if _, err := tx.Exec(ctx, "DELETE FROM task_dependencies WHERE task_path = ?", path); err != nil {
		return errors.ErrStorage("delete dependency edges", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM tasks WHERE path = ?", path); err != nil {
		return errors.ErrStorage("delete task", err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*task.Task, error) {
	var t task.Task
	var typ, status string
	var description, parentPath, deps, subs, meta, notes, checksum sql.NullString
	var created, updated string

	err := row.Scan(&t.Path, &t.Name, &description, &typ, &status, &parentPath,
		&deps, &subs, &meta, &notes, &t.Version, &checksum, &created, &updated)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.Type = task.Type(typ)
	t.Status = task.Status(status)
	t.ParentPath = parentPath.String
	t.Checksum = checksum.String

	if err := unmarshalJSON(deps, &t.Dependencies); err != nil {
		return nil, fmt.Errorf("decode dependencies for %s: %w", t.Path, err)
	}
	if err := unmarshalJSON(subs, &t.Subtasks); err != nil {
		return nil, fmt.Errorf("decode subtasks for %s: %w", t.Path, err)
	}
	if err := unmarshalJSON(meta, &t.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", t.Path, err)
	}
	if err := unmarshalJSON(notes, &t.Notes); err != nil {
		return nil, fmt.Errorf("decode notes for %s: %w", t.Path, err)
	}

	if t.Created, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("decode created_at for %s: %w", t.Path, err)
	}
	if t.Updated, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("decode updated_at for %s: %w", t.Path, err)
	}
	return &t, nil
}

// marshalJSON serializes v, mapping empty collections to NULL.
func marshalJSON(v any) (any, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	case []task.Note:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalJSON(col sql.NullString, dest any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dest)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// staticPrefix returns the literal leading portion of a glob pattern, up
// to the first metacharacter.
func staticPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?[{\\"); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// escapeLike escapes LIKE wildcards in a literal prefix. Task paths never
// contain % or _ wildcards that should match, so a direct escape is safe.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
