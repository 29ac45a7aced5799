// Package task defines the task record, its hierarchical path identity,
// and the status state machine.
package task

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Type classifies a task.
type Type string

const (
	TypeTask      Type = "TASK"
	TypeMilestone Type = "MILESTONE"
)

// IsValidType returns true if t is a known task type.
func IsValidType(t Type) bool {
	return t == TypeTask || t == TypeMilestone
}

// NoteType classifies a note record.
type NoteType string

const (
	NotePlanning        NoteType = "planning"
	NoteProgress        NoteType = "progress"
	NoteCompletion      NoteType = "completion"
	NoteTroubleshooting NoteType = "troubleshooting"
)

// Note is a typed, timestamped annotation on a task.
type Note struct {
	Type      NoteType  `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is the durable work-item record. Path is its identity key and
// encodes the parent relationship; all inter-task references are paths
// resolved through the store, never object pointers.
type Task struct {
	Path         string         `json:"path"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Type         Type           `json:"type"`
	Status       Status         `json:"status"`
	ParentPath   string         `json:"parent_path,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Subtasks     []string       `json:"subtasks,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Notes        []Note         `json:"notes,omitempty"`
	Version      int64          `json:"version"`
	Created      time.Time      `json:"created"`
	Updated      time.Time      `json:"updated"`
	Checksum     string         `json:"checksum,omitempty"`
}

// New returns a task with defaults applied: type TASK, status PENDING,
// version 1, timestamps set to now.
func New(path, name string) *Task {
	now := time.Now().UTC()
	return &Task{
		Path:       path,
		Name:       name,
		Type:       TypeTask,
		Status:     StatusPending,
		ParentPath: ParentOf(path),
		Version:    1,
		Created:    now,
		Updated:    now,
	}
}

// Clone returns a deep copy of the task. Snapshots captured for rollback
// and event payloads must never alias live state.
func (t *Task) Clone() *Task {
	clone := *t
	clone.Dependencies = append([]string(nil), t.Dependencies...)
	clone.Subtasks = append([]string(nil), t.Subtasks...)
	clone.Notes = append([]Note(nil), t.Notes...)
	if t.Metadata != nil {
		clone.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// DependsOn reports whether the task lists dep as a dependency.
func (t *Task) DependsOn(dep string) bool {
	for _, d := range t.Dependencies {
		if d == dep {
			return true
		}
	}
	return false
}

// HasSubtask reports whether the task lists path as a subtask.
func (t *Task) HasSubtask(path string) bool {
	for _, s := range t.Subtasks {
		if s == path {
			return true
		}
	}
	return false
}

// AddSubtask records a child path, keeping the set sorted and deduplicated.
func (t *Task) AddSubtask(path string) {
	if t.HasSubtask(path) {
		return
	}
	t.Subtasks = append(t.Subtasks, path)
	sort.Strings(t.Subtasks)
}

// RemoveSubtask drops a child path from the subtask set.
func (t *Task) RemoveSubtask(path string) {
	for i, s := range t.Subtasks {
		if s == path {
			t.Subtasks = append(t.Subtasks[:i], t.Subtasks[i+1:]...)
			return
		}
	}
}

// ComputeChecksum returns a hex digest over the task's identity-bearing
// fields. Version and timestamps are excluded so the checksum only changes
// when caller-visible content changes.
func (t *Task) ComputeChecksum() string {
	payload := struct {
		Path         string         `json:"path"`
		Name         string         `json:"name"`
		Description  string         `json:"description"`
		Type         Type           `json:"type"`
		Status       Status         `json:"status"`
		ParentPath   string         `json:"parent_path"`
		Dependencies []string       `json:"dependencies"`
		Metadata     map[string]any `json:"metadata"`
	}{t.Path, t.Name, t.Description, t.Type, t.Status, t.ParentPath, t.Dependencies, t.Metadata}

	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// --- Path helpers ---

// PathSeparator separates hierarchy segments in a task path.
const PathSeparator = "/"

// MaxPathDepth bounds how deep a hierarchy may nest.
const MaxPathDepth = 10

// MaxPathLength bounds the total path length in bytes.
const MaxPathLength = 512

// ParentOf returns the parent path of p, or "" for a root path.
func ParentOf(p string) string {
	idx := strings.LastIndex(p, PathSeparator)
	if idx < 0 {
		return ""
	}
	return p[:idx]
}

// Segments splits a path into its hierarchy segments.
func Segments(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, PathSeparator)
}

// Depth returns the number of segments in a path.
func Depth(p string) int {
	return len(Segments(p))
}

// IsAncestorOf reports whether ancestor is a strict path prefix of p on
// segment boundaries.
func IsAncestorOf(ancestor, p string) bool {
	return ancestor != p && strings.HasPrefix(p, ancestor+PathSeparator)
}

// ValidatePath checks path syntax: non-empty slash-separated segments of
// letters, digits, '_', '-' and '.', bounded depth and length.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("path is empty")
	}
	if len(p) > MaxPathLength {
		return fmt.Errorf("path exceeds %d bytes", MaxPathLength)
	}
	segs := Segments(p)
	if len(segs) > MaxPathDepth {
		return fmt.Errorf("path exceeds %d levels", MaxPathDepth)
	}
	for _, seg := range segs {
		if seg == "" {
			return fmt.Errorf("path has an empty segment")
		}
		for _, r := range seg {
			if !isPathRune(r) {
				return fmt.Errorf("segment %q contains invalid character %q", seg, r)
			}
		}
	}
	return nil
}

func isPathRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '-', r == '.':
		return true
	}
	return false
}
