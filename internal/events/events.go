// Package events publishes task lifecycle notifications to in-process
// subscribers.
package events

import (
	"time"

	"github.com/taskvine/taskvine/internal/task"
)

// Type defines the kind of lifecycle event.
type Type string

const (
	// TypeCreated indicates a task was created.
	TypeCreated Type = "task_created"
	// TypeUpdated indicates a task's fields changed.
	TypeUpdated Type = "task_updated"
	// TypeDeleted indicates a task was removed.
	TypeDeleted Type = "task_deleted"
	// TypeStatusChanged indicates a status transition, including ones
	// applied by propagation.
	TypeStatusChanged Type = "status_changed"
)

// Event carries before/after snapshots of the affected task. Before is nil
// for creations, After is nil for deletions. Snapshots are deep copies;
// consumers may keep them.
type Event struct {
	Type   Type       `json:"type"`
	Path   string     `json:"path"`
	Before *task.Task `json:"before,omitempty"`
	After  *task.Task `json:"after,omitempty"`
	Time   time.Time  `json:"time"`
}

// New creates an event with the current timestamp, cloning both snapshots.
func New(eventType Type, path string, before, after *task.Task) Event {
	e := Event{
		Type: eventType,
		Path: path,
		Time: time.Now().UTC(),
	}
	if before != nil {
		e.Before = before.Clone()
	}
	if after != nil {
		e.After = after.Clone()
	}
	return e
}
