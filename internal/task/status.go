package task

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusBlocked    Status = "BLOCKED"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusBlocked, StatusCompleted, StatusFailed}
}

// IsValidStatus returns true if s is a known status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusBlocked, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for statuses that end a task's active lifecycle.
// FAILED tasks may still be reopened; COMPLETED tasks may still be failed.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed
}

// transitions is the legal non-bulk transition table. Gates that depend on
// other tasks (incomplete subtasks for COMPLETED, unsatisfied dependencies
// for leaving BLOCKED) are enforced separately by the engine, which has the
// sibling and dependency sets at hand.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusBlocked, StatusFailed, StatusCompleted},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusBlocked, StatusPending},
	StatusCompleted:  {StatusFailed},
	StatusFailed:     {StatusInProgress, StatusPending},
	StatusBlocked:    {StatusInProgress, StatusFailed, StatusPending},
}

// CanTransition reports whether from -> to is legal in non-bulk mode.
// A no-op transition (from == to) is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionBulk reports whether from -> to is legal when the caller has
// explicitly opted into bulk mode. Bulk relaxes the table two ways:
// COMPLETED is reachable from any state (the dependency gate still applies),
// and PENDING is reachable from any state for batch resets.
func CanTransitionBulk(from, to Status) bool {
	if to == StatusCompleted || to == StatusPending {
		return true
	}
	return CanTransition(from, to)
}

// ParseStatus converts a string to a Status, reporting validity.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, IsValidStatus(st)
}
