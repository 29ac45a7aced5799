// Package errors provides structured error types for the task engine.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for the task engine.
const (
	// Validation errors
	CodeValidationFailed  Code = "VALIDATION_FAILED"
	CodeDuplicatePath     Code = "DUPLICATE_PATH"
	CodeHierarchyInvalid  Code = "HIERARCHY_INVALID"
	CodeDependencyMissing Code = "DEPENDENCY_MISSING"
	CodeDependencyCycle   Code = "DEPENDENCY_CYCLE"
	CodeMetadataTooLarge  Code = "METADATA_TOO_LARGE"

	// Lookup errors
	CodeTaskNotFound Code = "TASK_NOT_FOUND"

	// Status errors
	CodeStatusTransition Code = "STATUS_TRANSITION_INVALID"
	CodeDependencyGate   Code = "DEPENDENCY_GATE"
	CodeSubtaskGate      Code = "SUBTASK_GATE"

	// Concurrency errors
	CodeTaskBusy               Code = "TASK_BUSY"
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"

	// Transaction errors
	CodeTransactionFailed   Code = "TRANSACTION_FAILED"
	CodeTransactionNotFound Code = "TRANSACTION_NOT_FOUND"
	CodeTransactionExpired  Code = "TRANSACTION_EXPIRED"

	// Storage errors
	CodeStorageFailed  Code = "STORAGE_FAILED"
	CodePoolExhausted  Code = "POOL_EXHAUSTED"
	CodeIntegrityIssue Code = "INTEGRITY_ISSUE"
)

// Category groups error codes for caller-side classification.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryValidation
	CategoryNotFound
	CategoryStatusTransition
	CategoryConflict
	CategoryTransaction
	CategoryStorage
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeValidationFailed:       CategoryValidation,
	CodeDuplicatePath:          CategoryValidation,
	CodeHierarchyInvalid:       CategoryValidation,
	CodeDependencyMissing:      CategoryValidation,
	CodeDependencyCycle:        CategoryValidation,
	CodeMetadataTooLarge:       CategoryValidation,
	CodeTaskNotFound:           CategoryNotFound,
	CodeStatusTransition:       CategoryStatusTransition,
	CodeDependencyGate:         CategoryStatusTransition,
	CodeSubtaskGate:            CategoryStatusTransition,
	CodeTaskBusy:               CategoryConflict,
	CodeConcurrentModification: CategoryConflict,
	CodeTransactionFailed:      CategoryTransaction,
	CodeTransactionNotFound:    CategoryTransaction,
	CodeTransactionExpired:     CategoryTransaction,
	CodeStorageFailed:          CategoryStorage,
	CodePoolExhausted:          CategoryStorage,
	CodeIntegrityIssue:         CategoryStorage,
}

// retryableCodes marks codes where the caller (or the engine itself) may
// transparently retry the failed operation.
var retryableCodes = map[Code]bool{
	CodeTaskBusy:               true,
	CodeConcurrentModification: true,
	CodePoolExhausted:          true,
}

// EngineError is the structured error type for the task engine.
// Context carries machine-readable detail (task path, conflicting
// field/version, remediation hints) so callers never receive a bare failure.
type EngineError struct {
	Code    Code           `json:"code"`
	What    string         `json:"what"`
	Why     string         `json:"why,omitempty"`
	Fix     string         `json:"fix,omitempty"`
	Context map[string]any `json:"context,omitempty"`
	Cause   error          `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Category returns the error category.
func (e *EngineError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// Retryable reports whether the failed operation may be retried as-is.
func (e *EngineError) Retryable() bool {
	return retryableCodes[e.Code]
}

// Is reports whether target is an EngineError with the same code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *EngineError) WithCause(err error) *EngineError {
	clone := *e
	clone.Cause = err
	return &clone
}

// WithContext returns a copy of the error with an added context entry.
func (e *EngineError) WithContext(key string, value any) *EngineError {
	clone := *e
	clone.Context = make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		clone.Context[k] = v
	}
	clone.Context[key] = value
	return &clone
}

// MarshalJSON implements json.Marshaler, flattening the cause to a string.
func (e *EngineError) MarshalJSON() ([]byte, error) {
	type alias EngineError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// --- Error constructors ---

// ErrTaskNotFound returns an error when a task path does not exist.
func ErrTaskNotFound(path string) *EngineError {
	return &EngineError{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task %q not found", path),
		Why:  "No task with this path exists in the store",
		Fix:  "List tasks with a pattern query to find the correct path",
		Context: map[string]any{
			"path": path,
		},
	}
}

// ErrDuplicatePath returns an error when creating a task whose path exists.
func ErrDuplicatePath(path string) *EngineError {
	return &EngineError{
		Code: CodeDuplicatePath,
		What: fmt.Sprintf("task %q already exists", path),
		Why:  "Task paths are unique identifiers and cannot be reused",
		Fix:  "Choose a different path, or update the existing task",
		Context: map[string]any{
			"path": path,
		},
	}
}

// ErrMissingParent returns an error when a task's parent path does not resolve.
func ErrMissingParent(path, parent string) *EngineError {
	return &EngineError{
		Code: CodeHierarchyInvalid,
		What: fmt.Sprintf("parent %q of task %q does not exist", parent, path),
		Why:  "Every non-root task requires an existing parent exactly one path segment above it",
		Fix:  fmt.Sprintf("Create %q first, or adjust the task path", parent),
		Context: map[string]any{
			"path":   path,
			"parent": parent,
		},
	}
}

// ErrHierarchyInvalid returns an error for a parent path that is not the
// task's immediate prefix.
func ErrHierarchyInvalid(path, parent, reason string) *EngineError {
	return &EngineError{
		Code: CodeHierarchyInvalid,
		What: fmt.Sprintf("invalid hierarchy for task %q", path),
		Why:  reason,
		Fix:  "The parent path must be the task path minus its last segment",
		Context: map[string]any{
			"path":   path,
			"parent": parent,
		},
	}
}

// ErrValidation returns a generic validation error for a named field.
func ErrValidation(field, reason string) *EngineError {
	return &EngineError{
		Code: CodeValidationFailed,
		What: fmt.Sprintf("invalid %s", field),
		Why:  reason,
		Context: map[string]any{
			"field": field,
		},
	}
}

// ErrMetadataTooLarge returns an error when serialized metadata exceeds the cap.
func ErrMetadataTooLarge(path string, size, limit int) *EngineError {
	return &EngineError{
		Code: CodeMetadataTooLarge,
		What: fmt.Sprintf("metadata for task %q exceeds size limit", path),
		Why:  fmt.Sprintf("Serialized metadata is %d bytes, limit is %d", size, limit),
		Fix:  "Trim the metadata bag or move large payloads out of the task record",
		Context: map[string]any{
			"path":  path,
			"size":  size,
			"limit": limit,
		},
	}
}

// ErrDependencyMissing returns an error listing every unresolved dependency.
func ErrDependencyMissing(path string, missing []string) *EngineError {
	return &EngineError{
		Code: CodeDependencyMissing,
		What: fmt.Sprintf("task %q references missing dependencies", path),
		Why:  fmt.Sprintf("Dependencies do not resolve: %s", strings.Join(missing, ", ")),
		Fix:  "Create the missing tasks first, or remove them from the dependency set",
		Context: map[string]any{
			"path":    path,
			"missing": missing,
		},
	}
}

// ErrDependencyCycle returns an error naming the offending cycle chain.
func ErrDependencyCycle(path string, cycle []string) *EngineError {
	return &EngineError{
		Code: CodeDependencyCycle,
		What: fmt.Sprintf("dependencies of task %q would close a cycle", path),
		Why:  fmt.Sprintf("Cycle: %s", strings.Join(cycle, " -> ")),
		Fix:  "Remove one edge of the cycle; dependency graphs must stay acyclic",
		Context: map[string]any{
			"path":  path,
			"cycle": cycle,
		},
	}
}

// ErrStatusTransition returns an error for an illegal status transition.
func ErrStatusTransition(path, from, to string) *EngineError {
	return &EngineError{
		Code: CodeStatusTransition,
		What: fmt.Sprintf("task %q cannot move from %s to %s", path, from, to),
		Why:  "The transition is not allowed by the status state machine",
		Fix:  "Check the transition table, or use bulk mode for batch resets",
		Context: map[string]any{
			"path": path,
			"from": from,
			"to":   to,
		},
	}
}

// ErrDependencyGate returns an error when incomplete dependencies block a transition.
func ErrDependencyGate(path string, incomplete []string) *EngineError {
	return &EngineError{
		Code: CodeDependencyGate,
		What: fmt.Sprintf("task %q has incomplete dependencies", path),
		Why:  fmt.Sprintf("Not completed: %s", strings.Join(incomplete, ", ")),
		Fix:  "Complete the listed dependencies first",
		Context: map[string]any{
			"path":       path,
			"incomplete": incomplete,
		},
	}
}

// ErrSubtaskGate returns an error when incomplete subtasks block completion.
func ErrSubtaskGate(path string, incomplete []string) *EngineError {
	return &EngineError{
		Code: CodeSubtaskGate,
		What: fmt.Sprintf("task %q has incomplete subtasks", path),
		Why:  fmt.Sprintf("Not completed: %s", strings.Join(incomplete, ", ")),
		Fix:  "Complete or fail the listed subtasks before completing the parent",
		Context: map[string]any{
			"path":       path,
			"incomplete": incomplete,
		},
	}
}

// ErrTaskBusy returns a retryable error when a task's lock is held.
func ErrTaskBusy(path string) *EngineError {
	return &EngineError{
		Code: CodeTaskBusy,
		What: fmt.Sprintf("task %q is busy", path),
		Why:  "Another operation holds the task's lock",
		Fix:  "Retry after a short delay",
		Context: map[string]any{
			"path": path,
		},
	}
}

// ErrConcurrentModification returns a retryable error for a version conflict.
func ErrConcurrentModification(path string, expected, actual int64) *EngineError {
	return &EngineError{
		Code: CodeConcurrentModification,
		What: fmt.Sprintf("task %q was modified concurrently", path),
		Why:  fmt.Sprintf("Expected version %d, found %d", expected, actual),
		Fix:  "Re-read the task and retry the update against the new version",
		Context: map[string]any{
			"path":     path,
			"expected": expected,
			"actual":   actual,
		},
	}
}

// ErrTransactionNotFound returns an error for an unknown transaction id.
func ErrTransactionNotFound(id string) *EngineError {
	return &EngineError{
		Code: CodeTransactionNotFound,
		What: fmt.Sprintf("transaction %s not found", id),
		Why:  "The transaction was never begun, or was already committed, rolled back, or expired",
		Context: map[string]any{
			"transaction_id": id,
		},
	}
}

// ErrTransactionFailed returns an error for a failed commit or rollback.
func ErrTransactionFailed(id, stage string, cause error) *EngineError {
	return &EngineError{
		Code:  CodeTransactionFailed,
		What:  fmt.Sprintf("transaction %s failed during %s", id, stage),
		Why:   "The accumulated operations could not be applied atomically",
		Fix:   "The transaction has been rolled back; retry the operation",
		Cause: cause,
		Context: map[string]any{
			"transaction_id": id,
			"stage":          stage,
		},
	}
}

// ErrTransactionExpired returns an error for an idle transaction that was swept.
func ErrTransactionExpired(id string) *EngineError {
	return &EngineError{
		Code: CodeTransactionExpired,
		What: fmt.Sprintf("transaction %s expired", id),
		Why:  "No commit or rollback arrived within the idle timeout; it was force-rolled-back",
		Context: map[string]any{
			"transaction_id": id,
		},
	}
}

// ErrPoolExhausted returns a retryable error when no connection is available.
func ErrPoolExhausted(waited string) *EngineError {
	return &EngineError{
		Code: CodePoolExhausted,
		What: "connection pool exhausted",
		Why:  fmt.Sprintf("No connection became available within %s", waited),
		Fix:  "Retry, or raise the pool's max size / acquire timeout",
	}
}

// ErrStorage wraps a low-level storage failure.
func ErrStorage(op string, cause error) *EngineError {
	return &EngineError{
		Code:  CodeStorageFailed,
		What:  fmt.Sprintf("storage operation %s failed", op),
		Cause: cause,
		Context: map[string]any{
			"operation": op,
		},
	}
}

// AsEngineError attempts to convert an error to an EngineError.
// Returns nil if the error is not an EngineError.
func AsEngineError(err error) *EngineError {
	var engineErr *EngineError
	if As(err, &engineErr) {
		return engineErr
	}
	return nil
}

// IsRetryable reports whether err is a retryable EngineError.
func IsRetryable(err error) bool {
	if e := AsEngineError(err); e != nil {
		return e.Retryable()
	}
	return false
}

// HasCode reports whether err is an EngineError with the given code.
func HasCode(err error, code Code) bool {
	if e := AsEngineError(err); e != nil {
		return e.Code == code
	}
	return false
}

// As is a convenience wrapper for errors.As semantics on EngineError.
func As(err error, target **EngineError) bool {
	for err != nil {
		if e, ok := err.(*EngineError); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Wrap wraps a generic error into an EngineError with unknown code.
func Wrap(err error, what string) *EngineError {
	return &EngineError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
