package task

import (
	"encoding/json"
	"fmt"
	"unicode"

	"github.com/tidwall/gjson"
)

// Bounds for free-form fields. Metadata is a size-capped bag of
// JSON-like values, not an arbitrary object graph.
const (
	MaxNameLength        = 200
	MaxDescriptionLength = 4096
	MaxMetadataBytes     = 8192
	MaxMetadataDepth     = 4
	MaxNotes             = 100
	MaxNoteLength        = 2048
)

// Validate checks a task record's own fields. Cross-task invariants
// (parent existence, dependency resolution) belong to the engine.
func (t *Task) Validate() error {
	if err := ValidatePath(t.Path); err != nil {
		return fmt.Errorf("path: %w", err)
	}
	if t.Name == "" {
		return fmt.Errorf("name is empty")
	}
	if len(t.Name) > MaxNameLength {
		return fmt.Errorf("name exceeds %d bytes", MaxNameLength)
	}
	if len(t.Description) > MaxDescriptionLength {
		return fmt.Errorf("description exceeds %d bytes", MaxDescriptionLength)
	}
	if !IsValidType(t.Type) {
		return fmt.Errorf("unknown type %q", t.Type)
	}
	if !IsValidStatus(t.Status) {
		return fmt.Errorf("unknown status %q", t.Status)
	}
	if t.ParentPath != "" && t.ParentPath != ParentOf(t.Path) {
		return fmt.Errorf("parent %q is not the immediate prefix of %q", t.ParentPath, t.Path)
	}
	for _, dep := range t.Dependencies {
		if err := ValidatePath(dep); err != nil {
			return fmt.Errorf("dependency %q: %w", dep, err)
		}
		if dep == t.Path {
			return fmt.Errorf("task cannot depend on itself")
		}
	}
	if err := ValidateMetadata(t.Metadata); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	if err := ValidateNotes(t.Notes); err != nil {
		return fmt.Errorf("notes: %w", err)
	}
	return nil
}

// MetadataSize returns the serialized size of a metadata bag in bytes.
func MetadataSize(md map[string]any) (int, error) {
	if len(md) == 0 {
		return 0, nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return 0, fmt.Errorf("metadata is not JSON-serializable: %w", err)
	}
	return len(data), nil
}

// ValidateMetadata enforces the metadata bounds: JSON-serializable, within
// the byte cap, nesting no deeper than MaxMetadataDepth, and printable keys.
func ValidateMetadata(md map[string]any) error {
	if len(md) == 0 {
		return nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("not JSON-serializable: %w", err)
	}
	if len(data) > MaxMetadataBytes {
		return fmt.Errorf("serialized size %d exceeds %d bytes", len(data), MaxMetadataBytes)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("serialized metadata is not valid JSON")
	}
	return checkMetadataValue(gjson.ParseBytes(data), 0)
}

func checkMetadataValue(v gjson.Result, depth int) error {
	if depth > MaxMetadataDepth {
		return fmt.Errorf("nesting exceeds %d levels", MaxMetadataDepth)
	}
	if !v.IsObject() && !v.IsArray() {
		return nil
	}
	var inner error
	v.ForEach(func(key, value gjson.Result) bool {
		if key.Type == gjson.String {
			if err := checkMetadataKey(key.String()); err != nil {
				inner = err
				return false
			}
		}
		if err := checkMetadataValue(value, depth+1); err != nil {
			inner = err
			return false
		}
		return true
	})
	return inner
}

func checkMetadataKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty metadata key")
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("metadata key %q contains a control character", key)
		}
	}
	return nil
}

// ValidateNotes enforces the note bounds: bounded count, known type,
// non-empty content within the length cap.
func ValidateNotes(notes []Note) error {
	if len(notes) > MaxNotes {
		return fmt.Errorf("%d notes exceeds limit of %d", len(notes), MaxNotes)
	}
	for i, n := range notes {
		switch n.Type {
		case NotePlanning, NoteProgress, NoteCompletion, NoteTroubleshooting:
		default:
			return fmt.Errorf("note %d has unknown type %q", i, n.Type)
		}
		if n.Content == "" {
			return fmt.Errorf("note %d is empty", i)
		}
		if len(n.Content) > MaxNoteLength {
			return fmt.Errorf("note %d exceeds %d bytes", i, MaxNoteLength)
		}
	}
	return nil
}
