package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestEngineError_Error(t *testing.T) {
	err := ErrTaskNotFound("proj/a")
	if !strings.Contains(err.Error(), "proj/a") {
		t.Errorf("Error() = %q, want path mentioned", err.Error())
	}

	wrapped := err.WithCause(fmt.Errorf("row scan failed"))
	if !strings.Contains(wrapped.Error(), "row scan failed") {
		t.Errorf("Error() = %q, want cause appended", wrapped.Error())
	}
}

func TestEngineError_Is(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrTaskBusy("proj/a"))
	if !stderrors.Is(err, ErrTaskBusy("other/path")) {
		t.Error("Is should match on code, not message")
	}
	if stderrors.Is(err, ErrTaskNotFound("proj/a")) {
		t.Error("Is should not match across codes")
	}
}

func TestEngineError_Categories(t *testing.T) {
	cases := []struct {
		err  *EngineError
		want Category
	}{
		{ErrDuplicatePath("a"), CategoryValidation},
		{ErrDependencyCycle("a", []string{"a", "b", "a"}), CategoryValidation},
		{ErrTaskNotFound("a"), CategoryNotFound},
		{ErrStatusTransition("a", "PENDING", "COMPLETED"), CategoryStatusTransition},
		{ErrConcurrentModification("a", 1, 2), CategoryConflict},
		{ErrTransactionNotFound("tx-1"), CategoryTransaction},
		{ErrStorage("save", nil), CategoryStorage},
	}
	for _, tc := range cases {
		if got := tc.err.Category(); got != tc.want {
			t.Errorf("%s: Category() = %v, want %v", tc.err.Code, got, tc.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !IsRetryable(ErrTaskBusy("a")) {
		t.Error("TASK_BUSY should be retryable")
	}
	if !IsRetryable(fmt.Errorf("wrapped: %w", ErrConcurrentModification("a", 1, 2))) {
		t.Error("wrapped CONCURRENT_MODIFICATION should be retryable")
	}
	if IsRetryable(ErrTaskNotFound("a")) {
		t.Error("TASK_NOT_FOUND should not be retryable")
	}
	if IsRetryable(fmt.Errorf("plain error")) {
		t.Error("plain errors are never retryable")
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("op failed: %w", ErrDependencyMissing("proj/a", []string{"proj/b"}))
	if !HasCode(err, CodeDependencyMissing) {
		t.Error("HasCode should unwrap to find the code")
	}
	if HasCode(err, CodeTaskNotFound) {
		t.Error("HasCode should not match a different code")
	}
}

func TestMarshalJSON(t *testing.T) {
	err := ErrConcurrentModification("proj/a", 3, 4).WithCause(fmt.Errorf("boom"))
	data, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatalf("marshal: %v", jerr)
	}
	var decoded map[string]any
	if jerr := json.Unmarshal(data, &decoded); jerr != nil {
		t.Fatalf("unmarshal: %v", jerr)
	}
	if decoded["code"] != string(CodeConcurrentModification) {
		t.Errorf("code = %v", decoded["code"])
	}
	if decoded["cause"] != "boom" {
		t.Errorf("cause = %v", decoded["cause"])
	}
	ctx, ok := decoded["context"].(map[string]any)
	if !ok || ctx["path"] != "proj/a" {
		t.Errorf("context = %v", decoded["context"])
	}
}

func TestWithContext_DoesNotMutateOriginal(t *testing.T) {
	base := ErrTaskBusy("proj/a")
	derived := base.WithContext("attempt", 2)
	if _, ok := base.Context["attempt"]; ok {
		t.Error("WithContext mutated the original error")
	}
	if derived.Context["attempt"] != 2 {
		t.Error("WithContext did not set the new entry")
	}
}
