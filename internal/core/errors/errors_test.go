package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodeNotFound, "snapshot not found")
		if err.Error() != "[NOT_FOUND] snapshot not found" {
			t.Errorf("expected [NOT_FOUND] snapshot not found, got %s", err.Error())
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		original := errors.New("FOREIGN KEY constraint failed")
		err := Wrap(original, CodeIntegrity, "insert edge")
		expected := "[INTEGRITY] insert edge: FOREIGN KEY constraint failed"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
		if !errors.Is(err, original) {
			t.Error("expected wrapped driver error to stay reachable")
		}
	})

	t.Run("IsCode", func(t *testing.T) {
		err := New(CodeLockTimeout, "write lock timeout")
		if !IsCode(err, CodeLockTimeout) {
			t.Error("expected IsCode to return true for CodeLockTimeout")
		}
		if IsCode(err, CodeNotFound) {
			t.Error("expected IsCode to return false for CodeNotFound")
		}
	})

	t.Run("IsCodeThroughFmtWrap", func(t *testing.T) {
		err := fmt.Errorf("insert nodes batch: %w", New(CodeClosed, "engine closed"))
		if !IsCode(err, CodeClosed) {
			t.Error("expected IsCode to see through fmt.Errorf wrapping")
		}
		if CodeOf(err) != CodeClosed {
			t.Errorf("expected CodeOf CLOSED, got %q", CodeOf(err))
		}
	})

	t.Run("AddContext", func(t *testing.T) {
		err := AddContext(New(CodeIntegrity, "missing endpoint"), CtxNodeID, "vpc-1")
		if got := err.Error(); got != "[INTEGRITY] missing endpoint map[node_id:vpc-1]" {
			t.Errorf("unexpected message %q", got)
		}

		plain := AddContext(errors.New("boom"), CtxOperation, "clear")
		if !IsCode(plain, CodeInternal) {
			t.Error("expected plain errors to be wrapped as internal")
		}
	})
}
