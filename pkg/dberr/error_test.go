package dberr

import (
	"errors"
	"testing"
)

func TestIsMatchesByCodeOnly(t *testing.T) {
	withDetail := ErrDuplicateLock.WithDetail("db/t1")
	if !errors.Is(withDetail, ErrDuplicateLock) {
		t.Fatal("errors.Is should match regardless of Detail")
	}
	if errors.Is(withDetail, ErrNoLockHeld) {
		t.Fatal("errors.Is should not match a different sentinel")
	}
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	before := ErrInvalidLock.Detail
	_ = ErrInvalidLock.WithDetail("extra context")
	if ErrInvalidLock.Detail != before {
		t.Fatal("WithDetail mutated the shared sentinel instead of returning a copy")
	}
}

func TestWrapPreservesExistingDBError(t *testing.T) {
	original := ErrAssertion.WithDetail("bad state")
	wrapped := Wrap(original, CodeIllegalState, "Op", "Component")
	if wrapped != original {
		t.Fatal("Wrap should enrich an existing *DBError in place, not allocate a new one")
	}
	if wrapped.Operation != "Op" || wrapped.Component != "Component" {
		t.Fatalf("Wrap did not fill in Operation/Component: %+v", wrapped)
	}
}

func TestWrapLeavesExistingOperationAlone(t *testing.T) {
	original := New(CategoryData, CodeIllegalState, "msg")
	original.Operation = "FirstOp"
	wrapped := Wrap(original, CodeIllegalState, "SecondOp", "Component")
	if wrapped.Operation != "FirstOp" {
		t.Fatalf("Wrap overwrote an already-set Operation: %q", wrapped.Operation)
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(nil, CodeIllegalState, "Op", "Component") != nil {
		t.Fatal("Wrap(nil, ...) should return nil")
	}
}

func TestWrapPlainErrorBecomesSystemCategory(t *testing.T) {
	plain := errors.New("disk full")
	wrapped := Wrap(plain, CodeIllegalState, "Append", "logstore")
	if wrapped.Category != CategorySystem {
		t.Fatalf("Category = %v, want CategorySystem", wrapped.Category)
	}
	if !errors.Is(wrapped, wrapped) {
		t.Fatal("a DBError should always be errors.Is itself")
	}
	if errors.Unwrap(wrapped) != plain {
		t.Fatal("Unwrap should return the original wrapped error")
	}
}

func TestErrorIncludesDetailAndOperation(t *testing.T) {
	err := ErrDuplicateLock.WithDetail("db/t1")
	err.Operation = "Acquire"
	err.Component = "LockManager"

	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() should not be empty")
	}
	for _, want := range []string{"DUPLICATE_LOCK_REQUEST", "db/t1", "Acquire", "LockManager"} {
		if !contains(msg, want) {
			t.Errorf("Error() = %q, want it to contain %q", msg, want)
		}
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
