// Package dberr defines the structured error hierarchy shared by the lock
// manager and the recovery manager.
//
// Every error returned across a package boundary in this module is a
// *DBError so that callers can branch on a machine-matchable Code via
// errors.Is, rather than string-matching messages.
package dberr

import (
	"fmt"
	"runtime"
	"strings"
)

// Category classifies an error by the handling strategy it calls for.
type Category int

const (
	// CategoryUser covers caller-contract violations: duplicate lock
	// requests, releasing a lock never held, mutating a readonly context.
	// These are fixable by the caller changing what it asked for.
	CategoryUser Category = iota

	// CategoryConcurrency covers multigranularity violations: a lock
	// request that is missing a compatible parent intention lock, a
	// promotion that isn't substitutable, a release that would orphan a
	// descendant's intent.
	CategoryConcurrency

	// CategoryData covers corruption of durable state: a log record
	// missing a required prevLSN, a CLR missing its undoNextLSN, a nil
	// transaction-table entry where one was required. Fatal; recovery
	// cannot proceed past one of these.
	CategoryData

	// CategorySystem covers I/O and environment failures (disk full,
	// permission denied) wrapped from an underlying error.
	CategorySystem
)

// Code is a stable, machine-matchable identifier for an error kind.
type Code string

const (
	CodeDuplicateLock      Code = "DUPLICATE_LOCK_REQUEST"
	CodeNoLockHeld         Code = "NO_LOCK_HELD"
	CodeInvalidLock        Code = "INVALID_LOCK"
	CodeUnsupportedOp      Code = "UNSUPPORTED_OPERATION"
	CodeIllegalState       Code = "ILLEGAL_STATE"
	CodeAssertionViolation Code = "ASSERTION_VIOLATION"
)

// DBError is a structured error carrying enough context to diagnose a
// failure without string-matching the message.
type DBError struct {
	// Code is a unique identifier for this error kind.
	Code Code

	// Category classifies the error for the caller's handling strategy.
	Category Category

	// Message is a human-readable description of what went wrong.
	Message string

	// Detail provides additional context about this specific occurrence.
	Detail string

	// Operation identifies what was being attempted, e.g. "Acquire", "Promote".
	Operation string

	// Component identifies the originating subsystem, e.g. "LockManager".
	Component string

	// Cause is the underlying error this one wraps, if any.
	Cause error

	// Stack is the call stack captured at construction, for diagnostics.
	Stack []uintptr
}

// New creates a DBError with the given category, code, and message.
func New(category Category, code Code, message string) *DBError {
	return &DBError{
		Code:     code,
		Category: category,
		Message:  message,
		Stack:    captureStack(),
	}
}

// Wrap attaches operation/component context to err. If err is already a
// *DBError, the existing error is enriched in place (only filling in blank
// fields); otherwise a new CategorySystem error wraps it as Cause.
func Wrap(err error, code Code, operation, component string) *DBError {
	if err == nil {
		return nil
	}

	if dbErr, ok := err.(*DBError); ok {
		if dbErr.Operation == "" {
			dbErr.Operation = operation
		}
		if dbErr.Component == "" {
			dbErr.Component = component
		}
		return dbErr
	}

	return &DBError{
		Code:      code,
		Category:  CategorySystem,
		Message:   err.Error(),
		Operation: operation,
		Component: component,
		Cause:     err,
		Stack:     captureStack(),
	}
}

// WithDetail returns a copy of e with Detail set, for attaching instance-specific
// context (e.g. the resource name) to a sentinel error before returning it.
func (e *DBError) WithDetail(detail string) *DBError {
	cp := *e
	cp.Detail = detail
	cp.Stack = captureStack()
	return &cp
}

func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[0:n]
}

// Error implements the standard library error interface.
//
// Format: [CODE] Message: Detail (operation: Op, component: Component) caused by: cause
func (e *DBError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Detail != "" {
		b.WriteString(fmt.Sprintf(": %s", e.Detail))
	}

	if e.Operation != "" {
		b.WriteString(fmt.Sprintf(" (operation: %s", e.Operation))
		if e.Component != "" {
			b.WriteString(fmt.Sprintf(", component: %s", e.Component))
		}
		b.WriteString(")")
	}

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(" caused by: %v", e.Cause))
	}

	return b.String()
}

// Unwrap enables errors.Is/errors.As chain traversal through Cause.
func (e *DBError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *DBError with the same Code, so sentinel
// comparisons via errors.Is(err, dberr.ErrDuplicateLock) work regardless of
// Detail/Operation/Component differences.
func (e *DBError) Is(target error) bool {
	t, ok := target.(*DBError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// FormatStack returns a human-readable stack trace for debugging.
func (e *DBError) FormatStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var b strings.Builder
	frames := runtime.CallersFrames(e.Stack)

	b.WriteString("Stack trace:\n")
	for {
		f, more := frames.Next()
		b.WriteString(fmt.Sprintf("  %s\n    %s:%d\n", f.Function, f.File, f.Line))
		if !more {
			break
		}
	}

	return b.String()
}

// Sentinel errors for the six kinds the lock manager and recovery manager
// can raise. Use errors.Is against these; attach instance detail with
// WithDetail before returning.
var (
	ErrDuplicateLock = New(CategoryUser, CodeDuplicateLock, "transaction already holds a lock on this resource")
	ErrNoLockHeld    = New(CategoryUser, CodeNoLockHeld, "transaction holds no lock on this resource")
	ErrInvalidLock   = New(CategoryConcurrency, CodeInvalidLock, "lock request violates multigranularity constraints")
	ErrUnsupportedOp = New(CategoryUser, CodeUnsupportedOp, "operation not permitted on a readonly context")
	ErrIllegalState  = New(CategoryData, CodeIllegalState, "log is in an illegal state")
	ErrAssertion     = New(CategoryData, CodeAssertionViolation, "internal invariant violated")
)
