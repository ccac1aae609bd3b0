// Package faults defines the classified error taxonomy shared by the
// patchd workflow: every failure that crosses a package boundary carries
// a stable code that callers can branch on without string matching.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// Code classifies a failure for propagation and retry decisions.
type Code string

const (
	// CodeValidation indicates a malformed request. Fails fast, never
	// retried, consumes no admission slot.
	CodeValidation Code = "validation"

	// CodeAdmissionRejected indicates a quota rejection. The caller may
	// resubmit later; nothing was started.
	CodeAdmissionRejected Code = "admission_rejected"

	// CodeDependencyUnavailable indicates an open circuit breaker. The
	// error carries a retry-after hint.
	CodeDependencyUnavailable Code = "dependency_unavailable"

	// CodeTransient indicates a failure likely to succeed on retry
	// (timeout, rate limit, network blip, 5xx). Absorbed by the retrier
	// and only surfaced after attempts are exhausted.
	CodeTransient Code = "transient"

	// CodeBranchConflict indicates branch-name fallback exhaustion.
	CodeBranchConflict Code = "branch_conflict"

	// CodeUnrecoverable indicates a permanent failure (permission,
	// not-found, malformed upstream response). Never retried.
	CodeUnrecoverable Code = "unrecoverable"
)

// Fault is a classified step error. Op names the operation that failed
// ("create_branch", "generate_changes"), Code drives propagation.
type Fault struct {
	Op   string
	Code Code
	Err  error

	// RetryAfter is set only for dependency_unavailable faults and holds
	// the remaining breaker cooldown.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s failed: %s (%s)", f.Op, f.Err.Error(), f.Code)
	}
	return fmt.Sprintf("%s failed (%s)", f.Op, f.Code)
}

// Unwrap allows errors.Is and errors.As to reach the underlying error.
func (f *Fault) Unwrap() error {
	return f.Err
}

// New creates a classified fault with a formatted message.
func New(op string, code Code, format string, args ...any) *Fault {
	return &Fault{Op: op, Code: code, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(op string, code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Op: op, Code: code, Err: err}
}

// Unavailable creates a dependency_unavailable fault with a retry-after hint.
func Unavailable(op string, retryAfter time.Duration, err error) *Fault {
	return &Fault{Op: op, Code: CodeDependencyUnavailable, Err: err, RetryAfter: retryAfter}
}

// CodeOf extracts the classification from an error chain. Unclassified
// errors report CodeUnrecoverable: an error nobody labeled transient must
// not be retried against an external dependency.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return CodeUnrecoverable
}

// IsTransient reports whether the retrier should re-attempt the operation.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeTransient
}
