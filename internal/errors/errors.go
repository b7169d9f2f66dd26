// Package errors provides centralized error definitions and error handling utilities
// for arbiter. It defines sentinel errors, domain error types that carry context
// (document path, proposal, model, branch), and classification helpers used by the
// run loop to decide which failures are fatal.
//
// # Error Types
//
// Domain errors:
//   - StoreError: knowledge store I/O (read, write, lock)
//   - AdvisoryError: advisory model calls; always recovered into a fallback
//   - RFCError: RFC generation; the one advisory path that is a hard failure
//   - GitError: version control subprocesses
//
// Semantic errors:
//   - ValidationError: a document failed structural validation
//   - NotFoundError: a document or record does not exist
//
// # Usage
//
//	err := errors.NewStoreError("write", path, cause)
//	if errors.Is(err, errors.ErrWriteFailed) { ... }
//
//	var verr *errors.ValidationError
//	if errors.As(err, &verr) { ... }
//
//	if errors.IsFatal(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions so callers can import only this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityWarning is for errors that degrade behavior but are recovered.
	SeverityWarning Severity = iota
	// SeverityError is for errors that fail the current operation.
	SeverityError
	// SeverityCritical is for errors that must stop the run loop.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Knowledge store sentinel errors
var (
	// ErrNotFound indicates a document that does not exist yet. Expected on first run.
	ErrNotFound = New("not found")
	// ErrValidation indicates a document failed structural validation.
	ErrValidation = New("validation failed")
	// ErrWriteFailed indicates an I/O failure while persisting a document.
	ErrWriteFailed = New("write failed")
	// ErrLockTimeout indicates the store lock could not be acquired in time.
	ErrLockTimeout = New("store lock timeout")
	// ErrInvariantViolation indicates a write that would break a state invariant
	// (new level 0 outside verification, lowered level 3, re-terminalized proposal).
	ErrInvariantViolation = New("invariant violation")
)

// Advisory sentinel errors
var (
	// ErrNoModel indicates no advisory model is available.
	ErrNoModel = New("no advisory model available")
	// ErrMalformedResponse indicates the model answered with something unparsable.
	ErrMalformedResponse = New("malformed advisory response")
	// ErrRFCGeneration indicates RFC generation failed after its single retry.
	ErrRFCGeneration = New("rfc generation failed")
)

// Engine sentinel errors
var (
	// ErrSessionLocked indicates another session holds the repository lock.
	ErrSessionLocked = New("session is locked by another process")
	// ErrQueueFull indicates the pending queue reached its configured maximum.
	ErrQueueFull = New("queue is full")
	// ErrProposalNotFound indicates a proposal id missing from the queue.
	ErrProposalNotFound = New("proposal not found")
	// ErrAlreadyDecided indicates a proposal that already reached a terminal status.
	ErrAlreadyDecided = New("proposal already decided")
	// ErrScopePaused indicates an overdue RFC has paused the agent's semantic scope.
	ErrScopePaused = New("semantic scope paused")
	// ErrBranchBlocked indicates an open RFC with unmet acceptance criteria holds the branch.
	ErrBranchBlocked = New("branch blocked by open rfc")
)

// Verification sentinel errors
var (
	// ErrTestsFailed indicates a verification run exited non-zero.
	ErrTestsFailed = New("tests failed")
)

// Git sentinel errors
var (
	// ErrMergeConflict indicates a merge stopped on conflicts and was aborted.
	ErrMergeConflict = New("merge conflict")
	// ErrMergeFailed indicates a merge failed for a reason other than conflicts.
	ErrMergeFailed = New("merge failed")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

type baseError struct {
	message  string
	cause    error
	severity Severity
}

func (e *baseError) Unwrap() error { return e.cause }

// Severity returns the error severity.
func (e *baseError) Severity() Severity { return e.severity }

func (e *baseError) format(prefix string, parts []string) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// StoreError represents a knowledge store failure.
//
// Example:
//
//	err := errors.NewStoreError("write", "/repo/.arbiter/knowledge.json", ioErr)
//	fmt.Println(err) // "store error [op=write, path=...]: write failed: <ioErr>"
type StoreError struct {
	baseError
	Op   string
	Path string
}

// NewStoreError creates a StoreError. Write failures are critical.
func NewStoreError(op, path string, cause error) *StoreError {
	sev := SeverityError
	msg := op + " failed"
	if op == "write" {
		sev = SeverityCritical
	}
	return &StoreError{
		baseError: baseError{message: msg, cause: cause, severity: sev},
		Op:        op,
		Path:      path,
	}
}

// Error returns the formatted error message.
func (e *StoreError) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Path != "" {
		parts = append(parts, "path="+e.Path)
	}
	return e.format("store error", parts)
}

// Is reports whether the target is ErrWriteFailed for write operations, or
// matches the wrapped cause.
func (e *StoreError) Is(target error) bool {
	if target == ErrWriteFailed && e.Op == "write" {
		return true
	}
	if _, ok := target.(*StoreError); ok {
		return true
	}
	return false
}

// AdvisoryError represents a failed advisory model call.
type AdvisoryError struct {
	baseError
	Model     string
	Operation string
}

// NewAdvisoryError creates an AdvisoryError. Advisory failures are warnings:
// callers degrade to a documented fallback.
func NewAdvisoryError(operation, model string, cause error) *AdvisoryError {
	return &AdvisoryError{
		baseError: baseError{message: operation + " failed", cause: cause, severity: SeverityWarning},
		Model:     model,
		Operation: operation,
	}
}

// Error returns the formatted error message.
func (e *AdvisoryError) Error() string {
	var parts []string
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	return e.format("advisory error", parts)
}

// RFCError represents an RFC generation hard failure.
type RFCError struct {
	baseError
	ProposalID string
	Attempts   int
	Problems   []string
}

// NewRFCError creates an RFCError wrapping ErrRFCGeneration.
func NewRFCError(proposalID string, attempts int, problems []string, cause error) *RFCError {
	if cause == nil {
		cause = ErrRFCGeneration
	} else {
		cause = Join(ErrRFCGeneration, cause)
	}
	return &RFCError{
		baseError:  baseError{message: fmt.Sprintf("no valid rfc after %d attempt(s)", attempts), cause: cause, severity: SeverityCritical},
		ProposalID: proposalID,
		Attempts:   attempts,
		Problems:   problems,
	}
}

// Error returns the formatted error message.
func (e *RFCError) Error() string {
	var parts []string
	if e.ProposalID != "" {
		parts = append(parts, "proposal="+e.ProposalID)
	}
	msg := e.format("rfc error", parts)
	if len(e.Problems) > 0 {
		msg += " (" + strings.Join(e.Problems, "; ") + ")"
	}
	return msg
}

// GitError represents a failed git subprocess.
type GitError struct {
	baseError
	Branch string
	Output string
}

// NewGitError creates a GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{baseError: baseError{message: message, cause: cause, severity: SeverityError}}
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithOutput attaches the subprocess output.
func (e *GitError) WithOutput(output string) *GitError {
	e.Output = output
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, "branch="+e.Branch)
	}
	msg := e.format("git error", parts)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError reports a document that failed structural validation.
// Validation failures are always surfaced and never coerced.
type ValidationError struct {
	Document string
	Problems []string
	cause    error
}

// NewValidationError creates a ValidationError for the named document.
func NewValidationError(document string, problems ...string) *ValidationError {
	return &ValidationError{Document: document, Problems: problems}
}

// WithCause attaches the underlying validator error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		if e.cause != nil {
			return fmt.Sprintf("validation error [%s]: %v", e.Document, e.cause)
		}
		return fmt.Sprintf("validation error [%s]", e.Document)
	}
	return fmt.Sprintf("validation error [%s]: %s", e.Document, strings.Join(e.Problems, "; "))
}

// Unwrap returns the underlying validator error.
func (e *ValidationError) Unwrap() error { return e.cause }

// Is matches ErrValidation and any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NotFoundError reports a missing resource.
type NotFoundError struct {
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.ResourceType, e.ResourceID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsNotFound reports whether err means "does not exist yet".
func IsNotFound(err error) bool {
	return Is(err, ErrNotFound)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return Is(err, ErrValidation)
}

// IsFatal reports whether err must stop the run loop: knowledge store write
// failures and RFC generation failures.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrWriteFailed) || Is(err, ErrRFCGeneration)
}

// GetSeverity returns the severity of err, defaulting to SeverityError.
func GetSeverity(err error) Severity {
	var s interface{ Severity() Severity }
	if As(err, &s) {
		return s.Severity()
	}
	return SeverityError
}

// Wrap adds context to an error. Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
