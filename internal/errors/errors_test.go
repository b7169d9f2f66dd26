package errors

import (
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestStoreError(t *testing.T) {
	t.Run("write failures are fatal and match ErrWriteFailed", func(t *testing.T) {
		err := NewStoreError("write", "/tmp/knowledge.json", io.ErrShortWrite)
		if !Is(err, ErrWriteFailed) {
			t.Error("expected write StoreError to match ErrWriteFailed")
		}
		if !Is(err, io.ErrShortWrite) {
			t.Error("expected StoreError to unwrap to its cause")
		}
		if !IsFatal(err) {
			t.Error("expected write failure to be fatal")
		}
		if GetSeverity(err) != SeverityCritical {
			t.Errorf("severity = %v, want critical", GetSeverity(err))
		}
		if !strings.Contains(err.Error(), "op=write") || !strings.Contains(err.Error(), "path=/tmp/knowledge.json") {
			t.Errorf("Error() = %q, missing context", err.Error())
		}
	})

	t.Run("read failures are not fatal", func(t *testing.T) {
		err := NewStoreError("read", "/tmp/knowledge.json", io.EOF)
		if Is(err, ErrWriteFailed) {
			t.Error("read StoreError must not match ErrWriteFailed")
		}
		if IsFatal(err) {
			t.Error("read failure must not be fatal")
		}
	})

	t.Run("wrapped write failure stays fatal", func(t *testing.T) {
		err := fmt.Errorf("persist decision: %w", NewStoreError("write", "", io.ErrClosedPipe))
		if !IsFatal(err) {
			t.Error("expected wrapped write failure to be fatal")
		}
	})
}

func TestRFCError(t *testing.T) {
	err := NewRFCError("prop_1", 2, []string{"options: expected at least 1"}, nil)
	if !Is(err, ErrRFCGeneration) {
		t.Error("expected RFCError to match ErrRFCGeneration")
	}
	if !IsFatal(err) {
		t.Error("expected RFC generation failure to be fatal")
	}
	if !strings.Contains(err.Error(), "2 attempt(s)") {
		t.Errorf("Error() = %q, want attempt count", err.Error())
	}

	withCause := NewRFCError("prop_2", 1, nil, ErrNoModel)
	if !Is(withCause, ErrNoModel) || !Is(withCause, ErrRFCGeneration) {
		t.Error("expected RFCError to match both its cause and ErrRFCGeneration")
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "with problems",
			err:  NewValidationError("knowledge.json", "state[0].uncertainty_level: must be <= 3"),
			want: "validation error [knowledge.json]: state[0].uncertainty_level: must be <= 3",
		},
		{
			name: "cause only",
			err:  NewValidationError("RFC-001.json").WithCause(io.ErrUnexpectedEOF),
			want: "validation error [RFC-001.json]: unexpected EOF",
		},
		{
			name: "bare",
			err:  NewValidationError("session-0001.json"),
			want: "validation error [session-0001.json]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !IsValidation(tt.err) {
				t.Error("expected IsValidation to be true")
			}
			if IsFatal(tt.err) {
				t.Error("validation errors are not fatal on their own")
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	err := NewNotFoundError("rfc", "RFC-009")
	if !IsNotFound(err) {
		t.Error("expected NotFoundError to match ErrNotFound")
	}
	if !IsNotFound(fmt.Errorf("load: %w", ErrNotFound)) {
		t.Error("expected wrapped sentinel to match")
	}
	if IsNotFound(nil) {
		t.Error("nil is not a not-found error")
	}
}

func TestAdvisoryErrorIsWarning(t *testing.T) {
	err := NewAdvisoryError("verify classification", "claude-haiku", ErrMalformedResponse)
	if GetSeverity(err) != SeverityWarning {
		t.Errorf("severity = %v, want warning", GetSeverity(err))
	}
	if !Is(err, ErrMalformedResponse) {
		t.Error("expected AdvisoryError to unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "model=claude-haiku") {
		t.Errorf("Error() = %q, want model context", err.Error())
	}
}

func TestGitError(t *testing.T) {
	err := NewGitError("merge failed", ErrMergeConflict).WithBranch("agent-a/feature").WithOutput("CONFLICT (content)\n")
	if !Is(err, ErrMergeConflict) {
		t.Error("expected GitError to unwrap to ErrMergeConflict")
	}
	msg := err.Error()
	if !strings.Contains(msg, "branch=agent-a/feature") || !strings.Contains(msg, "CONFLICT (content)") {
		t.Errorf("Error() = %q, missing context", msg)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
	err := Wrapf(ErrQueueFull, "submit %s", "prop_1")
	if !Is(err, ErrQueueFull) || err.Error() != "submit prop_1: queue is full" {
		t.Errorf("Wrapf = %v", err)
	}
}

func TestSeverityString(t *testing.T) {
	for s, want := range map[Severity]string{
		SeverityWarning:  "warning",
		SeverityError:    "error",
		SeverityCritical: "critical",
		Severity(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("Severity(%d).String() = %q, want %q", s, got, want)
		}
	}
}
