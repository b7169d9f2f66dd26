// Package gitops wraps the git subprocesses arbiter needs: diffs for the
// advisory verifier, changed-file listing and file-at-ref reads for proposal
// submission, and no-fast-forward merges of approved agent branches.
//
// Every call goes through a CommandExecutor so tests can substitute a fake
// without running git.
package gitops

import (
	"context"
	"os/exec"
	"strings"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/logging"
)

// -----------------------------------------------------------------------------
// Command Executor
// -----------------------------------------------------------------------------

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output. The process is killed
// when ctx is cancelled.
func (e *CLICommandExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// -----------------------------------------------------------------------------
// Repo
// -----------------------------------------------------------------------------

// conflictMarker is what git prints when a merge stops on conflicts.
const conflictMarker = "CONFLICT"

// MergeResult is the outcome of Merge.
type MergeResult struct {
	Success  bool
	Conflict bool
	Output   string
}

// Repo runs git commands in one repository.
type Repo struct {
	dir      string
	executor CommandExecutor
	logger   *logging.Logger
}

// Option configures a Repo.
type Option func(*Repo)

// WithExecutor substitutes the command executor. Used by tests.
func WithExecutor(e CommandExecutor) Option {
	return func(r *Repo) { r.executor = e }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Repo) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Repo rooted at dir.
func New(dir string, opts ...Option) *Repo {
	r := &Repo{
		dir:      dir,
		executor: NewCLICommandExecutor(),
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the repository directory.
func (r *Repo) Dir() string { return r.dir }

func (r *Repo) git(ctx context.Context, args ...string) ([]byte, error) {
	return r.executor.Run(ctx, r.dir, "git", args...)
}

// Diff returns the diff of path between base and branch using three-dot
// (merge-base) semantics. An empty branch diffs against HEAD.
func (r *Repo) Diff(ctx context.Context, path, branch, base string) (string, error) {
	if branch == "" {
		branch = "HEAD"
	}
	output, err := r.git(ctx, "diff", base+"..."+branch, "--", path)
	if err != nil {
		return "", errors.NewGitError("failed to diff "+path, err).
			WithBranch(branch).
			WithOutput(string(output))
	}
	return string(output), nil
}

// ChangedFiles lists files changed on HEAD relative to its merge base with base.
func (r *Repo) ChangedFiles(ctx context.Context, base string) ([]string, error) {
	output, err := r.git(ctx, "diff", "--name-only", base+"...HEAD")
	if err != nil {
		return nil, errors.NewGitError("failed to list changed files", err).
			WithBranch(base).
			WithOutput(string(output))
	}
	return splitLines(string(output)), nil
}

// ShowAtRef returns the content of path at ref. exists is false when the
// file is absent at ref, which is the normal case for new files.
func (r *Repo) ShowAtRef(ctx context.Context, ref, path string) (content []byte, exists bool, err error) {
	output, err := r.git(ctx, "show", ref+":"+path)
	if err != nil {
		out := string(output)
		if strings.Contains(out, "does not exist") || strings.Contains(out, "exists on disk, but not in") {
			return nil, false, nil
		}
		return nil, false, errors.NewGitError("failed to show "+path, err).
			WithBranch(ref).
			WithOutput(out)
	}
	return output, true, nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	output, err := r.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errors.NewGitError("failed to get current branch", err).
			WithOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// Merge merges branch into base with --no-ff, checking out base first when
// it is not already checked out. A conflicting merge is aborted and reported
// as {Success:false, Conflict:true} with a nil error; any other failure
// returns a GitError matching ErrMergeFailed and leaves the repository as git
// left it.
func (r *Repo) Merge(ctx context.Context, branch, base string) (MergeResult, error) {
	logger := r.logger.With("branch", branch, "base", base)

	current, err := r.CurrentBranch(ctx)
	if err != nil {
		return MergeResult{}, errors.Join(errors.ErrMergeFailed, err)
	}
	if base != "" && current != base {
		if output, err := r.git(ctx, "checkout", base); err != nil {
			return MergeResult{Output: string(output)}, errors.Join(errors.ErrMergeFailed,
				errors.NewGitError("failed to checkout base branch", err).
					WithBranch(base).
					WithOutput(string(output)))
		}
	}

	output, err := r.git(ctx, "merge", "--no-ff", "--no-edit", branch)
	out := string(output)
	if err == nil {
		logger.Info("merged branch")
		return MergeResult{Success: true, Output: out}, nil
	}

	if strings.Contains(out, conflictMarker) {
		if abortOut, abortErr := r.git(ctx, "merge", "--abort"); abortErr != nil {
			logger.Error("merge abort failed", "error", abortErr, "output", string(abortOut))
		}
		logger.Warn("merge conflict, aborted")
		return MergeResult{Conflict: true, Output: out}, nil
	}

	logger.Error("merge failed", "error", err)
	return MergeResult{Output: out}, errors.Join(errors.ErrMergeFailed,
		errors.NewGitError("failed to merge", err).WithBranch(branch).WithOutput(out))
}

func splitLines(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{}
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
