package gitops

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/testutil"
)

// fakeCall records a single command invocation.
type fakeCall struct {
	dir  string
	name string
	args []string
}

type fakeResponse struct {
	output string
	err    error
}

// fakeExecutor replays canned responses in order.
type fakeExecutor struct {
	calls     []fakeCall
	responses []fakeResponse
}

func (f *fakeExecutor) add(output string, err error) *fakeExecutor {
	f.responses = append(f.responses, fakeResponse{output: output, err: err})
	return f
}

func (f *fakeExecutor) Run(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	idx := len(f.calls)
	f.calls = append(f.calls, fakeCall{dir: dir, name: name, args: args})
	if idx < len(f.responses) {
		return []byte(f.responses[idx].output), f.responses[idx].err
	}
	return nil, nil
}

func (f *fakeExecutor) argsOf(i int) string {
	if i >= len(f.calls) {
		return ""
	}
	return strings.Join(f.calls[i].args, " ")
}

var errExit = errors.New("exit status 1")

func TestRepo_Merge(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(f *fakeExecutor)
		wantSuccess  bool
		wantConflict bool
		wantErr      error
		wantCalls    []string
	}{
		{
			name: "clean merge on base",
			setup: func(f *fakeExecutor) {
				f.add("main\n", nil).add("Merge made by the 'ort' strategy.", nil)
			},
			wantSuccess: true,
			wantCalls:   []string{"rev-parse --abbrev-ref HEAD", "merge --no-ff --no-edit feature"},
		},
		{
			name: "checks out base first",
			setup: func(f *fakeExecutor) {
				f.add("feature\n", nil).add("", nil).add("Merge made", nil)
			},
			wantSuccess: true,
			wantCalls:   []string{"rev-parse --abbrev-ref HEAD", "checkout main", "merge --no-ff --no-edit feature"},
		},
		{
			name: "conflict is aborted",
			setup: func(f *fakeExecutor) {
				f.add("main\n", nil).
					add("CONFLICT (content): Merge conflict in a.txt\nAutomatic merge failed", errExit).
					add("", nil)
			},
			wantConflict: true,
			wantCalls:    []string{"rev-parse --abbrev-ref HEAD", "merge --no-ff --no-edit feature", "merge --abort"},
		},
		{
			name: "other failure is not aborted",
			setup: func(f *fakeExecutor) {
				f.add("main\n", nil).add("merge: feature - not something we can merge", errExit)
			},
			wantErr:   errors.ErrMergeFailed,
			wantCalls: []string{"rev-parse --abbrev-ref HEAD", "merge --no-ff --no-edit feature"},
		},
		{
			name: "checkout failure",
			setup: func(f *fakeExecutor) {
				f.add("feature\n", nil).add("error: pathspec 'main' did not match", errExit)
			},
			wantErr:   errors.ErrMergeFailed,
			wantCalls: []string{"rev-parse --abbrev-ref HEAD", "checkout main"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeExecutor{}
			tt.setup(f)
			repo := New("/repo", WithExecutor(f))

			result, err := repo.Merge(context.Background(), "feature", "main")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Merge() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Merge() unexpected error: %v", err)
			}
			if result.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", result.Success, tt.wantSuccess)
			}
			if result.Conflict != tt.wantConflict {
				t.Errorf("Conflict = %v, want %v", result.Conflict, tt.wantConflict)
			}
			if len(f.calls) != len(tt.wantCalls) {
				t.Fatalf("got %d calls, want %d: %+v", len(f.calls), len(tt.wantCalls), f.calls)
			}
			for i, want := range tt.wantCalls {
				if got := f.argsOf(i); got != want {
					t.Errorf("call %d = %q, want %q", i, got, want)
				}
				if f.calls[i].dir != "/repo" || f.calls[i].name != "git" {
					t.Errorf("call %d ran %s in %s", i, f.calls[i].name, f.calls[i].dir)
				}
			}
		})
	}
}

func TestRepo_ShowAtRef(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		err        error
		wantExists bool
		wantErr    bool
	}{
		{name: "existing file", output: "package a\n", wantExists: true},
		{name: "new file", output: "fatal: path 'b.go' does not exist in 'main'", err: errExit},
		{name: "on disk only", output: "fatal: path 'b.go' exists on disk, but not in 'HEAD'", err: errExit},
		{name: "bad ref", output: "fatal: invalid object name 'nope'.", err: errExit, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := (&fakeExecutor{}).add(tt.output, tt.err)
			repo := New("/repo", WithExecutor(f))

			content, exists, err := repo.ShowAtRef(context.Background(), "main", "b.go")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ShowAtRef() error = %v, wantErr %v", err, tt.wantErr)
			}
			if exists != tt.wantExists {
				t.Errorf("exists = %v, want %v", exists, tt.wantExists)
			}
			if tt.wantExists && string(content) != tt.output {
				t.Errorf("content = %q", content)
			}
			if got := f.argsOf(0); got != "show main:b.go" {
				t.Errorf("args = %q", got)
			}
		})
	}
}

func TestRepo_DiffDefaultsToHead(t *testing.T) {
	f := (&fakeExecutor{}).add("diff --git a/x b/x\n", nil)
	repo := New("/repo", WithExecutor(f))

	diff, err := repo.Diff(context.Background(), "x", "", "main")
	if err != nil {
		t.Fatalf("Diff() error: %v", err)
	}
	if !strings.HasPrefix(diff, "diff --git") {
		t.Errorf("diff = %q", diff)
	}
	if got := f.argsOf(0); got != "diff main...HEAD -- x" {
		t.Errorf("args = %q", got)
	}
}

func TestRepo_DiffError(t *testing.T) {
	f := (&fakeExecutor{}).add("fatal: bad revision", errExit)
	repo := New("/repo", WithExecutor(f))

	_, err := repo.Diff(context.Background(), "x", "feature", "main")
	var gitErr *errors.GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("expected GitError, got %v", err)
	}
	if gitErr.Branch != "feature" {
		t.Errorf("Branch = %q", gitErr.Branch)
	}
}

// -----------------------------------------------------------------------------
// Integration tests against a real repository
// -----------------------------------------------------------------------------

func TestRepo_Integration(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
	ctx := context.Background()

	t.Run("changed files and show at ref", func(t *testing.T) {
		dir := testutil.SetupTestRepoWithContent(t, map[string]string{"src/a.go": "package src\n"})
		testutil.CreateBranch(t, dir, "agent-1")
		testutil.CommitFile(t, dir, "src/a.go", "package src\n\nfunc A() {}\n", "edit a")
		testutil.CommitFile(t, dir, "src/b.go", "package src\n", "add b")

		repo := New(dir)
		files, err := repo.ChangedFiles(ctx, "main")
		if err != nil {
			t.Fatalf("ChangedFiles() error: %v", err)
		}
		if strings.Join(files, ",") != "src/a.go,src/b.go" {
			t.Errorf("files = %v", files)
		}

		old, exists, err := repo.ShowAtRef(ctx, "main", "src/a.go")
		if err != nil || !exists || string(old) != "package src\n" {
			t.Errorf("ShowAtRef(a) = %q, %v, %v", old, exists, err)
		}
		_, exists, err = repo.ShowAtRef(ctx, "main", "src/b.go")
		if err != nil || exists {
			t.Errorf("ShowAtRef(b) exists=%v err=%v, want new file", exists, err)
		}

		branch, err := repo.CurrentBranch(ctx)
		if err != nil || branch != "agent-1" {
			t.Errorf("CurrentBranch() = %q, %v", branch, err)
		}
	})

	t.Run("merge success", func(t *testing.T) {
		dir := testutil.SetupTestRepo(t)
		testutil.CreateBranch(t, dir, "agent-1")
		testutil.CommitFile(t, dir, "a.txt", "one\n", "add a")

		result, err := New(dir).Merge(ctx, "agent-1", "main")
		if err != nil || !result.Success {
			t.Fatalf("Merge() = %+v, %v", result, err)
		}
		if testutil.CurrentBranch(t, dir) != "main" {
			t.Errorf("expected main checked out")
		}
	})

	t.Run("merge conflict aborts", func(t *testing.T) {
		dir := testutil.SetupTestRepoWithContent(t, map[string]string{"a.txt": "base\n"})
		testutil.CreateBranch(t, dir, "agent-1")
		testutil.CommitFile(t, dir, "a.txt", "agent\n", "agent edit")
		testutil.CheckoutBranch(t, dir, "main")
		testutil.CommitFile(t, dir, "a.txt", "main\n", "main edit")

		result, err := New(dir).Merge(ctx, "agent-1", "main")
		if err != nil {
			t.Fatalf("Merge() error: %v", err)
		}
		if result.Success || !result.Conflict {
			t.Errorf("result = %+v, want conflict", result)
		}
		if testutil.HasUncommittedChanges(t, dir) {
			t.Error("working tree should be clean after abort")
		}
	})
}
