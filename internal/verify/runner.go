// Package verify runs a state record's test reference and is the only code
// that may promote a record to level 0 (verified).
package verify

import (
	"context"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/gitops"
)

// MaxOutput is the number of output characters kept per run.
const MaxOutput = 2000

// ResolveCommand maps a test reference to the command that runs it.
func ResolveCommand(testRef, python, jest string) (string, []string) {
	switch {
	case strings.HasSuffix(testRef, ".py"):
		return python, []string{"-m", "pytest", testRef}
	case isJestFile(testRef):
		fields := strings.Fields(jest)
		if len(fields) == 0 {
			fields = []string{"npx", "jest"}
		}
		return fields[0], append(fields[1:], testRef)
	default:
		return python, []string{testRef}
	}
}

func isJestFile(ref string) bool {
	for _, suffix := range []string{".test.ts", ".spec.ts", ".test.js", ".spec.js"} {
		if strings.HasSuffix(ref, suffix) {
			return true
		}
	}
	return false
}

// RunResult is the outcome of one test command.
type RunResult struct {
	Command  string
	Passed   bool
	ExitCode int
	Output   string
	Duration time.Duration
}

// Runner executes test commands in a working directory.
type Runner struct {
	exec    gitops.CommandExecutor
	dir     string
	python  string
	jest    string
	timeout time.Duration
}

// NewRunner creates a Runner. A nil executor uses the real command line.
func NewRunner(executor gitops.CommandExecutor, dir, python, jest string, timeout time.Duration) *Runner {
	if executor == nil {
		executor = gitops.NewCLICommandExecutor()
	}
	if python == "" {
		python = "python3"
	}
	if jest == "" {
		jest = "npx jest"
	}
	return &Runner{exec: executor, dir: dir, python: python, jest: jest, timeout: timeout}
}

// Run executes testRef. Exit status 0 is the only pass signal; a command
// that cannot start, times out, or exits non-zero fails.
func (r *Runner) Run(ctx context.Context, testRef string) RunResult {
	name, args := ResolveCommand(testRef, r.python, r.jest)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := r.exec.Run(ctx, r.dir, name, args...)
	res := RunResult{
		Command:  strings.Join(append([]string{name}, args...), " "),
		Duration: time.Since(start),
		Output:   string(out),
	}
	switch {
	case err == nil:
		res.Passed = true
	case ctx.Err() != nil:
		res.ExitCode = -1
		res.Output += "\n" + ctx.Err().Error()
	default:
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.Output += "\n" + err.Error()
		}
	}
	res.Output = truncate(strings.TrimSpace(res.Output), MaxOutput)
	return res
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
