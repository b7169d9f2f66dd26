package signals

import (
	"slices"
	"strings"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

// FileCheck is the scope verdict for one changed file.
type FileCheck struct {
	Path       string
	OutOfScope bool
	CrossScope bool
}

// CheckFileScope flags files outside the agent's file scope. An empty file
// scope allows every file.
func CheckFileScope(files, fileScope []string) []FileCheck {
	out := make([]FileCheck, 0, len(files))
	for _, f := range files {
		out = append(out, FileCheck{
			Path:       f,
			OutOfScope: len(fileScope) > 0 && !slices.Contains(fileScope, f),
		})
	}
	return out
}

// CheckSemanticScope flags files that fall under a forbidden prefix of the
// agent's scope definition without being explicitly allowed. A nil
// definition skips the check.
func CheckSemanticScope(checks []FileCheck, def *knowledge.ScopeDefinition) []FileCheck {
	if def == nil {
		return checks
	}
	out := slices.Clone(checks)
	for i := range out {
		p := out[i].Path
		if slices.Contains(def.AllowedPaths, p) || hasAnyPrefix(p, def.AllowedPathPrefixes) {
			continue
		}
		if hasAnyPrefix(p, def.ForbiddenPathPrefixes) {
			out[i].CrossScope = true
		}
	}
	return out
}

func hasAnyPrefix(s string, prefixes []string) bool {
	return slices.ContainsFunc(prefixes, func(p string) bool { return strings.HasPrefix(s, p) })
}

// CheckQueueBudget refuses submission when the pending queue is full.
func CheckQueueBudget(snap *knowledge.Snapshot, queueMax int) error {
	if queueMax <= 0 {
		return nil
	}
	n := snap.PendingCount()
	if n >= queueMax {
		return errors.Wrapf(errors.ErrQueueFull, "%d/%d pending proposals; wait for a review session to drain the queue", n, queueMax)
	}
	return nil
}
