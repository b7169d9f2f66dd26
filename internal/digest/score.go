// Package digest ranks state records by how urgently they need a human and
// composes the periodic summary.
package digest

import (
	"fmt"
	"sort"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

// Score weights.
const (
	weightContested       = 100
	weightPending         = 30
	weightReviewed        = 10
	weightPerChange       = 5
	weightPerInvariant    = 15
	weightPerShared       = 10
	weightPerAssumption   = 2
	weightUnowned         = 5
	weightMissingTestLink = 3
)

// Entry is one ranked record.
type Entry struct {
	Record  knowledge.StateRecord
	Score   int
	Reasons []string
}

// Score returns the priority of r and the contributions that made it up.
// It depends on r alone.
func Score(r knowledge.StateRecord) (int, []string) {
	var (
		score   int
		reasons []string
	)
	add := func(n int, format string, args ...any) {
		if n == 0 {
			return
		}
		score += n
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	switch r.UncertaintyLevel {
	case knowledge.LevelContested:
		add(weightContested, "contested")
	case knowledge.LevelPending:
		add(weightPending, "pending review")
	case knowledge.LevelReviewed:
		add(weightReviewed, "reviewed, not verified")
	}
	add(weightPerChange*r.ChangeCountSinceReview, "%d changes since review", r.ChangeCountSinceReview)
	add(weightPerInvariant*len(r.InvariantsTouched), "touches %d invariants", len(r.InvariantsTouched))

	shared := 0
	for _, a := range r.Assumptions {
		if a.Shared {
			shared++
		}
	}
	add(weightPerShared*shared, "%d shared assumptions", shared)
	add(weightPerAssumption*(len(r.Assumptions)-shared), "%d local assumptions", len(r.Assumptions)-shared)

	if r.OwnedBy == "" {
		add(weightUnowned, "no owner")
	}
	if r.TestReference == "" && r.UncertaintyLevel != knowledge.LevelVerified {
		add(weightMissingTestLink, "no test reference")
	}
	return score, reasons
}

// Rank scores every record and orders them by score descending, then path,
// then id. Records scoring zero are left out.
func Rank(records []knowledge.StateRecord) []Entry {
	out := make([]Entry, 0, len(records))
	for _, r := range records {
		s, reasons := Score(r)
		if s == 0 {
			continue
		}
		out = append(out, Entry{Record: r, Score: s, Reasons: reasons})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Record.Path != b.Record.Path {
			return a.Record.Path < b.Record.Path
		}
		return a.Record.ID < b.Record.ID
	})
	return out
}
