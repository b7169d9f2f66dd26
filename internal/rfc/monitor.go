package rfc

import (
	"context"
	"time"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

// Overdue is an open RFC past its human response deadline. Its scope is
// considered paused until the RFC is resolved.
type Overdue struct {
	ID                 string
	Scope              string
	TriggeringProposal string
	Deadline           time.Time
	OverdueBy          time.Duration
}

// OverdueRFCs returns the open RFCs whose deadline is before now, in input
// order.
func OverdueRFCs(rfcs []*knowledge.RFC, now time.Time) []Overdue {
	var out []Overdue
	for _, r := range rfcs {
		if r == nil || r.Status != knowledge.RFCOpen {
			continue
		}
		if !now.After(r.HumanResponseDeadline) {
			continue
		}
		out = append(out, Overdue{
			ID:                 r.ID,
			Scope:              r.SemanticScope,
			TriggeringProposal: r.TriggeringProposal,
			Deadline:           r.HumanResponseDeadline,
			OverdueBy:          now.Sub(r.HumanResponseDeadline),
		})
	}
	return out
}

// CheckDeadlines scans every RFC in store. Unreadable or invalid RFC files
// are skipped by the store.
func CheckDeadlines(ctx context.Context, store knowledge.RFCStore, now time.Time) ([]Overdue, error) {
	rfcs, err := store.ListRFCs(ctx)
	if err != nil {
		return nil, err
	}
	return OverdueRFCs(rfcs, now), nil
}

// ScopePaused reports whether any overdue RFC pauses scope.
func ScopePaused(overdue []Overdue, scope string) bool {
	for _, o := range overdue {
		if o.Scope == scope {
			return true
		}
	}
	return false
}
