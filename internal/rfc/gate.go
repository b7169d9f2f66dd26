package rfc

import (
	"context"
	"time"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

// Blocking is an open RFC that holds a branch back until its acceptance
// criteria pass.
type Blocking struct {
	RFC   *knowledge.RFC
	Unmet []knowledge.AcceptanceCriterion
}

// GateReport is the merge gate for one branch.
type GateReport struct {
	Branch   string
	Blocking []Blocking
	// Paused lists every overdue RFC; callers filter by scope.
	Paused []Overdue
}

// Blocked reports whether any RFC blocks the branch.
func (r GateReport) Blocked() bool { return len(r.Blocking) > 0 }

// BlockingRFCs returns the open, merge-blocking RFCs whose triggering
// proposal was submitted from branch and that still have unmet criteria.
func BlockingRFCs(rfcs []*knowledge.RFC, snap *knowledge.Snapshot, branch string) []Blocking {
	var out []Blocking
	for _, r := range rfcs {
		if r == nil || r.Status != knowledge.RFCOpen || !r.MergeBlockedUntilCriteriaPass {
			continue
		}
		p := snap.Proposal(r.TriggeringProposal)
		if p == nil || p.Branch != branch {
			continue
		}
		if unmet := r.UnmetCriteria(); len(unmet) > 0 {
			out = append(out, Blocking{RFC: r, Unmet: unmet})
		}
	}
	return out
}

// CheckBranch builds the gate report for branch.
func CheckBranch(ctx context.Context, store knowledge.RFCStore, snap *knowledge.Snapshot, branch string, now time.Time) (GateReport, error) {
	rfcs, err := store.ListRFCs(ctx)
	if err != nil {
		return GateReport{}, err
	}
	if snap == nil {
		snap = &knowledge.Snapshot{}
	}
	return GateReport{
		Branch:   branch,
		Blocking: BlockingRFCs(rfcs, snap, branch),
		Paused:   OverdueRFCs(rfcs, now),
	}, nil
}
