package knowledge

import (
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/arbiter/internal/errors"
)

// Evidence is the proof a verification write carries: a recorded passing
// test run for one state record.
type Evidence struct {
	RecordID      string
	RunID         string
	TestReference string
	Passed        bool
	FinishedAt    time.Time
}

func (e Evidence) valid() bool {
	return e.Passed && e.RecordID != "" && e.RunID != ""
}

// checkTransition rejects a write that would break a state or queue
// invariant relative to the document currently on disk. prev is nil on
// first write. verified names the records allowed to reach level 0 in this
// write.
func checkTransition(prev, next *Snapshot, verified map[string]bool) error {
	var problems []string

	prevState := map[string]StateRecord{}
	prevQueue := map[string]Proposal{}
	if prev != nil {
		for _, r := range prev.State {
			prevState[r.ID] = r
		}
		for _, p := range prev.Queue {
			prevQueue[p.ProposalID] = p
		}
	}

	nextState := map[string]bool{}
	for _, r := range next.State {
		nextState[r.ID] = true
		if !r.UncertaintyLevel.Valid() {
			problems = append(problems, fmt.Sprintf("state %s: uncertainty level %d out of range", r.ID, r.UncertaintyLevel))
			continue
		}
		old, existed := prevState[r.ID]
		if r.UncertaintyLevel == LevelVerified && (!existed || old.UncertaintyLevel != LevelVerified) && !verified[r.ID] {
			problems = append(problems, fmt.Sprintf("state %s: level 0 may only be set by a passing verification", r.ID))
		}
		if existed && old.UncertaintyLevel == LevelContested && r.UncertaintyLevel != LevelContested {
			problems = append(problems, fmt.Sprintf("state %s: contested level cannot be lowered", r.ID))
		}
	}
	for id, old := range prevState {
		if old.UncertaintyLevel == LevelContested && !nextState[id] {
			problems = append(problems, fmt.Sprintf("state %s: contested record cannot be removed", id))
		}
	}

	for _, p := range next.Queue {
		if p.Status.Terminal() && p.Rationale == nil {
			problems = append(problems, fmt.Sprintf("proposal %s: terminal status %s without rationale", p.ProposalID, p.Status))
		}
		if p.Status == StatusPending && p.Rationale != nil {
			problems = append(problems, fmt.Sprintf("proposal %s: pending proposal carries a rationale", p.ProposalID))
		}
		old, existed := prevQueue[p.ProposalID]
		if !existed || !old.Status.Terminal() {
			continue
		}
		if p.Status != old.Status {
			problems = append(problems, fmt.Sprintf("proposal %s: already %s, cannot become %s", p.ProposalID, old.Status, p.Status))
		}
		if old.Rationale != nil && !sameRationale(old.Rationale, p.Rationale) {
			problems = append(problems, fmt.Sprintf("proposal %s: rationale already attached", p.ProposalID))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errors.ErrInvariantViolation, strings.Join(problems, "; "))
	}
	return nil
}

func sameRationale(a, b *Rationale) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Text == b.Text && a.Type == b.Type && a.Timestamp.Equal(b.Timestamp)
}
