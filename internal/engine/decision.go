// Package engine is the decision engine: it runs the eight-step review for
// each pending proposal, persists the outcome, merges approved branches and
// writes the session handoff log.
package engine

import (
	"github.com/Iron-Ham/arbiter/internal/conflict"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/rfc"
)

// Outcome is the decision for one proposal.
type Outcome string

// Outcomes.
const (
	OutcomeAutoApprove Outcome = "auto_approve"
	OutcomeApprove     Outcome = "approve"
	OutcomeReject      Outcome = "reject"
	OutcomeEscalate    Outcome = "escalate"
	OutcomeRFC         Outcome = "rfc"
)

// Status maps the outcome to the proposal's terminal status.
func (o Outcome) Status() knowledge.ProposalStatus {
	switch o {
	case OutcomeAutoApprove:
		return knowledge.StatusAutoApprove
	case OutcomeApprove:
		return knowledge.StatusApproved
	case OutcomeReject:
		return knowledge.StatusRejected
	case OutcomeEscalate:
		return knowledge.StatusEscalated
	case OutcomeRFC:
		return knowledge.StatusRFC
	}
	return knowledge.StatusPending
}

// Approving reports whether the outcome creates or updates a state record.
func (o Outcome) Approving() bool {
	return o == OutcomeApprove || o == OutcomeAutoApprove
}

// Rationale types.
const (
	RationaleTemplate = "template"
	RationaleAdvisory = "advisory"
	RationaleFallback = "fallback"
)

// Decision is the result of reviewing one proposal.
type Decision struct {
	ProposalID     string
	AgentID        string
	Outcome        Outcome
	Classification knowledge.ChangeType
	Rationale      knowledge.Rationale
	Verification   *knowledge.ClassificationVerification

	// Disagreed is true when the advisory verifier disagreed with the agent.
	Disagreed bool
	// Tripped is true when this decision tripped the agent's breaker.
	Tripped bool
	// Uncertain decisions count toward the consecutive-uncertain budget.
	Uncertain bool

	StateConflict      *conflict.StateConflict
	AssumptionConflict *conflict.AssumptionConflict
	CrossScope         []string
	Trigger            *rfc.Triggered
	RFC                *knowledge.RFC
	BlockingReasons    []string
}

// Entry is the decision as recorded in the handoff log.
func (d Decision) Entry() knowledge.DecisionEntry {
	return knowledge.DecisionEntry{
		ProposalID:     d.ProposalID,
		AgentID:        d.AgentID,
		Decision:       string(d.Outcome),
		Classification: string(d.Classification),
		Rationale:      d.Rationale.Text,
		Uncertain:      d.Uncertain,
		Timestamp:      d.Rationale.Timestamp,
	}
}
