package engine

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/Iron-Ham/arbiter/internal/config"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

// Stop reasons.
const (
	StopMaxProposals = "max_proposals"
	StopMaxDuration  = "max_duration"
	StopUncertain    = "max_consecutive_uncertain"
	StopQueueEmpty   = "queue_empty"
	StopCancelled    = "cancelled"
	StopFatal        = "fatal"
)

// Budget bounds one run.
type Budget struct {
	MaxProposals            int
	MaxDuration             time.Duration
	MaxConsecutiveUncertain int
}

// BudgetFromConfig converts the configured budget.
func BudgetFromConfig(cfg config.BudgetConfig) Budget {
	return Budget{
		MaxProposals:            cfg.MaxProposals,
		MaxDuration:             cfg.Duration(),
		MaxConsecutiveUncertain: cfg.MaxConsecutiveUncertain,
	}
}

// Session is the in-memory record of one run. It is a value: every update
// returns a new Session and leaves the receiver untouched, so a decision can
// be computed against a session without committing to it.
type Session struct {
	ID        string
	RunID     string
	StartedAt time.Time
	Budget    Budget

	ProposalsReviewed    int
	ConsecutiveUncertain int

	breakerCounts map[string]int
	tripped       []string

	Decisions          []knowledge.DecisionEntry
	Escalations        []string
	RFCs               []string
	BreakerTrips       []string
	UncertainDecisions []string
	Merges             []knowledge.MergeEntry
	StopReason         string
}

// NewSession starts a session.
func NewSession(id, runID string, budget Budget, now time.Time) Session {
	return Session{
		ID:            id,
		RunID:         runID,
		StartedAt:     now.UTC(),
		Budget:        budget,
		breakerCounts: map[string]int{},
	}
}

func (s Session) clone() Session {
	c := s
	c.breakerCounts = maps.Clone(s.breakerCounts)
	if c.breakerCounts == nil {
		c.breakerCounts = map[string]int{}
	}
	c.tripped = slices.Clone(s.tripped)
	c.Decisions = slices.Clone(s.Decisions)
	c.Escalations = slices.Clone(s.Escalations)
	c.RFCs = slices.Clone(s.RFCs)
	c.BreakerTrips = slices.Clone(s.BreakerTrips)
	c.UncertainDecisions = slices.Clone(s.UncertainDecisions)
	c.Merges = slices.Clone(s.Merges)
	return c
}

// BreakerCount returns the agent's disagreement count.
func (s Session) BreakerCount(agentID string) int {
	return s.breakerCounts[agentID]
}

// BreakerCounts returns a copy of every agent's disagreement count.
func (s Session) BreakerCounts() map[string]int {
	return maps.Clone(s.breakerCounts)
}

// Tripped reports whether the agent's breaker tripped this session.
func (s Session) Tripped(agentID string) bool {
	return slices.Contains(s.tripped, agentID)
}

// TrippedAgents returns the tripped agents in trip order.
func (s Session) TrippedAgents() []string {
	return slices.Clone(s.tripped)
}

// RecordDisagreement increments the agent's counter. The trip is recorded
// the first time the count reaches threshold; tripped reports whether this
// call did it.
func (s Session) RecordDisagreement(agentID string, threshold int) (next Session, tripped bool) {
	next = s.clone()
	next.breakerCounts[agentID]++
	count := next.breakerCounts[agentID]
	if count >= threshold && !next.Tripped(agentID) {
		next.tripped = append(next.tripped, agentID)
		next.BreakerTrips = append(next.BreakerTrips,
			fmt.Sprintf("%s tripped after %d classification disagreements", agentID, count))
		tripped = true
	}
	return next, tripped
}

// RecordDecision counts a finished decision. Uncertain decisions increment
// the consecutive-uncertain counter and are listed; any other decision
// resets it.
func (s Session) RecordDecision(d Decision) Session {
	next := s.clone()
	next.ProposalsReviewed++
	next.Decisions = append(next.Decisions, d.Entry())
	if d.Uncertain {
		next.ConsecutiveUncertain++
		next.UncertainDecisions = append(next.UncertainDecisions,
			fmt.Sprintf("%s: %s", d.ProposalID, d.Outcome))
	} else {
		next.ConsecutiveUncertain = 0
	}
	switch d.Outcome {
	case OutcomeEscalate:
		next.Escalations = append(next.Escalations, fmt.Sprintf("%s: %s", d.ProposalID, d.Rationale.Text))
	case OutcomeRFC:
		if d.RFC != nil {
			next.RFCs = append(next.RFCs, d.RFC.ID)
		}
	}
	return next
}

// RecordMerge appends a merge attempt.
func (s Session) RecordMerge(m knowledge.MergeEntry) Session {
	next := s.clone()
	next.Merges = append(next.Merges, m)
	return next
}

// Exceeded returns the first exhausted budget condition, checked in order:
// proposal count, elapsed time, consecutive uncertain decisions.
func (s Session) Exceeded(now time.Time) (string, bool) {
	b := s.Budget
	switch {
	case b.MaxProposals > 0 && s.ProposalsReviewed >= b.MaxProposals:
		return StopMaxProposals, true
	case b.MaxDuration > 0 && now.Sub(s.StartedAt) >= b.MaxDuration:
		return StopMaxDuration, true
	case b.MaxConsecutiveUncertain > 0 && s.ConsecutiveUncertain >= b.MaxConsecutiveUncertain:
		return StopUncertain, true
	}
	return "", false
}

// Stopped returns the session with its stop reason set.
func (s Session) Stopped(reason string) Session {
	next := s.clone()
	next.StopReason = reason
	return next
}

// Log converts the session into its handoff document.
func (s Session) Log(now time.Time) *knowledge.SessionLog {
	c := s.clone()
	return &knowledge.SessionLog{
		ID:        c.ID,
		RunID:     c.RunID,
		StartedAt: c.StartedAt,
		EndedAt:   now.UTC(),
		Budget: knowledge.SessionBudget{
			MaxProposals:            c.Budget.MaxProposals,
			MaxDuration:             c.Budget.MaxDuration,
			MaxConsecutiveUncertain: c.Budget.MaxConsecutiveUncertain,
		},
		ProposalsReviewed:    c.ProposalsReviewed,
		ConsecutiveUncertain: c.ConsecutiveUncertain,
		CircuitBreakerCounts: c.breakerCounts,
		TrippedAgents:        orEmpty(c.tripped),
		Decisions:            orEmptyOf(c.Decisions),
		Escalations:          orEmpty(c.Escalations),
		RFCs:                 orEmpty(c.RFCs),
		BreakerTrips:         orEmpty(c.BreakerTrips),
		UncertainDecisions:   orEmpty(c.UncertainDecisions),
		Merges:               orEmptyOf(c.Merges),
		StopReason:           c.StopReason,
	}
}

func orEmpty(s []string) []string {
	return orEmptyOf(s)
}

func orEmptyOf[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
