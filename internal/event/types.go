package event

import "time"

// Event types published on the bus.
const (
	TypeKnowledgeWritten = "knowledge.written"
	TypeKnowledgeChanged = "knowledge.changed"
	TypeDecisionMade     = "decision.made"
	TypeRFCOpened        = "rfc.opened"
	TypeBreakerTripped   = "breaker.tripped"
	TypeBudgetExhausted  = "budget.exhausted"
	TypeMergeCompleted   = "merge.completed"
	TypeVerified         = "verify.completed"
)

// Event is the interface all events implement.
type Event interface {
	EventType() string
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBase(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// KnowledgeWritten is published after the knowledge store persisted a snapshot.
type KnowledgeWritten struct {
	baseEvent
	Path         string
	StateCount   int
	PendingCount int
}

// NewKnowledgeWritten creates a KnowledgeWritten event.
func NewKnowledgeWritten(path string, stateCount, pendingCount int) KnowledgeWritten {
	return KnowledgeWritten{
		baseEvent:    newBase(TypeKnowledgeWritten),
		Path:         path,
		StateCount:   stateCount,
		PendingCount: pendingCount,
	}
}

// KnowledgeChanged is published by the file watcher when knowledge.json
// changed on disk, whoever wrote it.
type KnowledgeChanged struct {
	baseEvent
	Path string
	Op   string
}

// NewKnowledgeChanged creates a KnowledgeChanged event.
func NewKnowledgeChanged(path, op string) KnowledgeChanged {
	return KnowledgeChanged{baseEvent: newBase(TypeKnowledgeChanged), Path: path, Op: op}
}

// DecisionMade is published once per reviewed proposal.
type DecisionMade struct {
	baseEvent
	SessionID      string
	ProposalID     string
	AgentID        string
	Decision       string
	Classification string
	Uncertain      bool
	Duration       time.Duration
}

// NewDecisionMade creates a DecisionMade event.
func NewDecisionMade(sessionID, proposalID, agentID, decision, classification string, uncertain bool, d time.Duration) DecisionMade {
	return DecisionMade{
		baseEvent:      newBase(TypeDecisionMade),
		SessionID:      sessionID,
		ProposalID:     proposalID,
		AgentID:        agentID,
		Decision:       decision,
		Classification: classification,
		Uncertain:      uncertain,
		Duration:       d,
	}
}

// RFCOpened is published after an RFC document was persisted.
type RFCOpened struct {
	baseEvent
	RFCID      string
	ProposalID string
	Trigger    string
	Scope      string
}

// NewRFCOpened creates an RFCOpened event.
func NewRFCOpened(rfcID, proposalID, trigger, scope string) RFCOpened {
	return RFCOpened{baseEvent: newBase(TypeRFCOpened), RFCID: rfcID, ProposalID: proposalID, Trigger: trigger, Scope: scope}
}

// BreakerTripped is published the first time an agent's breaker trips.
type BreakerTripped struct {
	baseEvent
	AgentID       string
	Disagreements int
}

// NewBreakerTripped creates a BreakerTripped event.
func NewBreakerTripped(agentID string, disagreements int) BreakerTripped {
	return BreakerTripped{baseEvent: newBase(TypeBreakerTripped), AgentID: agentID, Disagreements: disagreements}
}

// BudgetExhausted is published when a run stops on a budget limit.
type BudgetExhausted struct {
	baseEvent
	SessionID string
	Reason    string
}

// NewBudgetExhausted creates a BudgetExhausted event.
func NewBudgetExhausted(sessionID, reason string) BudgetExhausted {
	return BudgetExhausted{baseEvent: newBase(TypeBudgetExhausted), SessionID: sessionID, Reason: reason}
}

// MergeCompleted is published after every merge attempt.
type MergeCompleted struct {
	baseEvent
	ProposalID string
	Branch     string
	Success    bool
	Conflict   bool
}

// NewMergeCompleted creates a MergeCompleted event.
func NewMergeCompleted(proposalID, branch string, success, conflict bool) MergeCompleted {
	return MergeCompleted{
		baseEvent:  newBase(TypeMergeCompleted),
		ProposalID: proposalID,
		Branch:     branch,
		Success:    success,
		Conflict:   conflict,
	}
}

// Verified is published after every CI verification run.
type Verified struct {
	baseEvent
	RunID         string
	RecordID      string
	TestReference string
	Passed        bool
}

// NewVerified creates a Verified event.
func NewVerified(runID, recordID, testRef string, passed bool) Verified {
	return Verified{
		baseEvent:     newBase(TypeVerified),
		RunID:         runID,
		RecordID:      recordID,
		TestReference: testRef,
		Passed:        passed,
	}
}
