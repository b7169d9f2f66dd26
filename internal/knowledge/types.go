package knowledge

import (
	"time"
)

// UncertaintyLevel is the review state of a state record.
type UncertaintyLevel int

// Uncertainty levels. Lower is more trusted.
const (
	LevelVerified  UncertaintyLevel = 0
	LevelReviewed  UncertaintyLevel = 1
	LevelPending   UncertaintyLevel = 2
	LevelContested UncertaintyLevel = 3
)

// String returns the level name.
func (l UncertaintyLevel) String() string {
	switch l {
	case LevelVerified:
		return "verified"
	case LevelReviewed:
		return "reviewed"
	case LevelPending:
		return "pending"
	case LevelContested:
		return "contested"
	default:
		return "unknown"
	}
}

// Valid reports whether l is one of the four defined levels.
func (l UncertaintyLevel) Valid() bool {
	return l >= LevelVerified && l <= LevelContested
}

// ChangeType is the self-reported or resolved classification of a change.
type ChangeType string

// Classifications.
const (
	Mechanical    ChangeType = "mechanical"
	Behavioral    ChangeType = "behavioral"
	Architectural ChangeType = "architectural"
)

// Valid reports whether c is a known classification.
func (c ChangeType) Valid() bool {
	return c == Mechanical || c == Behavioral || c == Architectural
}

// ProposalStatus is the lifecycle status of a proposal.
type ProposalStatus string

// Proposal statuses. Every status except StatusPending is terminal.
const (
	StatusPending     ProposalStatus = "pending"
	StatusAutoApprove ProposalStatus = "auto_approve"
	StatusApproved    ProposalStatus = "approved"
	StatusRejected    ProposalStatus = "rejected"
	StatusEscalated   ProposalStatus = "escalated"
	StatusRFC         ProposalStatus = "rfc"
)

// Terminal reports whether s is a terminal status.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case StatusAutoApprove, StatusApproved, StatusRejected, StatusEscalated, StatusRFC:
		return true
	}
	return false
}

// Invariants are the project-wide facts every change is measured against.
type Invariants struct {
	TechStack        []string `json:"tech_stack"`
	AuthModel        string   `json:"auth_model"`
	DataStorage      string   `json:"data_storage"`
	SecurityPatterns []string `json:"security_patterns"`
}

// Assumption is a declared belief about the codebase.
type Assumption struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	DeclaredBy string `json:"declared_by"`
	Scope      string `json:"scope"`
	// Shared assumptions make a proposal eligible for cross-proposal checking.
	Shared bool `json:"shared"`
}

// StateRecord is the authoritative record of one file's ownership and trust.
type StateRecord struct {
	ID                     string           `json:"id"`
	Path                   string           `json:"path"`
	SemanticScope          string           `json:"semantic_scope"`
	OwnedBy                string           `json:"owned_by"`
	Version                int              `json:"version"`
	Dependencies           []string         `json:"dependencies"`
	Assumptions            []Assumption     `json:"assumptions"`
	InvariantsTouched      []string         `json:"invariants_touched"`
	UncertaintyLevel       UncertaintyLevel `json:"uncertainty_level"`
	ChangeCountSinceReview int              `json:"change_count_since_review"`
	TestReference          string           `json:"test_reference,omitempty"`
	LastModifiedBy         string           `json:"last_modified_by,omitempty"`
	LastModifiedAt         *time.Time       `json:"last_modified_at,omitempty"`
}

// RiskSignals are computed facts about a proposed change.
type RiskSignals struct {
	TouchedAuthOrPermissionPatterns bool   `json:"touched_auth_or_permission_patterns"`
	PublicAPISignatureChanged       bool   `json:"public_api_signature_changed"`
	InvariantReferencedFileModified bool   `json:"invariant_referenced_file_modified"`
	HighFanInModuleModified         bool   `json:"high_fan_in_module_modified"`
	ASTChangeType                   string `json:"ast_change_type,omitempty"`
	MechanicalOnly                  bool   `json:"mechanical_only"`
}

// DependencyScan compares a file's actual imports with its declared dependencies.
type DependencyScan struct {
	UndeclaredImports    []string `json:"undeclared_imports"`
	StaleDeclaredDeps    []string `json:"stale_declared_deps"`
	CrossScopeUndeclared []string `json:"cross_scope_undeclared"`
}

// ClassificationVerification records how a proposal's classification was resolved.
type ClassificationVerification struct {
	AgentClassification       ChangeType `json:"agent_classification,omitempty"`
	Stage1Classification      ChangeType `json:"stage1_classification,omitempty"`
	Stage1Override            bool       `json:"stage1_override"`
	OverrideReason            string     `json:"override_reason,omitempty"`
	OverrideRule              int        `json:"override_rule,omitempty"`
	VerifierClassification    ChangeType `json:"verifier_classification,omitempty"`
	Agreement                 *bool      `json:"agreement"`
	ResolvedClassification    ChangeType `json:"resolved_classification,omitempty"`
	AutoApproveEligible       bool       `json:"auto_approve_eligible"`
	MandatoryIndividualReview bool       `json:"mandatory_individual_review"`
}

// Rationale explains a terminal decision. Attached exactly once.
type Rationale struct {
	Text      string    `json:"text"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Proposal is a pending or decided change submitted by an agent.
type Proposal struct {
	ProposalID                 string                      `json:"proposal_id"`
	AgentID                    string                      `json:"agent_id"`
	Path                       string                      `json:"path"`
	SemanticScope              string                      `json:"semantic_scope"`
	Branch                     string                      `json:"branch,omitempty"`
	ChangeType                 ChangeType                  `json:"change_type,omitempty"`
	Description                string                      `json:"description,omitempty"`
	SubmittedAt                time.Time                   `json:"submitted_at"`
	Status                     ProposalStatus              `json:"status"`
	OutOfScope                 bool                        `json:"out_of_scope"`
	CrossScopeFlag             bool                        `json:"cross_scope_flag"`
	Dependencies               []string                    `json:"dependencies"`
	Assumptions                []Assumption                `json:"assumptions"`
	InvariantsTouched          []string                    `json:"invariants_touched"`
	RiskSignals                RiskSignals                 `json:"risk_signals"`
	DependencyScan             DependencyScan              `json:"dependency_scan"`
	ClassificationVerification *ClassificationVerification `json:"classification_verification,omitempty"`
	BlockingReasons            []string                    `json:"blocking_reasons"`
	Rationale                  *Rationale                  `json:"rationale,omitempty"`
	DecidedAt                  *time.Time                  `json:"decided_at,omitempty"`
}

// HasSharedAssumption reports whether any declared assumption is shared.
func (p *Proposal) HasSharedAssumption() bool {
	for _, a := range p.Assumptions {
		if a.Shared {
			return true
		}
	}
	return false
}

// Snapshot is the full knowledge document.
type Snapshot struct {
	Invariants Invariants    `json:"invariants"`
	State      []StateRecord `json:"state"`
	Queue      []Proposal    `json:"queue"`
}

// RFCStatus is the lifecycle status of an RFC.
type RFCStatus string

// RFC statuses.
const (
	RFCOpen     RFCStatus = "open"
	RFCResolved RFCStatus = "resolved"
)

// RFCOption is one answer a human may choose.
type RFCOption struct {
	OptionID     string `json:"option_id"`
	Description  string `json:"description"`
	Consequences string `json:"consequences"`
}

// Acceptance criterion statuses.
const (
	CriterionPending = "pending"
	CriterionPassed  = "passed"
	CriterionFailed  = "failed"
)

// AcceptanceCriterion must pass before a blocked branch may merge.
type AcceptanceCriterion struct {
	ACID           string `json:"ac_id"`
	Description    string `json:"description"`
	CheckType      string `json:"check_type"`
	CheckReference string `json:"check_reference"`
	Status         string `json:"status"`
}

// RFC is a structured request for a human decision.
type RFC struct {
	ID                            string                `json:"id"`
	Status                        RFCStatus             `json:"status"`
	CreatedAt                     time.Time             `json:"created_at"`
	TriggeringProposal            string                `json:"triggering_proposal"`
	Trigger                       string                `json:"trigger"`
	TriggerReason                 string                `json:"trigger_reason"`
	SemanticScope                 string                `json:"semantic_scope"`
	DecisionRequired              string                `json:"decision_required"`
	Context                       string                `json:"context"`
	Options                       []RFCOption           `json:"options"`
	AgentRecommendation           string                `json:"agent_recommendation"`
	AgentRecommendationRationale  string                `json:"agent_recommendation_rationale"`
	AcceptanceCriteria            []AcceptanceCriterion `json:"acceptance_criteria"`
	HumanResponseDeadline         time.Time             `json:"human_response_deadline"`
	MergeBlockedUntilCriteriaPass bool                  `json:"merge_blocked_until_criteria_pass"`
	Resolution                    string                `json:"resolution,omitempty"`
	ResolutionNote                string                `json:"resolution_note,omitempty"`
	ResolvedAt                    *time.Time            `json:"resolved_at,omitempty"`
}

// UnmetCriteria returns the acceptance criteria that have not passed.
func (r *RFC) UnmetCriteria() []AcceptanceCriterion {
	var out []AcceptanceCriterion
	for _, c := range r.AcceptanceCriteria {
		if c.Status != CriterionPassed {
			out = append(out, c)
		}
	}
	return out
}

// DecisionEntry is one decision recorded in a session handoff log.
type DecisionEntry struct {
	ProposalID     string    `json:"proposal_id"`
	AgentID        string    `json:"agent_id"`
	Decision       string    `json:"decision"`
	Classification string    `json:"classification"`
	Rationale      string    `json:"rationale"`
	Uncertain      bool      `json:"uncertain"`
	Timestamp      time.Time `json:"timestamp"`
}

// MergeEntry is one merge attempt recorded in a session handoff log.
type MergeEntry struct {
	ProposalID string `json:"proposal_id"`
	Branch     string `json:"branch"`
	Success    bool   `json:"success"`
	Conflict   bool   `json:"conflict"`
	Message    string `json:"message,omitempty"`
}

// SessionBudget bounds a run.
type SessionBudget struct {
	MaxProposals            int           `json:"max_proposals"`
	MaxDuration             time.Duration `json:"max_duration"`
	MaxConsecutiveUncertain int           `json:"max_consecutive_uncertain"`
}

// SessionLog is the immutable handoff document written at the end of a run.
type SessionLog struct {
	ID                   string          `json:"id"`
	RunID                string          `json:"run_id"`
	StartedAt            time.Time       `json:"started_at"`
	EndedAt              time.Time       `json:"ended_at"`
	Budget               SessionBudget   `json:"budget"`
	ProposalsReviewed    int             `json:"proposals_reviewed"`
	ConsecutiveUncertain int             `json:"consecutive_uncertain"`
	CircuitBreakerCounts map[string]int  `json:"circuit_breaker_counts"`
	TrippedAgents        []string        `json:"tripped_agents"`
	Decisions            []DecisionEntry `json:"decisions"`
	Escalations          []string        `json:"escalations"`
	RFCs                 []string        `json:"rfcs"`
	BreakerTrips         []string        `json:"breaker_trips"`
	UncertainDecisions   []string        `json:"uncertain_decisions"`
	Merges               []MergeEntry    `json:"merges"`
	StopReason           string          `json:"stop_reason"`
	Emergency            bool            `json:"emergency,omitempty"`
	Error                string          `json:"error,omitempty"`
}

// ScopeDefinition constrains which paths an agent working in a semantic
// scope may touch without crossing scope.
type ScopeDefinition struct {
	AllowedPaths          []string `json:"allowed_paths"`
	AllowedPathPrefixes   []string `json:"allowed_path_prefixes"`
	ForbiddenPathPrefixes []string `json:"forbidden_path_prefixes"`
}

// ScopeDefinitions is the scope_definitions.json document.
type ScopeDefinitions struct {
	Scopes map[string]ScopeDefinition `json:"scopes"`
	// KnownExpectedCrossScopeImports are imports excluded from the
	// cross-scope undeclared check. Entries ending in "/" match by prefix.
	KnownExpectedCrossScopeImports []string `json:"known_expected_cross_scope_imports"`
}

// AgentContext is an agent's working assignment (scratch/<agent>_context.json).
type AgentContext struct {
	AgentID       string   `json:"agent_id"`
	SemanticScope string   `json:"semantic_scope"`
	FileScope     []string `json:"file_scope"`
}
