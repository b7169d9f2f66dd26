// Package classify is the deterministic first stage of change classification.
//
// A proposal's self-reported change type is checked against its computed risk
// signals with an ordered rule table. The first matching rule decides the
// classification; when none matches the self-report stands and the advisory
// verifier gets the final say.
package classify

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

// Signal names as they appear in override reasons.
const (
	SignalAuth          = "touched_auth_or_permission_patterns"
	SignalPublicAPI     = "public_api_signature_changed"
	SignalInvariantFile = "invariant_referenced_file_modified"
	SignalHighFanIn     = "high_fan_in_module_modified"
	SignalMechanical    = "mechanical_only"
	SignalCrossScope    = "cross_scope_flag"
)

// Rule numbers. RuleNone means no rule fired and the self-report was kept.
const (
	RuleNone          = 0
	RuleMechanical    = 1
	RuleContradiction = 2
	RuleCrossScope    = 3
)

// Result is the Stage 1 outcome for one proposal.
type Result struct {
	AgentClassification knowledge.ChangeType
	Classification      knowledge.ChangeType
	// Rule is the rule that decided Classification, RuleNone if none did.
	Rule int
	// Override is true when a rule fired and changed the self-report.
	Override bool
	// Reason names the firing rule and every signal behind it.
	Reason                    string
	Signals                   []string
	AutoApproveEligible       bool
	MandatoryIndividualReview bool
}

// Resolved reports whether a rule decided the classification, making the
// advisory verifier unnecessary.
func (r Result) Resolved() bool {
	return r.Rule != RuleNone
}

type rule struct {
	id      int
	outcome knowledge.ChangeType
	// match returns the firing signals, or nil when the rule does not apply.
	match func(p *knowledge.Proposal) []string
}

var rules = []rule{
	{
		id:      RuleMechanical,
		outcome: knowledge.Mechanical,
		match: func(p *knowledge.Proposal) []string {
			if p.RiskSignals.MechanicalOnly {
				return []string{SignalMechanical}
			}
			return nil
		},
	},
	{
		id:      RuleContradiction,
		outcome: knowledge.Behavioral,
		match:   contradictingSignals,
	},
	{
		id:      RuleCrossScope,
		outcome: knowledge.Behavioral,
		match: func(p *knowledge.Proposal) []string {
			if p.CrossScopeFlag {
				return []string{SignalCrossScope}
			}
			return nil
		},
	},
}

func contradictingSignals(p *knowledge.Proposal) []string {
	s := p.RiskSignals
	var fired []string
	if s.TouchedAuthOrPermissionPatterns {
		fired = append(fired, SignalAuth)
	}
	if s.PublicAPISignatureChanged {
		fired = append(fired, SignalPublicAPI)
	}
	if s.InvariantReferencedFileModified {
		fired = append(fired, SignalInvariantFile)
	}
	if s.HighFanInModuleModified {
		fired = append(fired, SignalHighFanIn)
	}
	return fired
}

// SelfReport returns the proposal's self-reported change type. A missing or
// unknown self-report is treated as behavioral.
func SelfReport(p *knowledge.Proposal) knowledge.ChangeType {
	if p.ChangeType.Valid() {
		return p.ChangeType
	}
	return knowledge.Behavioral
}

// Classify runs the rule table against p. It reads only the self-report,
// risk signals, cross-scope flag and assumptions, so classifying the same
// proposal twice yields the same result.
func Classify(p *knowledge.Proposal) Result {
	self := SelfReport(p)
	res := Result{
		AgentClassification: self,
		Classification:      self,
	}

	for _, r := range rules {
		fired := r.match(p)
		if len(fired) == 0 {
			continue
		}
		res.Rule = r.id
		res.Classification = r.outcome
		res.Signals = fired
		res.Override = r.outcome != self
		res.Reason = fmt.Sprintf("rule %d: %s -> %s", r.id, strings.Join(fired, ", "), r.outcome)
		break
	}

	res.MandatoryIndividualReview = res.Override || p.RiskSignals.TouchedAuthOrPermissionPatterns
	res.AutoApproveEligible = p.RiskSignals.MechanicalOnly &&
		!p.RiskSignals.HighFanInModuleModified &&
		!p.HasSharedAssumption() &&
		!res.MandatoryIndividualReview
	return res
}

// Verification converts the Stage 1 result into the record attached to the
// proposal. Verifier fields are filled in later when Stage 2 runs.
func (r Result) Verification() *knowledge.ClassificationVerification {
	cv := &knowledge.ClassificationVerification{
		AgentClassification:       r.AgentClassification,
		Stage1Override:            r.Override,
		ResolvedClassification:    r.Classification,
		AutoApproveEligible:       r.AutoApproveEligible,
		MandatoryIndividualReview: r.MandatoryIndividualReview,
	}
	if r.Resolved() {
		cv.Stage1Classification = r.Classification
		cv.OverrideRule = r.Rule
		cv.OverrideReason = r.Reason
	}
	return cv
}
