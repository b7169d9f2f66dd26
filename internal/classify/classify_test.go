package classify

import (
	"strings"
	"testing"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

func proposal(self knowledge.ChangeType, signals knowledge.RiskSignals) *knowledge.Proposal {
	return &knowledge.Proposal{
		ProposalID:  "prop_1",
		AgentID:     "agent-a",
		Path:        "src/a.go",
		ChangeType:  self,
		RiskSignals: signals,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		p             *knowledge.Proposal
		wantClass     knowledge.ChangeType
		wantRule      int
		wantOverride  bool
		wantEligible  bool
		wantMandatory bool
		wantSignals   []string
	}{
		{
			name:         "mechanical only wins unconditionally",
			p:            proposal(knowledge.Behavioral, knowledge.RiskSignals{MechanicalOnly: true}),
			wantClass:    knowledge.Mechanical,
			wantRule:     RuleMechanical,
			wantOverride: true,
			// override forces individual review
			wantMandatory: true,
			wantSignals:   []string{SignalMechanical},
		},
		{
			name:         "mechanical self-report confirmed",
			p:            proposal(knowledge.Mechanical, knowledge.RiskSignals{MechanicalOnly: true}),
			wantClass:    knowledge.Mechanical,
			wantRule:     RuleMechanical,
			wantEligible: true,
			wantSignals:  []string{SignalMechanical},
		},
		{
			name: "contradicting signals all named",
			p: proposal(knowledge.Mechanical, knowledge.RiskSignals{
				TouchedAuthOrPermissionPatterns: true,
				PublicAPISignatureChanged:       true,
				HighFanInModuleModified:         true,
			}),
			wantClass:     knowledge.Behavioral,
			wantRule:      RuleContradiction,
			wantOverride:  true,
			wantMandatory: true,
			wantSignals:   []string{SignalAuth, SignalPublicAPI, SignalHighFanIn},
		},
		{
			name:        "invariant file on behavioral is no override",
			p:           proposal(knowledge.Behavioral, knowledge.RiskSignals{InvariantReferencedFileModified: true}),
			wantClass:   knowledge.Behavioral,
			wantRule:    RuleContradiction,
			wantSignals: []string{SignalInvariantFile},
		},
		{
			name: "architectural downgraded by signal",
			p:    proposal(knowledge.Architectural, knowledge.RiskSignals{PublicAPISignatureChanged: true}),
			// rule 2 resolves to behavioral even for a stronger self-report
			wantClass:     knowledge.Behavioral,
			wantRule:      RuleContradiction,
			wantOverride:  true,
			wantMandatory: true,
			wantSignals:   []string{SignalPublicAPI},
		},
		{
			name: "cross scope flag",
			p: func() *knowledge.Proposal {
				p := proposal(knowledge.Mechanical, knowledge.RiskSignals{})
				p.CrossScopeFlag = true
				return p
			}(),
			wantClass:     knowledge.Behavioral,
			wantRule:      RuleCrossScope,
			wantOverride:  true,
			wantMandatory: true,
			wantSignals:   []string{SignalCrossScope},
		},
		{
			name:      "no rule keeps self-report",
			p:         proposal(knowledge.Architectural, knowledge.RiskSignals{}),
			wantClass: knowledge.Architectural,
			wantRule:  RuleNone,
		},
		{
			name:      "missing self-report treated as behavioral",
			p:         proposal("", knowledge.RiskSignals{}),
			wantClass: knowledge.Behavioral,
			wantRule:  RuleNone,
		},
		{
			name: "shared assumption blocks eligibility",
			p: func() *knowledge.Proposal {
				p := proposal(knowledge.Mechanical, knowledge.RiskSignals{MechanicalOnly: true})
				p.Assumptions = []knowledge.Assumption{{ID: "a1", Text: "x", Shared: true}}
				return p
			}(),
			wantClass:   knowledge.Mechanical,
			wantRule:    RuleMechanical,
			wantSignals: []string{SignalMechanical},
		},
		{
			name: "high fan-in with mechanical only is not eligible",
			p: proposal(knowledge.Mechanical, knowledge.RiskSignals{
				MechanicalOnly:          true,
				HighFanInModuleModified: true,
			}),
			wantClass:   knowledge.Mechanical,
			wantRule:    RuleMechanical,
			wantSignals: []string{SignalMechanical},
		},
		{
			name: "auth signal forces mandatory review without override",
			p: proposal(knowledge.Behavioral, knowledge.RiskSignals{
				TouchedAuthOrPermissionPatterns: true,
			}),
			wantClass:     knowledge.Behavioral,
			wantRule:      RuleContradiction,
			wantMandatory: true,
			wantSignals:   []string{SignalAuth},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.p)
			if got.Classification != tt.wantClass {
				t.Errorf("Classification = %q, want %q", got.Classification, tt.wantClass)
			}
			if got.Rule != tt.wantRule {
				t.Errorf("Rule = %d, want %d", got.Rule, tt.wantRule)
			}
			if got.Override != tt.wantOverride {
				t.Errorf("Override = %v, want %v", got.Override, tt.wantOverride)
			}
			if got.AutoApproveEligible != tt.wantEligible {
				t.Errorf("AutoApproveEligible = %v, want %v", got.AutoApproveEligible, tt.wantEligible)
			}
			if got.MandatoryIndividualReview != tt.wantMandatory {
				t.Errorf("MandatoryIndividualReview = %v, want %v", got.MandatoryIndividualReview, tt.wantMandatory)
			}
			if strings.Join(got.Signals, ",") != strings.Join(tt.wantSignals, ",") {
				t.Errorf("Signals = %v, want %v", got.Signals, tt.wantSignals)
			}
			for _, s := range tt.wantSignals {
				if !strings.Contains(got.Reason, s) {
					t.Errorf("Reason %q does not name signal %s", got.Reason, s)
				}
			}
			if got.Resolved() != (tt.wantRule != RuleNone) {
				t.Errorf("Resolved() = %v", got.Resolved())
			}
		})
	}
}

func TestClassify_Idempotent(t *testing.T) {
	inputs := []*knowledge.Proposal{
		proposal(knowledge.Behavioral, knowledge.RiskSignals{MechanicalOnly: true}),
		proposal(knowledge.Mechanical, knowledge.RiskSignals{PublicAPISignatureChanged: true}),
		proposal(knowledge.Architectural, knowledge.RiskSignals{}),
	}

	for _, p := range inputs {
		first := Classify(p)
		second := Classify(p)
		if first.Classification != second.Classification || first.Reason != second.Reason {
			t.Errorf("re-run differs: %+v vs %+v", first, second)
		}

		// Feeding the resolved classification back as the self-report must not
		// move it again.
		resolved := *p
		resolved.ChangeType = first.Classification
		again := Classify(&resolved)
		if again.Classification != first.Classification {
			t.Errorf("resolved %q reclassified as %q", first.Classification, again.Classification)
		}
		if again.Override {
			t.Errorf("resolved proposal should not override again: %+v", again)
		}
	}
}

func TestResult_Verification(t *testing.T) {
	res := Classify(proposal(knowledge.Behavioral, knowledge.RiskSignals{MechanicalOnly: true}))
	cv := res.Verification()

	if cv.AgentClassification != knowledge.Behavioral {
		t.Errorf("AgentClassification = %q", cv.AgentClassification)
	}
	if cv.Stage1Classification != knowledge.Mechanical || !cv.Stage1Override {
		t.Errorf("stage1 = %q override=%v", cv.Stage1Classification, cv.Stage1Override)
	}
	if cv.OverrideRule != RuleMechanical || cv.OverrideReason == "" {
		t.Errorf("override rule/reason missing: %+v", cv)
	}
	if cv.Agreement != nil {
		t.Error("Agreement must stay unset until the verifier runs")
	}

	unresolved := Classify(proposal(knowledge.Behavioral, knowledge.RiskSignals{})).Verification()
	if unresolved.Stage1Classification != "" || unresolved.OverrideRule != 0 {
		t.Errorf("unresolved stage1 fields should be empty: %+v", unresolved)
	}
	if unresolved.ResolvedClassification != knowledge.Behavioral {
		t.Errorf("ResolvedClassification = %q", unresolved.ResolvedClassification)
	}
}
