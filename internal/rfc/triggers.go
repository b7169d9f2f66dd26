// Package rfc decides when a proposal needs a human decision and drafts the
// request-for-decision document for it.
//
// Trigger evaluation is pure. Generation asks the advisory model for a
// structured draft, validates it, and retries exactly once with the problems
// appended; a second failure is a hard error because an RFC-triggering
// proposal must not be silently approved.
package rfc

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

// Trigger names, in evaluation order.
const (
	TriggerArchitectural      = "architectural_change"
	TriggerInvariant          = "invariant_modification"
	TriggerUndeclaredDep      = "undeclared_dependency"
	TriggerHighFanInPublicAPI = "high_fan_in_public_api"
	TriggerAssumptionConflict = "shared_assumption_conflict"
)

// Option ids forced for assumption-conflict RFCs.
const (
	OptionPromoteToInvariant = "promote_to_invariant"
	OptionRequireCorrection  = "require_correction"
)

var modificationWords = regexp.MustCompile(`(?i)\b(change|update|modify|replace|remove|delete|migrate)\b`)

// Input is what trigger evaluation looks at.
type Input struct {
	Proposal *knowledge.Proposal
	// Classification is the resolved classification after both stages.
	Classification knowledge.ChangeType
	Snapshot       *knowledge.Snapshot
	// AssumptionConflict is the conflict reason from the assumption check,
	// empty when there was none.
	AssumptionConflict string
}

// Triggered is a fired trigger.
type Triggered struct {
	Trigger string
	Reason  string
}

type trigger struct {
	name  string
	match func(in Input) (reason string, ok bool)
}

var triggers = []trigger{
	{TriggerArchitectural, func(in Input) (string, bool) {
		if in.Classification == knowledge.Architectural {
			return "change is classified architectural", true
		}
		return "", false
	}},
	{TriggerInvariant, func(in Input) (string, bool) {
		p := in.Proposal
		if len(p.InvariantsTouched) == 0 {
			return "", false
		}
		word := modificationWords.FindString(p.Description)
		if word == "" {
			return "", false
		}
		return fmt.Sprintf("touches invariants %s and the description says %q",
			strings.Join(p.InvariantsTouched, ", "), strings.ToLower(word)), true
	}},
	{TriggerUndeclaredDep, func(in Input) (string, bool) {
		missing := UnknownDependencies(in.Proposal, in.Snapshot)
		if len(missing) == 0 {
			return "", false
		}
		return "declares dependencies not present in state or tech stack: " + strings.Join(missing, ", "), true
	}},
	{TriggerHighFanInPublicAPI, func(in Input) (string, bool) {
		s := in.Proposal.RiskSignals
		if s.HighFanInModuleModified && s.PublicAPISignatureChanged {
			return "changes the public API of a high fan-in module", true
		}
		return "", false
	}},
	{TriggerAssumptionConflict, func(in Input) (string, bool) {
		if in.AssumptionConflict != "" {
			return in.AssumptionConflict, true
		}
		return "", false
	}},
}

// Evaluate returns the first trigger that fires, or nil.
func Evaluate(in Input) *Triggered {
	if in.Proposal == nil {
		return nil
	}
	for _, t := range triggers {
		if reason, ok := t.match(in); ok {
			return &Triggered{Trigger: t.name, Reason: reason}
		}
	}
	return nil
}

// UnknownDependencies returns the declared dependencies of p that match
// neither a state record path nor a tech stack entry (case-insensitive).
func UnknownDependencies(p *knowledge.Proposal, snap *knowledge.Snapshot) []string {
	if len(p.Dependencies) == 0 {
		return nil
	}
	known := make(map[string]bool)
	if snap != nil {
		for _, r := range snap.State {
			known[knowledge.NormalizePath(r.Path)] = true
		}
		for _, t := range snap.Invariants.TechStack {
			known[strings.ToLower(t)] = true
		}
	}

	var missing []string
	for _, d := range p.Dependencies {
		if known[knowledge.NormalizePath(d)] || known[strings.ToLower(d)] {
			continue
		}
		missing = append(missing, d)
	}
	return missing
}
