// Package conflict detects proposals that collide with existing ownership or
// with other agents' pending work.
//
// State conflicts are pure lookups against the knowledge snapshot. Assumption
// conflicts ask the advisory model, and any advisory failure is treated as
// "no conflict".
package conflict

import (
	"fmt"
	"slices"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

// Kind identifies which state rule fired.
type Kind string

const (
	// KindOwnership means another agent owns the proposal's path.
	KindOwnership Kind = "ownership"
	// KindDependentSignature means the proposal changes a public signature
	// that another agent's record depends on.
	KindDependentSignature Kind = "dependent_signature"
)

// StateConflict is a collision with another agent's state record.
type StateConflict struct {
	Kind           Kind
	Path           string
	RecordID       string
	ProposingAgent string
	OtherAgent     string
	// DependentPath is the other agent's file for KindDependentSignature.
	DependentPath string
}

// Reason is a one-line explanation naming both agents.
func (c *StateConflict) Reason() string {
	switch c.Kind {
	case KindDependentSignature:
		return fmt.Sprintf("%s changes a public signature in %s, which %s depends on from %s (%s)",
			c.ProposingAgent, c.Path, c.OtherAgent, c.DependentPath, c.RecordID)
	default:
		return fmt.Sprintf("%s proposes a change to %s, which is owned by %s (%s)",
			c.ProposingAgent, c.Path, c.OtherAgent, c.RecordID)
	}
}

// CheckState returns the first state conflict for p, or nil. A record owned
// by another agent on the same path conflicts unless it is Contested.
// Otherwise, when p changes a public signature, any other agent's record
// that lists p's path as a dependency conflicts.
func CheckState(snap *knowledge.Snapshot, p *knowledge.Proposal) *StateConflict {
	if snap == nil || p == nil {
		return nil
	}
	path := knowledge.NormalizePath(p.Path)

	for i := range snap.State {
		rec := &snap.State[i]
		if knowledge.NormalizePath(rec.Path) != path {
			continue
		}
		if rec.OwnedBy == "" || rec.OwnedBy == p.AgentID || rec.UncertaintyLevel == knowledge.LevelContested {
			continue
		}
		return &StateConflict{
			Kind:           KindOwnership,
			Path:           path,
			RecordID:       rec.ID,
			ProposingAgent: p.AgentID,
			OtherAgent:     rec.OwnedBy,
		}
	}

	if !p.RiskSignals.PublicAPISignatureChanged {
		return nil
	}
	for i := range snap.State {
		rec := &snap.State[i]
		if rec.OwnedBy == "" || rec.OwnedBy == p.AgentID {
			continue
		}
		if !slices.ContainsFunc(rec.Dependencies, func(d string) bool {
			return knowledge.NormalizePath(d) == path
		}) {
			continue
		}
		return &StateConflict{
			Kind:           KindDependentSignature,
			Path:           path,
			RecordID:       rec.ID,
			ProposingAgent: p.AgentID,
			OtherAgent:     rec.OwnedBy,
			DependentPath:  rec.Path,
		}
	}
	return nil
}
