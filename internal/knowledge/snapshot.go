package knowledge

import (
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/arbiter/internal/errors"
)

// NormalizePath cleans a repository-relative path for comparison.
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean(filepath.ToSlash(p))
}

// Clone returns a deep copy of the snapshot. The engine never mutates a
// snapshot it read; it clones and writes the copy back.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Invariants: Invariants{
			TechStack:        slices.Clone(s.Invariants.TechStack),
			AuthModel:        s.Invariants.AuthModel,
			DataStorage:      s.Invariants.DataStorage,
			SecurityPatterns: slices.Clone(s.Invariants.SecurityPatterns),
		},
		State: make([]StateRecord, len(s.State)),
		Queue: make([]Proposal, len(s.Queue)),
	}
	for i, r := range s.State {
		out.State[i] = r.clone()
	}
	for i, p := range s.Queue {
		out.Queue[i] = p.Clone()
	}
	return out
}

func (r StateRecord) clone() StateRecord {
	r.Dependencies = slices.Clone(r.Dependencies)
	r.Assumptions = slices.Clone(r.Assumptions)
	r.InvariantsTouched = slices.Clone(r.InvariantsTouched)
	if r.LastModifiedAt != nil {
		t := *r.LastModifiedAt
		r.LastModifiedAt = &t
	}
	return r
}

// Clone returns a deep copy of the proposal.
func (p Proposal) Clone() Proposal {
	p.Dependencies = slices.Clone(p.Dependencies)
	p.Assumptions = slices.Clone(p.Assumptions)
	p.InvariantsTouched = slices.Clone(p.InvariantsTouched)
	p.BlockingReasons = slices.Clone(p.BlockingReasons)
	p.DependencyScan = DependencyScan{
		UndeclaredImports:    slices.Clone(p.DependencyScan.UndeclaredImports),
		StaleDeclaredDeps:    slices.Clone(p.DependencyScan.StaleDeclaredDeps),
		CrossScopeUndeclared: slices.Clone(p.DependencyScan.CrossScopeUndeclared),
	}
	if p.ClassificationVerification != nil {
		cv := *p.ClassificationVerification
		if cv.Agreement != nil {
			a := *cv.Agreement
			cv.Agreement = &a
		}
		p.ClassificationVerification = &cv
	}
	if p.Rationale != nil {
		r := *p.Rationale
		p.Rationale = &r
	}
	if p.DecidedAt != nil {
		t := *p.DecidedAt
		p.DecidedAt = &t
	}
	return p
}

// normalize replaces nil lists with empty ones so documents always carry arrays.
func (s *Snapshot) normalize() {
	if s.State == nil {
		s.State = []StateRecord{}
	}
	if s.Queue == nil {
		s.Queue = []Proposal{}
	}
	for i := range s.State {
		r := &s.State[i]
		r.Dependencies = orEmpty(r.Dependencies)
		r.InvariantsTouched = orEmpty(r.InvariantsTouched)
		if r.Assumptions == nil {
			r.Assumptions = []Assumption{}
		}
	}
	for i := range s.Queue {
		p := &s.Queue[i]
		p.Dependencies = orEmpty(p.Dependencies)
		p.InvariantsTouched = orEmpty(p.InvariantsTouched)
		p.BlockingReasons = orEmpty(p.BlockingReasons)
		p.DependencyScan.UndeclaredImports = orEmpty(p.DependencyScan.UndeclaredImports)
		p.DependencyScan.StaleDeclaredDeps = orEmpty(p.DependencyScan.StaleDeclaredDeps)
		p.DependencyScan.CrossScopeUndeclared = orEmpty(p.DependencyScan.CrossScopeUndeclared)
		if p.Assumptions == nil {
			p.Assumptions = []Assumption{}
		}
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// StateByPath returns the record for path, or nil.
func (s *Snapshot) StateByPath(p string) *StateRecord {
	want := NormalizePath(p)
	for i := range s.State {
		if NormalizePath(s.State[i].Path) == want {
			return &s.State[i]
		}
	}
	return nil
}

// StateByID returns the record with id, or nil.
func (s *Snapshot) StateByID(id string) *StateRecord {
	for i := range s.State {
		if s.State[i].ID == id {
			return &s.State[i]
		}
	}
	return nil
}

// Proposal returns the queued proposal with id, or nil.
func (s *Snapshot) Proposal(id string) *Proposal {
	for i := range s.Queue {
		if s.Queue[i].ProposalID == id {
			return &s.Queue[i]
		}
	}
	return nil
}

// Pending returns copies of pending proposals in ascending submission time.
// Ties keep queue order.
func (s *Snapshot) Pending() []Proposal {
	var out []Proposal
	for _, p := range s.Queue {
		if p.Status == StatusPending {
			out = append(out, p.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// PendingCount returns the number of pending proposals.
func (s *Snapshot) PendingCount() int {
	n := 0
	for _, p := range s.Queue {
		if p.Status == StatusPending {
			n++
		}
	}
	return n
}

// Dependents returns the records that list p in their dependencies,
// each record counted once.
func (s *Snapshot) Dependents(p string) []StateRecord {
	want := NormalizePath(p)
	var out []StateRecord
	for _, r := range s.State {
		for _, d := range r.Dependencies {
			if NormalizePath(d) == want {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// nextStateID returns state_<n> with n one past the highest numeric suffix.
func (s *Snapshot) nextStateID() string {
	highest := 0
	for _, r := range s.State {
		if n, err := strconv.Atoi(strings.TrimPrefix(r.ID, "state_")); err == nil && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("state_%d", highest+1)
}

// ApplyApproval creates or updates the state record for an approved
// proposal. A new record starts at version 1, level Pending, change count 1;
// an existing one gets version+1, change count+1 and drops back to Pending.
// Owner, dependencies, assumptions and invariants are refreshed from the
// proposal. A Contested record is never lowered.
func (s *Snapshot) ApplyApproval(p *Proposal, now time.Time) (*StateRecord, error) {
	ts := now.UTC()
	if rec := s.StateByPath(p.Path); rec != nil {
		if rec.UncertaintyLevel == LevelContested {
			return nil, fmt.Errorf("%w: %s is contested", errors.ErrInvariantViolation, rec.Path)
		}
		rec.Version++
		rec.ChangeCountSinceReview++
		rec.UncertaintyLevel = LevelPending
		rec.OwnedBy = p.AgentID
		rec.SemanticScope = p.SemanticScope
		rec.Dependencies = orEmpty(slices.Clone(p.Dependencies))
		rec.Assumptions = slices.Clone(p.Assumptions)
		rec.InvariantsTouched = orEmpty(slices.Clone(p.InvariantsTouched))
		rec.LastModifiedBy = p.AgentID
		rec.LastModifiedAt = &ts
		return rec, nil
	}

	s.State = append(s.State, StateRecord{
		ID:                     s.nextStateID(),
		Path:                   NormalizePath(p.Path),
		SemanticScope:          p.SemanticScope,
		OwnedBy:                p.AgentID,
		Version:                1,
		Dependencies:           orEmpty(slices.Clone(p.Dependencies)),
		Assumptions:            slices.Clone(p.Assumptions),
		InvariantsTouched:      orEmpty(slices.Clone(p.InvariantsTouched)),
		UncertaintyLevel:       LevelPending,
		ChangeCountSinceReview: 1,
		LastModifiedBy:         p.AgentID,
		LastModifiedAt:         &ts,
	})
	return &s.State[len(s.State)-1], nil
}

// Decide moves a pending proposal to a terminal status and attaches its
// rationale. Deciding twice is an error.
func (s *Snapshot) Decide(id string, status ProposalStatus, rationale Rationale, cv *ClassificationVerification, now time.Time) error {
	p := s.Proposal(id)
	if p == nil {
		return fmt.Errorf("%w: %s", errors.ErrProposalNotFound, id)
	}
	if p.Status.Terminal() || p.Rationale != nil {
		return fmt.Errorf("%w: %s is %s", errors.ErrAlreadyDecided, id, p.Status)
	}
	if !status.Terminal() {
		return fmt.Errorf("decide %s: %q is not a terminal status", id, status)
	}
	if strings.TrimSpace(rationale.Text) == "" {
		return fmt.Errorf("decide %s: rationale is required", id)
	}
	ts := now.UTC()
	p.Status = status
	p.Rationale = &rationale
	p.DecidedAt = &ts
	if cv != nil {
		c := *cv
		p.ClassificationVerification = &c
	}
	return nil
}

// ReviewFilter selects records for bulk review acknowledgement. The zero
// value selects every record.
type ReviewFilter struct {
	Scope string
	Paths []string
}

func (f ReviewFilter) matches(r *StateRecord) bool {
	if f.Scope != "" && r.SemanticScope != f.Scope {
		return false
	}
	if len(f.Paths) > 0 {
		want := NormalizePath(r.Path)
		for _, p := range f.Paths {
			if NormalizePath(p) == want {
				return true
			}
		}
		return false
	}
	return true
}

// AcknowledgeReview moves matching Pending records to Reviewed and resets
// their change count. Other levels are untouched, so applying it twice is a
// no-op. It returns the ids of records that changed.
func (s *Snapshot) AcknowledgeReview(filter ReviewFilter, now time.Time) []string {
	var changed []string
	ts := now.UTC()
	for i := range s.State {
		r := &s.State[i]
		if r.UncertaintyLevel != LevelPending || !filter.matches(r) {
			continue
		}
		r.UncertaintyLevel = LevelReviewed
		r.ChangeCountSinceReview = 0
		r.LastModifiedAt = &ts
		changed = append(changed, r.ID)
	}
	return changed
}

// ReviewDue returns records whose change count reached threshold, highest first.
func (s *Snapshot) ReviewDue(threshold int) []StateRecord {
	var out []StateRecord
	for _, r := range s.State {
		if r.ChangeCountSinceReview >= threshold {
			out = append(out, r.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ChangeCountSinceReview > out[j].ChangeCountSinceReview
	})
	return out
}
