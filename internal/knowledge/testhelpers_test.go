package knowledge

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func record(id, path, owner string, level UncertaintyLevel) StateRecord {
	return StateRecord{
		ID:               id,
		Path:             path,
		SemanticScope:    "core",
		OwnedBy:          owner,
		Version:          1,
		UncertaintyLevel: level,
	}
}

func pending(id, agent, path string, at time.Time) Proposal {
	return Proposal{
		ProposalID:    id,
		AgentID:       agent,
		Path:          path,
		SemanticScope: "core",
		ChangeType:    Behavioral,
		SubmittedAt:   at,
		Status:        StatusPending,
	}
}

func seed(t *testing.T, s *FileStore, snap *Snapshot) {
	t.Helper()
	if err := s.Write(t.Context(), snap); err != nil {
		t.Fatalf("seed write: %v", err)
	}
}
