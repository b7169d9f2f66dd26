package signals

import (
	"testing"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

func TestCheckScopes(t *testing.T) {
	files := []string{"api/handler.go", "api/v2/routes.go", "db/schema.go", "db/migrate.go", "docs/readme.md"}
	def := &knowledge.ScopeDefinition{
		AllowedPaths:          []string{"db/migrate.go"},
		AllowedPathPrefixes:   []string{"api/"},
		ForbiddenPathPrefixes: []string{"db/", "api/v2/"},
	}

	checks := CheckSemanticScope(CheckFileScope(files, []string{"api/handler.go", "db/schema.go"}), def)
	want := map[string][2]bool{
		"api/handler.go":   {false, false},
		"api/v2/routes.go": {true, false},
		"db/schema.go":     {false, true},
		"db/migrate.go":    {true, false},
		"docs/readme.md":   {true, false},
	}
	for _, c := range checks {
		w := want[c.Path]
		if c.OutOfScope != w[0] || c.CrossScope != w[1] {
			t.Errorf("%s: out_of_scope=%v cross_scope=%v, want %v", c.Path, c.OutOfScope, c.CrossScope, w)
		}
	}

	for _, c := range CheckSemanticScope(CheckFileScope(files, nil), nil) {
		if c.OutOfScope || c.CrossScope {
			t.Errorf("%s flagged with no scope configured", c.Path)
		}
	}
}

func TestCheckQueueBudget(t *testing.T) {
	snap := &knowledge.Snapshot{Queue: []knowledge.Proposal{
		{ProposalID: "p1", Status: knowledge.StatusPending},
		{ProposalID: "p2", Status: knowledge.StatusApproved},
		{ProposalID: "p3", Status: knowledge.StatusPending},
	}}

	if err := CheckQueueBudget(snap, 3); err != nil {
		t.Errorf("CheckQueueBudget(3) = %v", err)
	}
	if err := CheckQueueBudget(snap, 2); !errors.Is(err, errors.ErrQueueFull) {
		t.Errorf("CheckQueueBudget(2) = %v, want ErrQueueFull", err)
	}
	if err := CheckQueueBudget(snap, 0); err != nil {
		t.Errorf("CheckQueueBudget(0) = %v, want no limit", err)
	}
}
