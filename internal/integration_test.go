// Package internal holds tests that drive several packages together against
// a real git repository and knowledge store.
package internal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/arbiter/internal/digest"
	"github.com/Iron-Ham/arbiter/internal/engine"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/gitops"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/signals"
	"github.com/Iron-Ham/arbiter/internal/testutil"
)

const utilBase = `package util

func Trim(s string) string {
	return s
}
`

// Same syntax tree, different layout.
const utilReformatted = `package util

func Trim(s string) string { return s }
`

func writeAgentContext(t *testing.T, stateDir string, ac knowledge.AgentContext) {
	t.Helper()
	dir := filepath.Join(stateDir, knowledge.ScratchDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(ac)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ac.AgentID+"_context.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestSubmitReviewMerge submits a layout-only change from an agent branch,
// reviews it, and merges the branch into main.
func TestSubmitReviewMerge(t *testing.T) {
	repoDir := testutil.SetupTestRepoWithContent(t, map[string]string{
		"go.mod":          "module example.com/shop\n\ngo 1.24\n",
		"util/strings.go": utilBase,
	})
	testutil.CreateBranch(t, repoDir, "agent-a/fmt")
	testutil.CommitFile(t, repoDir, "util/strings.go", utilReformatted, "Reformat Trim")

	stateDir := t.TempDir()
	bus := event.NewBus(nil)
	var (
		mu     sync.Mutex
		events []string
	)
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.EventType())
	})

	store := knowledge.NewFileStore(stateDir, knowledge.WithBus(bus))
	if _, err := store.Init(t.Context(), knowledge.Invariants{TechStack: []string{"go"}}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	writeAgentContext(t, stateDir, knowledge.AgentContext{
		AgentID:       "agent-a",
		SemanticScope: "util",
		FileScope:     []string{"util/strings.go"},
	})

	repo := gitops.New(repoDir)
	sub := signals.NewSubmitter(store, repo, signals.Config{BaseBranch: "main", QueueMax: 10, RepoDir: repoDir})
	res, err := sub.Submit(t.Context(), signals.Request{
		AgentID:     "agent-a",
		ChangeType:  knowledge.Mechanical,
		Description: "gofmt util",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(res.Proposals) != 1 {
		t.Fatalf("Submit() queued %d proposals, want 1", len(res.Proposals))
	}
	p := res.Proposals[0]
	if p.Branch != "agent-a/fmt" || p.Path != "util/strings.go" || !p.RiskSignals.MechanicalOnly {
		t.Fatalf("proposal = %+v", p)
	}
	if len(res.OutOfScope) != 0 {
		t.Errorf("out of scope = %v", res.OutOfScope)
	}

	r := engine.NewRunner(
		engine.New(engine.Config{BaseBranch: "main"}, engine.WithDiffer(repo)),
		store,
		engine.RunConfig{
			Budget:     engine.Budget{MaxProposals: 10, MaxDuration: time.Minute, MaxConsecutiveUncertain: 5},
			Merge:      true,
			BaseBranch: "main",
		},
		engine.WithMerger(repo),
		engine.WithBus(bus),
	)
	log, err := r.Run(t.Context())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if log.ProposalsReviewed != 1 || log.StopReason != engine.StopQueueEmpty {
		t.Errorf("log = %+v", log)
	}
	if len(log.Merges) != 1 || !log.Merges[0].Success {
		t.Fatalf("merges = %+v", log.Merges)
	}

	snap, err := store.Read(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if got := snap.Proposal(p.ProposalID); got == nil || got.Status != knowledge.StatusAutoApprove {
		t.Errorf("proposal after run = %+v", got)
	}
	rec := snap.StateByPath("util/strings.go")
	if rec == nil || rec.OwnedBy != "agent-a" || rec.SemanticScope != "util" {
		t.Errorf("state record = %+v", rec)
	}

	if branch := testutil.CurrentBranch(t, repoDir); branch != "main" {
		t.Errorf("checked out %q after merge, want main", branch)
	}
	merged, err := os.ReadFile(filepath.Join(repoDir, "util", "strings.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(merged) != utilReformatted {
		t.Errorf("main has %q", merged)
	}

	d, err := digest.Load(t.Context(), store, time.Now(), digest.Options{TopN: 5, ReviewThreshold: 5})
	if err != nil {
		t.Fatalf("digest.Load() error = %v", err)
	}
	if len(d.Pending) != 0 {
		t.Errorf("digest pending = %d, want 0", len(d.Pending))
	}

	mu.Lock()
	defer mu.Unlock()
	for _, want := range []string{event.TypeDecisionMade, event.TypeMergeCompleted} {
		if !slices.Contains(events, want) {
			t.Errorf("events = %v, missing %s", events, want)
		}
	}
}

// TestSubmitRefusesHeldBranch checks that an RFC with unmet acceptance
// criteria on the branch's proposal blocks further submissions from it.
func TestSubmitRefusesHeldBranch(t *testing.T) {
	repoDir := testutil.SetupTestRepoWithContent(t, map[string]string{
		"go.mod":          "module example.com/shop\n\ngo 1.24\n",
		"util/strings.go": utilBase,
	})
	testutil.CreateBranch(t, repoDir, "agent-a/api")
	testutil.CommitFile(t, repoDir, "util/strings.go", strings.Replace(utilBase, "Trim", "TrimAll", 1), "Rename Trim")

	stateDir := t.TempDir()
	store := knowledge.NewFileStore(stateDir)
	now := time.Now().UTC()
	held := knowledge.Proposal{
		ProposalID:    "prop_20260301_agent-a_001",
		AgentID:       "agent-a",
		Path:          "util/strings.go",
		SemanticScope: "util",
		Branch:        "agent-a/api",
		ChangeType:    knowledge.Architectural,
		SubmittedAt:   now.Add(-time.Hour),
		Status:        knowledge.StatusRFC,
		Rationale:     &knowledge.Rationale{Text: "public API change", Type: "rfc", Timestamp: now.Add(-time.Hour)},
	}
	if err := store.Write(t.Context(), &knowledge.Snapshot{Queue: []knowledge.Proposal{held}}); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteRFC(t.Context(), &knowledge.RFC{
		ID:                 "RFC-001",
		Status:             knowledge.RFCOpen,
		CreatedAt:          now.Add(-time.Hour),
		TriggeringProposal: held.ProposalID,
		Trigger:            "high_fan_in_public_api",
		SemanticScope:      "util",
		DecisionRequired:   "Rename Trim?",
		Options: []knowledge.RFCOption{
			{OptionID: "a", Description: "rename and update callers", Consequences: "one wide change"},
		},
		AgentRecommendation: "a",
		AcceptanceCriteria: []knowledge.AcceptanceCriterion{
			{ACID: "AC-1", Description: "callers updated", CheckType: "test", CheckReference: "util/strings_test.go", Status: knowledge.CriterionPending},
		},
		HumanResponseDeadline:         now.Add(24 * time.Hour),
		MergeBlockedUntilCriteriaPass: true,
	}); err != nil {
		t.Fatal(err)
	}
	writeAgentContext(t, stateDir, knowledge.AgentContext{AgentID: "agent-a", SemanticScope: "util"})

	sub := signals.NewSubmitter(store, gitops.New(repoDir), signals.Config{BaseBranch: "main", RepoDir: repoDir})
	_, err := sub.Submit(t.Context(), signals.Request{AgentID: "agent-a", ChangeType: knowledge.Behavioral})
	if err == nil || !strings.Contains(err.Error(), "RFC-001") {
		t.Fatalf("Submit() error = %v, want branch held by RFC-001", err)
	}

	snap, err := store.Read(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Queue) != 1 {
		t.Errorf("queue grew to %d after a refused submission", len(snap.Queue))
	}
}
