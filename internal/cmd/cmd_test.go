package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/ui"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

// repoStore returns an empty repository directory and the store arbiter
// would open in it.
func repoStore(t *testing.T) (string, *knowledge.FileStore) {
	t.Helper()
	dir := t.TempDir()
	return dir, knowledge.NewFileStore(filepath.Join(dir, ".arbiter"))
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "arbiter" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "arbiter")
	}

	expectedCmds := []string{"init", "run", "status", "digest", "rfc", "verify", "review", "submit", "watch", "serve", "config"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestInitStatusDigest(t *testing.T) {
	dir, store := repoStore(t)

	output, err := executeCommand(rootCmd, "init", "--repo", dir, "--security-pattern", "requireAdmin")
	if err != nil {
		t.Fatalf("init failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "initialized successfully") {
		t.Errorf("init output = %q", output)
	}
	snap, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("knowledge.json not readable after init: %v", err)
	}
	if len(snap.Invariants.SecurityPatterns) != 1 || snap.Invariants.SecurityPatterns[0] != "requireAdmin" {
		t.Errorf("invariants = %+v", snap.Invariants)
	}

	output, err = executeCommand(rootCmd, "init", "--repo", dir)
	if err != nil || !strings.Contains(output, "Already initialized") {
		t.Errorf("second init = %q, %v", output, err)
	}

	output, err = executeCommand(rootCmd, "status", "--repo", dir)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(output, "arbiter status") {
		t.Errorf("status output = %q", output)
	}

	output, err = executeCommand(rootCmd, "digest", "--repo", dir)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	if !strings.Contains(output, "Nothing needs attention") {
		t.Errorf("digest output = %q", output)
	}
}

func TestReviewAck(t *testing.T) {
	dir, store := repoStore(t)
	snap := &knowledge.Snapshot{State: []knowledge.StateRecord{
		{ID: "state_001", Path: "cart/cart.go", SemanticScope: "cart", OwnedBy: "agent-a", Version: 3, UncertaintyLevel: knowledge.LevelPending, ChangeCountSinceReview: 6},
		{ID: "state_002", Path: "auth/session.go", SemanticScope: "auth", OwnedBy: "agent-b", Version: 1, UncertaintyLevel: knowledge.LevelPending, ChangeCountSinceReview: 2},
		{ID: "state_003", Path: "auth/token.go", SemanticScope: "auth", OwnedBy: "agent-b", Version: 1, UncertaintyLevel: knowledge.LevelContested},
	}}
	if err := store.Write(context.Background(), snap); err != nil {
		t.Fatal(err)
	}

	output, err := executeCommand(rootCmd, "review", "ack", "--repo", dir, "--scope", "cart")
	if err != nil {
		t.Fatalf("review ack failed: %v", err)
	}
	if !strings.Contains(output, "Reviewed 1 record(s): state_001") {
		t.Errorf("output = %q", output)
	}

	got, err := store.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]knowledge.UncertaintyLevel{
		"state_001": knowledge.LevelReviewed,
		"state_002": knowledge.LevelPending,
		"state_003": knowledge.LevelContested,
	}
	for id, lvl := range want {
		if r := got.StateByID(id); r == nil || r.UncertaintyLevel != lvl {
			t.Errorf("%s = %+v, want level %d", id, r, lvl)
		}
	}
	if r := got.StateByID("state_001"); r.ChangeCountSinceReview != 0 {
		t.Errorf("change count = %d, want reset", r.ChangeCountSinceReview)
	}

	output, err = executeCommand(rootCmd, "review", "ack", "--repo", dir, "--scope", "cart")
	if err != nil || !strings.Contains(output, "No pending records matched") {
		t.Errorf("second ack = %q, %v", output, err)
	}
	reviewAckScope = ""
}

func TestRFCListAndResolve(t *testing.T) {
	dir, store := repoStore(t)
	r := &knowledge.RFC{
		ID:                  "RFC-001",
		Status:              knowledge.RFCOpen,
		CreatedAt:           time.Now().Add(-time.Hour),
		TriggeringProposal:  "prop_20260302_agent-a_001",
		Trigger:             "architectural_change",
		SemanticScope:       "cart",
		DecisionRequired:    "Move pricing out of the cart package?",
		Options:             []knowledge.RFCOption{{OptionID: "a", Description: "move", Consequences: "new package"}, {OptionID: "b", Description: "keep", Consequences: "none"}},
		AgentRecommendation: "a",
		AcceptanceCriteria: []knowledge.AcceptanceCriterion{
			{ACID: "AC-1", Description: "pricing tests pass", CheckType: "test", CheckReference: "pricing_test.go", Status: knowledge.CriterionPending},
		},
		HumanResponseDeadline:         time.Now().Add(24 * time.Hour),
		MergeBlockedUntilCriteriaPass: true,
	}
	if err := store.WriteRFC(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	output, err := executeCommand(rootCmd, "rfc", "list", "--repo", dir)
	if err != nil {
		t.Fatalf("rfc list failed: %v", err)
	}
	if !strings.Contains(output, "RFC-001") || !strings.Contains(output, "0/1 criteria met") {
		t.Errorf("rfc list output = %q", output)
	}

	if _, err := executeCommand(rootCmd, "rfc", "resolve", "RFC-001", "--repo", dir, "--option", "z"); err == nil {
		t.Error("resolve with an unknown option should fail")
	}

	output, err = executeCommand(rootCmd, "rfc", "resolve", "RFC-001", "--repo", dir, "--option", "b", "--note", "not worth it")
	if err != nil {
		t.Fatalf("rfc resolve failed: %v", err)
	}
	if !strings.Contains(output, "RFC-001 resolved: b") {
		t.Errorf("resolve output = %q", output)
	}

	got, err := store.ReadRFC(context.Background(), "RFC-001")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != knowledge.RFCResolved || got.ResolutionNote != "not worth it" {
		t.Errorf("resolved rfc = %+v", got)
	}

	output, err = executeCommand(rootCmd, "rfc", "list", "--repo", dir)
	if err != nil || !strings.Contains(output, "No open RFCs") {
		t.Errorf("rfc list after resolve = %q, %v", output, err)
	}
	rfcResolveNote = ""
}

func TestWatchRunEvents(t *testing.T) {
	bus := event.NewBus(nil)
	var out bytes.Buffer
	unwatch := watchRunEvents(bus, &out, ui.Plain())

	bus.Publish(event.NewBreakerTripped("agent-a", 3))
	bus.Publish(event.NewRFCOpened("RFC-002", "prop_20260302_agent-b_001", "architectural_change", "cart"))
	bus.Publish(event.NewMergeCompleted("prop_20260302_agent-c_001", "agent-c/fmt", true, false))
	bus.Publish(event.NewMergeCompleted("prop_20260302_agent-c_002", "agent-c/api", false, true))

	got := out.String()
	for _, want := range []string{
		"circuit breaker tripped: agent-a after 3 disagreements",
		`rfc opened: RFC-002 for prop_20260302_agent-b_001 (architectural_change, scope "cart")`,
		"merged: agent-c/fmt",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "agent-c/api") {
		t.Errorf("failed merge reported as merged:\n%s", got)
	}

	unwatch()
	out.Reset()
	bus.Publish(event.NewBreakerTripped("agent-b", 3))
	if out.Len() != 0 {
		t.Errorf("output after unwatch = %q", out.String())
	}
}

func TestConfigShow(t *testing.T) {
	output, err := executeCommand(rootCmd, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	for _, want := range []string{"budget:", "max_proposals: 15", "schedule:"} {
		if !strings.Contains(output, want) {
			t.Errorf("config show missing %q:\n%s", want, output)
		}
	}
}

func TestConfigKeys(t *testing.T) {
	keys, err := configKeys()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"budget.max_proposals": "int",
		"merge.enabled":        "bool",
		"advisory.model":       "string",
		"paths.state_dir":      "string",
	}
	for k, kind := range want {
		if keys[k] != kind {
			t.Errorf("configKeys()[%q] = %q, want %q", k, keys[k], kind)
		}
	}
}

func TestVerifyRequiresOneTarget(t *testing.T) {
	if _, err := executeCommand(rootCmd, "verify"); err == nil {
		t.Error("verify without a path or --test should fail")
	}
}
