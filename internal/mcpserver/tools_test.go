package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Iron-Ham/arbiter/internal/digest"
	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/signals"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return t0 }

func getResultText(result *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func request(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func openRFC(id, scope, proposalID string, deadline time.Time) *knowledge.RFC {
	return &knowledge.RFC{
		ID:                            id,
		Status:                        knowledge.RFCOpen,
		CreatedAt:                     t0.Add(-48 * time.Hour),
		TriggeringProposal:            proposalID,
		Trigger:                       "architectural_change",
		SemanticScope:                 scope,
		DecisionRequired:              "Split the ledger package?",
		Options:                       []knowledge.RFCOption{{OptionID: "a", Description: "split", Consequences: "two packages"}},
		AgentRecommendation:           "a",
		AcceptanceCriteria:            []knowledge.AcceptanceCriterion{{ACID: "AC-1", Description: "ledger tests pass", CheckType: "test", CheckReference: "ledger_test.go", Status: knowledge.CriterionPending}},
		HumanResponseDeadline:         deadline,
		MergeBlockedUntilCriteriaPass: true,
	}
}

// seeded returns a store with one pending proposal, one RFC blocking its
// branch, and one overdue RFC in the billing scope.
func seeded(t *testing.T) *knowledge.FileStore {
	t.Helper()
	ctx := t.Context()
	store := knowledge.NewFileStore(t.TempDir())
	snap := &knowledge.Snapshot{
		Queue: []knowledge.Proposal{{
			ProposalID:    "prop_20260302_agent-a_001",
			AgentID:       "agent-a",
			Path:          "internal/ledger/ledger.go",
			SemanticScope: "ledger",
			Branch:        "agent-a/split",
			ChangeType:    knowledge.Architectural,
			SubmittedAt:   t0.Add(-time.Hour),
			Status:        knowledge.StatusRFC,
			Rationale:     &knowledge.Rationale{Text: "architectural change requires a human decision", Type: "rule", Timestamp: t0.Add(-time.Hour)},
		}},
	}
	if err := store.Write(ctx, snap); err != nil {
		t.Fatalf("seed write: %v", err)
	}
	for _, r := range []*knowledge.RFC{
		openRFC("RFC-001", "ledger", "prop_20260302_agent-a_001", t0.Add(time.Hour)),
		openRFC("RFC-002", "billing", "prop_20260228_agent-b_001", t0.Add(-3*time.Hour)),
	} {
		if err := store.WriteRFC(ctx, r); err != nil {
			t.Fatalf("WriteRFC: %v", err)
		}
	}
	return store
}

func TestNewRegistersTools(t *testing.T) {
	s := New(Deps{Store: seeded(t), Submitter: &fakeSubmitter{}, Now: clock})
	tools := s.ListTools()
	for _, name := range []string{"arbiter_status", "arbiter_digest", "arbiter_rfc_deadlines", "arbiter_rfc_gate", "arbiter_submit"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}

	s = New(Deps{Store: seeded(t), Now: clock})
	if _, ok := s.ListTools()["arbiter_submit"]; ok {
		t.Error("arbiter_submit registered without a submitter")
	}
}

func TestStatusTool_Handle(t *testing.T) {
	tool := NewStatusTool(seeded(t), clock)
	if def := tool.Definition(); def.Name != "arbiter_status" {
		t.Errorf("name = %q", def.Name)
	}

	result, err := tool.Handle(context.Background(), request(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	text := getResultText(result)
	for _, want := range []string{"arbiter status", "open          2", "RFC-002 overdue by 3h0m0s"} {
		if !strings.Contains(text, want) {
			t.Errorf("result missing %q:\n%s", want, text)
		}
	}
}

func TestDigestTool_Handle(t *testing.T) {
	t.Run("empty store", func(t *testing.T) {
		tool := NewDigestTool(knowledge.NewFileStore(t.TempDir()), digest.Options{TopN: 5}, clock)
		result, err := tool.Handle(context.Background(), request(map[string]interface{}{}))
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		if got := getResultText(result); got != "Nothing to review." {
			t.Errorf("text = %q", got)
		}
	})

	t.Run("open rfcs", func(t *testing.T) {
		tool := NewDigestTool(seeded(t), digest.Options{TopN: 5}, clock)
		result, err := tool.Handle(context.Background(), request(map[string]interface{}{"top_n": float64(2)}))
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		if text := getResultText(result); !strings.Contains(text, "RFC-002") {
			t.Errorf("digest missing overdue RFC:\n%s", text)
		}
	})
}

func TestDeadlinesTool_Handle(t *testing.T) {
	tool := NewDeadlinesTool(seeded(t), clock)

	tests := []struct {
		name  string
		scope string
		want  string
	}{
		{name: "no scope", want: "| RFC-002 | billing |"},
		{name: "paused scope", scope: "billing", want: `Scope "billing" is **paused**`},
		{name: "active scope", scope: "ledger", want: `Scope "ledger" is not paused`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Handle(context.Background(), request(map[string]interface{}{"scope": tt.scope}))
			if err != nil {
				t.Fatalf("Handle failed: %v", err)
			}
			text := getResultText(result)
			if !strings.Contains(text, tt.want) {
				t.Errorf("result missing %q:\n%s", tt.want, text)
			}
			if strings.Contains(text, "RFC-001") {
				t.Errorf("RFC-001 is not overdue:\n%s", text)
			}
		})
	}
}

func TestGateTool_Handle(t *testing.T) {
	tool := NewGateTool(seeded(t), clock)

	result, err := tool.Handle(context.Background(), request(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !result.IsError {
		t.Error("missing branch should be a tool error")
	}

	result, err = tool.Handle(context.Background(), request(map[string]interface{}{"branch": "agent-a/split"}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	text := getResultText(result)
	if !strings.Contains(text, "RFC-001") || !strings.Contains(text, "[AC-1]") {
		t.Errorf("gate result = %s", text)
	}

	result, err = tool.Handle(context.Background(), request(map[string]interface{}{"branch": "agent-c/other"}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if text := getResultText(result); !strings.Contains(text, "not blocked") {
		t.Errorf("gate result = %s", text)
	}
}

type fakeSubmitter struct {
	got signals.Request
	res *signals.Result
	err error
}

func (f *fakeSubmitter) Submit(_ context.Context, req signals.Request) (*signals.Result, error) {
	f.got = req
	return f.res, f.err
}

func TestSubmitTool_Handle(t *testing.T) {
	t.Run("missing agent", func(t *testing.T) {
		tool := NewSubmitTool(&fakeSubmitter{}, nil)
		result, err := tool.Handle(context.Background(), request(map[string]interface{}{}))
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		if !result.IsError {
			t.Error("expected tool error")
		}
	})

	t.Run("queued", func(t *testing.T) {
		sub := &fakeSubmitter{res: &signals.Result{
			Branch: "agent-a/split",
			Proposals: []knowledge.Proposal{{
				ProposalID:      "prop_20260302_agent-a_002",
				Path:            "internal/ledger/split.go",
				RiskSignals:     knowledge.RiskSignals{ASTChangeType: "structural", PublicAPISignatureChanged: true},
				BlockingReasons: []string{"cross_scope_undeclared_dependency"},
			}},
			Warnings: []string{"scope definitions not found; semantic scope check skipped"},
		}}
		tool := NewSubmitTool(sub, nil)
		result, err := tool.Handle(context.Background(), request(map[string]interface{}{
			"agent_id":           "agent-a",
			"change_type":        "behavioral",
			"dependencies":       "internal/ledger/, internal/money/money.go",
			"shared_assumptions": "amounts are integer cents",
		}))
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		if result.IsError {
			t.Fatalf("unexpected tool error: %s", getResultText(result))
		}
		if sub.got.ChangeType != knowledge.Behavioral {
			t.Errorf("ChangeType = %q", sub.got.ChangeType)
		}
		if len(sub.got.Dependencies) != 2 || sub.got.Dependencies[1] != "internal/money/money.go" {
			t.Errorf("Dependencies = %q", sub.got.Dependencies)
		}
		if len(sub.got.SharedAssumptions) != 1 || len(sub.got.Assumptions) != 0 {
			t.Errorf("assumptions = %q / %q", sub.got.Assumptions, sub.got.SharedAssumptions)
		}
		text := getResultText(result)
		for _, want := range []string{"Queued 1 proposal(s)", "public_api, cross_scope_undeclared_dependency", "will open an RFC", "Warning: scope definitions"} {
			if !strings.Contains(text, want) {
				t.Errorf("result missing %q:\n%s", want, text)
			}
		}
	})

	tests := []struct {
		name      string
		err       error
		toolError bool
	}{
		{name: "queue full", err: errors.Wrapf(errors.ErrQueueFull, "15/15 pending proposals"), toolError: true},
		{name: "scope paused", err: errors.Wrapf(errors.ErrScopePaused, "RFC-002"), toolError: true},
		{name: "unknown agent", err: errors.NewNotFoundError("agent context", "agent-z"), toolError: true},
		{name: "store failure", err: fmt.Errorf("disk on fire")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := NewSubmitTool(&fakeSubmitter{err: tt.err}, nil)
			result, err := tool.Handle(context.Background(), request(map[string]interface{}{"agent_id": "agent-a"}))
			if tt.toolError {
				if err != nil || !result.IsError {
					t.Errorf("Handle() = %v, %v; want tool error", result, err)
				}
				return
			}
			if err == nil {
				t.Error("Handle() error = nil, want internal error")
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a, ,b ,")
	if strings.Join(got, "|") != "a|b" {
		t.Errorf("splitList() = %q", got)
	}
	if splitList("") != nil {
		t.Error("splitList(\"\") should be nil")
	}
}
