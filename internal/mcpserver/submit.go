package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/signals"
)

// Submitter queues proposals for an agent's branch. signals.Submitter
// satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req signals.Request) (*signals.Result, error)
}

// SubmitTool handles the arbiter_submit MCP tool.
type SubmitTool struct {
	submitter Submitter
	logger    *logging.Logger
}

// NewSubmitTool creates a SubmitTool.
func NewSubmitTool(s Submitter, logger *logging.Logger) *SubmitTool {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &SubmitTool{submitter: s, logger: logger}
}

// Definition returns the MCP tool definition for registration.
func (t *SubmitTool) Definition() mcp.Tool {
	return mcp.NewTool("arbiter_submit",
		mcp.WithDescription(
			"Submit the files changed on the current branch for review. One pending "+
				"proposal is queued per file, with scope checks, risk signals and an import scan attached. "+
				"List arguments are comma-separated.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Your agent id, as registered in the agent contexts"),
		),
		mcp.WithString("change_type",
			mcp.Description("Self-reported classification: mechanical, behavioral or architectural"),
			mcp.Enum("mechanical", "behavioral", "architectural"),
		),
		mcp.WithString("description",
			mcp.Description("What the change does"),
		),
		mcp.WithString("dependencies",
			mcp.Description("Files or packages the change depends on"),
		),
		mcp.WithString("assumptions",
			mcp.Description("Assumptions local to your scope"),
		),
		mcp.WithString("shared_assumptions",
			mcp.Description("Assumptions other agents are likely to rely on too"),
		),
		mcp.WithString("invariants",
			mcp.Description("Project invariants the change touches"),
		),
	)
}

// Handle processes the arbiter_submit tool call.
func (t *SubmitTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}

	res, err := t.submitter.Submit(ctx, signals.Request{
		AgentID:           agentID,
		ChangeType:        knowledge.ChangeType(req.GetString("change_type", "")),
		Description:       req.GetString("description", ""),
		Dependencies:      splitList(req.GetString("dependencies", "")),
		Assumptions:       splitList(req.GetString("assumptions", "")),
		SharedAssumptions: splitList(req.GetString("shared_assumptions", "")),
		InvariantsTouched: splitList(req.GetString("invariants", "")),
	})
	if err != nil {
		if refused(err) {
			return mcp.NewToolResultError(fmt.Sprintf("Submission refused: %v", err)), nil
		}
		t.logger.WithAgent(agentID).Error("submit failed", "error", err)
		return nil, fmt.Errorf("submitting: %w", err)
	}
	return mcp.NewToolResultText(formatResult(res)), nil
}

// refused reports whether err is an expected refusal the agent should act
// on, rather than an internal failure.
func refused(err error) bool {
	return errors.IsValidation(err) ||
		errors.IsNotFound(err) ||
		errors.Is(err, errors.ErrQueueFull) ||
		errors.Is(err, errors.ErrBranchBlocked) ||
		errors.Is(err, errors.ErrScopePaused)
}

func formatResult(res *signals.Result) string {
	var sb strings.Builder
	if len(res.Proposals) == 0 {
		sb.WriteString("No changed files; nothing was queued.\n")
	} else {
		fmt.Fprintf(&sb, "Queued %d proposal(s) from %s.\n\n", len(res.Proposals), res.Branch)
		sb.WriteString("| Proposal | File | AST | Flags |\n")
		sb.WriteString("|----------|------|-----|-------|\n")
		for _, p := range res.Proposals {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", p.ProposalID, p.Path, p.RiskSignals.ASTChangeType, flags(p))
		}
	}
	if len(res.OutOfScope) > 0 {
		fmt.Fprintf(&sb, "\nOutside your file scope: %s\n", strings.Join(res.OutOfScope, ", "))
	}
	if len(res.CrossScope) > 0 {
		fmt.Fprintf(&sb, "\nCrossing into another scope: %s\n", strings.Join(res.CrossScope, ", "))
	}
	if n := res.Blocking(); n > 0 {
		fmt.Fprintf(&sb, "\n%d proposal(s) import another scope without declaring it and will open an RFC.\n", n)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&sb, "\nWarning: %s", w)
	}
	return sb.String()
}

func flags(p knowledge.Proposal) string {
	var out []string
	if p.OutOfScope {
		out = append(out, "out_of_scope")
	}
	if p.CrossScopeFlag {
		out = append(out, "cross_scope")
	}
	if p.RiskSignals.TouchedAuthOrPermissionPatterns {
		out = append(out, "auth")
	}
	if p.RiskSignals.PublicAPISignatureChanged {
		out = append(out, "public_api")
	}
	if p.RiskSignals.HighFanInModuleModified {
		out = append(out, "fan_in")
	}
	out = append(out, p.BlockingReasons...)
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ", ")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
