package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Iron-Ham/arbiter/internal/digest"
	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/rfc"
	"github.com/Iron-Ham/arbiter/internal/ui"
)

// StatusTool handles the arbiter_status MCP tool.
type StatusTool struct {
	store digest.Source
	now   func() time.Time
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(store digest.Source, now func() time.Time) *StatusTool {
	return &StatusTool{store: store, now: now}
}

// Definition returns the MCP tool definition for registration.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("arbiter_status",
		mcp.WithDescription(
			"Summarize the review queue: proposals by status, state records by "+
				"uncertainty level, contested files, open and overdue RFCs, and the last session.",
		),
	)
}

// Handle processes the arbiter_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := digest.LoadStatus(ctx, t.store, t.now())
	if err != nil {
		return nil, fmt.Errorf("loading status: %w", err)
	}
	var sb strings.Builder
	if err := digest.RenderStatus(&sb, st, ui.Plain()); err != nil {
		return nil, fmt.Errorf("rendering status: %w", err)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// DigestTool handles the arbiter_digest MCP tool.
type DigestTool struct {
	store digest.Source
	opts  digest.Options
	now   func() time.Time
}

// NewDigestTool creates a DigestTool.
func NewDigestTool(store digest.Source, opts digest.Options, now func() time.Time) *DigestTool {
	return &DigestTool{store: store, opts: opts, now: now}
}

// Definition returns the MCP tool definition for registration.
func (t *DigestTool) Definition() mcp.Tool {
	return mcp.NewTool("arbiter_digest",
		mcp.WithDescription(
			"Render the human review digest: the highest-priority records, records due "+
				"for bulk review, pending proposals, open RFCs and the last session's handoff.",
		),
		mcp.WithNumber("top_n",
			mcp.Description("How many top-priority records to list. Defaults to the configured value."),
		),
	)
}

// Handle processes the arbiter_digest tool call.
func (t *DigestTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := t.opts
	if n := int(req.GetFloat("top_n", 0)); n > 0 {
		opts.TopN = n
	}
	d, err := digest.Load(ctx, t.store, t.now(), opts)
	if err != nil {
		return nil, fmt.Errorf("loading digest: %w", err)
	}
	if d.Empty() {
		return mcp.NewToolResultText("Nothing to review."), nil
	}
	var sb strings.Builder
	if err := digest.Render(&sb, d, ui.Plain()); err != nil {
		return nil, fmt.Errorf("rendering digest: %w", err)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// DeadlinesTool handles the arbiter_rfc_deadlines MCP tool.
type DeadlinesTool struct {
	store knowledge.RFCStore
	now   func() time.Time
}

// NewDeadlinesTool creates a DeadlinesTool.
func NewDeadlinesTool(store knowledge.RFCStore, now func() time.Time) *DeadlinesTool {
	return &DeadlinesTool{store: store, now: now}
}

// Definition returns the MCP tool definition for registration.
func (t *DeadlinesTool) Definition() mcp.Tool {
	return mcp.NewTool("arbiter_rfc_deadlines",
		mcp.WithDescription(
			"List open RFCs past their human response deadline. Work in the semantic "+
				"scope of an overdue RFC is paused until a human resolves it.",
		),
		mcp.WithString("scope",
			mcp.Description("Semantic scope to check. When set, the result says whether that scope is paused."),
		),
	)
}

// Handle processes the arbiter_rfc_deadlines tool call.
func (t *DeadlinesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope := req.GetString("scope", "")

	overdue, err := rfc.CheckDeadlines(ctx, t.store, t.now())
	if err != nil {
		return nil, fmt.Errorf("checking deadlines: %w", err)
	}

	var sb strings.Builder
	if len(overdue) == 0 {
		sb.WriteString("No overdue RFCs.\n")
	} else {
		sb.WriteString("| RFC | Scope | Proposal | Overdue by |\n")
		sb.WriteString("|-----|-------|----------|------------|\n")
		for _, o := range overdue {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", o.ID, o.Scope, o.TriggeringProposal, o.OverdueBy.Round(time.Minute))
		}
	}
	if scope != "" {
		if rfc.ScopePaused(overdue, scope) {
			fmt.Fprintf(&sb, "\nScope %q is **paused**. Do not submit work in it until the RFC is resolved.\n", scope)
		} else {
			fmt.Fprintf(&sb, "\nScope %q is not paused.\n", scope)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// GateTool handles the arbiter_rfc_gate MCP tool.
type GateTool struct {
	store storeReader
	now   func() time.Time
}

// NewGateTool creates a GateTool.
func NewGateTool(store storeReader, now func() time.Time) *GateTool {
	return &GateTool{store: store, now: now}
}

// Definition returns the MCP tool definition for registration.
func (t *GateTool) Definition() mcp.Tool {
	return mcp.NewTool("arbiter_rfc_gate",
		mcp.WithDescription(
			"Report the open RFCs holding a branch back from merge and the acceptance criteria they still need.",
		),
		mcp.WithString("branch",
			mcp.Required(),
			mcp.Description("Agent branch to check"),
		),
	)
}

// Handle processes the arbiter_rfc_gate tool call.
func (t *GateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	branch := req.GetString("branch", "")
	if branch == "" {
		return mcp.NewToolResultError("branch is required"), nil
	}

	snap, err := t.store.Read(ctx)
	if err != nil {
		if !errors.IsNotFound(err) {
			return nil, fmt.Errorf("reading knowledge: %w", err)
		}
		snap = &knowledge.Snapshot{}
	}
	report, err := rfc.CheckBranch(ctx, t.store, snap, branch, t.now())
	if err != nil {
		return nil, fmt.Errorf("checking branch: %w", err)
	}

	if !report.Blocked() {
		return mcp.NewToolResultText(fmt.Sprintf("Branch %s is not blocked by any RFC.", branch)), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Branch %s is blocked.\n\n", branch)
	for _, b := range report.Blocking {
		fmt.Fprintf(&sb, "### %s\n%s\n\n", b.RFC.ID, b.RFC.DecisionRequired)
		for _, c := range b.Unmet {
			fmt.Fprintf(&sb, "- [%s] %s (%s %s, %s)\n", c.ACID, c.Description, c.CheckType, c.CheckReference, c.Status)
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}
