package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/logging"
)

// maxRationaleChars bounds an advisory rationale.
const maxRationaleChars = 1200

// composeRationale asks the advisory model for a short paragraph explaining
// an approve or reject decision, and falls back to a template naming the
// same facts when the model is absent or fails.
func (e *Engine) composeRationale(ctx context.Context, p *knowledge.Proposal, d *Decision, logger *logging.Logger) knowledge.Rationale {
	fallback := templateRationale(p, d)
	if !e.client.Available(ctx) {
		return e.rationale(RationaleFallback, fallback)
	}

	text, err := e.client.Complete(ctx, "compose_rationale", rationalePrompt(p, d, fallback))
	if err != nil {
		logger.Warn("rationale generation failed, using template", "error", err)
		return e.rationale(RationaleFallback, fallback)
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > maxRationaleChars {
		text = string([]rune(text)[:maxRationaleChars])
	}
	return e.rationale(RationaleAdvisory, text)
}

func templateRationale(p *knowledge.Proposal, d *Decision) string {
	var sb strings.Builder
	switch d.Outcome {
	case OutcomeReject:
		fmt.Fprintf(&sb, "Rejected: %s.", d.StateConflict.Reason())
	default:
		fmt.Fprintf(&sb, "Approved for individual review: %s change to %s.", d.Classification, p.Path)
	}
	reasons := d.BlockingReasons
	if d.Outcome == OutcomeReject && len(reasons) > 0 {
		reasons = reasons[1:]
	}
	if len(reasons) > 0 {
		sb.WriteString(" Not auto-approved because: ")
		sb.WriteString(strings.Join(reasons, "; "))
		sb.WriteString(".")
	} else if d.Outcome == OutcomeApprove {
		sb.WriteString(" Not auto-approved because the change is not mechanical-only.")
	}
	if d.Disagreed && d.Verification != nil {
		fmt.Fprintf(&sb, " The advisory verifier classified it %s against the agent's %s.",
			d.Verification.VerifierClassification, d.Verification.AgentClassification)
	}
	sb.WriteString(" (advisory rationale unavailable)")
	return sb.String()
}

func rationalePrompt(p *knowledge.Proposal, d *Decision, facts string) string {
	var sb strings.Builder
	sb.WriteString("You explain code review decisions made by an arbitration engine for autonomous coding agents.\n")
	fmt.Fprintf(&sb, "Decision: %s\nFile: %s\nAgent: %s\nClassification: %s\n", d.Outcome, p.Path, p.AgentID, d.Classification)
	if p.Description != "" {
		fmt.Fprintf(&sb, "Agent's description: %s\n", p.Description)
	}
	fmt.Fprintf(&sb, "Facts: %s\n\n", strings.TrimSuffix(facts, " (advisory rationale unavailable)"))
	sb.WriteString("Write one short paragraph (at most four sentences) for a human reviewer explaining the decision. ")
	sb.WriteString("Do not change the decision. Respond with plain text only.")
	return sb.String()
}
