package conflict

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/arbiter/internal/advisory"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/logging"
)

// AssumptionConflict is a pending proposal whose declared assumptions the
// advisory model judged incompatible with the reviewed proposal's.
type AssumptionConflict struct {
	ProposalID      string
	OtherProposalID string
	OtherAgent      string
}

// Reason is a one-line explanation naming both proposals.
func (c *AssumptionConflict) Reason() string {
	return fmt.Sprintf("assumptions in %s conflict with pending proposal %s from %s",
		c.ProposalID, c.OtherProposalID, c.OtherAgent)
}

// Detector checks proposals' declared assumptions pairwise.
type Detector struct {
	client *advisory.Client
	logger *logging.Logger
}

// NewDetector creates a Detector. A nil client behaves as "no model".
func NewDetector(client *advisory.Client, logger *logging.Logger) *Detector {
	if client == nil {
		client = advisory.NewClient(nil, logger)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Detector{client: client, logger: logger}
}

// Candidates applies the pre-filter: another pending proposal with declared
// assumptions is a candidate when it shares p's semantic scope, shares a
// dependency, or either side declares a shared assumption.
func Candidates(p *knowledge.Proposal, pending []knowledge.Proposal) []knowledge.Proposal {
	var out []knowledge.Proposal
	for _, other := range pending {
		if other.ProposalID == p.ProposalID || other.Status != knowledge.StatusPending {
			continue
		}
		if len(other.Assumptions) == 0 {
			continue
		}
		sameScope := p.SemanticScope != "" && p.SemanticScope == other.SemanticScope
		if sameScope || sharesDependency(p, &other) || p.HasSharedAssumption() || other.HasSharedAssumption() {
			out = append(out, other)
		}
	}
	return out
}

func sharesDependency(a, b *knowledge.Proposal) bool {
	for _, d := range a.Dependencies {
		nd := knowledge.NormalizePath(d)
		if slices.ContainsFunc(b.Dependencies, func(x string) bool { return knowledge.NormalizePath(x) == nd }) {
			return true
		}
	}
	return false
}

// Check asks the model about each candidate in order and returns the first
// conflict. A proposal without assumptions is skipped without any model
// call. Model unavailability, request errors and non YES/NO answers count as
// "no conflict" and are logged.
func (d *Detector) Check(ctx context.Context, p *knowledge.Proposal, pending []knowledge.Proposal) *AssumptionConflict {
	if len(p.Assumptions) == 0 {
		return nil
	}
	candidates := Candidates(p, pending)
	if len(candidates) == 0 {
		return nil
	}
	logger := d.logger.WithProposal(p.ProposalID)
	if !d.client.Available(ctx) {
		logger.Info("assumption check skipped: no advisory model", "candidates", len(candidates))
		return nil
	}

	for i := range candidates {
		other := &candidates[i]
		if ctx.Err() != nil {
			return nil
		}
		yes, err := d.client.AskYesNo(ctx, "assumption_conflict", pairPrompt(p, other))
		if err != nil {
			logger.Warn("assumption check failed, treating as no conflict",
				"other_proposal", other.ProposalID, "error", err)
			continue
		}
		if yes {
			logger.Info("assumption conflict", "other_proposal", other.ProposalID)
			return &AssumptionConflict{
				ProposalID:      p.ProposalID,
				OtherProposalID: other.ProposalID,
				OtherAgent:      other.AgentID,
			}
		}
	}
	return nil
}

func pairPrompt(a, b *knowledge.Proposal) string {
	var sb strings.Builder
	sb.WriteString("Two autonomous coding agents are changing the same codebase concurrently.\n")
	sb.WriteString("Decide whether any assumption of change A is incompatible with any assumption of change B,\n")
	sb.WriteString("meaning both cannot hold at the same time once the changes merge.\n\n")
	writeSide(&sb, "A", a)
	writeSide(&sb, "B", b)
	sb.WriteString("Answer with exactly one word: YES if they conflict, NO if they do not.")
	return sb.String()
}

func writeSide(sb *strings.Builder, label string, p *knowledge.Proposal) {
	fmt.Fprintf(sb, "Change %s (agent %s, file %s, scope %s):\n", label, p.AgentID, p.Path, p.SemanticScope)
	if p.Description != "" {
		fmt.Fprintf(sb, "  Description: %s\n", p.Description)
	}
	for _, a := range p.Assumptions {
		shared := ""
		if a.Shared {
			shared = " [shared]"
		}
		fmt.Fprintf(sb, "  - %s%s\n", a.Text, shared)
	}
	sb.WriteString("\n")
}
