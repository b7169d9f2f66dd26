package advisory

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/schema"
)

//go:embed schemas/classification.schema.json
var classificationSchemaJSON []byte

var classificationSchema = schema.MustCompile("classification response", classificationSchemaJSON)

// maxDiffChars bounds how much of a diff is sent to the model.
const maxDiffChars = 12000

// Verification is the advisory model's independent classification.
type Verification struct {
	Classification knowledge.ChangeType
	// Agreement is true when Classification equals the agent's self-report.
	Agreement bool
	Reasoning string
}

// Verifier asks the advisory model to classify a diff without being told
// which label the agent chose.
type Verifier struct {
	client *Client
	logger *logging.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(client *Client, logger *logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Verifier{client: client, logger: logger}
}

type classificationResponse struct {
	Classification string `json:"classification"`
	Reasoning      string `json:"reasoning"`
}

// Verify classifies the change and compares it with selfClass. Errors are
// *errors.AdvisoryError; callers keep the self-report when Verify fails.
func (v *Verifier) Verify(ctx context.Context, p *knowledge.Proposal, selfClass knowledge.ChangeType, diff string) (Verification, error) {
	var resp classificationResponse
	if err := v.client.CompleteJSON(ctx, "verify_classification", classificationPrompt(p, diff), classificationSchema, &resp); err != nil {
		v.logger.Warn("classification verification failed", "proposal_id", p.ProposalID, "error", err)
		return Verification{}, err
	}

	got := knowledge.ChangeType(resp.Classification)
	out := Verification{
		Classification: got,
		Agreement:      got == selfClass,
		Reasoning:      resp.Reasoning,
	}
	v.logger.Debug("classification verified",
		"proposal_id", p.ProposalID,
		"agent", selfClass,
		"verifier", got,
		"agreement", out.Agreement,
	)
	return out, nil
}

func classificationPrompt(p *knowledge.Proposal, diff string) string {
	if len(diff) > maxDiffChars {
		diff = diff[:maxDiffChars] + "\n... (diff truncated)"
	}
	if strings.TrimSpace(diff) == "" {
		diff = "(no diff available)"
	}

	var sb strings.Builder
	sb.WriteString("You are reviewing a code change proposed by an autonomous coding agent.\n")
	sb.WriteString("Classify the change into exactly one category:\n")
	sb.WriteString("- mechanical: no behavior change (formatting, renames, comments, moves)\n")
	sb.WriteString("- behavioral: changes what the code does without changing system structure\n")
	sb.WriteString("- architectural: changes module boundaries, data flow, public contracts or dependencies\n\n")
	fmt.Fprintf(&sb, "File: %s\n", p.Path)
	fmt.Fprintf(&sb, "Semantic scope: %s\n", p.SemanticScope)
	if p.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", p.Description)
	}
	sb.WriteString("\nDiff:\n```diff\n")
	sb.WriteString(diff)
	sb.WriteString("\n```\n\n")
	sb.WriteString(`Respond with only a JSON object: {"classification": "mechanical|behavioral|architectural", "reasoning": "<one sentence>"}`)
	return sb.String()
}
