package rfc

import (
	"context"
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/arbiter/internal/advisory"
	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/schema"
)

//go:embed schemas/draft.schema.json
var draftSchemaJSON []byte

var draftSchema = schema.MustCompile("rfc draft", draftSchemaJSON)

// maxAttempts is the first try plus the single retry.
const maxAttempts = 2

// DefaultDeadline is the human response window when none is configured.
const DefaultDeadline = 24 * time.Hour

type draft struct {
	DecisionRequired             string                `json:"decision_required"`
	Context                      string                `json:"context"`
	Options                      []knowledge.RFCOption `json:"options"`
	AgentRecommendation          string                `json:"agent_recommendation"`
	AgentRecommendationRationale string                `json:"agent_recommendation_rationale"`
	AcceptanceCriteria           []struct {
		ACID           string `json:"ac_id"`
		Description    string `json:"description"`
		CheckType      string `json:"check_type"`
		CheckReference string `json:"check_reference"`
	} `json:"acceptance_criteria"`
}

// Generator drafts RFCs with the advisory model and persists them open.
type Generator struct {
	client   *advisory.Client
	store    knowledge.RFCStore
	deadline time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithDeadline sets the human response window.
func WithDeadline(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		if d > 0 {
			g.deadline = d
		}
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) GeneratorOption {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGenerator creates a Generator writing to store.
func NewGenerator(client *advisory.Client, store knowledge.RFCStore, opts ...GeneratorOption) *Generator {
	g := &Generator{
		client:   client,
		store:    store,
		deadline: DefaultDeadline,
		now:      time.Now,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = advisory.NewClient(nil, g.logger)
	}
	return g
}

// Generate drafts, validates and persists an RFC for the fired trigger.
// Any failure is an *errors.RFCError matching ErrRFCGeneration; nothing is
// written in that case. An RFC already open for the same proposal is
// returned as is: it was written by a run that stopped before recording
// its decision.
func (g *Generator) Generate(ctx context.Context, t *Triggered, in Input) (*knowledge.RFC, error) {
	p := in.Proposal
	logger := g.logger.WithProposal(p.ProposalID).With("trigger", t.Trigger)

	existing, err := g.openFor(ctx, p.ProposalID)
	if err != nil {
		return nil, errors.NewRFCError(p.ProposalID, 0, nil, err)
	}
	if existing != nil {
		logger.Warn("reusing rfc left open by an interrupted run", "rfc_id", existing.ID)
		return existing, nil
	}

	if !g.client.Available(ctx) {
		logger.Error("rfc generation impossible: no advisory model")
		return nil, errors.NewRFCError(p.ProposalID, 0, nil, errors.ErrNoModel)
	}

	prompt := buildPrompt(t, in)
	var (
		d        draft
		problems []string
		lastErr  error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			prompt = retryPrompt(prompt, problems)
		}
		d = draft{}
		lastErr = g.client.CompleteJSON(ctx, "generate_rfc", prompt, draftSchema, &d)
		if lastErr == nil {
			lastErr = checkDraft(t.Trigger, &d)
		}
		if lastErr == nil {
			break
		}
		problems = problemsOf(lastErr)
		logger.Warn("rfc draft rejected", "attempt", attempt, "problems", problems)
	}
	if lastErr != nil {
		return nil, errors.NewRFCError(p.ProposalID, maxAttempts, problems, lastErr)
	}

	id, err := g.store.NextRFCID(ctx)
	if err != nil {
		return nil, errors.NewRFCError(p.ProposalID, maxAttempts, nil, err)
	}
	r := g.assemble(id, t, p, &d)
	if err := g.store.WriteRFC(ctx, r); err != nil {
		return nil, errors.NewRFCError(p.ProposalID, maxAttempts, nil, err)
	}
	logger.Info("rfc opened", "rfc_id", r.ID, "deadline", r.HumanResponseDeadline)
	return r, nil
}

func (g *Generator) openFor(ctx context.Context, proposalID string) (*knowledge.RFC, error) {
	rfcs, err := g.store.ListRFCs(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rfcs {
		if r.Status == knowledge.RFCOpen && r.TriggeringProposal == proposalID {
			return r, nil
		}
	}
	return nil, nil
}

func (g *Generator) assemble(id string, t *Triggered, p *knowledge.Proposal, d *draft) *knowledge.RFC {
	now := g.now().UTC()
	r := &knowledge.RFC{
		ID:                            id,
		Status:                        knowledge.RFCOpen,
		CreatedAt:                     now,
		TriggeringProposal:            p.ProposalID,
		Trigger:                       t.Trigger,
		TriggerReason:                 t.Reason,
		SemanticScope:                 p.SemanticScope,
		DecisionRequired:              d.DecisionRequired,
		Context:                       d.Context,
		AgentRecommendation:           d.AgentRecommendation,
		AgentRecommendationRationale:  d.AgentRecommendationRationale,
		HumanResponseDeadline:         now.Add(g.deadline),
		MergeBlockedUntilCriteriaPass: true,
	}
	for i, o := range d.Options {
		if o.OptionID == "" {
			o.OptionID = fmt.Sprintf("option_%d", i+1)
		}
		r.Options = append(r.Options, o)
	}
	for i, c := range d.AcceptanceCriteria {
		ac := knowledge.AcceptanceCriterion{
			ACID:           c.ACID,
			Description:    c.Description,
			CheckType:      c.CheckType,
			CheckReference: c.CheckReference,
			Status:         knowledge.CriterionPending,
		}
		if ac.ACID == "" {
			ac.ACID = fmt.Sprintf("AC-%d", i+1)
		}
		if ac.CheckType == "" {
			ac.CheckType = "manual"
		}
		r.AcceptanceCriteria = append(r.AcceptanceCriteria, ac)
	}
	return r
}

// checkDraft enforces rules the schema cannot express.
func checkDraft(trigger string, d *draft) error {
	if trigger != TriggerAssumptionConflict {
		return nil
	}
	var ids []string
	for _, o := range d.Options {
		ids = append(ids, o.OptionID)
	}
	if len(ids) != 2 || !slices.Contains(ids, OptionPromoteToInvariant) || !slices.Contains(ids, OptionRequireCorrection) {
		return errors.NewValidationError("rfc draft", fmt.Sprintf(
			"options must be exactly %q and %q, got %v", OptionPromoteToInvariant, OptionRequireCorrection, ids))
	}
	return nil
}

func problemsOf(err error) []string {
	var verr *errors.ValidationError
	if errors.As(err, &verr) && len(verr.Problems) > 0 {
		return verr.Problems
	}
	return []string{err.Error()}
}

func retryPrompt(original string, problems []string) string {
	var sb strings.Builder
	sb.WriteString(original)
	sb.WriteString("\n\nYour previous response did not match the required JSON schema. Errors:\n")
	for _, p := range problems {
		sb.WriteString("- ")
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	sb.WriteString("Respond again with only the corrected JSON object.")
	return sb.String()
}

func buildPrompt(t *Triggered, in Input) string {
	p := in.Proposal
	var sb strings.Builder
	sb.WriteString("An autonomous coding agent proposed a change that needs a human decision before it can merge.\n")
	fmt.Fprintf(&sb, "Trigger: %s\nReason: %s\n\n", t.Trigger, t.Reason)

	sb.WriteString("Proposal:\n")
	fmt.Fprintf(&sb, "  id: %s\n  agent: %s\n  file: %s\n  scope: %s\n", p.ProposalID, p.AgentID, p.Path, p.SemanticScope)
	if p.Description != "" {
		fmt.Fprintf(&sb, "  description: %s\n", p.Description)
	}
	if len(p.Dependencies) > 0 {
		fmt.Fprintf(&sb, "  dependencies: %s\n", strings.Join(p.Dependencies, ", "))
	}
	if len(p.InvariantsTouched) > 0 {
		fmt.Fprintf(&sb, "  invariants touched: %s\n", strings.Join(p.InvariantsTouched, ", "))
	}
	for _, a := range p.Assumptions {
		fmt.Fprintf(&sb, "  assumes: %s\n", a.Text)
	}

	if in.Snapshot != nil {
		inv := in.Snapshot.Invariants
		sb.WriteString("\nProject invariants:\n")
		fmt.Fprintf(&sb, "  tech stack: %s\n", strings.Join(inv.TechStack, ", "))
		fmt.Fprintf(&sb, "  auth model: %s\n", inv.AuthModel)
		fmt.Fprintf(&sb, "  data storage: %s\n", inv.DataStorage)
		if len(inv.SecurityPatterns) > 0 {
			fmt.Fprintf(&sb, "  security patterns: %s\n", strings.Join(inv.SecurityPatterns, ", "))
		}

		if related := RelatedRecords(in.Snapshot, p); len(related) > 0 {
			sb.WriteString("\nRelated state records:\n")
			for _, r := range related {
				fmt.Fprintf(&sb, "  %s %s (scope %s, owner %s, level %s)\n",
					r.ID, r.Path, r.SemanticScope, r.OwnedBy, r.UncertaintyLevel)
			}
		}
	}

	sb.WriteString("\nDraft the decision request as a JSON object with fields:\n")
	sb.WriteString("  decision_required: the question the human must answer\n")
	sb.WriteString("  context: background the human needs\n")
	if t.Trigger == TriggerAssumptionConflict {
		fmt.Fprintf(&sb, "  options: exactly two, with option_id %q and %q, each with description and consequences\n",
			OptionPromoteToInvariant, OptionRequireCorrection)
	} else {
		sb.WriteString("  options: one to three, each with option_id, description and consequences\n")
	}
	sb.WriteString("  agent_recommendation: the option_id you recommend\n")
	sb.WriteString("  agent_recommendation_rationale: why\n")
	sb.WriteString("  acceptance_criteria: at least one, each with ac_id, description, check_type (test or manual) and check_reference (test path for test checks)\n")
	sb.WriteString("Respond with only the JSON object.")
	return sb.String()
}

// RelatedRecords returns state records sharing p's path or scope, or
// overlapping its dependencies.
func RelatedRecords(snap *knowledge.Snapshot, p *knowledge.Proposal) []knowledge.StateRecord {
	path := knowledge.NormalizePath(p.Path)
	deps := make(map[string]bool, len(p.Dependencies))
	for _, d := range p.Dependencies {
		deps[knowledge.NormalizePath(d)] = true
	}

	var out []knowledge.StateRecord
	for _, r := range snap.State {
		related := knowledge.NormalizePath(r.Path) == path ||
			(p.SemanticScope != "" && r.SemanticScope == p.SemanticScope) ||
			deps[knowledge.NormalizePath(r.Path)]
		for _, d := range r.Dependencies {
			if related {
				break
			}
			related = deps[knowledge.NormalizePath(d)]
		}
		if related {
			out = append(out, r)
		}
	}
	return out
}
