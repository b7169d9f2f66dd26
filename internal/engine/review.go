package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Iron-Ham/arbiter/internal/advisory"
	"github.com/Iron-Ham/arbiter/internal/classify"
	"github.com/Iron-Ham/arbiter/internal/conflict"
	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/rfc"
	"github.com/Iron-Ham/arbiter/internal/telemetry"
)

const tracerName = "github.com/Iron-Ham/arbiter/engine"

// Differ fetches the real diff of a proposal's file.
type Differ interface {
	Diff(ctx context.Context, path, branch, base string) (string, error)
}

// ClassificationVerifier independently classifies a diff.
type ClassificationVerifier interface {
	Verify(ctx context.Context, p *knowledge.Proposal, selfClass knowledge.ChangeType, diff string) (advisory.Verification, error)
}

// AssumptionChecker finds pending proposals whose assumptions conflict.
type AssumptionChecker interface {
	Check(ctx context.Context, p *knowledge.Proposal, pending []knowledge.Proposal) *conflict.AssumptionConflict
}

// RFCGenerator drafts and persists an RFC for a fired trigger.
type RFCGenerator interface {
	Generate(ctx context.Context, t *rfc.Triggered, in rfc.Input) (*knowledge.RFC, error)
}

// Config holds the review thresholds.
type Config struct {
	BreakerThreshold int
	// BaseBranch is the diff base for the advisory verifier.
	BaseBranch string
}

// Engine runs the eight-step review. It never mutates the snapshot it is
// given; Apply does that.
type Engine struct {
	cfg         Config
	client      *advisory.Client
	differ      Differ
	verifier    ClassificationVerifier
	assumptions AssumptionChecker
	rfcs        RFCGenerator
	logger      *logging.Logger
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithAdvisory sets the advisory client used for verification, assumption
// checks and rationale. Verifier and checker default to ones built on it.
func WithAdvisory(c *advisory.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithDiffer sets the diff source.
func WithDiffer(d Differ) Option {
	return func(e *Engine) { e.differ = d }
}

// WithVerifier overrides the classification verifier.
func WithVerifier(v ClassificationVerifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithAssumptionChecker overrides the assumption-conflict checker.
func WithAssumptionChecker(c AssumptionChecker) Option {
	return func(e *Engine) { e.assumptions = c }
}

// WithRFCGenerator sets the RFC generator. Without one, every triggered RFC
// fails as if no model were available.
func WithRFCGenerator(g RFCGenerator) Option {
	return func(e *Engine) { e.rfcs = g }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	e := &Engine{cfg: cfg, logger: logging.NopLogger(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = advisory.NewClient(nil, e.logger)
	}
	if e.verifier == nil {
		e.verifier = advisory.NewVerifier(e.client, e.logger)
	}
	if e.assumptions == nil {
		e.assumptions = conflict.NewDetector(e.client, e.logger)
	}
	return e
}

// Review decides p against snap. It returns the decision and the session
// updated with any breaker change; the decision itself is not yet counted
// (see Session.RecordDecision). The only error is a hard RFC generation
// failure, which leaves p pending.
func (e *Engine) Review(ctx context.Context, sess Session, snap *knowledge.Snapshot, p *knowledge.Proposal) (d Decision, next Session, err error) {
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "engine.review")
	span.SetAttributes(
		attribute.String("arbiter.proposal_id", p.ProposalID),
		attribute.String("arbiter.agent_id", p.AgentID),
	)
	start := time.Now()
	defer func() {
		if err == nil {
			span.SetAttributes(attribute.String("arbiter.decision", string(d.Outcome)))
			telemetry.Instruments().DecisionLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
				telemetry.Attrs(attribute.String("decision", string(d.Outcome))))
		}
		telemetry.EndSpan(span, err)
	}()

	logger := e.logger.WithSession(sess.ID).WithProposal(p.ProposalID).WithAgent(p.AgentID)
	d = Decision{ProposalID: p.ProposalID, AgentID: p.AgentID}
	next = sess

	// Step 0: contested target.
	if rec := snap.StateByPath(p.Path); rec != nil && rec.UncertaintyLevel == knowledge.LevelContested {
		d.Outcome = OutcomeEscalate
		d.Classification = classify.SelfReport(p)
		d.Uncertain = true
		d.BlockingReasons = []string{"target record " + rec.ID + " is contested"}
		d.Rationale = e.rationale(RationaleTemplate, fmt.Sprintf(
			"Escalated: %s (%s) is contested; automated review does not proceed on contested records.", rec.Path, rec.ID))
		logger.WithStep("contested").Info("escalated contested target", "record_id", rec.ID)
		return d, next, nil
	}

	// Step 1: deterministic classification.
	cls := classify.Classify(p)
	cv := cls.Verification()
	resolved := cls.Classification
	if cls.Override {
		logger.WithStep("classify").Info("classification overridden", "reason", cls.Reason)
	}

	// Step 2: advisory verification when no rule resolved it.
	if !cls.Resolved() {
		next, resolved = e.verify(ctx, next, p, cls, cv, &d, logger.WithStep("verify"))
	}
	cv.ResolvedClassification = resolved
	d.Classification = resolved
	d.Verification = cv

	// Step 3: breaker.
	breakerTripped := next.Tripped(p.AgentID)

	// Step 4: undeclared cross-scope imports.
	d.CrossScope = p.DependencyScan.CrossScopeUndeclared

	// Step 5: assumption conflict.
	d.AssumptionConflict = e.assumptions.Check(ctx, p, snap.Pending())

	// Step 6: state conflict.
	d.StateConflict = conflict.CheckState(snap, p)

	d.BlockingReasons = blockingReasons(cls, breakerTripped, &d)

	// Step 7: RFC triggers.
	in := rfc.Input{Proposal: p, Classification: resolved, Snapshot: snap}
	if d.AssumptionConflict != nil {
		in.AssumptionConflict = d.AssumptionConflict.Reason()
	}
	if t := rfc.Evaluate(in); t != nil {
		logger.WithStep("rfc").Info("rfc triggered", "trigger", t.Trigger, "reason", t.Reason)
		r, err := e.generateRFC(ctx, t, in)
		if err != nil {
			logger.WithStep("rfc").Error("rfc generation failed", "error", err)
			return Decision{}, sess, err
		}
		d.Outcome = OutcomeRFC
		d.Trigger = t
		d.RFC = r
		d.Uncertain = true
		d.Rationale = e.rationale(RationaleTemplate, fmt.Sprintf(
			"RFC %s opened (%s): %s. A human decision is required before this change can merge; respond by %s.",
			r.ID, t.Trigger, t.Reason, r.HumanResponseDeadline.Format(time.RFC3339)))
		return d, next, nil
	}

	// Step 8: final decision.
	switch {
	case d.StateConflict != nil:
		d.Outcome = OutcomeReject
	case cls.AutoApproveEligible && d.AssumptionConflict == nil && len(d.CrossScope) == 0 && !breakerTripped:
		d.Outcome = OutcomeAutoApprove
	default:
		d.Outcome = OutcomeApprove
	}
	d.Uncertain = d.Disagreed

	if d.Outcome == OutcomeAutoApprove {
		d.Rationale = e.rationale(RationaleTemplate, fmt.Sprintf(
			"Auto-approved: mechanical-only change to %s with no high fan-in, no shared assumptions, no conflicts and no undeclared cross-scope imports.",
			p.Path))
	} else {
		d.Rationale = e.composeRationale(ctx, p, &d, logger.WithStep("rationale"))
	}
	logger.Info("decision", "outcome", d.Outcome, "classification", d.Classification)
	return d, next, nil
}

func (e *Engine) verify(ctx context.Context, sess Session, p *knowledge.Proposal, cls classify.Result,
	cv *knowledge.ClassificationVerification, d *Decision, logger *logging.Logger) (Session, knowledge.ChangeType) {
	self := cls.AgentClassification
	if _, builtin := e.verifier.(*advisory.Verifier); builtin && !e.client.Available(ctx) {
		logger.Debug("verification skipped: no advisory model")
		return sess, self
	}

	var diff string
	if e.differ != nil {
		var err error
		diff, err = e.differ.Diff(ctx, p.Path, p.Branch, e.cfg.BaseBranch)
		if err != nil {
			logger.Warn("diff unavailable, verifying without it", "error", err)
		}
	}

	v, err := e.verifier.Verify(ctx, p, self, diff)
	if err != nil {
		logger.Warn("verification failed, keeping self-report", "error", err)
		return sess, self
	}

	agreement := v.Agreement
	cv.VerifierClassification = v.Classification
	cv.Agreement = &agreement
	if agreement {
		return sess, self
	}

	d.Disagreed = true
	next, tripped := sess.RecordDisagreement(p.AgentID, e.cfg.BreakerThreshold)
	d.Tripped = tripped
	logger.Info("verifier disagreed", "agent_classification", self, "verifier_classification", v.Classification,
		"count", next.BreakerCount(p.AgentID))
	if tripped {
		logger.Warn("circuit breaker tripped", "count", next.BreakerCount(p.AgentID))
	}
	return next, Stricter(self, v.Classification)
}

func (e *Engine) generateRFC(ctx context.Context, t *rfc.Triggered, in rfc.Input) (*knowledge.RFC, error) {
	if e.rfcs == nil {
		return nil, errors.NewRFCError(in.Proposal.ProposalID, 0, nil, errors.ErrNoModel)
	}
	return e.rfcs.Generate(ctx, t, in)
}

func (e *Engine) rationale(kind, text string) knowledge.Rationale {
	return knowledge.Rationale{Text: text, Type: kind, Timestamp: e.now().UTC()}
}

// Stricter returns the more severe of two classifications. Unknown values
// count as behavioral.
func Stricter(a, b knowledge.ChangeType) knowledge.ChangeType {
	if severity(b) > severity(a) {
		return b
	}
	return a
}

func severity(c knowledge.ChangeType) int {
	switch c {
	case knowledge.Mechanical:
		return 0
	case knowledge.Architectural:
		return 2
	default:
		return 1
	}
}

func blockingReasons(cls classify.Result, breakerTripped bool, d *Decision) []string {
	var out []string
	if d.StateConflict != nil {
		out = append(out, d.StateConflict.Reason())
	}
	if d.AssumptionConflict != nil {
		out = append(out, d.AssumptionConflict.Reason())
	}
	if len(d.CrossScope) > 0 {
		out = append(out, fmt.Sprintf("undeclared cross-scope imports: %v", d.CrossScope))
	}
	if breakerTripped {
		out = append(out, "circuit breaker tripped for "+d.AgentID)
	}
	if cls.MandatoryIndividualReview {
		if cls.Override {
			out = append(out, "classification override: "+cls.Reason)
		} else {
			out = append(out, "touches auth or permission patterns")
		}
	}
	return out
}

// Apply writes d into snap: approving outcomes create or update the state
// record, then the proposal moves to its terminal status with the rationale.
func Apply(snap *knowledge.Snapshot, d Decision, now time.Time) error {
	q := snap.Proposal(d.ProposalID)
	if q == nil {
		return fmt.Errorf("%w: %s", errors.ErrProposalNotFound, d.ProposalID)
	}
	if d.Outcome.Approving() {
		if _, err := snap.ApplyApproval(q, now); err != nil {
			return err
		}
	}
	q.BlockingReasons = append([]string{}, d.BlockingReasons...)
	return snap.Decide(d.ProposalID, d.Outcome.Status(), d.Rationale, d.Verification, now)
}
