package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/gitops"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/rfc"
	"github.com/Iron-Ham/arbiter/internal/telemetry"
)

// Store is the part of the knowledge store the run loop needs.
type Store interface {
	knowledge.Store
	knowledge.RFCStore
	knowledge.SessionLogStore
}

// Merger merges an approved agent branch into base.
type Merger interface {
	Merge(ctx context.Context, branch, base string) (gitops.MergeResult, error)
}

// Progress receives human-readable status lines. It must not block.
type Progress func(string)

// RunConfig configures a run.
type RunConfig struct {
	Budget Budget
	// Merge enables merging approved branches into BaseBranch.
	Merge      bool
	BaseBranch string
}

// Runner drains the proposal queue through an Engine.
type Runner struct {
	engine   *Engine
	store    Store
	cfg      RunConfig
	merger   Merger
	progress Progress
	bus      *event.Bus
	logger   *logging.Logger
	now      func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMerger sets the merger used when RunConfig.Merge is set.
func WithMerger(m Merger) RunnerOption {
	return func(r *Runner) { r.merger = m }
}

// WithProgress sets the progress sink.
func WithProgress(p Progress) RunnerOption {
	return func(r *Runner) {
		if p != nil {
			r.progress = p
		}
	}
}

// WithBus publishes decision, RFC, breaker, budget and merge events.
func WithBus(b *event.Bus) RunnerOption {
	return func(r *Runner) { r.bus = b }
}

// WithRunLogger sets the logger.
func WithRunLogger(l *logging.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRunClock overrides time.Now. Used by tests.
func WithRunClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner.
func NewRunner(engine *Engine, store Store, cfg RunConfig, opts ...RunnerOption) *Runner {
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	r := &Runner{
		engine:   engine,
		store:    store,
		cfg:      cfg,
		progress: func(string) {},
		logger:   logging.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reviews pending proposals in submission order until the queue is
// empty, the budget is exhausted, or ctx is cancelled between proposals.
// It always writes a handoff log. A store write failure or a hard RFC
// generation failure stops the run: an emergency handoff log is written on
// a best-effort basis and the original error is returned.
func (r *Runner) Run(ctx context.Context) (*knowledge.SessionLog, error) {
	id, err := r.store.NextSessionID(ctx)
	if err != nil {
		return nil, err
	}
	sess := NewSession(id, uuid.NewString(), r.cfg.Budget, r.now())
	logger := r.logger.WithSession(id).With("run_id", sess.RunID)
	logger.Info("session started", "max_proposals", sess.Budget.MaxProposals,
		"max_duration", sess.Budget.MaxDuration.String())
	r.progress(fmt.Sprintf("session %s started", id))
	r.reportOverdue(ctx, logger)

	for {
		if ctx.Err() != nil {
			sess = sess.Stopped(StopCancelled)
			break
		}
		if reason, exceeded := sess.Exceeded(r.now()); exceeded {
			sess = sess.Stopped(reason)
			r.progress("budget exhausted: " + reason)
			r.publish(event.NewBudgetExhausted(id, reason))
			break
		}

		snap, err := r.store.Read(ctx)
		if err != nil {
			if !errors.IsNotFound(err) {
				return r.fatal(ctx, sess, err, logger)
			}
			snap = &knowledge.Snapshot{}
		}
		pending := snap.Pending()
		if len(pending) == 0 {
			sess = sess.Stopped(StopQueueEmpty)
			break
		}

		p := pending[0]
		r.progress(fmt.Sprintf("reviewing %s (%s, %s) [%d pending]", p.ProposalID, p.AgentID, p.Path, len(pending)))

		started := time.Now()
		d, next, err := r.engine.Review(ctx, sess, snap, &p)
		if err != nil {
			return r.fatal(ctx, sess, err, logger)
		}

		updated := snap.Clone()
		if err := Apply(updated, d, r.now()); err != nil {
			return r.fatal(ctx, next, err, logger)
		}
		if err := r.store.Write(ctx, updated); err != nil {
			return r.fatal(ctx, next, err, logger)
		}

		sess = next.RecordDecision(d)
		r.observe(ctx, sess, d, time.Since(started))
		r.progress(fmt.Sprintf("%s: %s", p.ProposalID, d.Outcome))

		if r.cfg.Merge && d.Outcome.Approving() && p.Branch != "" && r.merger != nil {
			sess = sess.RecordMerge(r.merge(ctx, &p, logger))
		}
	}

	log := sess.Log(r.now())
	if err := r.store.WriteSessionLog(ctx, log); err != nil {
		logger.Error("handoff log write failed", "error", err)
		return log, err
	}
	logger.Info("session ended", "stop_reason", sess.StopReason, "reviewed", sess.ProposalsReviewed)
	r.progress(fmt.Sprintf("session %s ended: %s (%d reviewed)", id, sess.StopReason, sess.ProposalsReviewed))
	return log, nil
}

// fatal reports the failure, writes an emergency handoff log if it can,
// and returns the original error.
func (r *Runner) fatal(ctx context.Context, sess Session, cause error, logger *logging.Logger) (*knowledge.SessionLog, error) {
	logger.Error("fatal error, stopping run", "error", cause)
	r.progress("fatal: " + cause.Error())

	log := sess.Stopped(StopFatal).Log(r.now())
	log.Emergency = true
	log.Error = cause.Error()
	// The caller's context may be the reason we are here.
	writeCtx := context.WithoutCancel(ctx)
	if err := r.store.WriteSessionLog(writeCtx, log); err != nil {
		logger.Error("emergency handoff log write failed", "error", err)
	}
	return log, cause
}

func (r *Runner) merge(ctx context.Context, p *knowledge.Proposal, logger *logging.Logger) knowledge.MergeEntry {
	entry := knowledge.MergeEntry{ProposalID: p.ProposalID, Branch: p.Branch}
	res, err := r.merger.Merge(ctx, p.Branch, r.cfg.BaseBranch)
	result := "success"
	switch {
	case err != nil:
		result = "failed"
		entry.Message = err.Error()
		logger.Warn("merge failed", "branch", p.Branch, "error", err)
		r.progress(fmt.Sprintf("merge of %s failed: %v", p.Branch, err))
	case res.Conflict:
		result = "conflict"
		entry.Conflict = true
		entry.Message = "merge conflict; merge aborted"
		logger.Warn("merge conflict, aborted", "branch", p.Branch)
		r.progress(fmt.Sprintf("merge of %s conflicted and was aborted", p.Branch))
	default:
		entry.Success = res.Success
		logger.Info("merged", "branch", p.Branch, "base", r.cfg.BaseBranch)
	}
	telemetry.Instruments().Merges.Add(ctx, 1, telemetry.Attrs(attribute.String("result", result)))
	r.publish(event.NewMergeCompleted(p.ProposalID, p.Branch, entry.Success, entry.Conflict))
	return entry
}

func (r *Runner) observe(ctx context.Context, sess Session, d Decision, elapsed time.Duration) {
	m := telemetry.Instruments()
	m.Decisions.Add(ctx, 1, telemetry.Attrs(attribute.String("decision", string(d.Outcome))))
	r.publish(event.NewDecisionMade(sess.ID, d.ProposalID, d.AgentID, string(d.Outcome),
		string(d.Classification), d.Uncertain, elapsed))

	if d.Tripped {
		m.BreakerTrips.Add(ctx, 1)
		r.publish(event.NewBreakerTripped(d.AgentID, sess.BreakerCount(d.AgentID)))
	}
	if d.RFC != nil {
		m.RFCsOpened.Add(ctx, 1, telemetry.Attrs(attribute.String("trigger", d.RFC.Trigger)))
		r.publish(event.NewRFCOpened(d.RFC.ID, d.ProposalID, d.RFC.Trigger, d.RFC.SemanticScope))
	}
}

func (r *Runner) reportOverdue(ctx context.Context, logger *logging.Logger) {
	overdue, err := rfc.CheckDeadlines(ctx, r.store, r.now())
	if err != nil {
		logger.Warn("rfc deadline check failed", "error", err)
		return
	}
	for _, o := range overdue {
		logger.Warn("rfc overdue, scope paused", "rfc_id", o.ID, "scope", o.Scope, "overdue_by", o.OverdueBy.String())
		r.progress(fmt.Sprintf("%s overdue by %s; scope %q paused", o.ID, o.OverdueBy.Round(time.Minute), o.Scope))
	}
}

func (r *Runner) publish(e event.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
