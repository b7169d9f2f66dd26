package signals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/rfc"
)

// Git is the version control surface submission needs. gitops.Repo
// satisfies it.
type Git interface {
	ChangedFiles(ctx context.Context, base string) ([]string, error)
	ShowAtRef(ctx context.Context, ref, path string) (content []byte, exists bool, err error)
	CurrentBranch(ctx context.Context) (string, error)
}

// Store is the part of the knowledge store submission needs.
type Store interface {
	knowledge.Store
	knowledge.RFCStore
	ReadScopeDefinitions(ctx context.Context) (*knowledge.ScopeDefinitions, error)
	ReadAgentContext(agentID string) (*knowledge.AgentContext, error)
}

// Config holds the submission limits.
type Config struct {
	BaseBranch         string
	QueueMax           int
	HighFanInThreshold int
	// RepoDir is the repository root, used to resolve module-internal imports.
	RepoDir string
}

// Request is what the agent declares about its change. The declarations
// apply to every proposal built from the branch.
type Request struct {
	AgentID           string
	ChangeType        knowledge.ChangeType
	Description       string
	Dependencies      []string
	Assumptions       []string
	SharedAssumptions []string
	InvariantsTouched []string
}

// Result summarizes one submission.
type Result struct {
	Branch     string
	Proposals  []knowledge.Proposal
	OutOfScope []string
	CrossScope []string
	// Warnings are checks that were skipped and why.
	Warnings []string
}

// Blocking counts proposals carrying blocking reasons.
func (r *Result) Blocking() int {
	n := 0
	for _, p := range r.Proposals {
		if len(p.BlockingReasons) > 0 {
			n++
		}
	}
	return n
}

// Submitter turns the files an agent changed on its branch into queued
// proposals.
type Submitter struct {
	store    Store
	git      Git
	cfg      Config
	resolver *Resolver
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Submitter) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

// NewSubmitter creates a Submitter.
func NewSubmitter(store Store, git Git, cfg Config, opts ...Option) *Submitter {
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.HighFanInThreshold <= 0 {
		cfg.HighFanInThreshold = DefaultHighFanInThreshold
	}
	s := &Submitter{
		store:    store,
		git:      git,
		cfg:      cfg,
		resolver: NewResolver(cfg.RepoDir),
		logger:   logging.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit runs the scope checks, refuses when the queue is full, the branch
// is held by an RFC, or the agent's scope is paused, then appends one
// pending proposal per changed file.
func (s *Submitter) Submit(ctx context.Context, req Request) (*Result, error) {
	if req.AgentID == "" {
		return nil, errors.NewValidationError("submission", "agent id is required")
	}
	if req.ChangeType != "" && !req.ChangeType.Valid() {
		return nil, errors.NewValidationError("submission", fmt.Sprintf("unknown change type %q", req.ChangeType))
	}
	logger := s.logger.WithAgent(req.AgentID)

	agent, err := s.store.ReadAgentContext(req.AgentID)
	if err != nil {
		return nil, errors.Wrapf(err, "no agent context for %s", req.AgentID)
	}

	snap, err := s.store.Read(ctx)
	if err != nil {
		if !errors.IsNotFound(err) {
			return nil, err
		}
		snap = &knowledge.Snapshot{}
	}

	res := &Result{}
	scopeDef := s.scopeDefinition(ctx, agent.SemanticScope, res)

	files, err := s.git.ChangedFiles(ctx, s.cfg.BaseBranch)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("could not diff against %s: %v", s.cfg.BaseBranch, err))
		files = nil
	}

	checks := CheckSemanticScope(CheckFileScope(files, agent.FileScope), scopeDef.def)
	for _, c := range checks {
		if c.OutOfScope {
			res.OutOfScope = append(res.OutOfScope, c.Path)
		}
		if c.CrossScope {
			res.CrossScope = append(res.CrossScope, c.Path)
		}
	}

	if err := CheckQueueBudget(snap, s.cfg.QueueMax); err != nil {
		return nil, err
	}

	branch, err := s.git.CurrentBranch(ctx)
	if err != nil {
		res.Warnings = append(res.Warnings, "could not resolve current branch; acceptance criteria gate skipped")
		branch = ""
	}
	res.Branch = branch
	if err := s.checkRFCs(ctx, snap, branch, agent.SemanticScope); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	for _, c := range checks {
		p, err := s.build(ctx, req, agent, snap, scopeDef.defs, c, branch, len(snap.Queue)+len(res.Proposals), now)
		if err != nil {
			return nil, err
		}
		res.Proposals = append(res.Proposals, p)
	}

	if len(res.Proposals) == 0 {
		logger.Info("nothing to submit", "base", s.cfg.BaseBranch)
		return res, nil
	}

	updated := snap.Clone()
	updated.Queue = append(updated.Queue, res.Proposals...)
	if err := s.store.Write(ctx, updated); err != nil {
		return nil, err
	}
	logger.Info("proposals submitted",
		"count", len(res.Proposals),
		"blocking", res.Blocking(),
		"out_of_scope", len(res.OutOfScope),
		"cross_scope", len(res.CrossScope),
	)
	return res, nil
}

type scopeLookup struct {
	defs *knowledge.ScopeDefinitions
	def  *knowledge.ScopeDefinition
}

func (s *Submitter) scopeDefinition(ctx context.Context, scope string, res *Result) scopeLookup {
	defs, err := s.store.ReadScopeDefinitions(ctx)
	if err != nil {
		if errors.IsNotFound(err) {
			res.Warnings = append(res.Warnings, "scope definitions not found; semantic scope check skipped")
		} else {
			res.Warnings = append(res.Warnings, fmt.Sprintf("scope definitions unreadable (%v); semantic scope check skipped", err))
		}
		return scopeLookup{}
	}
	def, ok := defs.Scopes[scope]
	if !ok {
		if scope != "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("scope %q is not defined; semantic scope check skipped", scope))
		}
		return scopeLookup{defs: defs}
	}
	return scopeLookup{defs: defs, def: &def}
}

func (s *Submitter) checkRFCs(ctx context.Context, snap *knowledge.Snapshot, branch, scope string) error {
	report, err := rfc.CheckBranch(ctx, s.store, snap, branch, s.now())
	if err != nil {
		return err
	}
	if branch != "" && report.Blocked() {
		var parts []string
		for _, b := range report.Blocking {
			var ids []string
			for _, c := range b.Unmet {
				ids = append(ids, c.ACID)
			}
			parts = append(parts, fmt.Sprintf("%s (unmet: %s)", b.RFC.ID, strings.Join(ids, ", ")))
		}
		return errors.Wrapf(errors.ErrBranchBlocked, "%s is held by %s", branch, strings.Join(parts, "; "))
	}
	for _, o := range report.Paused {
		if o.Scope == scope {
			return errors.Wrapf(errors.ErrScopePaused, "%s passed its response deadline %s; scope %q is paused until it is resolved",
				o.ID, o.Deadline.Format(time.RFC3339), scope)
		}
	}
	return nil
}

func (s *Submitter) build(ctx context.Context, req Request, agent *knowledge.AgentContext, snap *knowledge.Snapshot,
	defs *knowledge.ScopeDefinitions, c FileCheck, branch string, queued int, now time.Time) (knowledge.Proposal, error) {
	src := Source{Path: c.Path}
	var scanned []string
	if src.IsGo() {
		base, exists, err := s.git.ShowAtRef(ctx, s.cfg.BaseBranch, c.Path)
		if err != nil {
			return knowledge.Proposal{}, err
		}
		head, _, err := s.git.ShowAtRef(ctx, "HEAD", c.Path)
		if err != nil {
			return knowledge.Proposal{}, err
		}
		src.Base, src.BaseExists, src.Head = base, exists, head
		if len(head) > 0 {
			scanned = s.resolver.Scan(head)
		}
	}

	risk := RiskSignals(src, snap.State, snap.Invariants.SecurityPatterns, s.cfg.HighFanInThreshold)
	scan := ValidateDependencies(scanned, snap.StateByPath(c.Path), snap.State, defs, agent.SemanticScope)

	id := ProposalID(now, req.AgentID, queued+1)
	p := knowledge.Proposal{
		ProposalID:        id,
		AgentID:           req.AgentID,
		Path:              knowledge.NormalizePath(c.Path),
		SemanticScope:     agent.SemanticScope,
		Branch:            branch,
		ChangeType:        req.ChangeType,
		Description:       req.Description,
		SubmittedAt:       now,
		Status:            knowledge.StatusPending,
		OutOfScope:        c.OutOfScope,
		CrossScopeFlag:    c.CrossScope,
		Dependencies:      append([]string{}, req.Dependencies...),
		Assumptions:       assumptions(id, req, agent.SemanticScope),
		InvariantsTouched: append([]string{}, req.InvariantsTouched...),
		RiskSignals:       risk,
		DependencyScan:    scan,
		BlockingReasons:   []string{},
	}
	if len(scan.CrossScopeUndeclared) > 0 {
		p.BlockingReasons = append(p.BlockingReasons, "cross_scope_undeclared_dependency")
	}
	return p, nil
}

func assumptions(proposalID string, req Request, scope string) []knowledge.Assumption {
	out := []knowledge.Assumption{}
	add := func(text string, shared bool) {
		out = append(out, knowledge.Assumption{
			ID:         fmt.Sprintf("%s_a%d", proposalID, len(out)+1),
			Text:       text,
			DeclaredBy: req.AgentID,
			Scope:      scope,
			Shared:     shared,
		})
	}
	for _, a := range req.Assumptions {
		add(a, false)
	}
	for _, a := range req.SharedAssumptions {
		add(a, true)
	}
	return out
}

// ProposalID formats prop_<yyyymmdd>_<agent>_<seq:03d>.
func ProposalID(now time.Time, agentID string, seq int) string {
	return fmt.Sprintf("prop_%s_%s_%03d", now.UTC().Format("20060102"), agentID, seq)
}
