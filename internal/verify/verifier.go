package verify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/rfc"
	"github.com/Iron-Ham/arbiter/internal/telemetry"
)

const tracerName = "github.com/Iron-Ham/arbiter/verify"

// Store is the part of the knowledge store the verifier needs.
type Store interface {
	knowledge.Store
	knowledge.VerifiedWriter
	knowledge.RFCStore
}

// Result is the outcome of verifying one record or test reference.
type Result struct {
	Run RunResult
	// RunID names the ledger entry.
	RunID         string
	RecordID      string
	Path          string
	TestReference string
	// Promoted is true when the record moved to level 0.
	Promoted bool
	// CriteriaUpdated lists the RFCs whose acceptance criteria changed.
	CriteriaUpdated []string
}

// Verifier runs tests, records them in the ledger, and promotes records
// that pass.
type Verifier struct {
	store  Store
	ledger *Ledger
	runner *Runner
	bus    *event.Bus
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithBus publishes a Verified event after every run.
func WithBus(b *event.Bus) Option {
	return func(v *Verifier) { v.bus = b }
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// New creates a Verifier.
func New(store Store, ledger *Ledger, runner *Runner, opts ...Option) *Verifier {
	v := &Verifier{
		store:  store,
		ledger: ledger,
		runner: runner,
		logger: logging.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyPath runs the test reference of the state record at path. On a pass
// the record moves to level 0 unless it is contested. Acceptance criteria
// naming the same test reference are marked either way.
func (v *Verifier) VerifyPath(ctx context.Context, path string) (*Result, error) {
	snap, err := v.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	rec := snap.StateByPath(path)
	if rec == nil {
		return nil, errors.NewNotFoundError("state record", path)
	}
	if rec.TestReference == "" {
		return nil, errors.NewValidationError("state record "+rec.ID, "no test_reference declared for "+rec.Path)
	}
	recordID := rec.ID

	res, err := v.run(ctx, recordID, rec.TestReference)
	if err != nil {
		return nil, err
	}
	res.Path = rec.Path
	logger := v.logger.With("record_id", recordID, "run_id", res.RunID)

	if res.Run.Passed {
		promoted, err := v.promote(ctx, recordID, res)
		if err != nil {
			return res, err
		}
		res.Promoted = promoted
		if promoted {
			logger.Info("record verified", "path", res.Path)
		}
	}

	if err := v.markCriteria(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

// VerifyTest runs a test reference that no record declares, updating only
// acceptance criteria.
func (v *Verifier) VerifyTest(ctx context.Context, testRef string) (*Result, error) {
	res, err := v.run(ctx, "", testRef)
	if err != nil {
		return nil, err
	}
	if err := v.markCriteria(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

func (v *Verifier) run(ctx context.Context, recordID, testRef string) (res *Result, err error) {
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "verify.run")
	span.SetAttributes(attribute.String("arbiter.test_reference", testRef))
	defer func() { telemetry.EndSpan(span, err) }()

	started := v.now().UTC()
	out := v.runner.Run(ctx, testRef)
	run := &Run{
		ID:            uuid.NewString(),
		RecordID:      recordID,
		TestReference: testRef,
		Command:       out.Command,
		Passed:        out.Passed,
		ExitCode:      out.ExitCode,
		Output:        out.Output,
		StartedAt:     started,
		FinishedAt:    started.Add(out.Duration),
	}
	if err := v.ledger.Record(ctx, run); err != nil {
		return nil, err
	}

	result := "failed"
	if out.Passed {
		result = "passed"
	}
	telemetry.Instruments().VerifyRuns.Add(ctx, 1, telemetry.Attrs(attribute.String("result", result)))
	v.logger.Info("verification run", "run_id", run.ID, "test_reference", testRef,
		"command", out.Command, "result", result, "exit_code", out.ExitCode, "duration", out.Duration)
	if v.bus != nil {
		v.bus.Publish(event.NewVerified(run.ID, recordID, testRef, out.Passed))
	}

	return &Result{Run: out, RunID: run.ID, RecordID: recordID, TestReference: testRef}, nil
}

// promote re-reads the snapshot, since the run may have taken minutes, and
// writes the record at level 0 through the verified path.
func (v *Verifier) promote(ctx context.Context, recordID string, res *Result) (bool, error) {
	snap, err := v.store.Read(ctx)
	if err != nil {
		return false, err
	}
	next := snap.Clone()
	rec := next.StateByID(recordID)
	if rec == nil {
		v.logger.Warn("record removed during verification", "record_id", recordID)
		return false, nil
	}
	switch rec.UncertaintyLevel {
	case knowledge.LevelContested:
		v.logger.Warn("contested record not promoted", "record_id", recordID, "run_id", res.RunID)
		return false, nil
	case knowledge.LevelVerified:
		return false, nil
	}
	if rec.TestReference != res.TestReference {
		v.logger.Warn("test reference changed during verification", "record_id", recordID,
			"ran", res.TestReference, "now", rec.TestReference)
		return false, nil
	}

	rec.UncertaintyLevel = knowledge.LevelVerified
	ev := knowledge.Evidence{
		RecordID:      recordID,
		RunID:         res.RunID,
		TestReference: res.TestReference,
		Passed:        true,
		FinishedAt:    v.now().UTC(),
	}
	if err := v.store.WriteVerified(ctx, next, ev); err != nil {
		return false, err
	}
	return true, nil
}

func (v *Verifier) markCriteria(ctx context.Context, res *Result) error {
	updated, err := rfc.MarkCriteria(ctx, v.store, res.TestReference, res.Run.Passed, v.logger)
	res.CriteriaUpdated = updated
	return err
}
