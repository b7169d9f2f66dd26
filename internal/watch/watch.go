// Package watch keeps a long-running eye on the knowledge store between
// review sessions: it reports external writes to knowledge.json as they
// happen and, on a cron schedule, prints the review digest and flags RFCs
// that passed their response deadline.
package watch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/arbiter/internal/config"
	"github.com/Iron-Ham/arbiter/internal/digest"
	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/ui"
)

// Config configures a Service.
type Config struct {
	// Dir is the state directory holding knowledge.json.
	Dir string
	// Schedule is a five-field cron expression for the digest.
	Schedule string
	Digest   digest.Options
}

// Service runs the watcher and the digest schedule.
type Service struct {
	cfg    Config
	store  digest.Source
	bus    *event.Bus
	logger *logging.Logger
	styles ui.Styles
	now    func() time.Time

	mu  sync.Mutex
	out io.Writer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBus shares b with the watcher; other subscribers see the same
// knowledge.changed events the service reports.
func WithBus(b *event.Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.bus = b
		}
	}
}

// WithStyles sets the output styles. Plain by default.
func WithStyles(st ui.Styles) Option {
	return func(s *Service) { s.styles = st }
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service writing its reports to out.
func New(cfg Config, store digest.Source, out io.Writer, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  store,
		out:    out,
		logger: logging.NopLogger(),
		styles: ui.Plain(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = event.NewBus(s.logger)
	}
	return s
}

// Run blocks until ctx is done. A watcher failure stops the schedule too.
func (s *Service) Run(ctx context.Context) error {
	sched, err := config.CronParser.Parse(s.cfg.Schedule)
	if err != nil {
		return errors.NewValidationError("digest.schedule", err.Error())
	}

	sub := s.bus.Subscribe(event.TypeKnowledgeChanged, s.onChange)
	defer s.bus.Unsubscribe(sub)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return knowledge.NewWatcher(s.cfg.Dir, s.bus, s.logger).Run(gctx)
	})

	g.Go(func() error {
		c := cronlib.New(cronlib.WithParser(config.CronParser))
		c.Schedule(sched, cronlib.FuncJob(func() {
			if err := s.Tick(gctx); err != nil {
				s.logger.Error("scheduled digest failed", "error", err)
			}
		}))
		c.Start()
		s.logger.Info("digest scheduled", "schedule", s.cfg.Schedule, "next", sched.Next(s.now()))
		<-gctx.Done()
		<-c.Stop().Done()
		return nil
	})

	return g.Wait()
}

// Tick prints the digest and logs every overdue RFC.
func (s *Service) Tick(ctx context.Context) error {
	now := s.now()
	d, err := digest.Load(ctx, s.store, now, s.cfg.Digest)
	if err != nil {
		return err
	}
	for _, o := range d.Overdue {
		s.logger.Warn("rfc overdue", "rfc_id", o.ID, "scope", o.Scope,
			"deadline", o.Deadline, "overdue_by", o.OverdueBy.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return digest.Render(s.out, d, s.styles)
}

func (s *Service) onChange(ev event.Event) {
	e, ok := ev.(event.KnowledgeChanged)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), knowledge.DefaultLockWait)
	defer cancel()

	line := fmt.Sprintf("%s knowledge.json %s", s.now().Format(time.TimeOnly), e.Op)
	snap, err := s.store.Read(ctx)
	switch {
	case err == nil:
		line += fmt.Sprintf(": %d pending, %d records", snap.PendingCount(), len(snap.State))
	case errors.IsNotFound(err):
		line += ": removed"
	default:
		line += ": " + s.styles.Error.Render("unreadable: "+err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
}
