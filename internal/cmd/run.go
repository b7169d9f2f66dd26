package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/advisory"
	"github.com/Iron-Ham/arbiter/internal/engine"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/rfc"
	"github.com/Iron-Ham/arbiter/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one review session over the pending queue",
	Long: `Review pending proposals in submission order until the queue is empty,
the session budget is exhausted, or the run is interrupted.

Each decision is written to the knowledge store as it is made. A handoff
log is always written to the sessions directory, including after a fatal
error. Only one session may run per repository at a time.`,
	RunE: runRun,
}

var (
	runMaxProposals int
	runMaxDuration  time.Duration
	runMerge        bool
	runNoAdvisory   bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runMaxProposals, "max-proposals", 0, "override budget.max_proposals")
	runCmd.Flags().DurationVar(&runMaxDuration, "max-duration", 0, "override budget.max_duration")
	runCmd.Flags().BoolVar(&runMerge, "merge", false, "merge approved branches into the base branch")
	runCmd.Flags().BoolVar(&runNoAdvisory, "no-advisory", false, "run with rule-based decisions only")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptible(cmd.Context())
	defer stop()

	a, closeApp, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	lock, err := knowledge.AcquireSessionLock(a.stateDir, uuid.NewString(), a.logger)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	runner := buildRunner(a, cmd)
	styles := ui.For(os.Stdout)
	out := cmd.OutOrStdout()
	unwatch := watchRunEvents(a.bus, out, styles)
	defer unwatch()

	log, err := runner.Run(ctx)
	if log != nil {
		printSessionSummary(out, log, styles)
	}
	return err
}

func buildRunner(a *app, cmd *cobra.Command) *engine.Runner {
	cfg := a.cfg
	provider := advisory.NewFromConfig(cfg.Advisory, a.logger)
	if runNoAdvisory {
		provider = advisory.None()
	}
	client := advisory.NewClient(provider, a.logger)

	gen := rfc.NewGenerator(client, a.store,
		rfc.WithDeadline(cfg.Review.RFCDeadline()),
		rfc.WithLogger(a.logger),
	)
	eng := engine.New(
		engine.Config{
			BreakerThreshold: cfg.Review.CircuitBreakerThreshold,
			BaseBranch:       cfg.Merge.BaseBranch,
		},
		engine.WithAdvisory(client),
		engine.WithDiffer(a.repo),
		engine.WithRFCGenerator(gen),
		engine.WithLogger(a.logger),
	)

	budget := engine.BudgetFromConfig(cfg.Budget)
	if runMaxProposals > 0 {
		budget.MaxProposals = runMaxProposals
	}
	if runMaxDuration > 0 {
		budget.MaxDuration = runMaxDuration
	}

	out := cmd.OutOrStdout()
	return engine.NewRunner(eng, a.store,
		engine.RunConfig{
			Budget:     budget,
			Merge:      cfg.Merge.Enabled || runMerge,
			BaseBranch: cfg.Merge.BaseBranch,
		},
		engine.WithMerger(a.repo),
		engine.WithBus(a.bus),
		engine.WithRunLogger(a.logger),
		engine.WithProgress(func(line string) { fmt.Fprintln(out, line) }),
	)
}

// watchRunEvents prints a line for each breaker trip, opened RFC, and
// completed merge published during the run. The returned func unsubscribes.
func watchRunEvents(bus *event.Bus, w io.Writer, s ui.Styles) func() {
	var mu sync.Mutex
	emit := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, line)
	}
	ids := []string{
		bus.Subscribe(event.TypeBreakerTripped, func(e event.Event) {
			if bt, ok := e.(event.BreakerTripped); ok {
				emit(fmt.Sprintf("%s %s after %d disagreements; their proposals now escalate",
					s.Warning.Render("circuit breaker tripped:"), bt.AgentID, bt.Disagreements))
			}
		}),
		bus.Subscribe(event.TypeRFCOpened, func(e event.Event) {
			if ro, ok := e.(event.RFCOpened); ok {
				emit(fmt.Sprintf("%s %s for %s (%s, scope %q)",
					s.Accent.Render("rfc opened:"), ro.RFCID, ro.ProposalID, ro.Trigger, ro.Scope))
			}
		}),
		bus.Subscribe(event.TypeMergeCompleted, func(e event.Event) {
			if mc, ok := e.(event.MergeCompleted); ok && mc.Success {
				emit(fmt.Sprintf("%s %s", s.OK.Render("merged:"), mc.Branch))
			}
		}),
	}
	return func() {
		for _, id := range ids {
			bus.Unsubscribe(id)
		}
	}
}

func printSessionSummary(w io.Writer, log *knowledge.SessionLog, s ui.Styles) {
	var sb strings.Builder
	sb.WriteString("\n" + s.Title.Render("Session "+log.ID) + "\n")
	fmt.Fprintf(&sb, "  stop reason:   %s\n", log.StopReason)
	fmt.Fprintf(&sb, "  reviewed:      %d\n", log.ProposalsReviewed)
	counts := map[string]int{}
	for _, d := range log.Decisions {
		counts[d.Decision]++
	}
	for _, status := range []knowledge.ProposalStatus{
		knowledge.StatusAutoApprove, knowledge.StatusApproved, knowledge.StatusRejected,
		knowledge.StatusEscalated, knowledge.StatusRFC,
	} {
		if n := counts[string(status)]; n > 0 {
			fmt.Fprintf(&sb, "  %-14s %d\n", s.Decision(string(status)).Render(string(status)+":"), n)
		}
	}
	if len(log.RFCs) > 0 {
		fmt.Fprintf(&sb, "  rfcs:          %s\n", strings.Join(log.RFCs, ", "))
	}
	if len(log.TrippedAgents) > 0 {
		fmt.Fprintf(&sb, "  %s %s\n", s.Warning.Render("breaker tripped:"), strings.Join(log.TrippedAgents, ", "))
	}
	for _, m := range log.Merges {
		state := s.OK.Render("merged")
		if !m.Success {
			state = s.Error.Render("failed")
		}
		fmt.Fprintf(&sb, "  merge %s %s\n", m.Branch, state)
	}
	if log.Emergency {
		fmt.Fprintf(&sb, "  %s %s\n", s.Error.Render("emergency stop:"), log.Error)
	}
	_, _ = io.WriteString(w, sb.String())
}

// interruptible is used by commands that block until interrupted.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
