package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/signals"
	"github.com/Iron-Ham/arbiter/internal/ui"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue the current branch's changes for review",
	Long: `Queue one pending proposal for every file changed between the base branch
and HEAD. Each proposal carries scope checks, risk signals computed from
the Go syntax tree, and a scan of module-internal imports.

Submission is refused when the queue is full, when an open RFC with unmet
acceptance criteria holds the branch, or when an overdue RFC has paused the
agent's semantic scope.`,
	RunE: runSubmit,
}

var (
	submitAgent        string
	submitType         string
	submitDescription  string
	submitDepends      []string
	submitAssume       []string
	submitSharedAssume []string
	submitInvariants   []string
)

func init() {
	rootCmd.AddCommand(submitCmd)
	f := submitCmd.Flags()
	f.StringVar(&submitAgent, "agent", "", "submitting agent id")
	f.StringVar(&submitType, "type", "", "self-reported change type: mechanical, behavioral or architectural")
	f.StringVarP(&submitDescription, "message", "m", "", "what the change does")
	f.StringSliceVar(&submitDepends, "depends", nil, "declared dependencies")
	f.StringArrayVar(&submitAssume, "assume", nil, "assumption local to the agent's scope (repeatable)")
	f.StringArrayVar(&submitSharedAssume, "shared-assume", nil, "assumption other agents may share (repeatable)")
	f.StringSliceVar(&submitInvariants, "invariant", nil, "invariants the change touches")
	_ = submitCmd.MarkFlagRequired("agent")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, closeApp, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	s := signals.NewSubmitter(a.store, a.repo, signals.Config{
		BaseBranch:         a.cfg.Merge.BaseBranch,
		QueueMax:           a.cfg.Queue.QueueMax,
		HighFanInThreshold: a.cfg.Review.HighFanInThreshold,
		RepoDir:            a.repoDir,
	}, signals.WithLogger(a.logger))

	res, err := s.Submit(ctx, signals.Request{
		AgentID:           submitAgent,
		ChangeType:        knowledge.ChangeType(submitType),
		Description:       submitDescription,
		Dependencies:      submitDepends,
		Assumptions:       submitAssume,
		SharedAssumptions: submitSharedAssume,
		InvariantsTouched: submitInvariants,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	styles := ui.For(os.Stdout)
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "%s %s\n", styles.Warning.Render("warning:"), w)
	}
	if len(res.Proposals) == 0 {
		fmt.Fprintln(out, "No changed files; nothing queued")
		return nil
	}
	for _, p := range res.Proposals {
		line := fmt.Sprintf("%s  %s  %s", styles.Accent.Render(p.ProposalID), p.Path, p.RiskSignals.ASTChangeType)
		if len(p.BlockingReasons) > 0 {
			line += "  " + styles.Error.Render(strings.Join(p.BlockingReasons, ", "))
		}
		fmt.Fprintln(out, line)
	}
	if len(res.OutOfScope) > 0 {
		fmt.Fprintf(out, "%s %s\n", styles.Warning.Render("out of file scope:"), strings.Join(res.OutOfScope, ", "))
	}
	if len(res.CrossScope) > 0 {
		fmt.Fprintf(out, "%s %s\n", styles.Warning.Render("cross scope:"), strings.Join(res.CrossScope, ", "))
	}
	fmt.Fprintf(out, "Queued %d proposal(s) from %s\n", len(res.Proposals), res.Branch)
	return nil
}
