package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/rfc"
	"github.com/Iron-Ham/arbiter/internal/ui"
)

var rfcCmd = &cobra.Command{
	Use:   "rfc",
	Short: "List, check and resolve RFCs",
}

var rfcListCmd = &cobra.Command{
	Use:   "list",
	Short: "List RFCs",
	RunE:  runRFCList,
}

var rfcCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check RFC deadlines and the merge gate for a branch",
	Long: `Report open RFCs past their human response deadline (their semantic
scopes are paused) and the RFCs whose unmet acceptance criteria block
the branch. Exits non-zero when the branch is blocked.`,
	RunE: runRFCCheck,
}

var rfcResolveCmd = &cobra.Command{
	Use:   "resolve <rfc-id>",
	Short: "Record the human decision on an RFC",
	Args:  cobra.ExactArgs(1),
	RunE:  runRFCResolve,
}

var (
	rfcListAll       bool
	rfcCheckBranch   string
	rfcResolveOption string
	rfcResolveNote   string
)

func init() {
	rootCmd.AddCommand(rfcCmd)
	rfcCmd.AddCommand(rfcListCmd)
	rfcCmd.AddCommand(rfcCheckCmd)
	rfcCmd.AddCommand(rfcResolveCmd)

	rfcListCmd.Flags().BoolVar(&rfcListAll, "all", false, "include resolved RFCs")
	rfcCheckCmd.Flags().StringVar(&rfcCheckBranch, "branch", "", "branch to gate (default is the current branch)")
	rfcResolveCmd.Flags().StringVar(&rfcResolveOption, "option", "", "chosen option id")
	rfcResolveCmd.Flags().StringVar(&rfcResolveNote, "note", "", "resolution note")
	_ = rfcResolveCmd.MarkFlagRequired("option")
}

func runRFCList(cmd *cobra.Command, args []string) error {
	a, closeApp, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp()

	rfcs, err := a.store.ListRFCs(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	styles := ui.For(os.Stdout)
	now := time.Now()

	shown := 0
	for _, r := range rfcs {
		if r.Status != knowledge.RFCOpen && !rfcListAll {
			continue
		}
		shown++
		state := string(r.Status)
		switch {
		case r.Status == knowledge.RFCResolved:
			state = styles.OK.Render("resolved: " + r.Resolution)
		case now.After(r.HumanResponseDeadline):
			state = styles.Error.Render("overdue")
		}
		fmt.Fprintf(out, "%s  %-12s %-24s %s\n", styles.Accent.Render(r.ID), r.SemanticScope, r.Trigger, state)
		fmt.Fprintf(out, "    %s\n", r.DecisionRequired)
		if r.Status == knowledge.RFCOpen {
			fmt.Fprintf(out, "    deadline %s, %d/%d criteria met\n", r.HumanResponseDeadline.Format(time.RFC3339),
				len(r.AcceptanceCriteria)-len(r.UnmetCriteria()), len(r.AcceptanceCriteria))
		}
	}
	if shown == 0 {
		fmt.Fprintln(out, "No open RFCs")
	}
	return nil
}

func runRFCCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, closeApp, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	branch := rfcCheckBranch
	if branch == "" {
		if branch, err = a.repo.CurrentBranch(ctx); err != nil {
			return fmt.Errorf("failed to resolve current branch (use --branch): %w", err)
		}
	}

	snap, err := a.store.Read(ctx)
	if err != nil {
		if !errors.IsNotFound(err) {
			return err
		}
		snap = &knowledge.Snapshot{}
	}
	report, err := rfc.CheckBranch(ctx, a.store, snap, branch, time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	styles := ui.For(os.Stdout)
	for _, o := range report.Paused {
		fmt.Fprintf(out, "%s %s overdue by %s; scope %q paused\n", styles.Error.Render("!"), o.ID,
			o.OverdueBy.Round(time.Minute), o.Scope)
	}
	if !report.Blocked() {
		fmt.Fprintf(out, "%s %s is not blocked\n", styles.OK.Render("✓"), branch)
		return nil
	}
	var ids []string
	for _, b := range report.Blocking {
		ids = append(ids, b.RFC.ID)
		fmt.Fprintf(out, "%s %s blocks %s\n", styles.Error.Render("✗"), b.RFC.ID, branch)
		for _, c := range b.Unmet {
			fmt.Fprintf(out, "    %s %s (%s %s)\n", c.ACID, c.Description, c.CheckType, c.CheckReference)
		}
	}
	return errors.Wrapf(errors.ErrBranchBlocked, "%s held by %s", branch, strings.Join(ids, ", "))
}

func runRFCResolve(cmd *cobra.Command, args []string) error {
	a, closeApp, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp()

	r, err := rfc.Resolve(cmd.Context(), a.store, args[0], rfcResolveOption, rfcResolveNote, time.Now())
	if err != nil {
		return err
	}
	a.logger.Info("rfc resolved", "rfc_id", r.ID, "option", r.Resolution)
	fmt.Fprintf(cmd.OutOrStdout(), "%s resolved: %s\n", r.ID, r.Resolution)
	return nil
}
