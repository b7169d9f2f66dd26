package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/gitops"
	"github.com/Iron-Ham/arbiter/internal/ui"
	"github.com/Iron-Ham/arbiter/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Run a record's tests and promote it on a pass",
	Long: `Run the test reference declared on the state record for path. A passing
run is recorded in the verification ledger and moves the record to level 0
(verified) unless it is contested. Acceptance criteria in open RFCs that
name the same test reference are updated either way.

With --test, run a test reference directly; only acceptance criteria are
updated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

var verifyTestRef string

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyTestRef, "test", "", "test reference to run instead of a record's")
}

func runVerify(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (verifyTestRef == "") {
		return fmt.Errorf("give either a record path or --test")
	}
	ctx := cmd.Context()
	a, closeApp, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	ledgerPath := a.cfg.Verifier.LedgerPath
	if ledgerPath == "" {
		ledgerPath = filepath.Join(a.stateDir, "verify.db")
	}
	ledger, err := verify.OpenLedger(ledgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	runner := verify.NewRunner(gitops.NewCLICommandExecutor(), a.repoDir,
		a.cfg.Verifier.PythonExecutable, a.cfg.Verifier.JestCommand, a.cfg.Verifier.TimeoutDuration())
	v := verify.New(a.store, ledger, runner, verify.WithLogger(a.logger), verify.WithBus(a.bus))

	var res *verify.Result
	if verifyTestRef != "" {
		res, err = v.VerifyTest(ctx, verifyTestRef)
	} else {
		res, err = v.VerifyPath(ctx, args[0])
	}
	if res != nil {
		printVerifyResult(cmd, res)
	}
	if err != nil {
		return err
	}
	if !res.Run.Passed {
		return errors.Wrapf(errors.ErrTestsFailed, "%s exited %d", res.Run.Command, res.Run.ExitCode)
	}
	return nil
}

func printVerifyResult(cmd *cobra.Command, res *verify.Result) {
	out := cmd.OutOrStdout()
	styles := ui.For(os.Stdout)

	state := styles.OK.Render("passed")
	if !res.Run.Passed {
		state = styles.Error.Render("failed")
	}
	fmt.Fprintf(out, "%s %s (%s, run %s)\n", state, res.Run.Command, res.Run.Duration.Round(time.Millisecond), res.RunID)
	if res.Promoted {
		fmt.Fprintf(out, "%s is now verified\n", res.Path)
	}
	if len(res.CriteriaUpdated) > 0 {
		fmt.Fprintf(out, "acceptance criteria updated in %s\n", strings.Join(res.CriteriaUpdated, ", "))
	}
	if !res.Run.Passed && res.Run.Output != "" {
		fmt.Fprintln(out, styles.Muted.Render(res.Run.Output))
	}
}
