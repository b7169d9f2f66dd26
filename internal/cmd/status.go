package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/digest"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue, record and RFC counts",
	Long:  `Display the proposal queue by status, state records by uncertainty level, open and overdue RFCs, and the last session.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, closeApp, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp()

	st, err := digest.LoadStatus(cmd.Context(), a.store, time.Now())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	styles := ui.For(os.Stdout)
	if err := digest.RenderStatus(out, st, styles); err != nil {
		return err
	}

	if holder, ok := knowledge.ActiveSession(a.stateDir); ok {
		fmt.Fprintf(out, "\n%s run %s (pid %d on %s) since %s\n", styles.Accent.Render("Session running:"),
			holder.RunID, holder.PID, holder.Hostname, holder.StartedAt.Format(time.RFC3339))
	}
	return nil
}
