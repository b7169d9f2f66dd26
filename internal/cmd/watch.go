package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/ui"
	"github.com/Iron-Ham/arbiter/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Report knowledge changes and print the digest on schedule",
	Long: `Watch the knowledge document for writes by any process and report the queue
depth after each one. On the digest.schedule cron expression, print the
review digest and log RFCs past their response deadline. Runs until
interrupted.`,
	RunE: runWatch,
}

var watchNow bool

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchNow, "now", false, "print the digest once before waiting for the schedule")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptible(cmd.Context())
	defer stop()

	a, closeApp, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	if err := os.MkdirAll(a.stateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	s := watch.New(watch.Config{
		Dir:      a.stateDir,
		Schedule: a.cfg.Digest.Schedule,
		Digest:   digestOptions(a),
	}, a.store, cmd.OutOrStdout(),
		watch.WithLogger(a.logger),
		watch.WithBus(a.bus),
		watch.WithStyles(ui.For(os.Stdout)),
	)

	if watchNow {
		if err := s.Tick(ctx); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (digest: %s)\n", a.stateDir, a.cfg.Digest.Schedule)
	return s.Run(ctx)
}
