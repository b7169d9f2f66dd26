package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/digest"
	"github.com/Iron-Ham/arbiter/internal/ui"
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Print the human review digest",
	Long: `Print the review digest: the state records most in need of human attention,
records due for bulk review, pending proposals, open and overdue RFCs, and
the last session's handoff.`,
	RunE: runDigest,
}

var digestTopN int

func init() {
	rootCmd.AddCommand(digestCmd)
	digestCmd.Flags().IntVar(&digestTopN, "top", 0, "number of top-priority records to list (default digest.top_n)")
}

func runDigest(cmd *cobra.Command, args []string) error {
	a, closeApp, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp()

	d, err := digest.Load(cmd.Context(), a.store, time.Now(), digestOptions(a))
	if err != nil {
		return err
	}
	return digest.Render(cmd.OutOrStdout(), d, ui.For(os.Stdout))
}

func digestOptions(a *app) digest.Options {
	opts := digest.Options{TopN: a.cfg.Digest.TopN, ReviewThreshold: a.cfg.Review.ReviewThreshold}
	if digestTopN > 0 {
		opts.TopN = digestTopN
	}
	return opts
}
