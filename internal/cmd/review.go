package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Record human review of state records",
}

var reviewAckCmd = &cobra.Command{
	Use:   "ack [path...]",
	Short: "Acknowledge pending records as reviewed",
	Long: `Move pending (level 2) records to reviewed (level 1) and reset their change
counts. Restrict by semantic scope with --scope and by path with
arguments; with neither, every pending record is acknowledged. Verified
and contested records are never touched.`,
	RunE: runReviewAck,
}

var reviewAckScope string

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewAckCmd)
	reviewAckCmd.Flags().StringVar(&reviewAckScope, "scope", "", "only acknowledge records in this semantic scope")
}

func runReviewAck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, closeApp, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	snap, err := a.store.Read(ctx)
	if err != nil {
		return err
	}
	changed := snap.AcknowledgeReview(knowledge.ReviewFilter{Scope: reviewAckScope, Paths: args}, time.Now())
	out := cmd.OutOrStdout()
	if len(changed) == 0 {
		fmt.Fprintln(out, "No pending records matched")
		return nil
	}
	if err := a.store.Write(ctx, snap); err != nil {
		return err
	}
	a.logger.Info("records reviewed", "count", len(changed), "scope", reviewAckScope)
	fmt.Fprintf(out, "Reviewed %d record(s): %s\n", len(changed), strings.Join(changed, ", "))
	return nil
}
