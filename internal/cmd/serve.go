package cmd

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/mcpserver"
	"github.com/Iron-Ham/arbiter/internal/signals"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve arbiter tools to agents over MCP (stdio)",
	Long: `Run a Model Context Protocol server on stdin/stdout. Agents use it to submit
their branches, read the queue status and review digest, and check RFC
deadlines and merge gates. Logs never go to stdout.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, closeApp, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp()

	mcpserver.Version = Version
	s := mcpserver.New(mcpserver.Deps{
		Store: a.store,
		Submitter: signals.NewSubmitter(a.store, a.repo, signals.Config{
			BaseBranch:         a.cfg.Merge.BaseBranch,
			QueueMax:           a.cfg.Queue.QueueMax,
			HighFanInThreshold: a.cfg.Review.HighFanInThreshold,
			RepoDir:            a.repoDir,
		}, signals.WithLogger(a.logger)),
		Digest: digestOptions(a),
		Logger: a.logger,
	})
	a.logger.Info("mcp server starting", "version", Version, "repo", a.repoDir)
	return server.ServeStdio(s)
}
