package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/arbiter/internal/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Arbitration engine for parallel coding agents",
	Long: `Arbiter reviews the changes parallel coding agents propose against a shared
repository. It auto-approves what is provably safe, rejects ownership
conflicts, escalates contested code to humans, and opens structured RFCs for
architectural decisions. Every decision carries a rationale and lands in a
schema-validated knowledge store.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is .arbiter/config.yaml or $HOME/.config/arbiter/config.yaml)")
	rootCmd.PersistentFlags().String("repo", "", "repository root (default is the current directory)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("merge.repo_dir", rootCmd.PersistentFlags().Lookup("repo"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".arbiter")
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ARBITER")
	// ARBITER_BUDGET_MAX_PROPOSALS for budget.max_proposals
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}
