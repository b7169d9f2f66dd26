package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/arbiter/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify arbiter configuration",
	Long: `View or modify arbiter configuration.

Without arguments, displays the effective configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as YAML",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file in use, or the user config file.

Keys use dot notation, e.g.:
  arbiter config set budget.max_proposals 25
  arbiter config set merge.enabled true
  arbiter config set advisory.model claude-sonnet-4-5

Run 'arbiter config show' to list every key.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long: `Create a config file with every option at its default value. With --local it
is written to .arbiter/config.yaml in the current repository, otherwise to
the user config directory.`,
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configInitLocal bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configInitCmd.Flags().BoolVar(&configInitLocal, "local", false, "write .arbiter/config.yaml in the current repository")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# config file: (none - using defaults)")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// configKeys lists every settable key with its kind, derived from the
// defaults so the list cannot drift from the Config struct.
func configKeys() (map[string]string, error) {
	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return nil, err
	}
	var tree map[string]map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	keys := make(map[string]string)
	for section, fields := range tree {
		for name, v := range fields {
			kind := "string"
			switch v.(type) {
			case bool:
				kind = "bool"
			case int:
				kind = "int"
			}
			keys[section+"."+name] = kind
		}
	}
	return keys, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	keys, err := configKeys()
	if err != nil {
		return err
	}
	kind, ok := keys[key]
	if !ok {
		valid := make([]string, 0, len(keys))
		for k := range keys {
			valid = append(valid, k)
		}
		slices.Sort(valid)
		return fmt.Errorf("unknown configuration key: %s\nValid keys:\n  %s", key, strings.Join(valid, "\n  "))
	}

	var typed any
	switch kind {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typed = b
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		typed = n
	default:
		typed = value
	}

	viper.Set(key, typed)
	if _, err := config.Load(); err != nil {
		return err
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typed)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

const configHeader = `# arbiter configuration
#
# Every key can be overridden with an ARBITER_ environment variable,
# e.g. ARBITER_BUDGET_MAX_PROPOSALS=25 for budget.max_proposals.
# The advisory API key is read from the variable named by advisory.api_key_env.

`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()
	if configInitLocal {
		configFile = filepath.Join(".arbiter", "config.yaml")
	}

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'arbiter config set' to modify values", configFile)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return err
	}
	if err := os.WriteFile(configFile, append([]byte(configHeader), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize arbiter's behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(".arbiter", "config.yaml"))
	fmt.Fprintf(out, "  2. %s\n", config.ConfigFile())
	fmt.Fprintln(out, "\nEnvironment variables: ARBITER_* (e.g., ARBITER_BUDGET_MAX_PROPOSALS)")
	return nil
}
