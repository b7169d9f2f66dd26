package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete arbiter configuration
type Config struct {
	Review    ReviewConfig    `mapstructure:"review" yaml:"review"`
	Budget    BudgetConfig    `mapstructure:"budget" yaml:"budget"`
	Merge     MergeConfig     `mapstructure:"merge" yaml:"merge"`
	Advisory  AdvisoryConfig  `mapstructure:"advisory" yaml:"advisory"`
	Verifier  VerifierConfig  `mapstructure:"verifier" yaml:"verifier"`
	Digest    DigestConfig    `mapstructure:"digest" yaml:"digest"`
	Queue     QueueConfig     `mapstructure:"queue" yaml:"queue"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Paths     PathsConfig     `mapstructure:"paths" yaml:"paths"`
}

// ReviewConfig controls the decision algorithm thresholds
type ReviewConfig struct {
	// CircuitBreakerThreshold is the number of classification disagreements
	// after which an agent is tripped and loses auto-approval (default: 3)
	CircuitBreakerThreshold int `mapstructure:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
	// ReviewThreshold is the change_count_since_review at which a record is
	// surfaced for bulk review (default: 5)
	ReviewThreshold int `mapstructure:"review_threshold" yaml:"review_threshold"`
	// HighFanInThreshold is the number of dependent records that makes a
	// path high fan-in (default: 3)
	HighFanInThreshold int `mapstructure:"high_fan_in_threshold" yaml:"high_fan_in_threshold"`
	// RFCDeadlineHours is the human response window for new RFCs (default: 24)
	RFCDeadlineHours int `mapstructure:"rfc_deadline_hours" yaml:"rfc_deadline_hours"`
}

// BudgetConfig bounds a single run
type BudgetConfig struct {
	MaxProposals            int    `mapstructure:"max_proposals" yaml:"max_proposals"`
	MaxDuration             string `mapstructure:"max_duration" yaml:"max_duration"`
	MaxConsecutiveUncertain int    `mapstructure:"max_consecutive_uncertain" yaml:"max_consecutive_uncertain"`
}

// MergeConfig controls merging approved branches
type MergeConfig struct {
	// Enabled merges the agent branch after approve/auto_approve (default: false)
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	BaseBranch string `mapstructure:"base_branch" yaml:"base_branch"`
	// RepoDir is the repository to merge in. Empty means the working directory.
	RepoDir string `mapstructure:"repo_dir" yaml:"repo_dir"`
}

// AdvisoryConfig selects the advisory language model
type AdvisoryConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Provider  string `mapstructure:"provider" yaml:"provider"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv string `mapstructure:"api_key_env" yaml:"api_key_env"`
}

// VerifierConfig controls CI verification runs
type VerifierConfig struct {
	PythonExecutable string `mapstructure:"python_executable" yaml:"python_executable"`
	JestCommand      string `mapstructure:"jest_command" yaml:"jest_command"`
	Timeout          string `mapstructure:"timeout" yaml:"timeout"`
	// LedgerPath is the sqlite run ledger. Empty means {state_dir}/verify.db.
	LedgerPath string `mapstructure:"ledger_path" yaml:"ledger_path"`
}

// DigestConfig controls the periodic digest
type DigestConfig struct {
	// Schedule is a five-field cron expression used by watch mode
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
	TopN     int    `mapstructure:"top_n" yaml:"top_n"`
}

// QueueConfig controls proposal submission
type QueueConfig struct {
	// QueueMax is the number of pending proposals at which submission is refused
	QueueMax int `mapstructure:"queue_max" yaml:"queue_max"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Enabled controls whether file logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// TelemetryConfig controls OpenTelemetry export
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Stdout exports spans and metrics to stderr as JSON
	Stdout bool `mapstructure:"stdout" yaml:"stdout"`
}

// PathsConfig controls where arbiter stores data
type PathsConfig struct {
	// StateDir holds knowledge.json, rfcs/, sessions/ and logs/.
	// Relative paths resolve against the repository root. Supports ~.
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`
}

// ResolveStateDir returns the absolute state directory for baseDir.
func (p *PathsConfig) ResolveStateDir(baseDir string) string {
	path := p.StateDir
	if path == "" {
		path = ".arbiter"
	}

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Review: ReviewConfig{
			CircuitBreakerThreshold: 3,
			ReviewThreshold:         5,
			HighFanInThreshold:      3,
			RFCDeadlineHours:        24,
		},
		Budget: BudgetConfig{
			MaxProposals:            15,
			MaxDuration:             "30m",
			MaxConsecutiveUncertain: 3,
		},
		Merge: MergeConfig{
			Enabled:    false,
			BaseBranch: "main",
		},
		Advisory: AdvisoryConfig{
			Enabled:   true,
			Provider:  "anthropic",
			Model:     "claude-haiku-4-5",
			MaxTokens: 1024,
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		Verifier: VerifierConfig{
			PythonExecutable: "python3",
			JestCommand:      "npx jest",
			Timeout:          "10m",
		},
		Digest: DigestConfig{
			Schedule: "0 9 * * *",
			TopN:     10,
		},
		Queue: QueueConfig{
			QueueMax: 15,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Stdout:  false,
		},
		Paths: PathsConfig{
			StateDir: ".arbiter",
		},
	}
}

// Duration parses MaxDuration, falling back to 30 minutes.
func (b *BudgetConfig) Duration() time.Duration {
	d, err := time.ParseDuration(b.MaxDuration)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// TimeoutDuration parses Verifier.Timeout, falling back to 10 minutes.
func (v *VerifierConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(v.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// RFCDeadline returns the RFC response window as a duration.
func (r *ReviewConfig) RFCDeadline() time.Duration {
	return time.Duration(r.RFCDeadlineHours) * time.Hour
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("review.circuit_breaker_threshold", defaults.Review.CircuitBreakerThreshold)
	viper.SetDefault("review.review_threshold", defaults.Review.ReviewThreshold)
	viper.SetDefault("review.high_fan_in_threshold", defaults.Review.HighFanInThreshold)
	viper.SetDefault("review.rfc_deadline_hours", defaults.Review.RFCDeadlineHours)

	viper.SetDefault("budget.max_proposals", defaults.Budget.MaxProposals)
	viper.SetDefault("budget.max_duration", defaults.Budget.MaxDuration)
	viper.SetDefault("budget.max_consecutive_uncertain", defaults.Budget.MaxConsecutiveUncertain)

	viper.SetDefault("merge.enabled", defaults.Merge.Enabled)
	viper.SetDefault("merge.base_branch", defaults.Merge.BaseBranch)
	viper.SetDefault("merge.repo_dir", defaults.Merge.RepoDir)

	viper.SetDefault("advisory.enabled", defaults.Advisory.Enabled)
	viper.SetDefault("advisory.provider", defaults.Advisory.Provider)
	viper.SetDefault("advisory.model", defaults.Advisory.Model)
	viper.SetDefault("advisory.max_tokens", defaults.Advisory.MaxTokens)
	viper.SetDefault("advisory.api_key_env", defaults.Advisory.APIKeyEnv)

	viper.SetDefault("verifier.python_executable", defaults.Verifier.PythonExecutable)
	viper.SetDefault("verifier.jest_command", defaults.Verifier.JestCommand)
	viper.SetDefault("verifier.timeout", defaults.Verifier.Timeout)
	viper.SetDefault("verifier.ledger_path", defaults.Verifier.LedgerPath)

	viper.SetDefault("digest.schedule", defaults.Digest.Schedule)
	viper.SetDefault("digest.top_n", defaults.Digest.TopN)

	viper.SetDefault("queue.queue_max", defaults.Queue.QueueMax)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	viper.SetDefault("telemetry.enabled", defaults.Telemetry.Enabled)
	viper.SetDefault("telemetry.stdout", defaults.Telemetry.Stdout)

	viper.SetDefault("paths.state_dir", defaults.Paths.StateDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "arbiter")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arbiter"
	}
	return filepath.Join(home, ".config", "arbiter")
}

// ConfigFile returns the path to the user config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidProviders returns the list of supported advisory providers
func ValidProviders() []string {
	return []string{"anthropic", "none"}
}
