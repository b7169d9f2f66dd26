package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "review.circuit_breaker_threshold")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// CronParser is the five-field parser used for digest schedules.
var CronParser = cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow)

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateReview()...)
	errors = append(errors, c.validateBudget()...)
	errors = append(errors, c.validateMerge()...)
	errors = append(errors, c.validateAdvisory()...)
	errors = append(errors, c.validateVerifier()...)
	errors = append(errors, c.validateDigest()...)
	errors = append(errors, c.validateQueue()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validatePaths()...)

	return errors
}

func positive(field string, v int) []ValidationError {
	if v <= 0 {
		return []ValidationError{{Field: field, Value: v, Message: "must be positive"}}
	}
	return nil
}

func duration(field, v string) []ValidationError {
	d, err := time.ParseDuration(v)
	if err != nil {
		return []ValidationError{{Field: field, Value: v, Message: "must be a valid duration (e.g. 30m, 1h)"}}
	}
	if d <= 0 {
		return []ValidationError{{Field: field, Value: v, Message: "must be positive"}}
	}
	return nil
}

// validateReview validates the ReviewConfig
func (c *Config) validateReview() []ValidationError {
	var errors []ValidationError
	errors = append(errors, positive("review.circuit_breaker_threshold", c.Review.CircuitBreakerThreshold)...)
	errors = append(errors, positive("review.review_threshold", c.Review.ReviewThreshold)...)
	errors = append(errors, positive("review.high_fan_in_threshold", c.Review.HighFanInThreshold)...)
	errors = append(errors, positive("review.rfc_deadline_hours", c.Review.RFCDeadlineHours)...)
	return errors
}

// validateBudget validates the BudgetConfig
func (c *Config) validateBudget() []ValidationError {
	var errors []ValidationError
	errors = append(errors, positive("budget.max_proposals", c.Budget.MaxProposals)...)
	errors = append(errors, duration("budget.max_duration", c.Budget.MaxDuration)...)
	errors = append(errors, positive("budget.max_consecutive_uncertain", c.Budget.MaxConsecutiveUncertain)...)
	return errors
}

// validateMerge validates the MergeConfig
func (c *Config) validateMerge() []ValidationError {
	var errors []ValidationError
	branch := c.Merge.BaseBranch
	if branch == "" {
		errors = append(errors, ValidationError{
			Field:   "merge.base_branch",
			Value:   branch,
			Message: "must not be empty",
		})
	} else if strings.ContainsAny(branch, " ~^:?*[\\") || strings.HasPrefix(branch, "-") {
		errors = append(errors, ValidationError{
			Field:   "merge.base_branch",
			Value:   branch,
			Message: "is not a valid branch name",
		})
	}
	return errors
}

// validateAdvisory validates the AdvisoryConfig
func (c *Config) validateAdvisory() []ValidationError {
	var errors []ValidationError
	if !c.Advisory.Enabled {
		return nil
	}
	if !slices.Contains(ValidProviders(), c.Advisory.Provider) {
		errors = append(errors, ValidationError{
			Field:   "advisory.provider",
			Value:   c.Advisory.Provider,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidProviders(), ", ")),
		})
	}
	if c.Advisory.Provider == "anthropic" && c.Advisory.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "advisory.model",
			Value:   c.Advisory.Model,
			Message: "must be set when provider is anthropic",
		})
	}
	errors = append(errors, positive("advisory.max_tokens", c.Advisory.MaxTokens)...)
	return errors
}

// validateVerifier validates the VerifierConfig
func (c *Config) validateVerifier() []ValidationError {
	var errors []ValidationError
	if strings.TrimSpace(c.Verifier.PythonExecutable) == "" {
		errors = append(errors, ValidationError{
			Field:   "verifier.python_executable",
			Value:   c.Verifier.PythonExecutable,
			Message: "must not be empty",
		})
	}
	if strings.TrimSpace(c.Verifier.JestCommand) == "" {
		errors = append(errors, ValidationError{
			Field:   "verifier.jest_command",
			Value:   c.Verifier.JestCommand,
			Message: "must not be empty",
		})
	}
	errors = append(errors, duration("verifier.timeout", c.Verifier.Timeout)...)
	return errors
}

// validateDigest validates the DigestConfig
func (c *Config) validateDigest() []ValidationError {
	var errors []ValidationError
	if _, err := CronParser.Parse(c.Digest.Schedule); err != nil {
		errors = append(errors, ValidationError{
			Field:   "digest.schedule",
			Value:   c.Digest.Schedule,
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}
	errors = append(errors, positive("digest.top_n", c.Digest.TopN)...)
	return errors
}

// validateQueue validates the QueueConfig
func (c *Config) validateQueue() []ValidationError {
	return positive("queue.queue_max", c.Queue.QueueMax)
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError
	path := c.Paths.StateDir

	if strings.ContainsRune(path, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "paths.state_dir",
			Value:   path,
			Message: "path contains invalid null character",
		})
	}

	const maxPathLength = 4096
	if len(path) > maxPathLength {
		errors = append(errors, ValidationError{
			Field:   "paths.state_dir",
			Value:   path,
			Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
		})
	}

	return errors
}
