package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero breaker threshold", func(c *Config) { c.Review.CircuitBreakerThreshold = 0 }, "review.circuit_breaker_threshold"},
		{"negative fan-in", func(c *Config) { c.Review.HighFanInThreshold = -1 }, "review.high_fan_in_threshold"},
		{"zero deadline", func(c *Config) { c.Review.RFCDeadlineHours = 0 }, "review.rfc_deadline_hours"},
		{"bad max duration", func(c *Config) { c.Budget.MaxDuration = "forever" }, "budget.max_duration"},
		{"negative max duration", func(c *Config) { c.Budget.MaxDuration = "-5m" }, "budget.max_duration"},
		{"zero max proposals", func(c *Config) { c.Budget.MaxProposals = 0 }, "budget.max_proposals"},
		{"empty base branch", func(c *Config) { c.Merge.BaseBranch = "" }, "merge.base_branch"},
		{"invalid base branch", func(c *Config) { c.Merge.BaseBranch = "feature branch" }, "merge.base_branch"},
		{"unknown provider", func(c *Config) { c.Advisory.Provider = "oracle" }, "advisory.provider"},
		{"anthropic without model", func(c *Config) { c.Advisory.Model = "" }, "advisory.model"},
		{"empty python", func(c *Config) { c.Verifier.PythonExecutable = " " }, "verifier.python_executable"},
		{"bad verifier timeout", func(c *Config) { c.Verifier.Timeout = "soon" }, "verifier.timeout"},
		{"bad cron", func(c *Config) { c.Digest.Schedule = "every morning" }, "digest.schedule"},
		{"six-field cron", func(c *Config) { c.Digest.Schedule = "0 0 9 * * *" }, "digest.schedule"},
		{"zero queue max", func(c *Config) { c.Queue.QueueMax = 0 }, "queue.queue_max"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"huge log size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
		{"null in state dir", func(c *Config) { c.Paths.StateDir = "a\x00b" }, "paths.state_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidateAdvisoryDisabled(t *testing.T) {
	cfg := Default()
	cfg.Advisory.Enabled = false
	cfg.Advisory.Provider = "whatever"
	cfg.Advisory.MaxTokens = 0
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("disabled advisory should not be validated, got %v", errs)
	}
}

func TestValidationErrorsFormatting(t *testing.T) {
	var empty ValidationErrors
	if empty.Error() != "" {
		t.Error("empty ValidationErrors should format as empty string")
	}

	single := ValidationErrors{{Field: "queue.queue_max", Value: 0, Message: "must be positive"}}
	if single.Error() != "queue.queue_max: must be positive (got: 0)" {
		t.Errorf("single = %q", single.Error())
	}

	multi := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	msg := multi.Error()
	if !strings.HasPrefix(msg, "2 validation errors:") || !strings.Contains(msg, "2. b: worse") {
		t.Errorf("multi = %q", msg)
	}
}
