// Package advisory wraps the language model arbiter consults for judgement
// calls: classification verification, pairwise assumption conflicts, RFC
// drafting and decision rationales.
//
// The model is an injected capability. A Provider may return zero models,
// which is the normal "advisory unavailable" state; every caller except RFC
// generation degrades to a deterministic fallback when that happens.
package advisory

import (
	"context"
	"os"
	"strings"

	"github.com/Iron-Ham/arbiter/internal/config"
	"github.com/Iron-Ham/arbiter/internal/logging"
)

// Chunk is one piece of a streamed response. A chunk carrying Err is the
// last one on the channel: the response failed and text received before it
// must be discarded.
type Chunk struct {
	Text string
	Err  error
}

// Model is one advisory language model.
type Model interface {
	// Name identifies the model in logs and errors.
	Name() string
	// Send submits prompt and streams the response in chunks. The channel is
	// closed when the response ends, fails, or ctx is cancelled.
	Send(ctx context.Context, prompt string) (<-chan Chunk, error)
}

// Provider selects the models available for a request.
type Provider interface {
	SelectModels(ctx context.Context) []Model
}

// StaticProvider always offers the same models, in order.
type StaticProvider []Model

// SelectModels returns the models.
func (p StaticProvider) SelectModels(context.Context) []Model { return p }

// None returns a provider with no models.
func None() Provider { return StaticProvider(nil) }

// NewFromConfig builds a Provider from configuration. A disabled advisory
// section, the "none" provider, or a missing API key all produce a provider
// with no models; the missing key is logged.
func NewFromConfig(cfg config.AdvisoryConfig, logger *logging.Logger) Provider {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if !cfg.Enabled {
		return None()
	}

	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			logger.Warn("advisory model unavailable: api key not set", "env", cfg.APIKeyEnv)
			return None()
		}
		return StaticProvider{NewAnthropicModel(key, cfg.Model, cfg.MaxTokens, WithModelLogger(logger))}
	default:
		return None()
	}
}
