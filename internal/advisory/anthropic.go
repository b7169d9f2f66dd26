package advisory

import (
	"context"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/logging"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 1 * time.Second
)

// eventStream is the subset of the SDK's SSE stream the model consumes.
type eventStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

// AnthropicModel streams completions from the Anthropic Messages API.
type AnthropicModel struct {
	client         anthropic.Client
	clientOpts     []option.RequestOption
	model          anthropic.Model
	maxTokens      int64
	maxRetries     uint64
	initialBackoff time.Duration
	logger         *logging.Logger
}

// ModelOption configures an AnthropicModel.
type ModelOption func(*AnthropicModel)

// WithModelLogger sets the logger.
func WithModelLogger(l *logging.Logger) ModelOption {
	return func(m *AnthropicModel) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRetry sets how many times opening the stream is retried and the first
// backoff interval.
func WithRetry(maxRetries uint64, initial time.Duration) ModelOption {
	return func(m *AnthropicModel) {
		m.maxRetries = maxRetries
		m.initialBackoff = initial
	}
}

// WithClientOptions passes extra options to the SDK client, e.g. a base URL.
func WithClientOptions(opts ...option.RequestOption) ModelOption {
	return func(m *AnthropicModel) {
		m.clientOpts = append(m.clientOpts, opts...)
	}
}

// NewAnthropicModel creates a model bound to apiKey.
func NewAnthropicModel(apiKey, model string, maxTokens int, opts ...ModelOption) *AnthropicModel {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	m := &AnthropicModel{
		clientOpts:     []option.RequestOption{option.WithAPIKey(apiKey)},
		model:          anthropic.Model(model),
		maxTokens:      int64(maxTokens),
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		logger:         logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.client = anthropic.NewClient(m.clientOpts...)
	return m
}

// Name returns the model id.
func (m *AnthropicModel) Name() string { return string(m.model) }

// Send opens a streaming request and forwards text deltas. Opening the
// stream, up to and including the first event, is retried with exponential
// backoff on rate limits, server errors and network timeouts.
func (m *AnthropicModel) Send(ctx context.Context, prompt string) (<-chan Chunk, error) {
	params := anthropic.MessageNewParams{
		Model:     m.model,
		MaxTokens: m.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var stream eventStream
	open := func() error {
		s := m.client.Messages.NewStreaming(ctx, params)
		if s.Next() {
			stream = s
			return nil
		}
		err := s.Err()
		_ = s.Close()
		if err == nil {
			return backoff.Permanent(errors.Wrap(errors.ErrMalformedResponse, "stream ended before first event"))
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		m.logger.Warn("anthropic request failed, retrying", "model", m.model, "error", err)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, m.maxRetries), ctx)
	if err := backoff.Retry(open, policy); err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer func() { _ = stream.Close() }()

		for {
			if text, ok := textDelta(stream.Current()); ok {
				select {
				case out <- Chunk{Text: text}:
				case <-ctx.Done():
					return
				}
			}
			if !stream.Next() {
				break
			}
		}
		if err := stream.Err(); err != nil {
			m.logger.Error("anthropic stream failed", "model", m.model, "error", err)
			select {
			case out <- Chunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func textDelta(ev anthropic.MessageStreamEventUnion) (string, bool) {
	delta, ok := ev.AsAny().(anthropic.ContentBlockDeltaEvent)
	if !ok {
		return "", false
	}
	text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
	if !ok {
		return "", false
	}
	return text.Text, true
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
