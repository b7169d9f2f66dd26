package advisory

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/schema"
	"github.com/Iron-Ham/arbiter/internal/telemetry"
)

const tracerName = "github.com/Iron-Ham/arbiter/advisory"

// Client sends prompts to the first model a Provider offers and turns the
// streamed answer into text, JSON, or a YES/NO verdict. Every failure is an
// *errors.AdvisoryError.
type Client struct {
	provider Provider
	logger   *logging.Logger
}

// NewClient creates a Client over provider. A nil provider has no models.
func NewClient(provider Provider, logger *logging.Logger) *Client {
	if provider == nil {
		provider = None()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Client{provider: provider, logger: logger}
}

// Available reports whether at least one model is offered.
func (c *Client) Available(ctx context.Context) bool {
	return c != nil && len(c.provider.SelectModels(ctx)) > 0
}

// Complete sends prompt and returns the full response text.
func (c *Client) Complete(ctx context.Context, operation, prompt string) (text string, err error) {
	models := c.provider.SelectModels(ctx)
	if len(models) == 0 {
		return "", errors.NewAdvisoryError(operation, "", errors.ErrNoModel)
	}
	model := models[0]

	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "advisory."+operation)
	span.SetAttributes(
		attribute.String("arbiter.advisory.model", model.Name()),
		attribute.String("arbiter.advisory.operation", operation),
	)
	start := time.Now()
	defer func() {
		m := telemetry.Instruments()
		result := "ok"
		if err != nil {
			result = "error"
		}
		attrs := telemetry.Attrs(
			attribute.String("operation", operation),
			attribute.String("result", result),
		)
		m.AdvisoryCalls.Add(ctx, 1, attrs)
		m.AdvisoryLatency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
		telemetry.EndSpan(span, err)
	}()

	chunks, err := model.Send(ctx, prompt)
	if err != nil {
		return "", errors.NewAdvisoryError(operation, model.Name(), err)
	}

	var sb strings.Builder
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				text = sb.String()
				if strings.TrimSpace(text) == "" {
					return "", errors.NewAdvisoryError(operation, model.Name(),
						errors.Wrap(errors.ErrMalformedResponse, "empty response"))
				}
				c.logger.Debug("advisory response", "operation", operation, "model", model.Name(), "chars", len(text))
				return text, nil
			}
			if chunk.Err != nil {
				c.logger.Warn("advisory response failed mid-stream", "operation", operation,
					"model", model.Name(), "discarded_chars", sb.Len(), "error", chunk.Err)
				return "", errors.NewAdvisoryError(operation, model.Name(), chunk.Err)
			}
			sb.WriteString(chunk.Text)
		case <-ctx.Done():
			return "", errors.NewAdvisoryError(operation, model.Name(), ctx.Err())
		}
	}
}

// AskYesNo sends a strict YES/NO question.
func (c *Client) AskYesNo(ctx context.Context, operation, prompt string) (bool, error) {
	text, err := c.Complete(ctx, operation, prompt)
	if err != nil {
		return false, err
	}
	yes, ok := ParseYesNo(text)
	if !ok {
		return false, errors.NewAdvisoryError(operation, "",
			errors.Wrapf(errors.ErrMalformedResponse, "expected YES or NO, got %q", truncate(text, 80)))
	}
	return yes, nil
}

// DecodeJSON extracts JSON from text, validates it against sch when sch is
// non-nil, and decodes it into out. Validation failures are returned as
// *errors.ValidationError so callers can feed the problems back to the model.
func DecodeJSON(text string, sch *schema.Schema, out any) error {
	raw := ExtractJSON(text)
	if raw == "" {
		return errors.Wrap(errors.ErrMalformedResponse, "response does not contain valid JSON")
	}
	if sch != nil {
		if err := sch.Validate([]byte(raw)); err != nil {
			return err
		}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return errors.Join(errors.ErrMalformedResponse, err)
	}
	return nil
}

// CompleteJSON sends prompt and decodes the answer with DecodeJSON.
func (c *Client) CompleteJSON(ctx context.Context, operation, prompt string, sch *schema.Schema, out any) error {
	text, err := c.Complete(ctx, operation, prompt)
	if err != nil {
		return err
	}
	if err := DecodeJSON(text, sch, out); err != nil {
		return errors.NewAdvisoryError(operation, "", err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
