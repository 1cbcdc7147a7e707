package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries  = 3
	defaultBaseBackoff = 500 * time.Millisecond
)

// StructuredClient implements Provider by wrapping a RawClient with the
// retry/backoff, re-prompt, and normalization algorithm of spec §4.1.
type StructuredClient struct {
	raw     RawClient
	limiter *rate.Limiter
}

// StructuredClientOption configures a StructuredClient.
type StructuredClientOption func(*StructuredClient)

// WithRateLimit bounds outbound requests to rps with the given burst,
// grounded on the Gamma/CLOB client throttling pattern used against the
// Polymarket REST APIs.
func WithRateLimit(rps float64, burst int) StructuredClientOption {
	return func(c *StructuredClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewStructuredClient wraps raw with retry, back-pressure, and
// normalization. Concurrency ceiling (spec §5 "configurable ceiling,
// default = phase's worker count") is enforced by the caller via
// WithRateLimit or an external semaphore; StructuredClient itself only
// waits on the rate limiter, if set, and does not cap concurrent calls.
func NewStructuredClient(raw RawClient, opts ...StructuredClientOption) *StructuredClient {
	c := &StructuredClient{raw: raw}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete runs spec §4.1's five-step algorithm: send, retry transport
// errors with exponential backoff and jitter, retry schema violations with
// a corrective re-prompt, aggregate token counts across every attempt, then
// normalize the final object.
func (c *StructuredClient) Complete(ctx context.Context, req Request) (*Result, error) {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	doc, err := parseSchemaDoc(req.OutputSchema)
	if err != nil {
		return nil, err
	}

	systemPrompt := req.SystemPrompt
	result := &Result{}
	var lastSchemaErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.waitForSlot(ctx); err != nil {
			return nil, &TimeoutError{Err: err}
		}

		text, promptTokens, completionTokens, sources, rawErr := c.sendWithBackoff(ctx, systemPrompt, req.UserPayload, req.OutputSchema, req.WebSearch, req.Temperature, maxRetries-attempt)
		result.PromptTokens += promptTokens
		result.CompletionTokens += completionTokens
		result.SourcesCount += sources
		if rawErr != nil {
			return nil, rawErr
		}

		obj, parseErr := decodeObject(text)
		if parseErr == nil {
			if missing := doc.checkRequired(obj); missing == "" {
				if err := normalize(obj); err != nil {
					lastSchemaErr = err
				} else {
					result.Object = obj
					return result, nil
				}
			} else {
				lastSchemaErr = fmt.Errorf("missing required field %q", missing)
			}
		} else {
			lastSchemaErr = parseErr
		}

		slog.Warn("llm: schema violation, re-prompting", "attempt", attempt, "error", lastSchemaErr)
		systemPrompt = req.SystemPrompt + "\n\nYour previous response failed validation: " + lastSchemaErr.Error() + ". Respond again with a JSON object that satisfies the schema exactly."
	}

	return nil, &SchemaViolationError{Attempts: maxRetries + 1, LastErr: lastSchemaErr}
}

func (c *StructuredClient) waitForSlot(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// sendWithBackoff retries transport errors only; schema violations are
// handled by the caller's re-prompt loop, not here.
func (c *StructuredClient) sendWithBackoff(ctx context.Context, systemPrompt, userPayload string, schema json.RawMessage, webSearch bool, temperature float64, remainingRetries int) (text string, promptTokens, completionTokens int64, sources int, err error) {
	if remainingRetries < 0 {
		remainingRetries = 0
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(newExponentialBackoff(), uint64(remainingRetries)), ctx)

	op := func() error {
		t, pt, ct, src, cErr := c.raw.Complete(ctx, systemPrompt, userPayload, schema, webSearch, temperature)
		if cErr != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(&TimeoutError{Err: ctx.Err()})
			}
			return &TransportError{Err: cErr}
		}
		text, promptTokens, completionTokens, sources = t, pt, ct, src
		return nil
	}

	if retryErr := backoff.Retry(op, bo); retryErr != nil {
		err = retryErr
	}
	return
}

func newExponentialBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = defaultBaseBackoff
	eb.Multiplier = 2.0
	eb.RandomizationFactor = 0.5
	eb.MaxElapsedTime = 0
	return eb
}

func decodeObject(text string) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("output is not a JSON object: %w", err)
	}
	return obj, nil
}
