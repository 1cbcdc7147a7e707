// Package llm wraps a raw LLM completion capability with the retry,
// back-pressure, and schema-normalization contract spec §4.1 assigns to
// every structured LLM worker call. Both layers exist because spec §1
// treats the underlying model as an opaque named capability
// (`LLMCompletion(prompt, schema, tools) -> (json, tokens, sources)`): the
// model is reached as an opaque HTTP completion endpoint, so Provider is a
// plain Go interface with an HTTP-based default implementation.
package llm

import (
	"context"
	"encoding/json"
)

// Request is one structured-output call.
type Request struct {
	SystemPrompt string
	UserPayload  string
	OutputSchema json.RawMessage
	WebSearch    bool
	Temperature  float64
	MaxRetries   int
}

// Result is the normalized, schema-conforming response plus usage metadata.
type Result struct {
	Object           map[string]interface{}
	PromptTokens     int64
	CompletionTokens int64
	SourcesCount     int
}

// Provider is the capability every forecasting worker depends on (spec
// §4.1 "Structured LLM Worker Wrapper"). Implementations must retry
// transient transport failures, retry schema violations with a corrective
// re-prompt, and normalize the final object before returning it.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}

// RawClient is the unstructured completion capability a Provider wraps: one
// call to the underlying model, no retry, no schema enforcement. This is
// the seam an HTTP client, a CLI subprocess, or a test double implements.
type RawClient interface {
	// Complete sends one request and returns the model's raw text output
	// alongside token usage and, if web search was requested, the number of
	// sources consulted.
	Complete(ctx context.Context, systemPrompt, userPayload string, schema json.RawMessage, webSearch bool, temperature float64) (text string, promptTokens, completionTokens int64, sourcesCount int, err error)
}
