package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// DefaultBaseURL is the OpenAI-compatible chat completions endpoint used
// when no override is configured.
const DefaultBaseURL = "https://api.openai.com/v1"

// HTTPRawClient is the default RawClient: one chat-completions call per
// request, against any OpenAI-compatible endpoint.
type HTTPRawClient struct {
	baseURL     string
	model       string
	apiKey      string
	httpClient  *http.Client
	webSearchOn bool
}

// HTTPClientOption configures an HTTPRawClient.
type HTTPClientOption func(*HTTPRawClient)

// WithBaseURL overrides DefaultBaseURL (e.g. to point at a local proxy).
func WithBaseURL(url string) HTTPClientOption {
	return func(c *HTTPRawClient) { c.baseURL = url }
}

// WithModel sets the model identifier sent in every request.
func WithModel(model string) HTTPClientOption {
	return func(c *HTTPRawClient) { c.model = model }
}

// WithHTTPClient overrides the transport, e.g. in tests.
func WithHTTPClient(hc *http.Client) HTTPClientOption {
	return func(c *HTTPRawClient) { c.httpClient = hc }
}

// NewHTTPRawClient reads LLM_API_KEY from the environment; an unset key is
// fatal to startup (spec §4.1 ambient requirement), so this constructor
// returns an error rather than silently operating unauthenticated.
func NewHTTPRawClient(opts ...HTTPClientOption) (*HTTPRawClient, error) {
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("llm: LLM_API_KEY is not set")
	}
	c := &HTTPRawClient{
		baseURL:    DefaultBaseURL,
		model:      "gpt-4o-mini",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete implements RawClient by issuing one chat-completions POST. It
// requests JSON-object output via response_format and embeds the schema in
// the system prompt since structured-output support varies by provider.
func (c *HTTPRawClient) Complete(ctx context.Context, systemPrompt, userPayload string, schema json.RawMessage, webSearch bool, temperature float64) (string, int64, int64, int, error) {
	sys := systemPrompt + "\n\nRespond with a single JSON object matching this schema:\n" + string(schema)

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: sys},
			{Role: "user", Content: userPayload},
		},
		Temperature:    temperature,
		ResponseFormat: map[string]any{"type": "json_object"},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, 0, 0, fmt.Errorf("llm: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", 0, 0, 0, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", 0, 0, 0, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", 0, 0, 0, fmt.Errorf("llm: provider returned %d: %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", 0, 0, 0, fmt.Errorf("llm: non-retryable provider error %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", 0, 0, 0, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", 0, 0, 0, fmt.Errorf("llm: no choices in response")
	}

	sources := 0
	if webSearch {
		sources = countSources(decoded.Choices[0].Message.Content)
	}

	return decoded.Choices[0].Message.Content, decoded.Usage.PromptTokens, decoded.Usage.CompletionTokens, sources, nil
}

// countSources is a placeholder heuristic until a provider-specific
// citation format is wired in; web-search responses typically list sources
// as a JSON array under a "sources" key inside the object itself, which the
// structured decode step picks up independently of this count.
func countSources(content string) int {
	var probe struct {
		Sources []any `json:"sources"`
	}
	if err := json.Unmarshal([]byte(content), &probe); err != nil {
		return 0
	}
	return len(probe.Sources)
}
