package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type forecastSchema struct {
	PredictionProbability float64 `json:"prediction_probability" jsonschema:"required"`
	Confidence            float64 `json:"confidence" jsonschema:"required"`
	Reasoning             string  `json:"reasoning" jsonschema:"required"`
}

type fakeRawClient struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	text string
	err  error
}

func (f *fakeRawClient) Complete(ctx context.Context, systemPrompt, userPayload string, schema json.RawMessage, webSearch bool, temperature float64) (string, int64, int64, int, error) {
	r := f.responses[f.calls]
	f.calls++
	if r.err != nil {
		return "", 0, 0, 0, r.err
	}
	return r.text, 10, 20, 0, nil
}

func mustSchema(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := SchemaFor(&forecastSchema{})
	require.NoError(t, err)
	return raw
}

func TestStructuredClient_SucceedsFirstTry(t *testing.T) {
	fake := &fakeRawClient{responses: []fakeResponse{
		{text: `{"prediction_probability": 0.7, "confidence": 0.9, "reasoning": "because"}`},
	}}
	client := NewStructuredClient(fake)

	result, err := client.Complete(context.Background(), Request{
		SystemPrompt: "you are a forecaster",
		UserPayload:  "will it rain",
		OutputSchema: mustSchema(t),
		MaxRetries:   2,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, 0.7, result.Object["prediction_probability"])
	assert.Equal(t, int64(10), result.PromptTokens)
	assert.Equal(t, int64(20), result.CompletionTokens)
}

func TestStructuredClient_RetriesSchemaViolation(t *testing.T) {
	fake := &fakeRawClient{responses: []fakeResponse{
		{text: `{"prediction_probability": 0.7}`}, // missing confidence/reasoning
		{text: `{"prediction_probability": 0.7, "confidence": 0.9, "reasoning": "because"}`},
	}}
	client := NewStructuredClient(fake)

	result, err := client.Complete(context.Background(), Request{
		SystemPrompt: "you are a forecaster",
		UserPayload:  "will it rain",
		OutputSchema: mustSchema(t),
		MaxRetries:   2,
	})

	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)
	assert.Equal(t, "because", result.Object["reasoning"])
	assert.Equal(t, int64(20), result.PromptTokens) // aggregated across both attempts
}

func TestStructuredClient_SchemaViolationExhaustsRetries(t *testing.T) {
	fake := &fakeRawClient{responses: []fakeResponse{
		{text: `not json`},
		{text: `not json`},
		{text: `not json`},
	}}
	client := NewStructuredClient(fake)

	_, err := client.Complete(context.Background(), Request{
		SystemPrompt: "you are a forecaster",
		UserPayload:  "will it rain",
		OutputSchema: mustSchema(t),
		MaxRetries:   2,
	})

	require.Error(t, err)
	var schemaErr *SchemaViolationError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, 3, fake.calls)
}

func TestStructuredClient_ClampsProbabilityOutOfRange(t *testing.T) {
	fake := &fakeRawClient{responses: []fakeResponse{
		{text: `{"prediction_probability": 1.4, "confidence": -0.2, "reasoning": "because"}`},
	}}
	client := NewStructuredClient(fake)

	result, err := client.Complete(context.Background(), Request{
		SystemPrompt: "you are a forecaster",
		UserPayload:  "will it rain",
		OutputSchema: mustSchema(t),
	})

	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Object["prediction_probability"])
	assert.Equal(t, 0.0, result.Object["confidence"])
}

func TestStructuredClient_CoercesNumericStrings(t *testing.T) {
	fake := &fakeRawClient{responses: []fakeResponse{
		{text: `{"prediction_probability": "0.5", "confidence": 0.9, "reasoning": "because"}`},
	}}
	client := NewStructuredClient(fake)

	result, err := client.Complete(context.Background(), Request{
		SystemPrompt: "you are a forecaster",
		UserPayload:  "will it rain",
		OutputSchema: mustSchema(t),
	})

	require.NoError(t, err)
	assert.Equal(t, 0.5, result.Object["prediction_probability"])
}

func TestStructuredClient_TransportErrorIsNotRetriedAsSchemaViolation(t *testing.T) {
	fake := &fakeRawClient{responses: []fakeResponse{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
	}}
	client := NewStructuredClient(fake)

	_, err := client.Complete(context.Background(), Request{
		SystemPrompt: "you are a forecaster",
		UserPayload:  "will it rain",
		OutputSchema: mustSchema(t),
		MaxRetries:   1,
	})

	require.Error(t, err)
	var transportErr *TransportError
	assert.True(t, errors.As(err, &transportErr))
}
