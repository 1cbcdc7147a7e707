package forecast

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/sibylline/forecastmarket/pkg/llm"
	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/resources"
	"github.com/sibylline/forecastmarket/pkg/store"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	mu    sync.Mutex
	calls int
	fn    func(req llm.Request, call int) (*llm.Result, error)
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.Request) (*llm.Result, error) {
	p.mu.Lock()
	call := p.calls
	p.calls++
	p.mu.Unlock()
	return p.fn(req, call)
}

func objResult(t *testing.T, obj map[string]interface{}) *llm.Result {
	t.Helper()
	return &llm.Result{Object: obj, PromptTokens: 10, CompletionTokens: 15}
}

func newTestSession(t *testing.T, st store.Store, question string) string {
	t.Helper()
	s := &models.Session{QuestionText: question, QuestionType: models.QuestionTypeBinary}
	require.NoError(t, st.CreateSession(context.Background(), s))
	return s.ID
}

// TestOrchestrator_SynthesisConvergence mirrors the spec's Scenario A: one
// fixed discovery factor, one synthesis response, session completes.
func TestOrchestrator_SynthesisConvergence(t *testing.T) {
	st := store.NewMemoryStore()
	provider := &scriptedProvider{fn: func(req llm.Request, call int) (*llm.Result, error) {
		switch {
		case strings.Contains(req.SystemPrompt, "propose up to 5"):
			return objResult(t, map[string]interface{}{
				"factors": []map[string]interface{}{
					{"name": "Macroeconomic trend", "description": "desc", "category": "economic"},
				},
			}), nil
		case strings.Contains(req.SystemPrompt, "Merge semantic near-duplicates"):
			return objResult(t, map[string]interface{}{
				"factors": []map[string]interface{}{
					{"name": "Macroeconomic trend", "description": "desc", "category": "economic"},
				},
			}), nil
		case strings.Contains(req.SystemPrompt, "Score each"):
			return objResult(t, map[string]interface{}{
				"ratings": []map[string]interface{}{
					{"name": "Macroeconomic trend", "score": 8.0},
				},
			}), nil
		case strings.Contains(req.SystemPrompt, "Analyze the base rate"),
			strings.Contains(req.SystemPrompt, "Search for recent evidence"):
			return objResult(t, map[string]interface{}{"summary": "historical precedent supports this"}), nil
		case strings.Contains(req.SystemPrompt, "balanced forecaster"):
			return objResult(t, map[string]interface{}{
				"prediction_probability": 0.62,
				"confidence":             0.7,
				"reasoning":              "because of the trend",
				"key_factors":            []string{"Macroeconomic trend"},
			}), nil
		default:
			t.Fatalf("unexpected system prompt: %s", req.SystemPrompt)
			return nil, nil
		}
	}}

	res := resources.Resources{Store: st, LLM: provider}
	orch := NewOrchestrator(res, DefaultConfig())

	sessionID := newTestSession(t, st, "Will X happen by 2025?")
	err := orch.RunSession(context.Background(), RunParams{
		SessionID:         sessionID,
		QuestionText:      "Will X happen by 2025?",
		Counts:            AgentCounts{Discovery: 2, Validation: 2, Historical: 2, Current: 2, Synthesis: 1},
		ForecasterClasses: []models.ForecasterClass{models.ForecasterBalanced},
	})
	require.NoError(t, err)

	sess, err := st.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCompleted, sess.Status)

	responses, err := st.ListForecasterResponses(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].PredictionProbability)
	require.Equal(t, 0.62, *responses[0].PredictionProbability)
	require.Equal(t, 0.7, *responses[0].Confidence)

	logs, err := st.ListAgentLogs(context.Background(), sessionID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(logs), 5)
	for _, l := range logs {
		require.Equal(t, models.WorkerStatusCompleted, l.Status)
	}
}

// TestOrchestrator_PhaseQuorum mirrors Scenario F: 9 of 10 discovery workers
// time out, the single survivor still carries the session to completion.
func TestOrchestrator_PhaseQuorum(t *testing.T) {
	st := store.NewMemoryStore()
	var discoveryCalls int
	var mu sync.Mutex
	provider := &scriptedProvider{fn: func(req llm.Request, call int) (*llm.Result, error) {
		switch {
		case strings.Contains(req.SystemPrompt, "propose up to 5"):
			mu.Lock()
			discoveryCalls++
			n := discoveryCalls
			mu.Unlock()
			if n <= 9 {
				return nil, &llm.TimeoutError{Err: context.DeadlineExceeded}
			}
			return objResult(t, map[string]interface{}{
				"factors": []map[string]interface{}{
					{"name": "Sole surviving factor", "description": "desc", "category": "economic"},
				},
			}), nil
		case strings.Contains(req.SystemPrompt, "Merge semantic near-duplicates"),
			strings.Contains(req.SystemPrompt, "Score each"),
			strings.Contains(req.SystemPrompt, "Analyze the base rate"),
			strings.Contains(req.SystemPrompt, "Search for recent evidence"):
			return scriptPassThrough(t, req)
		case strings.Contains(req.SystemPrompt, "forecaster"):
			return objResult(t, map[string]interface{}{
				"prediction_probability": 0.5,
				"confidence":             0.5,
				"reasoning":              "r",
				"key_factors":            []string{"Sole surviving factor"},
			}), nil
		default:
			t.Fatalf("unexpected system prompt: %s", req.SystemPrompt)
			return nil, nil
		}
	}}

	res := resources.Resources{Store: st, LLM: provider}
	orch := NewOrchestrator(res, DefaultConfig())

	sessionID := newTestSession(t, st, "Will Y happen?")
	err := orch.RunSession(context.Background(), RunParams{
		SessionID:         sessionID,
		QuestionText:      "Will Y happen?",
		Counts:            AgentCounts{Discovery: 10, Validation: 2, Historical: 1, Current: 1, Synthesis: 1},
		ForecasterClasses: []models.ForecasterClass{models.ForecasterBalanced},
	})
	require.NoError(t, err)

	sess, err := st.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCompleted, sess.Status)
}

func scriptPassThrough(t *testing.T, req llm.Request) (*llm.Result, error) {
	t.Helper()
	switch {
	case strings.Contains(req.SystemPrompt, "Merge semantic near-duplicates"):
		return objResult(t, map[string]interface{}{
			"factors": []map[string]interface{}{
				{"name": "Sole surviving factor", "description": "desc", "category": "economic"},
			},
		}), nil
	case strings.Contains(req.SystemPrompt, "Score each"):
		return objResult(t, map[string]interface{}{
			"ratings": []map[string]interface{}{
				{"name": "Sole surviving factor", "score": 7.0},
			},
		}), nil
	default:
		return objResult(t, map[string]interface{}{"summary": "summary text"}), nil
	}
}

func TestAgentNames(t *testing.T) {
	names := agentNames("discovery", 3)
	require.Equal(t, []string{"discovery-1", "discovery-2", "discovery-3"}, names)
}

func TestRemarshal(t *testing.T) {
	var out discoveryOutput
	raw, err := json.Marshal(map[string]interface{}{"factors": []map[string]interface{}{{"name": "a", "description": "b", "category": "c"}}})
	require.NoError(t, err)
	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &obj))
	require.NoError(t, remarshal(obj, &out))
	require.Len(t, out.Factors, 1)
	require.Equal(t, "a", out.Factors[0].Name)
}
