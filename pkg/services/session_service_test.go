package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sibylline/forecastmarket/pkg/forecast"
	"github.com/sibylline/forecastmarket/pkg/llm"
	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/resources"
	"github.com/sibylline/forecastmarket/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider is a minimal llm.Provider stub, mirroring the one
// pkg/forecast/orchestrator_test.go uses for the same purpose.
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

// balancedForecasterProvider answers every phase of a single-forecaster run
// with fixed minimal content, enough to drive RunSession to completion.
func balancedForecasterProvider(t *testing.T) *scriptedProvider {
	return &scriptedProvider{fn: func(req llm.Request, call int) (*llm.Result, error) {
		switch {
		case strings.Contains(req.SystemPrompt, "propose up to 5"),
			strings.Contains(req.SystemPrompt, "Merge semantic near-duplicates"):
			return objResult(t, map[string]interface{}{
				"factors": []map[string]interface{}{
					{"name": "A factor", "description": "desc", "category": "economic"},
				},
			}), nil
		case strings.Contains(req.SystemPrompt, "Score each"):
			return objResult(t, map[string]interface{}{
				"ratings": []map[string]interface{}{
					{"name": "A factor", "score": 7.0},
				},
			}), nil
		case strings.Contains(req.SystemPrompt, "Analyze the base rate"),
			strings.Contains(req.SystemPrompt, "Search for recent evidence"):
			return objResult(t, map[string]interface{}{"summary": "evidence summary"}), nil
		case strings.Contains(req.SystemPrompt, "forecaster"):
			return objResult(t, map[string]interface{}{
				"prediction_probability": 0.55,
				"confidence":             0.6,
				"reasoning":              "reasoning",
				"key_factors":            []string{"A factor"},
			}), nil
		default:
			t.Fatalf("unexpected system prompt: %s", req.SystemPrompt)
			return nil, nil
		}
	}}
}

func newTestSessionService(t *testing.T, provider llm.Provider) (*SessionService, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	res := resources.Resources{Store: st, LLM: provider}
	svc := NewSessionService(
		res,
		nil,
		nil,
		NewIdempotencyGuard(nil),
		forecast.DefaultConfig(),
		forecast.AgentCounts{Discovery: 1, Validation: 1, Historical: 1, Current: 1, Synthesis: 1},
		models.ForecasterBalanced,
		30*time.Second,
	)
	return svc, st
}

func waitForTerminal(t *testing.T, st store.Store, sessionID string) *models.Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := st.GetSession(context.Background(), sessionID)
		require.NoError(t, err)
		if sess.IsTerminal() {
			return sess
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session did not reach a terminal status in time")
	return nil
}

func TestCreateForecast_Validation(t *testing.T) {
	svc, _ := newTestSessionService(t, balancedForecasterProvider(t))

	_, err := svc.CreateForecast(context.Background(), CreateForecastRequest{
		QuestionType: models.QuestionTypeBinary,
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	_, err = svc.CreateForecast(context.Background(), CreateForecastRequest{
		QuestionText: "Will X happen?",
		QuestionType: "not-a-real-type",
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestCreateForecast_RunsToCompletion(t *testing.T) {
	svc, st := newTestSessionService(t, balancedForecasterProvider(t))

	sess, err := svc.CreateForecast(context.Background(), CreateForecastRequest{
		QuestionText: "Will X happen by 2026?",
		QuestionType: models.QuestionTypeBinary,
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	final := waitForTerminal(t, st, sess.ID)
	assert.Equal(t, models.SessionStatusCompleted, final.Status)

	detail, err := svc.GetForecast(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, detail.Session.ID)
	require.Len(t, detail.ForecasterResponses, 1)
	require.NotNil(t, detail.ForecasterResponses[0].PredictionProbability)
	assert.Equal(t, 0.55, *detail.ForecasterResponses[0].PredictionProbability)
	assert.NotEmpty(t, detail.Factors)
	assert.NotEmpty(t, detail.AgentLogs)
}

func TestCreateForecast_StartTradingLaunchesSchedulerAfterCompletion(t *testing.T) {
	svc, st := newTestSessionService(t, balancedForecasterProvider(t))

	sess, err := svc.CreateForecast(context.Background(), CreateForecastRequest{
		QuestionText:    "Will trading auto-start?",
		QuestionType:    models.QuestionTypeBinary,
		StartTrading:    true,
		TradingInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	waitForTerminal(t, st, sess.ID)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, err := svc.TradingStatus(sess.ID); err == nil && status.Running {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	status, err := svc.TradingStatus(sess.ID)
	require.NoError(t, err, "the forecast completing should have auto-started the scheduler")
	assert.True(t, status.Running)

	require.NoError(t, svc.StopTrading(sess.ID))
}

func TestCreateForecast_WithoutStartTradingNeverLaunchesScheduler(t *testing.T) {
	svc, st := newTestSessionService(t, balancedForecasterProvider(t))

	sess, err := svc.CreateForecast(context.Background(), CreateForecastRequest{
		QuestionText: "Will trading stay off?",
		QuestionType: models.QuestionTypeBinary,
	})
	require.NoError(t, err)

	waitForTerminal(t, st, sess.ID)
	time.Sleep(20 * time.Millisecond)

	_, err = svc.TradingStatus(sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateForecast_DedupesByQuestionText(t *testing.T) {
	svc, st := newTestSessionService(t, balancedForecasterProvider(t))

	first, err := svc.CreateForecast(context.Background(), CreateForecastRequest{
		QuestionText: "Will the dedup window hold?",
		QuestionType: models.QuestionTypeBinary,
	})
	require.NoError(t, err)
	waitForTerminal(t, st, first.ID)

	second, err := svc.CreateForecast(context.Background(), CreateForecastRequest{
		QuestionText: "will the dedup window hold?  ",
		QuestionType: models.QuestionTypeBinary,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetForecast_NotFound(t *testing.T) {
	svc, _ := newTestSessionService(t, balancedForecasterProvider(t))
	_, err := svc.GetForecast(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListForecasts_Pagination(t *testing.T) {
	svc, st := newTestSessionService(t, balancedForecasterProvider(t))

	for i := 0; i < 3; i++ {
		s := &models.Session{QuestionText: "q", QuestionType: models.QuestionTypeBinary}
		require.NoError(t, st.CreateSession(context.Background(), s))
	}

	page, total, err := svc.ListForecasts(context.Background(), ForecastListFilter{Limit: 2, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)

	page, total, err = svc.ListForecasts(context.Background(), ForecastListFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 1)
}

func TestTradingLifecycle(t *testing.T) {
	svc, st := newTestSessionService(t, balancedForecasterProvider(t))

	sess := &models.Session{QuestionText: "Will trading start?", QuestionType: models.QuestionTypeBinary}
	require.NoError(t, st.CreateSession(context.Background(), sess))

	_, err := svc.TradingStatus(sess.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.StartTrading(context.Background(), sess.ID, 10*time.Millisecond))
	// Starting again for the same session is a no-op, not a second scheduler.
	require.NoError(t, svc.StartTrading(context.Background(), sess.ID, 10*time.Millisecond))

	status, err := svc.TradingStatus(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.activeSchedulerCount())
	_ = status

	require.NoError(t, svc.StopTrading(sess.ID))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && svc.activeSchedulerCount() > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, svc.activeSchedulerCount())

	_, err = svc.TradingStatus(sess.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteTrading_MarksInactive(t *testing.T) {
	svc, st := newTestSessionService(t, balancedForecasterProvider(t))

	sess := &models.Session{QuestionText: "Will trading complete?", QuestionType: models.QuestionTypeBinary}
	require.NoError(t, st.CreateSession(context.Background(), sess))
	require.NoError(t, svc.StartTrading(context.Background(), sess.ID, 10*time.Millisecond))

	require.NoError(t, svc.CompleteTrading(context.Background(), sess.ID))

	got, err := st.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.False(t, got.TradingActive)
}

func TestOrderbook_EmptyBook(t *testing.T) {
	svc, st := newTestSessionService(t, balancedForecasterProvider(t))

	sess := &models.Session{QuestionText: "Will the book be empty?", QuestionType: models.QuestionTypeBinary}
	require.NoError(t, st.CreateSession(context.Background(), sess))

	ob, err := svc.Orderbook(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, ob.Bids)
	assert.Empty(t, ob.Asks)
	assert.Nil(t, ob.LastPrice)
	assert.Zero(t, ob.Volume)
}
