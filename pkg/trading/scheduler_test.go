package trading

import (
	"context"
	"testing"
	"time"

	"github.com/sibylline/forecastmarket/pkg/market"
	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/resources"
	"github.com/sibylline/forecastmarket/pkg/store"
	"github.com/stretchr/testify/require"
)

func newTradingSession(t *testing.T, st store.Store) string {
	t.Helper()
	s := &models.Session{QuestionText: "will it happen", QuestionType: models.QuestionTypeBinary}
	require.NoError(t, st.CreateSession(context.Background(), s))
	return s.ID
}

func seedForecasterResponse(t *testing.T, st store.Store, sessionID string, class models.ForecasterClass, prob float64) {
	t.Helper()
	r := &models.ForecasterResponse{
		SessionID:             sessionID,
		ForecasterClass:       class,
		Status:                models.WorkerStatusRunning,
		PredictionProbability: nil,
	}
	require.NoError(t, st.CreateForecasterResponse(context.Background(), r))
	require.NoError(t, st.CompleteForecasterResponse(context.Background(), r.ID, prob, 0.8, "reasoning", []string{"factor"}, nil))
}

func TestScheduler_SeedsFundamentalProbabilitiesAndRuns(t *testing.T) {
	st := store.NewMemoryStore()
	sessionID := newTradingSession(t, st)
	for _, class := range models.AllForecasterClasses {
		seedForecasterResponse(t, st, sessionID, class, 0.7)
	}

	res := resources.Resources{
		Store:               st,
		SentimentProvider:   DeterministicSentimentProvider{},
		AccountFeedProvider: StaticAccountFeedProvider{},
	}
	sched := NewScheduler(res, sessionID, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}

	status := sched.GetStatus()
	require.Equal(t, PhaseStopped, status.Phase)
	require.False(t, status.Running)
	require.GreaterOrEqual(t, status.RoundNumber, 1)

	orders, err := st.ListOrders(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, orders, "at least one trader should have placed quotes")
}

func TestScheduler_SeedsTraderStatesBeforeRound1(t *testing.T) {
	st := store.NewMemoryStore()
	sessionID := newTradingSession(t, st)
	for _, class := range models.AllForecasterClasses {
		seedForecasterResponse(t, st, sessionID, class, 0.6)
	}

	res := resources.Resources{Store: st, SentimentProvider: DeterministicSentimentProvider{}, AccountFeedProvider: StaticAccountFeedProvider{}}
	sched := NewScheduler(res, sessionID, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	states, err := st.ListTraderStates(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, states, 18, "every pool member gets a seeded TraderState row")

	byName := make(map[string]models.TraderState, len(states))
	for _, s := range states {
		byName[s.Name] = s
	}
	for _, tr := range NewTraderPool() {
		got, ok := byName[tr.Name]
		require.True(t, ok, "missing seeded TraderState for %s", tr.Name)
		require.Equal(t, tr.Type, got.TraderType)
		require.NotEmpty(t, got.SystemPrompt)
	}
}

func TestScheduler_StopAndComplete(t *testing.T) {
	st := store.NewMemoryStore()
	sessionID := newTradingSession(t, st)
	for _, class := range models.AllForecasterClasses {
		seedForecasterResponse(t, st, sessionID, class, 0.5)
	}

	res := resources.Resources{Store: st, SentimentProvider: DeterministicSentimentProvider{}, AccountFeedProvider: StaticAccountFeedProvider{}}
	sched := NewScheduler(res, sessionID, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- sched.Run(context.Background()) }()
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, sched.Complete(context.Background()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after Complete")
	}

	sess, err := st.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.False(t, sess.TradingActive)
}

func TestTraderPool_FixedTaxonomy(t *testing.T) {
	pool := NewTraderPool()
	require.Len(t, pool, 18)

	var fundamental, noise, user int
	for _, tr := range pool {
		switch tr.Type {
		case models.TraderTypeFundamental:
			fundamental++
		case models.TraderTypeNoise:
			noise++
		case models.TraderTypeUser:
			user++
		}
	}
	require.Equal(t, 5, fundamental)
	require.Equal(t, 9, noise)
	require.Equal(t, 4, user)
}

func TestTrader_Decide_RespectsPriceDomainAndOrdering(t *testing.T) {
	pool := NewTraderPool()
	for _, tr := range pool {
		bid, ask, qty := tr.Decide(market.Snapshot{}, models.TraderState{}, "0.9")
		require.GreaterOrEqual(t, bid, models.MinPriceCents)
		require.LessOrEqual(t, ask, models.MaxPriceCents)
		require.Less(t, bid, ask)
		require.GreaterOrEqual(t, qty, 1)
	}
}
