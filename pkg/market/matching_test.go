package market

import (
	"context"
	"testing"

	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/store"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, st store.Store) string {
	t.Helper()
	s := &models.Session{QuestionText: "q", QuestionType: models.QuestionTypeBinary}
	require.NoError(t, st.CreateSession(context.Background(), s))
	return s.ID
}

func placeOrder(t *testing.T, st store.Store, sessionID, trader string, side models.Side, price, qty int) {
	t.Helper()
	tx, err := st.BeginMarketTx(context.Background(), sessionID)
	require.NoError(t, err)
	_, err = tx.InsertOrder(context.Background(), &models.Order{
		SessionID:  sessionID,
		TraderName: trader,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		Status:     models.OrderStatusOpen,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))
}

func TestEngine_Match_PriceTimePriority(t *testing.T) {
	st := store.NewMemoryStore()
	sessionID := newTestSession(t, st)
	engine := NewEngine(st)

	placeOrder(t, st, sessionID, "alice", models.SideBuy, 60, 10)
	placeOrder(t, st, sessionID, "bob", models.SideSell, 55, 10)

	result, err := engine.Match(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, 1, result.TradesCount)
	require.Equal(t, 10, result.TotalVolume)

	trades, err := st.ListTrades(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, 55, trades[0].Price, "execution price must be the resting ask's price")
	require.Equal(t, "alice", trades[0].BuyerName)
	require.Equal(t, "bob", trades[0].SellerName)
}

func TestEngine_Match_SelfMatchSkipped(t *testing.T) {
	st := store.NewMemoryStore()
	sessionID := newTestSession(t, st)
	engine := NewEngine(st)

	// alice's own ask is cheaper than bob's, but alice's bid must skip past
	// it and match bob's ask instead.
	placeOrder(t, st, sessionID, "alice", models.SideBuy, 60, 10)
	placeOrder(t, st, sessionID, "alice", models.SideSell, 50, 10)
	placeOrder(t, st, sessionID, "bob", models.SideSell, 58, 10)

	result, err := engine.Match(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, 1, result.TradesCount)

	trades, err := st.ListTrades(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "bob", trades[0].SellerName)
	require.Equal(t, 58, trades[0].Price)
}

func TestEngine_Match_CrossThroughLiquidity(t *testing.T) {
	st := store.NewMemoryStore()
	sessionID := newTestSession(t, st)
	engine := NewEngine(st)

	placeOrder(t, st, sessionID, "carol", models.SideSell, 50, 5)
	placeOrder(t, st, sessionID, "dave", models.SideSell, 52, 5)
	placeOrder(t, st, sessionID, "alice", models.SideBuy, 60, 10)

	result, err := engine.Match(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, 2, result.TradesCount)
	require.Equal(t, 10, result.TotalVolume)

	trades, err := st.ListTrades(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.Equal(t, 50, trades[0].Price)
	require.Equal(t, 52, trades[1].Price)

	orders, err := st.ListOrders(context.Background(), sessionID)
	require.NoError(t, err)
	for _, o := range orders {
		require.False(t, o.Active())
	}
}

func TestEngine_Match_NoEligibleAskStopsLoop(t *testing.T) {
	st := store.NewMemoryStore()
	sessionID := newTestSession(t, st)
	engine := NewEngine(st)

	placeOrder(t, st, sessionID, "alice", models.SideBuy, 40, 10)
	placeOrder(t, st, sessionID, "bob", models.SideSell, 70, 10)

	result, err := engine.Match(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, 0, result.TradesCount)

	orders, err := st.ListOrders(context.Background(), sessionID)
	require.NoError(t, err)
	for _, o := range orders {
		require.True(t, o.Active())
	}
}

func TestEngine_PlaceMMQuotes_ReplacesAndMatches(t *testing.T) {
	st := store.NewMemoryStore()
	sessionID := newTestSession(t, st)
	engine := NewEngine(st)

	placeOrder(t, st, sessionID, "bob", models.SideSell, 50, 10)

	first, err := engine.PlaceMMQuotes(context.Background(), sessionID, "alice", 30, 35, 5)
	require.NoError(t, err)
	require.Equal(t, 0, first.Cancelled)
	require.Equal(t, 0, first.TradesCount)

	second, err := engine.PlaceMMQuotes(context.Background(), sessionID, "alice", 55, 60, 5)
	require.NoError(t, err)
	require.Equal(t, 2, second.Cancelled, "prior bid and ask must both be cancelled")
	require.Equal(t, 1, second.TradesCount)
	require.Equal(t, 5, second.Volume)

	orders, err := st.ListOrders(context.Background(), sessionID)
	require.NoError(t, err)
	var cancelledCount int
	for _, o := range orders {
		if o.TraderName == "alice" && (o.Price == 30 || o.Price == 35) && o.Status == models.OrderStatusCancelled {
			cancelledCount++
		}
	}
	require.GreaterOrEqual(t, cancelledCount, 2)
}

func TestEngine_PlaceMMQuotes_RejectsInvalidPreconditions(t *testing.T) {
	st := store.NewMemoryStore()
	sessionID := newTestSession(t, st)
	engine := NewEngine(st)

	_, err := engine.PlaceMMQuotes(context.Background(), sessionID, "alice", 60, 50, 5)
	require.Error(t, err, "bid must not exceed ask")

	_, err = engine.PlaceMMQuotes(context.Background(), sessionID, "alice", 10, 20, 0)
	require.Error(t, err, "quantity must be >= 1")
}

func TestLoadSnapshot(t *testing.T) {
	st := store.NewMemoryStore()
	sessionID := newTestSession(t, st)

	placeOrder(t, st, sessionID, "alice", models.SideBuy, 60, 10)
	placeOrder(t, st, sessionID, "bob", models.SideSell, 70, 10)

	snap, err := LoadSnapshot(context.Background(), st, sessionID)
	require.NoError(t, err)
	bid, ask, ok := snap.BestBidAsk()
	require.True(t, ok)
	require.Equal(t, 60, bid)
	require.Equal(t, 70, ask)
	mid, ok := snap.MidPrice()
	require.True(t, ok)
	require.Equal(t, 65, mid)
}
