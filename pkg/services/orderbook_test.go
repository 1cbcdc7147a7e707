package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/store"
)

func TestOrderbookService_EmptyBook(t *testing.T) {
	st := store.NewMemoryStore()
	sess := &models.Session{QuestionText: "q", QuestionType: models.QuestionTypeBinary}
	require.NoError(t, st.CreateSession(context.Background(), sess))

	ob, err := NewOrderbookService(st).Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, ob.Bids)
	assert.Empty(t, ob.Asks)
	assert.Nil(t, ob.LastPrice)
	assert.Equal(t, 0, ob.Volume)
}

func TestOrderbookService_AggregatesLevelsAndVolume(t *testing.T) {
	st := store.NewMemoryStore()
	sess := &models.Session{QuestionText: "q", QuestionType: models.QuestionTypeBinary}
	require.NoError(t, st.CreateSession(context.Background(), sess))

	tx, err := st.BeginMarketTx(context.Background(), sess.ID)
	require.NoError(t, err)

	bids := []models.Order{
		{SessionID: sess.ID, TraderName: "a", Side: models.SideBuy, Price: 55, Quantity: 10},
		{SessionID: sess.ID, TraderName: "b", Side: models.SideBuy, Price: 55, Quantity: 5},
		{SessionID: sess.ID, TraderName: "c", Side: models.SideBuy, Price: 50, Quantity: 20},
	}
	for i := range bids {
		_, err := tx.InsertOrder(context.Background(), &bids[i])
		require.NoError(t, err)
	}
	ask := models.Order{SessionID: sess.ID, TraderName: "d", Side: models.SideSell, Price: 60, Quantity: 8}
	_, err = tx.InsertOrder(context.Background(), &ask)
	require.NoError(t, err)

	_, err = tx.InsertTrade(context.Background(), &models.Trade{
		SessionID: sess.ID, BuyerName: "a", SellerName: "d", Price: 58, Quantity: 3,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	ob, err := NewOrderbookService(st).Get(context.Background(), sess.ID)
	require.NoError(t, err)

	require.Len(t, ob.Bids, 2)
	assert.Equal(t, PriceLevel{Price: 55, Quantity: 15, OrderCount: 2}, ob.Bids[0], "best bid (highest price) first")
	assert.Equal(t, PriceLevel{Price: 50, Quantity: 20, OrderCount: 1}, ob.Bids[1])

	require.Len(t, ob.Asks, 1)
	assert.Equal(t, PriceLevel{Price: 60, Quantity: 8, OrderCount: 1}, ob.Asks[0])

	require.NotNil(t, ob.LastPrice)
	assert.Equal(t, 58, *ob.LastPrice)
	assert.Equal(t, 3, ob.Volume)
}
