package market

import (
	"context"
	"fmt"

	"github.com/sibylline/forecastmarket/pkg/models"
)

// MMResult is PlaceMMQuotes's return value (spec §4.4: "{cancelled, bid_id,
// ask_id, trades_count, volume}").
type MMResult struct {
	Cancelled   int
	BidID       string
	AskID       string
	TradesCount int
	Volume      int
}

// PlaceMMQuotes replaces trader's standing quotes and matches in one
// serializable transaction (spec §4.4). Without this atomicity a competing
// trader could fill the old quotes after cancellation but before the new
// ones post, corrupting both traders' positions; cancel, place, and match
// all happen inside the one Tx returned by BeginMarketTx.
func (e *Engine) PlaceMMQuotes(ctx context.Context, sessionID, traderName string, bidPriceCents, askPriceCents, qty int) (MMResult, error) {
	if bidPriceCents < models.MinPriceCents || askPriceCents > models.MaxPriceCents || bidPriceCents > askPriceCents {
		return MMResult{}, fmt.Errorf("market: invalid quote bid=%d ask=%d: must satisfy 0 <= bid <= ask <= %d", bidPriceCents, askPriceCents, models.MaxPriceCents)
	}
	if qty < 1 {
		return MMResult{}, fmt.Errorf("market: invalid quote quantity %d: must be >= 1", qty)
	}

	tx, err := e.store.BeginMarketTx(ctx, sessionID)
	if err != nil {
		return MMResult{}, fmt.Errorf("market: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	cancelled, err := tx.CancelTraderOrders(ctx, sessionID, traderName)
	if err != nil {
		return MMResult{}, fmt.Errorf("market: cancel trader orders: %w", err)
	}

	bidID, err := tx.InsertOrder(ctx, &models.Order{
		SessionID:  sessionID,
		TraderName: traderName,
		Side:       models.SideBuy,
		Price:      bidPriceCents,
		Quantity:   qty,
		Status:     models.OrderStatusOpen,
	})
	if err != nil {
		return MMResult{}, fmt.Errorf("market: insert bid: %w", err)
	}
	askID, err := tx.InsertOrder(ctx, &models.Order{
		SessionID:  sessionID,
		TraderName: traderName,
		Side:       models.SideSell,
		Price:      askPriceCents,
		Quantity:   qty,
		Status:     models.OrderStatusOpen,
	})
	if err != nil {
		return MMResult{}, fmt.Errorf("market: insert ask: %w", err)
	}

	match, err := matchToFixpoint(ctx, tx, sessionID)
	if err != nil {
		return MMResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return MMResult{}, fmt.Errorf("market: commit: %w", err)
	}
	committed = true

	return MMResult{
		Cancelled:   cancelled,
		BidID:       bidID,
		AskID:       askID,
		TradesCount: match.TradesCount,
		Volume:      match.TotalVolume,
	}, nil
}
