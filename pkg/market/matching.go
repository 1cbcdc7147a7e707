package market

import (
	"context"
	"fmt"
	"sort"

	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/store"
)

// Engine runs the price-time-priority matching algorithm (spec §4.3) over a
// session's book. It holds no state of its own beyond the store handle; all
// book state lives in store-backed Order/Trade/TraderState rows.
type Engine struct {
	store store.Store
}

// NewEngine constructs an Engine over store.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// MatchResult is the per-invocation output spec §4.3 names: "(trades_count,
// total_volume)".
type MatchResult struct {
	TradesCount int
	TotalVolume int // sum of fill quantities across all executed trades
}

// Match runs the matching algorithm to fixpoint for sessionID inside its own
// serializable transaction (spec §4.3: "run over a single session
// atomically").
func (e *Engine) Match(ctx context.Context, sessionID string) (MatchResult, error) {
	tx, err := e.store.BeginMarketTx(ctx, sessionID)
	if err != nil {
		return MatchResult{}, fmt.Errorf("market: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	result, err := matchToFixpoint(ctx, tx, sessionID)
	if err != nil {
		return MatchResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return MatchResult{}, fmt.Errorf("market: commit: %w", err)
	}
	committed = true
	return result, nil
}

// matchToFixpoint implements spec §4.3's pseudocode exactly: repeatedly take
// the best active bid and the best eligible ask (price <= bid price,
// different trader, skip-locked already applied by the Tx's lock queries),
// execute at the ask's price, and apply state deltas, stopping the instant
// either side runs out of an eligible counterparty. It runs within an
// already-open Tx so the atomic market-making primitive (mm.go) can call it
// as the third step of its own single transaction.
func matchToFixpoint(ctx context.Context, tx store.Tx, sessionID string) (MatchResult, error) {
	bids, err := tx.LockActiveBids(ctx, sessionID)
	if err != nil {
		return MatchResult{}, fmt.Errorf("market: lock bids: %w", err)
	}
	asks, err := tx.LockActiveAsks(ctx, sessionID)
	if err != nil {
		return MatchResult{}, fmt.Errorf("market: lock asks: %w", err)
	}
	// Tx locking queries already return these sorted and row-locked; re-sort
	// defensively so the in-memory walk below honors price-time priority
	// regardless of the backing implementation's exact ordering guarantees.
	sort.SliceStable(bids, func(i, j int) bool {
		if bids[i].Price != bids[j].Price {
			return bids[i].Price > bids[j].Price
		}
		return bids[i].CreatedAt.Before(bids[j].CreatedAt)
	})
	sort.SliceStable(asks, func(i, j int) bool {
		if asks[i].Price != asks[j].Price {
			return asks[i].Price < asks[j].Price
		}
		return asks[i].CreatedAt.Before(asks[j].CreatedAt)
	})

	var result MatchResult
	for {
		bidIdx := firstActiveIdx(bids)
		if bidIdx < 0 {
			break
		}
		bid := &bids[bidIdx]

		askIdx := firstEligibleAskIdx(asks, bid)
		if askIdx < 0 {
			break
		}
		ask := &asks[askIdx]

		fill := min(bid.Remaining(), ask.Remaining())
		execPrice := ask.Price // price-time priority: the resting ask wins

		trade := &models.Trade{
			SessionID:  sessionID,
			BuyerName:  bid.TraderName,
			SellerName: ask.TraderName,
			Price:      execPrice,
			Quantity:   fill,
		}
		if _, err := tx.InsertTrade(ctx, trade); err != nil {
			return MatchResult{}, fmt.Errorf("market: insert trade: %w", err)
		}

		bid.FilledQuantity += fill
		ask.FilledQuantity += fill
		if err := tx.ApplyFill(ctx, bid.ID, bid.FilledQuantity, statusFor(*bid)); err != nil {
			return MatchResult{}, fmt.Errorf("market: apply bid fill: %w", err)
		}
		if err := tx.ApplyFill(ctx, ask.ID, ask.FilledQuantity, statusFor(*ask)); err != nil {
			return MatchResult{}, fmt.Errorf("market: apply ask fill: %w", err)
		}
		bid.Status = statusFor(*bid)
		ask.Status = statusFor(*ask)

		// TraderType is passed empty here: the round scheduler seeds every
		// trader's TraderState row (with its real trader_type) before round 1
		// starts, so ApplyTraderDelta's create-on-first-write fallback never
		// actually fires on this path; it exists only to keep ApplyTraderDelta
		// correct if ever called against a session with no pre-seeded pool.
		notional := models.CentsToDecimal(execPrice, fill)
		if err := tx.ApplyTraderDelta(ctx, sessionID, bid.TraderName, models.TraderType(""), fill, notional.Neg().String()); err != nil {
			return MatchResult{}, fmt.Errorf("market: apply buyer delta: %w", err)
		}
		if err := tx.ApplyTraderDelta(ctx, sessionID, ask.TraderName, models.TraderType(""), -fill, notional.String()); err != nil {
			return MatchResult{}, fmt.Errorf("market: apply seller delta: %w", err)
		}
		if err := tx.RecomputeTraderPnL(ctx, sessionID, bid.TraderName, execPrice); err != nil {
			return MatchResult{}, fmt.Errorf("market: recompute buyer pnl: %w", err)
		}
		if err := tx.RecomputeTraderPnL(ctx, sessionID, ask.TraderName, execPrice); err != nil {
			return MatchResult{}, fmt.Errorf("market: recompute seller pnl: %w", err)
		}

		result.TradesCount++
		result.TotalVolume += fill
	}
	return result, nil
}

func firstActiveIdx(orders []models.Order) int {
	for i := range orders {
		if orders[i].Active() {
			return i
		}
	}
	return -1
}

// firstEligibleAskIdx finds the best (lowest price, earliest) ask that
// crosses bid's price and belongs to a different trader (spec §4.3
// "Self-match prohibition": "the matcher picks the next eligible ask").
func firstEligibleAskIdx(asks []models.Order, bid *models.Order) int {
	for i := range asks {
		a := &asks[i]
		if !a.Active() {
			continue
		}
		if a.Price > bid.Price {
			break // asks are sorted ascending: no later ask can be cheaper
		}
		if a.TraderName == bid.TraderName {
			continue // self-match prohibition: skip, keep scanning
		}
		return i
	}
	return -1
}

func statusFor(o models.Order) models.OrderStatus {
	if o.Remaining() == 0 {
		return models.OrderStatusFilled
	}
	return models.OrderStatusPartiallyFilled
}
