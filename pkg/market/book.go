// Package market implements the continuous double-auction matching engine
// and the atomic market-making primitive built on top of it (spec.md §4.3,
// §4.4). The book is not mirrored client-side from an external venue; it is
// our own matching engine's state, held in pkg/store, and this package only
// aggregates read views of it plus the write path that mutates it.
package market

import (
	"context"
	"sort"

	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/store"
)

// Snapshot is a read-only view of one session's book, aggregated from the
// store's row-level Order list into BestBidAsk/MidPrice.
type Snapshot struct {
	Bids []models.Order // sorted price DESC, created_at ASC
	Asks []models.Order // sorted price ASC, created_at ASC
}

// BestBidAsk returns the best active bid and ask prices, in whole cents,
// with ok=false if either side is empty.
func (s Snapshot) BestBidAsk() (bid, ask int, ok bool) {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return 0, 0, false
	}
	return s.Bids[0].Price, s.Asks[0].Price, true
}

// MidPrice computes (bestBid+bestAsk)/2, in whole cents, truncated toward
// the lower price on an odd sum.
func (s Snapshot) MidPrice() (int, bool) {
	bid, ask, ok := s.BestBidAsk()
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// LoadSnapshot aggregates a session's current order book from the store's
// row CRUD surface (spec §6 GET /api/sessions/{id}/orderbook).
func LoadSnapshot(ctx context.Context, st store.Store, sessionID string) (Snapshot, error) {
	orders, err := st.ListOrders(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	for _, o := range orders {
		if !o.Active() {
			continue
		}
		switch o.Side {
		case models.SideBuy:
			snap.Bids = append(snap.Bids, o)
		case models.SideSell:
			snap.Asks = append(snap.Asks, o)
		}
	}
	sort.SliceStable(snap.Bids, func(i, j int) bool {
		if snap.Bids[i].Price != snap.Bids[j].Price {
			return snap.Bids[i].Price > snap.Bids[j].Price
		}
		return snap.Bids[i].CreatedAt.Before(snap.Bids[j].CreatedAt)
	})
	sort.SliceStable(snap.Asks, func(i, j int) bool {
		if snap.Asks[i].Price != snap.Asks[j].Price {
			return snap.Asks[i].Price < snap.Asks[j].Price
		}
		return snap.Asks[i].CreatedAt.Before(snap.Asks[j].CreatedAt)
	})
	return snap, nil
}
