package services

import (
	"context"
	"sort"

	"github.com/sibylline/forecastmarket/pkg/market"
	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/store"
)

// PriceLevel aggregates every active order at one price into a single book
// row (spec §6 GET /api/sessions/{id}/orderbook: "{price,quantity,order_count}").
type PriceLevel struct {
	Price      int `json:"price"`
	Quantity   int `json:"quantity"`
	OrderCount int `json:"order_count"`
}

// Orderbook is the read-model payload for GET /api/sessions/{id}/orderbook.
type Orderbook struct {
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	LastPrice *int         `json:"last_price,omitempty"`
	Volume    int          `json:"volume"`
}

// OrderbookService projects a session's live book and trade history into the
// aggregated read model spec §6 names. It wraps pkg/market's per-order
// Snapshot (price-time ordering at the order granularity, used by the
// matching engine) into coarser price-level rows, the shape clients and the
// live orderbook_live channel actually want.
type OrderbookService struct {
	st store.Store
}

// NewOrderbookService constructs an OrderbookService over st.
func NewOrderbookService(st store.Store) *OrderbookService {
	return &OrderbookService{st: st}
}

// Get aggregates sessionID's current book plus cumulative trade volume.
func (s *OrderbookService) Get(ctx context.Context, sessionID string) (Orderbook, error) {
	snap, err := market.LoadSnapshot(ctx, s.st, sessionID)
	if err != nil {
		return Orderbook{}, err
	}
	trades, err := s.st.ListTrades(ctx, sessionID)
	if err != nil {
		return Orderbook{}, err
	}

	ob := Orderbook{
		Bids: aggregateLevels(snap.Bids, true),
		Asks: aggregateLevels(snap.Asks, false),
	}
	for _, t := range trades {
		ob.Volume += t.Quantity
	}
	if len(trades) > 0 {
		last := trades[len(trades)-1].Price
		ob.LastPrice = &last
	}
	return ob, nil
}

// aggregateLevels groups orders by price into PriceLevel rows, sorted best
// price first (descending for bids, ascending for asks — same convention
// market.Snapshot already orders its slices by).
func aggregateLevels(orders []models.Order, descending bool) []PriceLevel {
	byPrice := make(map[int]*PriceLevel)
	var prices []int
	for _, o := range orders {
		lvl, ok := byPrice[o.Price]
		if !ok {
			lvl = &PriceLevel{Price: o.Price}
			byPrice[o.Price] = lvl
			prices = append(prices, o.Price)
		}
		lvl.Quantity += o.Remaining()
		lvl.OrderCount++
	}
	sort.Ints(prices)
	if descending {
		sort.Sort(sort.Reverse(sort.IntSlice(prices)))
	}
	levels := make([]PriceLevel, 0, len(prices))
	for _, p := range prices {
		levels = append(levels, *byPrice[p])
	}
	return levels
}
