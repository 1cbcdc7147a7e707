package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an Order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus is the lifecycle state of an Order (spec §3).
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// MinPriceCents and MaxPriceCents bound the whole-cent probability-of-YES
// price domain (spec §1 Non-goals: "0-100").
const (
	MinPriceCents = 0
	MaxPriceCents = 100
)

// Order is one resting or matched quote in a session's book.
type Order struct {
	ID              string      `db:"id" json:"id"`
	SessionID       string      `db:"session_id" json:"session_id"`
	TraderName      string      `db:"trader_name" json:"trader_name"`
	Side            Side        `db:"side" json:"side"`
	Price           int         `db:"price" json:"price"` // whole cents, 0..100
	Quantity        int         `db:"quantity" json:"quantity"`
	FilledQuantity  int         `db:"filled_quantity" json:"filled_quantity"`
	Status          OrderStatus `db:"status" json:"status"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
}

// Remaining is the unfilled quantity still eligible to match.
func (o *Order) Remaining() int {
	return o.Quantity - o.FilledQuantity
}

// Active reports whether the order can still participate in matching
// (spec §4.3 "Book organization").
func (o *Order) Active() bool {
	return (o.Status == OrderStatusOpen || o.Status == OrderStatusPartiallyFilled) && o.Remaining() > 0
}

// Trade is an immutable, appended-only fill record (spec §3).
type Trade struct {
	ID         string    `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	BuyerName  string    `db:"buyer_name" json:"buyer_name"`
	SellerName string    `db:"seller_name" json:"seller_name"`
	Price      int       `db:"price" json:"price"`
	Quantity   int       `db:"quantity" json:"quantity"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// TraderType classifies a trader's decision strategy (spec §4.5).
type TraderType string

const (
	TraderTypeFundamental TraderType = "fundamental"
	TraderTypeNoise       TraderType = "noise"
	TraderTypeUser        TraderType = "user"
)

// TraderState is the per-session, per-trader position/cash/pnl ledger,
// mutated exclusively by the matching engine (spec §3, §4.5).
type TraderState struct {
	ID           string          `db:"id" json:"id"`
	SessionID    string          `db:"session_id" json:"session_id"`
	Name         string          `db:"name" json:"name"`
	TraderType   TraderType      `db:"trader_type" json:"trader_type"`
	Position     int             `db:"position" json:"position"`
	Cash         decimal.Decimal `db:"cash" json:"cash"`
	PnL          decimal.Decimal `db:"pnl" json:"pnl"`
	SystemPrompt string          `db:"system_prompt" json:"system_prompt,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// CentsToDecimal converts a whole-cent price times a quantity into a dollar
// decimal.Decimal, e.g. price=55 qty=10 -> 5.50.
func CentsToDecimal(priceCents, quantity int) decimal.Decimal {
	return decimal.New(int64(priceCents*quantity), -2)
}
