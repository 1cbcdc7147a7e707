package models

import (
	"fmt"
	"math"
)

// ValidationError is a field-scoped input rejection, surfaced at the API
// boundary as HTTP 400 (spec §7 "Order validation").
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ValidateOrderInput checks an order placement request against spec §4.3's
// "zero-quantity orders are rejected" and the 0..100 whole-cent price domain,
// before any row is written.
func ValidateOrderInput(side Side, price, quantity int) error {
	if side != SideBuy && side != SideSell {
		return NewValidationError("side", "must be buy or sell")
	}
	if price < MinPriceCents || price > MaxPriceCents {
		return NewValidationError("price", "must be between 0 and 100 cents")
	}
	if quantity < 1 {
		return NewValidationError("quantity", "must be at least 1")
	}
	return nil
}

// ValidateMMQuotes checks the preconditions of the atomic market-making
// primitive (spec §4.4): 0 <= bid <= ask <= 100, qty >= 1.
func ValidateMMQuotes(bidPrice, askPrice, quantity int) error {
	if bidPrice < MinPriceCents || bidPrice > MaxPriceCents {
		return NewValidationError("bid_price", "must be between 0 and 100 cents")
	}
	if askPrice < MinPriceCents || askPrice > MaxPriceCents {
		return NewValidationError("ask_price", "must be between 0 and 100 cents")
	}
	if bidPrice > askPrice {
		return NewValidationError("bid_price", "must not exceed ask_price")
	}
	if quantity < 1 {
		return NewValidationError("quantity", "must be at least 1")
	}
	return nil
}

// ValidateProbability clamps and validates a probability value to [0,1],
// rejecting NaN/Inf per the structured LLM wrapper's normalization step
// (spec §4.1 step 5).
func ValidateProbability(field string, v float64) (float64, error) {
	if v != v { // NaN
		return 0, NewValidationError(field, "NaN is not a valid probability")
	}
	if math.IsInf(v, 0) {
		return 0, NewValidationError(field, "Inf is not a valid probability")
	}
	if v < 0 {
		return 0, nil
	}
	if v > 1 {
		return 1, nil
	}
	return v, nil
}
