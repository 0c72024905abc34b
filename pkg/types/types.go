// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — order and trade
// records, instrument metadata, request/result shapes for the exchange
// façade, and the error taxonomy. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == BUY || s == SELL
}

// Opposite returns the side an order of side s matches against.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	// OrderTypeMarket matches at any price against best available liquidity.
	// Never rests; residue is cancelled on liquidity exhaustion.
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeGTC (Good-Til-Cancelled) rests on the book after any
	// immediate matches, until filled or cancelled.
	OrderTypeGTC OrderType = "GTC"
	// OrderTypeIOC (Immediate-Or-Cancel) matches what it can immediately;
	// residue is cancelled, never rested.
	OrderTypeIOC OrderType = "IOC"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeGTC, OrderTypeIOC:
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Orders and trades
// ————————————————————————————————————————————————————————————————————————

// Order is the engine's representation of one submitted order. Orders are
// created by the exchange when an id is assigned and mutated (fill counters,
// cancelled flag) only by the owning order book during matching or
// cancellation.
//
// Invariants: FilledQuantity + RemainingQuantity == Quantity at all times;
// Cancelled never transitions back to false; MARKET orders carry
// PriceCents == 0 and never rest.
type Order struct {
	OrderID           uint64    `json:"order_id"`
	InstrumentID      uint64    `json:"instrument_id"`
	Side              Side      `json:"side"`
	Type              OrderType `json:"order_type"`
	PriceCents        int64     `json:"price_cents"` // limit price; 0 for MARKET
	Quantity          int64     `json:"quantity"`    // original submitted quantity
	FilledQuantity    int64     `json:"filled_quantity"`
	RemainingQuantity int64     `json:"remaining_quantity"`
	Cancelled         bool      `json:"cancelled"`
	PartyID           string    `json:"party_id"`
	Timestamp         int64     `json:"timestamp"` // submission instant, ns
}

// Live reports whether the order is still matchable: unfilled residue and
// not cancelled.
func (o *Order) Live() bool {
	return o.RemainingQuantity > 0 && !o.Cancelled
}

// Fill applies a fill of qty to the order's counters. Panics if qty exceeds
// the remaining quantity — that is a matching bug, not an input error.
func (o *Order) Fill(qty int64) {
	if qty <= 0 || qty > o.RemainingQuantity {
		panic(fmt.Sprintf("order %d: fill %d exceeds remaining %d", o.OrderID, qty, o.RemainingQuantity))
	}
	o.FilledQuantity += qty
	o.RemainingQuantity -= qty
}

// Snapshot returns an immutable value copy of the order, suitable for
// journaling while the original keeps mutating inside the book.
func (o *Order) Snapshot() Order {
	return *o
}

// Trade records one fill between a resting maker and an arriving taker.
// The price is always the maker's price. Immutable once constructed.
type Trade struct {
	InstrumentID           uint64 `json:"instrument_id"`
	PriceCents             int64  `json:"price_cents"`
	Quantity               int64  `json:"quantity"`
	Timestamp              int64  `json:"timestamp"` // ns
	MakerOrderID           uint64 `json:"maker_order_id"`
	MakerPartyID           string `json:"maker_party_id"`
	TakerOrderID           uint64 `json:"taker_order_id"`
	TakerPartyID           string `json:"taker_party_id"`
	MakerIsBuyer           bool   `json:"maker_is_buyer"`
	MakerQuantityRemaining int64  `json:"maker_quantity_remaining"` // after this fill
	TakerQuantityRemaining int64  `json:"taker_quantity_remaining"` // after this fill
}

// Instrument is the metadata record for one tradeable book. Created exactly
// once, never mutated.
type Instrument struct {
	InstrumentID uint64 `json:"instrument_id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	CreatedAt    int64  `json:"created_at"` // ns
	CreatedBy    string `json:"created_by"`
}

// ————————————————————————————————————————————————————————————————————————
// Exchange requests and results
// ————————————————————————————————————————————————————————————————————————

// SubmitRequest carries one order submission into the exchange. PriceCents
// is the limit price for GTC/IOC and must be zero for MARKET.
type SubmitRequest struct {
	InstrumentID uint64    `json:"instrument_id"`
	Side         Side      `json:"side"`
	Type         OrderType `json:"order_type"`
	PriceCents   int64     `json:"price_cents"`
	Quantity     int64     `json:"quantity"`
	PartyID      string    `json:"party_id"`
}

// Validate checks field-level constraints. It does not consult exchange
// state (instrument existence is checked by the exchange itself).
func (r *SubmitRequest) Validate() error {
	if !r.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidRequest, string(r.Side))
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidRequest, string(r.Type))
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidRequest, r.Quantity)
	}
	switch r.Type {
	case OrderTypeMarket:
		if r.PriceCents != 0 {
			return fmt.Errorf("%w: MARKET order must not carry a price", ErrInvalidRequest)
		}
	default:
		if r.PriceCents <= 0 {
			return fmt.Errorf("%w: %s order requires a positive price", ErrInvalidRequest, r.Type)
		}
	}
	if r.PartyID == "" {
		return fmt.Errorf("%w: party_id is required", ErrInvalidRequest)
	}
	return nil
}

// SubmitResult is the exchange's answer to an accepted submission.
type SubmitResult struct {
	OrderID           uint64  `json:"order_id"`
	RemainingQuantity int64   `json:"remaining_quantity"`
	Cancelled         bool    `json:"cancelled"`
	Trades            []Trade `json:"trades"`
}

// CancelAllResult reports the outcome of a per-party mass cancel. FailedIDs
// holds orders that were already filled or cancelled by the time the sweep
// reached them.
type CancelAllResult struct {
	CancelledIDs []uint64 `json:"cancelled_ids"`
	FailedIDs    []uint64 `json:"failed_ids"`
}

// ————————————————————————————————————————————————————————————————————————
// Money rendering
// ————————————————————————————————————————————————————————————————————————

var centsPerDollar = decimal.NewFromInt(100)

// Dollars renders an integer cent amount as an exact two-decimal dollar
// string, e.g. 10050 → "100.50". Used on human-facing surfaces (backup
// journal lines, broadcast payloads); the engine itself computes in cents.
func Dollars(cents int64) string {
	return decimal.NewFromInt(cents).Div(centsPerDollar).StringFixed(2)
}
