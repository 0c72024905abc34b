// Package book implements the per-instrument matching engine: FIFO price
// levels, lazily-pruned price heaps, and the order book that matches
// incoming orders under price-time priority.
//
// A Book has no I/O and no locking of its own. The exchange layer owns a
// mutex per book and serializes all mutating calls; see internal/exchange.
package book

import "clob-engine/pkg/types"

// priceLevel is the FIFO queue of resting orders at a single price.
// Arrival order is preserved; the head is always the maker that trades next
// at this price.
//
// Removal is lazy: cancellation only flips the order's Cancelled flag, and
// peekLive discards dead entries as it encounters them at the head. Each
// order is discarded at most once, so the amortized cost stays O(1).
type priceLevel struct {
	price  int64
	orders []*types.Order
}

func newPriceLevel(price int64) *priceLevel {
	return &priceLevel{price: price}
}

// append adds an order at the tail.
func (l *priceLevel) append(o *types.Order) {
	l.orders = append(l.orders, o)
}

// peekLive returns the first live order, discarding dead (filled or
// cancelled) heads along the way. Returns nil if no live order remains at
// the head of the queue.
func (l *priceLevel) peekLive() *types.Order {
	for len(l.orders) > 0 {
		if o := l.orders[0]; o.Live() {
			return o
		}
		l.orders[0] = nil
		l.orders = l.orders[1:]
	}
	return nil
}

// popFront removes the current front unconditionally.
func (l *priceLevel) popFront() {
	if len(l.orders) == 0 {
		return
	}
	l.orders[0] = nil
	l.orders = l.orders[1:]
}

// liveQuantity sums the remaining quantity of live orders at this level.
// Used for depth snapshots, not on the matching path.
func (l *priceLevel) liveQuantity() int64 {
	var total int64
	for _, o := range l.orders {
		if o.Live() {
			total += o.RemainingQuantity
		}
	}
	return total
}
