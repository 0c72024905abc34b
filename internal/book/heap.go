package book

import "container/heap"

// priceHeap is a binary heap of prices for one side of the book: max-heap
// for bids (best bid = highest price), min-heap for asks (best ask = lowest
// price).
//
// The heap tolerates duplicate and stale entries. A price is re-pushed
// whenever an order arrives at a level that was previously dead, and no
// entry is removed eagerly when a level empties out — consumers re-check
// the side's price→level mapping and pop stale heads on access. Each stale
// entry is popped at most once, so cleanup stays O(log n) amortized.
type priceHeap struct {
	prices []int64
	max    bool // true for the bid side
}

func (h *priceHeap) Len() int { return len(h.prices) }

func (h *priceHeap) Less(i, j int) bool {
	if h.max {
		return h.prices[i] > h.prices[j]
	}
	return h.prices[i] < h.prices[j]
}

func (h *priceHeap) Swap(i, j int) {
	h.prices[i], h.prices[j] = h.prices[j], h.prices[i]
}

func (h *priceHeap) Push(x any) {
	h.prices = append(h.prices, x.(int64))
}

func (h *priceHeap) Pop() any {
	old := h.prices
	n := len(old)
	p := old[n-1]
	h.prices = old[:n-1]
	return p
}

// push adds a price. Duplicates are allowed.
func (h *priceHeap) push(price int64) {
	heap.Push(h, price)
}

// peek returns the best price without removing it.
func (h *priceHeap) peek() (int64, bool) {
	if len(h.prices) == 0 {
		return 0, false
	}
	return h.prices[0], true
}

// pop removes and returns the best price.
func (h *priceHeap) pop() (int64, bool) {
	if len(h.prices) == 0 {
		return 0, false
	}
	return heap.Pop(h).(int64), true
}
