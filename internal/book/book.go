package book

import (
	"fmt"
	"sort"
	"time"

	"clob-engine/pkg/types"
)

// sideBook holds one side's resting liquidity: a price→level mapping plus a
// heap of prices. Every price whose level has a live head order is present
// in the heap; dead prices linger until lazily pruned by bestPrice.
type sideBook struct {
	levels map[int64]*priceLevel
	prices priceHeap
}

func newSideBook(side types.Side) *sideBook {
	return &sideBook{
		levels: make(map[int64]*priceLevel),
		prices: priceHeap{max: side == types.BUY},
	}
}

// add rests an order on this side, creating the level if absent and
// re-registering the price in the heap if the level was dead.
func (s *sideBook) add(o *types.Order) {
	level, ok := s.levels[o.PriceCents]
	if !ok {
		level = newPriceLevel(o.PriceCents)
		s.levels[o.PriceCents] = level
		s.prices.push(o.PriceCents)
	} else if level.peekLive() == nil {
		// Level went dead since its price was last pushed; the stale heap
		// entry (if any) will be discarded separately.
		s.prices.push(o.PriceCents)
	}
	level.append(o)
}

// bestPrice returns the best live price on this side, pruning stale heap
// heads and vacated levels as it goes.
func (s *sideBook) bestPrice() (int64, bool) {
	for {
		price, ok := s.prices.peek()
		if !ok {
			return 0, false
		}
		level, ok := s.levels[price]
		if !ok {
			s.prices.pop()
			continue
		}
		if level.peekLive() == nil {
			s.prices.pop()
			delete(s.levels, price)
			continue
		}
		return price, true
	}
}

// DepthLevel is one aggregated price level in a depth snapshot.
type DepthLevel struct {
	PriceCents int64 `json:"price_cents"`
	Quantity   int64 `json:"quantity"`
}

// depth returns up to n aggregated levels, best price first.
func (s *sideBook) depth(n int) []DepthLevel {
	out := make([]DepthLevel, 0, min(n, len(s.levels)))
	for price, level := range s.levels {
		if qty := level.liveQuantity(); qty > 0 {
			out = append(out, DepthLevel{PriceCents: price, Quantity: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if s.prices.max {
			return out[i].PriceCents > out[j].PriceCents
		}
		return out[i].PriceCents < out[j].PriceCents
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Book is the matching engine for a single instrument. It owns every
// resting order: the price levels and heaps hold non-owning references, and
// the resting map is the source of truth for liveness.
//
// Book is not safe for concurrent use; callers serialize access.
type Book struct {
	instrumentID uint64
	bids         *sideBook
	asks         *sideBook
	resting      map[uint64]*types.Order // order id → resting live order

	// party holds every order a party has rested that has not been
	// explicitly cancelled. Orders filled behind the party's back stay
	// listed until a mass-cancel sweep observes them dead, so the sweep can
	// report them as failures instead of silently skipping them.
	party map[string]map[uint64]struct{}
}

// New creates an empty book for one instrument.
func New(instrumentID uint64) *Book {
	return &Book{
		instrumentID: instrumentID,
		bids:         newSideBook(types.BUY),
		asks:         newSideBook(types.SELL),
		resting:      make(map[uint64]*types.Order),
		party:        make(map[string]map[uint64]struct{}),
	}
}

// InstrumentID returns the instrument this book matches.
func (b *Book) InstrumentID() uint64 { return b.instrumentID }

func (b *Book) side(s types.Side) *sideBook {
	if s == types.BUY {
		return b.bids
	}
	return b.asks
}

// Submit matches the order against resting liquidity and returns the trades
// produced, in execution order, together with a post-fill snapshot of every
// maker touched (same order). The order is mutated in place: fill counters
// advance per trade, and the Cancelled flag is set on MARKET/IOC residue.
// GTC residue is rested on the book.
//
// The caller is responsible for validation; Submit panics on contract
// violations (they are programming errors upstream).
func (b *Book) Submit(taker *types.Order) ([]types.Trade, []types.Order) {
	if taker.Quantity <= 0 || !taker.Live() {
		panic(fmt.Sprintf("book %d: submit of dead order %d", b.instrumentID, taker.OrderID))
	}

	var trades []types.Trade
	var makers []types.Order
	opp := b.side(taker.Side.Opposite())

	for taker.RemainingQuantity > 0 {
		bestPrice, ok := opp.bestPrice()
		if !ok {
			break
		}
		if taker.Type != types.OrderTypeMarket && !crosses(taker.Side, taker.PriceCents, bestPrice) {
			break
		}

		level := opp.levels[bestPrice]
		maker := level.peekLive() // non-nil: bestPrice just verified the head
		qty := min(taker.RemainingQuantity, maker.RemainingQuantity)

		maker.Fill(qty)
		taker.Fill(qty)
		trades = append(trades, types.Trade{
			InstrumentID:           b.instrumentID,
			PriceCents:             maker.PriceCents,
			Quantity:               qty,
			Timestamp:              time.Now().UnixNano(),
			MakerOrderID:           maker.OrderID,
			MakerPartyID:           maker.PartyID,
			TakerOrderID:           taker.OrderID,
			TakerPartyID:           taker.PartyID,
			MakerIsBuyer:           maker.Side == types.BUY,
			MakerQuantityRemaining: maker.RemainingQuantity,
			TakerQuantityRemaining: taker.RemainingQuantity,
		})

		if maker.RemainingQuantity == 0 {
			level.popFront()
			delete(b.resting, maker.OrderID)
		}
		makers = append(makers, maker.Snapshot())
	}

	if taker.RemainingQuantity > 0 {
		switch taker.Type {
		case types.OrderTypeGTC:
			b.rest(taker)
		default:
			// MARKET out of liquidity, or IOC residue: never rests.
			taker.Cancelled = true
		}
	}

	b.assertUncrossed()
	return trades, makers
}

// rest inserts a GTC residue into the book.
func (b *Book) rest(o *types.Order) {
	b.side(o.Side).add(o)
	b.resting[o.OrderID] = o
	ids, ok := b.party[o.PartyID]
	if !ok {
		ids = make(map[uint64]struct{})
		b.party[o.PartyID] = ids
	}
	ids[o.OrderID] = struct{}{}
}

// crosses reports whether a limit taker at price matches the best opposite
// price: a BUY crosses when best ask ≤ its limit, a SELL when best bid ≥.
func crosses(side types.Side, limit, bestOpposite int64) bool {
	if side == types.BUY {
		return bestOpposite <= limit
	}
	return bestOpposite >= limit
}

// Cancel marks a resting order cancelled and drops it from the resting map.
// The price level and heap are left to lazy-skip the dead entry, keeping
// cancellation O(1). Returns the post-cancel snapshot and true on success;
// false if the order is unknown, filled, or already cancelled.
func (b *Book) Cancel(orderID uint64) (types.Order, bool) {
	o, ok := b.resting[orderID]
	if !ok || !o.Live() {
		return types.Order{}, false
	}
	o.Cancelled = true
	delete(b.resting, orderID)
	b.dropPartyEntry(o.PartyID, orderID)
	return o.Snapshot(), true
}

func (b *Book) dropPartyEntry(partyID string, orderID uint64) {
	if ids, ok := b.party[partyID]; ok {
		delete(ids, orderID)
		if len(ids) == 0 {
			delete(b.party, partyID)
		}
	}
}

// PartyOrders returns, ascending, every order id the party has rested and
// not explicitly cancelled. Orders that have since been filled remain
// listed until dropped via DropPartyOrder; mass-cancel sweeps rely on this
// to report them as failures.
func (b *Book) PartyOrders(partyID string) []uint64 {
	ids := b.party[partyID]
	out := make([]uint64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DropPartyOrder prunes a dead order from the party index after a sweep
// has reported it.
func (b *Book) DropPartyOrder(partyID string, orderID uint64) {
	b.dropPartyEntry(partyID, orderID)
}

// Resting returns a snapshot of one resting order.
func (b *Book) Resting(orderID uint64) (types.Order, bool) {
	o, ok := b.resting[orderID]
	if !ok {
		return types.Order{}, false
	}
	return o.Snapshot(), true
}

// RestingSnapshot returns value copies of every resting order, sorted by
// ascending order id.
func (b *Book) RestingSnapshot() []types.Order {
	out := make([]types.Order, 0, len(b.resting))
	for _, o := range b.resting {
		out = append(out, o.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// RestingCount returns the number of live resting orders.
func (b *Book) RestingCount() int { return len(b.resting) }

// BestBid returns the best bid price, pruning dead levels lazily.
func (b *Book) BestBid() (int64, bool) { return b.bids.bestPrice() }

// BestAsk returns the best ask price, pruning dead levels lazily.
func (b *Book) BestAsk() (int64, bool) { return b.asks.bestPrice() }

// Depth returns up to n aggregated levels per side, best first.
func (b *Book) Depth(n int) (bids, asks []DepthLevel) {
	return b.bids.depth(n), b.asks.depth(n)
}

// Restore re-inserts an order during journal replay, preserving its
// original id, timestamp, price, and fill counters. It performs no matching
// and emits nothing. Dead orders are ignored. Replay feeds orders in
// ascending order id, so FIFO position within a level equals original
// arrival order.
func (b *Book) Restore(o *types.Order) {
	if !o.Live() {
		return
	}
	b.rest(o)
}

// assertUncrossed halts on a crossed book — continuing would corrupt every
// downstream consumer, so this is fatal rather than returned.
func (b *Book) assertUncrossed() {
	bid, okBid := b.bids.bestPrice()
	ask, okAsk := b.asks.bestPrice()
	if okBid && okAsk && bid >= ask {
		panic(fmt.Sprintf("book %d: crossed after match: bid %d >= ask %d", b.instrumentID, bid, ask))
	}
}
