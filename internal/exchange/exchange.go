// Package exchange is the multi-instrument façade over the matching books.
//
// It owns the set of order books keyed by instrument id, the process-wide
// monotonic order-id counter, and the composite event writer. All mutating
// calls against one book are serialized through that book's mutex; events
// for a call are emitted from inside the critical section, so the per-book
// event order every writer observes matches the matching order exactly.
package exchange

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"clob-engine/internal/book"
	"clob-engine/internal/journal"
	"clob-engine/internal/metrics"
	"clob-engine/pkg/types"
)

// bookSlot pairs one book with the mutex that serializes it.
type bookSlot struct {
	mu   sync.Mutex
	book *book.Book
}

// Exchange sequences orders across all instruments.
type Exchange struct {
	writer  journal.Writer
	queries journal.QueryReader // projection reads; may be nil
	logger  *slog.Logger
	metrics *metrics.Collector

	slots   map[uint64]*bookSlot
	slotsMu sync.RWMutex

	// lastID is the highest order id assigned so far; ids are allocated by
	// atomic increment and are strictly monotonic across the process
	// lifetime (rebuild re-seeds it past every journaled id).
	lastID atomic.Uint64

	closed atomic.Bool
}

// New creates an empty exchange. Run Rebuild before serving requests if a
// journal exists.
func New(writer journal.Writer, queries journal.QueryReader, logger *slog.Logger, m *metrics.Collector) *Exchange {
	return &Exchange{
		writer:  writer,
		queries: queries,
		logger:  logger.With("component", "exchange"),
		metrics: m,
		slots:   make(map[uint64]*bookSlot),
	}
}

func (e *Exchange) slot(instrumentID uint64) (*bookSlot, bool) {
	e.slotsMu.RLock()
	defer e.slotsMu.RUnlock()
	s, ok := e.slots[instrumentID]
	return s, ok
}

func instLabel(id uint64) string { return strconv.FormatUint(id, 10) }

// CreateBook registers a new instrument and its empty book, and persists
// the instrument record plus its storage namespaces.
func (e *Exchange) CreateBook(instrumentID uint64, name, description, adminPartyID string) error {
	if e.closed.Load() {
		return fmt.Errorf("exchange is shut down")
	}

	e.slotsMu.Lock()
	if _, ok := e.slots[instrumentID]; ok {
		e.slotsMu.Unlock()
		return fmt.Errorf("%w: %d", types.ErrInstrumentExists, instrumentID)
	}
	e.slots[instrumentID] = &bookSlot{book: book.New(instrumentID)}
	e.slotsMu.Unlock()

	rec := types.Instrument{
		InstrumentID: instrumentID,
		Name:         name,
		Description:  description,
		CreatedAt:    time.Now().UnixNano(),
		CreatedBy:    adminPartyID,
	}
	if err := e.writer.CreateInstrument(rec); err != nil {
		return fmt.Errorf("persist instrument %d: %w", instrumentID, err)
	}

	e.logger.Info("book created", "instrument", instrumentID, "name", name, "by", adminPartyID)
	return nil
}

// SubmitOrder validates the request, allocates an order id, matches the
// order, and emits the event group: the taker's journal snapshot, each
// trade in execution order, live-projection updates for affected makers,
// then the taker's own projection entry if it rests. Nothing is mutated and
// no id is consumed when validation fails.
func (e *Exchange) SubmitOrder(req types.SubmitRequest) (types.SubmitResult, error) {
	if e.closed.Load() {
		return types.SubmitResult{}, fmt.Errorf("exchange is shut down")
	}
	if err := req.Validate(); err != nil {
		e.metrics.OrdersRejected.Inc()
		return types.SubmitResult{}, err
	}
	slot, ok := e.slot(req.InstrumentID)
	if !ok {
		e.metrics.OrdersRejected.Inc()
		return types.SubmitResult{}, fmt.Errorf("%w: %d", types.ErrUnknownInstrument, req.InstrumentID)
	}

	id := e.lastID.Add(1)
	order := &types.Order{
		OrderID:           id,
		InstrumentID:      req.InstrumentID,
		Side:              req.Side,
		Type:              req.Type,
		PriceCents:        req.PriceCents,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		PartyID:           req.PartyID,
		Timestamp:         time.Now().UnixNano(),
	}

	slot.mu.Lock()
	trades, makers := slot.book.Submit(order)
	e.emitSubmitEvents(order, trades, makers)
	resting := slot.book.RestingCount()
	slot.mu.Unlock()

	inst := instLabel(req.InstrumentID)
	e.metrics.OrdersAccepted.WithLabelValues(inst, string(req.Type)).Inc()
	e.metrics.RestingOrders.WithLabelValues(inst).Set(float64(resting))
	for _, t := range trades {
		e.metrics.TradesMatched.WithLabelValues(inst).Inc()
		e.metrics.TradeVolume.WithLabelValues(inst).Add(float64(t.Quantity))
	}

	return types.SubmitResult{
		OrderID:           id,
		RemainingQuantity: order.RemainingQuantity,
		Cancelled:         order.Cancelled,
		Trades:            trades,
	}, nil
}

// emitSubmitEvents fans the submission's event group out to the writers:
// taker snapshot, trades in execution order, then per-maker journal
// amendments and projection updates, then the taker's own projection entry.
// Called with the book's mutex held.
func (e *Exchange) emitSubmitEvents(order *types.Order, trades []types.Trade, makers []types.Order) {
	if err := e.writer.RecordOrder(order.Snapshot()); err != nil {
		e.logger.Error("record order failed", "order", order.OrderID, "error", err)
	}
	for _, t := range trades {
		if err := e.writer.RecordTrade(t); err != nil {
			e.logger.Error("record trade failed", "taker", t.TakerOrderID, "error", err)
		}
	}
	for _, maker := range makers {
		// Amend the maker's journal entry so replay sees its post-fill
		// counters; without this, rebuild would resurrect consumed
		// liquidity.
		if err := e.writer.RecordOrder(maker); err != nil {
			e.logger.Error("record maker snapshot failed", "maker", maker.OrderID, "error", err)
		}
		if maker.RemainingQuantity == 0 {
			if err := e.writer.RemoveLiveOrder(order.InstrumentID, maker.OrderID); err != nil {
				e.logger.Error("remove live maker failed", "maker", maker.OrderID, "error", err)
			}
			continue
		}
		if err := e.writer.UpdateOrderQuantity(order.InstrumentID, maker.OrderID, maker.FilledQuantity, maker.RemainingQuantity); err != nil {
			e.logger.Error("update live maker failed", "maker", maker.OrderID, "error", err)
		}
	}
	if order.Live() {
		// GTC residue rested on the book.
		if err := e.writer.UpsertLiveOrder(order.Snapshot()); err != nil {
			e.logger.Error("upsert live order failed", "order", order.OrderID, "error", err)
		}
	}
	if err := e.writer.RecordCounter(order.OrderID + 1); err != nil {
		e.logger.Error("record counter failed", "error", err)
	}
}

// CancelOrder cancels one resting order. The canceling party must own the
// order; a mismatch reports ErrOrderNotOpen so that the existence of
// another party's order is not revealed.
func (e *Exchange) CancelOrder(instrumentID, orderID uint64, partyID string) error {
	if e.closed.Load() {
		return fmt.Errorf("exchange is shut down")
	}
	slot, ok := e.slot(instrumentID)
	if !ok {
		return fmt.Errorf("%w: %d", types.ErrUnknownInstrument, instrumentID)
	}

	slot.mu.Lock()
	resting, ok := slot.book.Resting(orderID)
	if !ok || resting.PartyID != partyID {
		slot.mu.Unlock()
		return fmt.Errorf("%w: %d", types.ErrOrderNotOpen, orderID)
	}
	snap, ok := slot.book.Cancel(orderID)
	if !ok {
		slot.mu.Unlock()
		return fmt.Errorf("%w: %d", types.ErrOrderNotOpen, orderID)
	}
	ts := time.Now().UnixNano()
	if err := e.writer.RecordCancel(instrumentID, orderID, partyID, ts); err != nil {
		e.logger.Error("record cancel failed", "order", orderID, "error", err)
	}
	if err := e.writer.RemoveLiveOrder(instrumentID, orderID); err != nil {
		e.logger.Error("remove live order failed", "order", orderID, "error", err)
	}
	// Amend the journal so replay sees the cancelled state.
	if err := e.writer.RecordOrder(snap); err != nil {
		e.logger.Error("record cancelled snapshot failed", "order", orderID, "error", err)
	}
	resting2 := slot.book.RestingCount()
	slot.mu.Unlock()

	inst := instLabel(instrumentID)
	e.metrics.CancelsTotal.WithLabelValues(inst).Inc()
	e.metrics.RestingOrders.WithLabelValues(inst).Set(float64(resting2))
	return nil
}

// CancelAllForParty cancels every order the party has open on one
// instrument. The party's order set is snapshotted first, then each order
// goes through the normal cancel path; orders that turn out to be filled
// (or raced away) land in FailedIDs and are pruned from the party index so
// a repeat sweep does not report them again.
func (e *Exchange) CancelAllForParty(instrumentID uint64, partyID string) (types.CancelAllResult, error) {
	if e.closed.Load() {
		return types.CancelAllResult{}, fmt.Errorf("exchange is shut down")
	}
	slot, ok := e.slot(instrumentID)
	if !ok {
		return types.CancelAllResult{}, fmt.Errorf("%w: %d", types.ErrUnknownInstrument, instrumentID)
	}

	slot.mu.Lock()
	ids := slot.book.PartyOrders(partyID)
	slot.mu.Unlock()

	result := types.CancelAllResult{}
	for _, id := range ids {
		if err := e.CancelOrder(instrumentID, id, partyID); err != nil {
			result.FailedIDs = append(result.FailedIDs, id)
			slot.mu.Lock()
			slot.book.DropPartyOrder(partyID, id)
			slot.mu.Unlock()
			continue
		}
		result.CancelledIDs = append(result.CancelledIDs, id)
	}
	e.logger.Info("cancel-all sweep finished",
		"instrument", instrumentID, "party", partyID,
		"cancelled", len(result.CancelledIDs), "failed", len(result.FailedIDs))
	return result, nil
}

// ————————————————————————————————————————————————————————————————————————
// Read-only queries, served from writer projections
// ————————————————————————————————————————————————————————————————————————

// Instruments lists all known instrument records.
func (e *Exchange) Instruments() ([]types.Instrument, error) {
	return e.writer.ListInstruments()
}

// OrderHistory returns the full journaled history for an instrument,
// ascending by order id (latest snapshot per order).
func (e *Exchange) OrderHistory(instrumentID uint64) ([]types.Order, error) {
	var out []types.Order
	err := e.writer.IterOrders(instrumentID, func(o types.Order) error {
		out = append(out, o)
		return nil
	})
	return out, err
}

// LiveOrders returns the open-order projection for an instrument.
func (e *Exchange) LiveOrders(instrumentID uint64) ([]types.Order, error) {
	if e.queries == nil {
		return nil, fmt.Errorf("no projection reader configured")
	}
	return e.queries.LiveOrders(instrumentID)
}

// Trades returns the instrument's trade journal in timestamp order.
func (e *Exchange) Trades(instrumentID uint64) ([]types.Trade, error) {
	if e.queries == nil {
		return nil, fmt.Errorf("no projection reader configured")
	}
	return e.queries.Trades(instrumentID)
}

// BestBidAsk returns the current top of book.
func (e *Exchange) BestBidAsk(instrumentID uint64) (bid, ask int64, hasBid, hasAsk bool, err error) {
	slot, ok := e.slot(instrumentID)
	if !ok {
		return 0, 0, false, false, fmt.Errorf("%w: %d", types.ErrUnknownInstrument, instrumentID)
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	bid, hasBid = slot.book.BestBid()
	ask, hasAsk = slot.book.BestAsk()
	return bid, ask, hasBid, hasAsk, nil
}

// Depth returns up to n aggregated price levels per side.
func (e *Exchange) Depth(instrumentID uint64, n int) (bids, asks []book.DepthLevel, err error) {
	slot, ok := e.slot(instrumentID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", types.ErrUnknownInstrument, instrumentID)
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	bids, asks = slot.book.Depth(n)
	return bids, asks, nil
}

// NextOrderID returns the id the next submission will receive.
func (e *Exchange) NextOrderID() uint64 { return e.lastID.Load() + 1 }

// Close quiesces request intake, waits for in-flight calls, and drains the
// writers.
func (e *Exchange) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Taking every book's mutex once guarantees all in-flight submissions
	// and cancels have finished emitting their events.
	e.slotsMu.RLock()
	for _, slot := range e.slots {
		slot.mu.Lock()
		slot.mu.Unlock() //nolint:staticcheck // empty critical section is the point
	}
	e.slotsMu.RUnlock()

	e.logger.Info("exchange quiesced, draining writers")
	return e.writer.Close()
}
