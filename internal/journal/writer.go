// Package journal implements the event writer pipeline behind the
// exchange: a queued durable writer backed by the file store, a WebSocket
// broadcast writer, an append-only textual backup writer, and the composite
// fan-out that ties them together.
//
// All writers honor the same ordering contract: events handed to a writer
// are applied (or published) in hand-off order. The exchange emits the
// events for one submission from inside the book's critical section, so the
// per-book event sequence every writer observes is identical.
package journal

import (
	"log/slog"

	"clob-engine/pkg/types"
)

// Writer is the uniform contract for durable, broadcast, and backup event
// sinks. Mutating operations may be applied asynchronously but must
// preserve hand-off order. The replay operations (IterOrders,
// ListInstruments, Counter) read synchronously; writers that do not
// participate in replay return empty results.
type Writer interface {
	// CreateInstrument persists instrument metadata and prepares the
	// per-instrument streams.
	CreateInstrument(rec types.Instrument) error
	// RecordOrder appends a full order snapshot to the order journal. The
	// latest snapshot per order id wins on replay.
	RecordOrder(o types.Order) error
	// RecordTrade appends a trade to the trade journal.
	RecordTrade(t types.Trade) error
	// RecordCancel records a cancel event.
	RecordCancel(instrumentID, orderID uint64, partyID string, ts int64) error
	// UpsertLiveOrder projects the current open state of an order.
	UpsertLiveOrder(o types.Order) error
	// RemoveLiveOrder drops an order from the open-order projection.
	RemoveLiveOrder(instrumentID, orderID uint64) error
	// UpdateOrderQuantity patches fill counters in the open-order projection.
	UpdateOrderQuantity(instrumentID, orderID uint64, filled, remaining int64) error
	// RecordCounter persists the order-id high-water mark.
	RecordCounter(next uint64) error

	// IterOrders streams order snapshots ascending by order id. Replay only.
	IterOrders(instrumentID uint64, fn func(types.Order) error) error
	// ListInstruments returns all known instrument records. Replay only.
	ListInstruments() ([]types.Instrument, error)
	// Counter returns the persisted order-id high-water mark, or 0.
	Counter() (uint64, error)

	// Close drains pending work and releases resources.
	Close() error
}

// QueryReader serves the read-only projection queries (live orders, trade
// history) that the exchange exposes to collaborators. The durable writer
// implements it by reading the store directly.
type QueryReader interface {
	LiveOrders(instrumentID uint64) ([]types.Order, error)
	Trades(instrumentID uint64) ([]types.Trade, error)
}

// CompositeWriter fans every mutating call out to an ordered list of
// writers. The first writer is the primary: its result is surfaced, and
// queries are served from it alone. Failures in secondary writers are
// logged and swallowed so they can never affect primary durability.
type CompositeWriter struct {
	writers []Writer
	logger  *slog.Logger
}

// NewComposite builds a composite over writers; writers[0] is the primary.
func NewComposite(logger *slog.Logger, writers ...Writer) *CompositeWriter {
	if len(writers) == 0 {
		panic("composite writer requires at least one backing writer")
	}
	return &CompositeWriter{
		writers: writers,
		logger:  logger.With("component", "composite-writer"),
	}
}

func (c *CompositeWriter) fanOut(op string, fn func(Writer) error) error {
	var primary error
	for i, w := range c.writers {
		err := fn(w)
		if i == 0 {
			primary = err
			continue
		}
		if err != nil {
			c.logger.Error("secondary writer failed", "op", op, "writer", i, "error", err)
		}
	}
	return primary
}

func (c *CompositeWriter) CreateInstrument(rec types.Instrument) error {
	return c.fanOut("create_instrument", func(w Writer) error { return w.CreateInstrument(rec) })
}

func (c *CompositeWriter) RecordOrder(o types.Order) error {
	return c.fanOut("record_order", func(w Writer) error { return w.RecordOrder(o) })
}

func (c *CompositeWriter) RecordTrade(t types.Trade) error {
	return c.fanOut("record_trade", func(w Writer) error { return w.RecordTrade(t) })
}

func (c *CompositeWriter) RecordCancel(instrumentID, orderID uint64, partyID string, ts int64) error {
	return c.fanOut("record_cancel", func(w Writer) error {
		return w.RecordCancel(instrumentID, orderID, partyID, ts)
	})
}

func (c *CompositeWriter) UpsertLiveOrder(o types.Order) error {
	return c.fanOut("upsert_live_order", func(w Writer) error { return w.UpsertLiveOrder(o) })
}

func (c *CompositeWriter) RemoveLiveOrder(instrumentID, orderID uint64) error {
	return c.fanOut("remove_live_order", func(w Writer) error {
		return w.RemoveLiveOrder(instrumentID, orderID)
	})
}

func (c *CompositeWriter) UpdateOrderQuantity(instrumentID, orderID uint64, filled, remaining int64) error {
	return c.fanOut("update_order_quantity", func(w Writer) error {
		return w.UpdateOrderQuantity(instrumentID, orderID, filled, remaining)
	})
}

func (c *CompositeWriter) RecordCounter(next uint64) error {
	return c.fanOut("record_counter", func(w Writer) error { return w.RecordCounter(next) })
}

func (c *CompositeWriter) IterOrders(instrumentID uint64, fn func(types.Order) error) error {
	return c.writers[0].IterOrders(instrumentID, fn)
}

func (c *CompositeWriter) ListInstruments() ([]types.Instrument, error) {
	return c.writers[0].ListInstruments()
}

func (c *CompositeWriter) Counter() (uint64, error) {
	return c.writers[0].Counter()
}

// Close closes every writer, primary last so secondaries can still observe
// a consistent primary while draining.
func (c *CompositeWriter) Close() error {
	var primary error
	for i := len(c.writers) - 1; i >= 0; i-- {
		err := c.writers[i].Close()
		if i == 0 {
			primary = err
		} else if err != nil {
			c.logger.Error("secondary writer close failed", "writer", i, "error", err)
		}
	}
	return primary
}
