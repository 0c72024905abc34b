package exchange

import (
	"fmt"

	"clob-engine/internal/book"
	"clob-engine/pkg/types"
)

// Rebuild reconstructs every book from the durable journal. It runs
// single-threaded at startup, before any request is accepted.
//
// For each known instrument the full order journal is streamed in ascending
// order id; entries that are cancelled or fully filled are skipped, and the
// rest are re-inserted through the replay path, which preserves the
// original id, timestamp, price, and fill counters and emits no writer
// events. Afterwards the id counter is seeded past both the highest
// observed id and the persisted high-water mark, so replay can never
// reissue an id even when the batched counter write lagged a crash.
//
// Rebuild is idempotent: running it again over the same journal prefix
// replaces the books with identical state and the same next id.
func (e *Exchange) Rebuild() error {
	instruments, err := e.writer.ListInstruments()
	if err != nil {
		return fmt.Errorf("list instruments: %w", err)
	}

	slots := make(map[uint64]*bookSlot, len(instruments))
	var maxID uint64

	for _, inst := range instruments {
		b := book.New(inst.InstrumentID)
		var replayed int
		err := e.writer.IterOrders(inst.InstrumentID, func(o types.Order) error {
			if o.OrderID > maxID {
				maxID = o.OrderID
			}
			if o.Cancelled || o.RemainingQuantity == 0 {
				return nil
			}
			restored := o
			b.Restore(&restored)
			replayed++
			return nil
		})
		if err != nil {
			return fmt.Errorf("replay instrument %d: %w", inst.InstrumentID, err)
		}
		slots[inst.InstrumentID] = &bookSlot{book: b}
		e.metrics.RestingOrders.WithLabelValues(instLabel(inst.InstrumentID)).Set(float64(replayed))
		e.logger.Info("book rebuilt",
			"instrument", inst.InstrumentID, "live_orders", replayed)
	}

	persisted, err := e.writer.Counter()
	if err != nil {
		return fmt.Errorf("read counter: %w", err)
	}

	last := maxID
	if persisted > 0 && persisted-1 > last {
		last = persisted - 1
	}

	e.slotsMu.Lock()
	e.slots = slots
	e.slotsMu.Unlock()
	e.lastID.Store(last)

	e.logger.Info("rebuild complete",
		"instruments", len(instruments), "next_order_id", last+1)
	return nil
}
