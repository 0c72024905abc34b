package journal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clob-engine/internal/metrics"
	"clob-engine/pkg/types"
)

type eventKind int

const (
	evCreateInstrument eventKind = iota
	evOrder
	evTrade
	evCancel
	evUpsertLive
	evRemoveLive
	evUpdateQuantity
	evCounter
)

func (k eventKind) String() string {
	switch k {
	case evCreateInstrument:
		return "create_instrument"
	case evOrder:
		return "record_order"
	case evTrade:
		return "record_trade"
	case evCancel:
		return "record_cancel"
	case evUpsertLive:
		return "upsert_live_order"
	case evRemoveLive:
		return "remove_live_order"
	case evUpdateQuantity:
		return "update_order_quantity"
	case evCounter:
		return "record_counter"
	}
	return "unknown"
}

// event is one tagged entry on the durable queue.
type event struct {
	kind         eventKind
	instrument   types.Instrument
	order        types.Order
	trade        types.Trade
	instrumentID uint64
	orderID      uint64
	partyID      string
	ts           int64
	filled       int64
	remaining    int64
	counter      uint64
}

const (
	maxApplyAttempts = 5
	retryBaseDelay   = 20 * time.Millisecond
)

// QueuedDurableWriter keeps the matching hot path free of storage I/O:
// every mutating operation enqueues a tagged event and returns immediately,
// and a background consumer applies the store mutations strictly in enqueue
// order.
//
// Failure policy in the consumer: transient storage errors are retried with
// bounded backoff; an event that keeps failing is logged and skipped so the
// queue stays live, and the loss of durability is surfaced through the
// poisoned-events metric rather than back to the matching path.
//
// The order-id counter is persisted in batches (every counterBatch
// allocations, and once more on Close); rebuild recomputes the true next id
// from observed order ids, so the batched mark only needs to be an upper
// bound against id reuse.
//
// Replay reads (IterOrders, ListInstruments, Counter) bypass the queue and
// hit the store synchronously.
type QueuedDurableWriter struct {
	store        *Store
	queue        chan event
	counterBatch uint64
	logger       *slog.Logger
	metrics      *metrics.Collector

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewQueuedDurable starts the background consumer. queueSize bounds the
// in-memory queue; a full queue blocks the producer and counts as
// back-pressure. counterBatch controls how often the id high-water mark is
// flushed to storage.
func NewQueuedDurable(store *Store, queueSize int, counterBatch uint64, logger *slog.Logger, m *metrics.Collector) *QueuedDurableWriter {
	if queueSize <= 0 {
		queueSize = 4096
	}
	if counterBatch == 0 {
		counterBatch = 64
	}
	w := &QueuedDurableWriter{
		store:        store,
		queue:        make(chan event, queueSize),
		counterBatch: counterBatch,
		logger:       logger.With("component", "durable-writer"),
		metrics:      m,
		done:         make(chan struct{}),
	}
	go w.consume()
	return w
}

// enqueue hands an event to the consumer. Blocks only when the queue is
// full, which is recorded as back-pressure.
func (w *QueuedDurableWriter) enqueue(ev event) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("durable writer closed, dropping %s", ev.kind)
	}
	w.mu.Unlock()

	select {
	case w.queue <- ev:
	default:
		w.metrics.WriterBackpressure.Inc()
		w.queue <- ev
	}
	w.metrics.QueueDepth.Set(float64(len(w.queue)))
	return nil
}

func (w *QueuedDurableWriter) consume() {
	defer close(w.done)
	var lastCounter uint64
	for ev := range w.queue {
		w.metrics.QueueDepth.Set(float64(len(w.queue)))
		if ev.kind == evCounter {
			// Batched: only flush every counterBatch ids. lastCounter
			// tracks the highest mark seen so Close can flush the tail.
			if ev.counter > lastCounter {
				lastCounter = ev.counter
			}
			if ev.counter%w.counterBatch != 0 {
				continue
			}
		}
		w.apply(ev)
	}
	if lastCounter > 0 {
		w.apply(event{kind: evCounter, counter: lastCounter})
	}
}

func (w *QueuedDurableWriter) apply(ev event) {
	var err error
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		if err = w.applyOnce(ev); err == nil {
			return
		}
		w.metrics.WriterRetries.Inc()
		w.logger.Warn("storage mutation failed, retrying",
			"op", ev.kind.String(), "attempt", attempt, "error", err)
		time.Sleep(retryBaseDelay * time.Duration(attempt))
	}
	// Poison event: skip it to preserve liveness. Durability loss is a
	// health signal, not a matching-path error.
	w.metrics.WriterPoisoned.Inc()
	w.logger.Error("storage mutation abandoned after retries",
		"op", ev.kind.String(), "error", err)
}

func (w *QueuedDurableWriter) applyOnce(ev event) error {
	switch ev.kind {
	case evCreateInstrument:
		return w.store.CreateInstrument(ev.instrument)
	case evOrder:
		return w.store.AppendOrder(ev.order)
	case evTrade:
		return w.store.AppendTrade(ev.trade)
	case evCancel:
		return w.store.AppendCancel(ev.instrumentID, ev.orderID, ev.partyID, ev.ts)
	case evUpsertLive:
		return w.store.UpsertLive(ev.order)
	case evRemoveLive:
		return w.store.RemoveLive(ev.instrumentID, ev.orderID)
	case evUpdateQuantity:
		return w.store.UpdateLiveQuantity(ev.instrumentID, ev.orderID, ev.filled, ev.remaining)
	case evCounter:
		return w.store.SaveCounter(ev.counter)
	}
	return fmt.Errorf("unknown event kind %d", ev.kind)
}

func (w *QueuedDurableWriter) CreateInstrument(rec types.Instrument) error {
	return w.enqueue(event{kind: evCreateInstrument, instrument: rec})
}

func (w *QueuedDurableWriter) RecordOrder(o types.Order) error {
	return w.enqueue(event{kind: evOrder, order: o})
}

func (w *QueuedDurableWriter) RecordTrade(t types.Trade) error {
	return w.enqueue(event{kind: evTrade, trade: t})
}

func (w *QueuedDurableWriter) RecordCancel(instrumentID, orderID uint64, partyID string, ts int64) error {
	return w.enqueue(event{kind: evCancel, instrumentID: instrumentID, orderID: orderID, partyID: partyID, ts: ts})
}

func (w *QueuedDurableWriter) UpsertLiveOrder(o types.Order) error {
	return w.enqueue(event{kind: evUpsertLive, order: o})
}

func (w *QueuedDurableWriter) RemoveLiveOrder(instrumentID, orderID uint64) error {
	return w.enqueue(event{kind: evRemoveLive, instrumentID: instrumentID, orderID: orderID})
}

func (w *QueuedDurableWriter) UpdateOrderQuantity(instrumentID, orderID uint64, filled, remaining int64) error {
	return w.enqueue(event{kind: evUpdateQuantity, instrumentID: instrumentID, orderID: orderID, filled: filled, remaining: remaining})
}

func (w *QueuedDurableWriter) RecordCounter(next uint64) error {
	return w.enqueue(event{kind: evCounter, counter: next})
}

func (w *QueuedDurableWriter) IterOrders(instrumentID uint64, fn func(types.Order) error) error {
	return w.store.IterOrders(instrumentID, fn)
}

func (w *QueuedDurableWriter) ListInstruments() ([]types.Instrument, error) {
	return w.store.ListInstruments()
}

func (w *QueuedDurableWriter) Counter() (uint64, error) {
	return w.store.Counter()
}

// LiveOrders reads the open-order projection synchronously from the store.
func (w *QueuedDurableWriter) LiveOrders(instrumentID uint64) ([]types.Order, error) {
	return w.store.LiveOrders(instrumentID)
}

// Trades reads the trade journal synchronously from the store.
func (w *QueuedDurableWriter) Trades(instrumentID uint64) ([]types.Trade, error) {
	return w.store.Trades(instrumentID)
}

// Close stops intake, drains every pending event synchronously, flushes the
// counter tail, and closes the store.
func (w *QueuedDurableWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.queue)
	<-w.done
	return w.store.Close()
}
