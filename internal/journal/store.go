package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"clob-engine/pkg/types"
)

// Store is the file-backed durable storage under the queued writer.
//
// Layout, one directory for the whole exchange:
//
//	instruments.json   — all instrument records
//	counter.json       — order-id high-water mark
//	orders_<id>.jsonl  — full order journal, one snapshot per line; the
//	                     latest snapshot per order id wins on replay
//	trades_<id>.jsonl  — trade journal, one trade per line
//	cancels_<id>.jsonl — cancel events, one per line
//	live_<id>.json     — open-order projection for one instrument
//
// Append streams are written through buffered handles that are flushed and
// synced per record. Whole-file documents (instruments, counter, live
// projection) use atomic replacement: write to a .tmp file, then rename, so
// a crash mid-save never leaves a partial file. All operations are
// mutex-protected.
type Store struct {
	dir string
	mu  sync.Mutex

	appenders map[string]*appender              // file name → open append handle
	live      map[uint64]map[uint64]types.Order // instrument → order id → live order
}

type appender struct {
	f *os.File
	w *bufio.Writer
}

// cancelRecord is the stored shape of one cancel event.
type cancelRecord struct {
	InstrumentID uint64 `json:"instrument_id"`
	OrderID      uint64 `json:"order_id"`
	PartyID      string `json:"party_id"`
	Timestamp    int64  `json:"timestamp"`
}

type counterDoc struct {
	Next uint64 `json:"next"`
}

// OpenStore creates (if needed) and opens a store directory.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{
		dir:       dir,
		appenders: make(map[string]*appender),
		live:      make(map[uint64]map[uint64]types.Order),
	}, nil
}

// Close flushes and closes all open journal handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, a := range s.appenders {
		if err := a.w.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush %s: %w", name, err)
		}
		if err := a.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
	}
	s.appenders = make(map[string]*appender)
	return firstErr
}

// ————————————————————————————————————————————————————————————————————————
// Mutations (called by the durable writer's consumer)
// ————————————————————————————————————————————————————————————————————————

// CreateInstrument appends the record to instruments.json and creates the
// per-instrument stream files.
func (s *Store) CreateInstrument(rec types.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.readInstruments()
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.InstrumentID == rec.InstrumentID {
			// Instrument records are immutable; re-creation during a
			// replayed create is a no-op.
			return nil
		}
	}
	recs = append(recs, rec)
	if err := s.writeAtomic("instruments.json", recs); err != nil {
		return err
	}

	// Touch the stream files so the namespaces exist even before the first
	// event lands.
	for _, name := range []string{
		ordersFile(rec.InstrumentID),
		tradesFile(rec.InstrumentID),
		cancelsFile(rec.InstrumentID),
	} {
		if _, err := s.openAppender(name); err != nil {
			return err
		}
	}
	return s.writeAtomic(liveFile(rec.InstrumentID), []types.Order{})
}

// AppendOrder appends one order snapshot to the instrument's order journal.
func (s *Store) AppendOrder(o types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendJSON(ordersFile(o.InstrumentID), o)
}

// AppendTrade appends one trade to the instrument's trade journal.
func (s *Store) AppendTrade(t types.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendJSON(tradesFile(t.InstrumentID), t)
}

// AppendCancel appends one cancel event.
func (s *Store) AppendCancel(instrumentID, orderID uint64, partyID string, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendJSON(cancelsFile(instrumentID), cancelRecord{
		InstrumentID: instrumentID,
		OrderID:      orderID,
		PartyID:      partyID,
		Timestamp:    ts,
	})
}

// UpsertLive replaces the projected open state of one order.
func (s *Store) UpsertLive(o types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := s.projection(o.InstrumentID)
	if err != nil {
		return err
	}
	proj[o.OrderID] = o
	return s.saveProjection(o.InstrumentID, proj)
}

// RemoveLive drops one order from the projection. Removing an absent order
// is a no-op so replayed removals stay idempotent.
func (s *Store) RemoveLive(instrumentID, orderID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := s.projection(instrumentID)
	if err != nil {
		return err
	}
	if _, ok := proj[orderID]; !ok {
		return nil
	}
	delete(proj, orderID)
	return s.saveProjection(instrumentID, proj)
}

// UpdateLiveQuantity patches the fill counters of a projected order.
func (s *Store) UpdateLiveQuantity(instrumentID, orderID uint64, filled, remaining int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := s.projection(instrumentID)
	if err != nil {
		return err
	}
	o, ok := proj[orderID]
	if !ok {
		return nil
	}
	o.FilledQuantity = filled
	o.RemainingQuantity = remaining
	proj[orderID] = o
	return s.saveProjection(instrumentID, proj)
}

// SaveCounter persists the order-id high-water mark. The mark only moves
// forward; a stale batched write can never lower it.
func (s *Store) SaveCounter(next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.readCounter()
	if err != nil {
		return err
	}
	if next <= cur {
		return nil
	}
	return s.writeAtomic("counter.json", counterDoc{Next: next})
}

// ————————————————————————————————————————————————————————————————————————
// Reads (rebuild + queries; synchronous, bypass the writer queue)
// ————————————————————————————————————————————————————————————————————————

// ListInstruments returns all instrument records.
func (s *Store) ListInstruments() ([]types.Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readInstruments()
}

// IterOrders streams the latest snapshot of every journaled order,
// ascending by order id.
func (s *Store) IterOrders(instrumentID uint64, fn func(types.Order) error) error {
	s.mu.Lock()
	orders, err := s.readOrderJournal(instrumentID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, o := range orders {
		if err := fn(o); err != nil {
			return err
		}
	}
	return nil
}

// LiveOrders returns the open-order projection, ascending by order id.
func (s *Store) LiveOrders(instrumentID uint64) ([]types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := s.projection(instrumentID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Order, 0, len(proj))
	for _, o := range proj {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

// Trades returns the instrument's trade journal in append (timestamp) order.
func (s *Store) Trades(instrumentID uint64) ([]types.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flush(tradesFile(instrumentID)); err != nil {
		return nil, err
	}
	var out []types.Trade
	err := readLines(filepath.Join(s.dir, tradesFile(instrumentID)), func(line []byte) error {
		var t types.Trade
		if err := json.Unmarshal(line, &t); err != nil {
			return fmt.Errorf("decode trade: %w", err)
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

// Counter returns the persisted order-id high-water mark, or 0 when no
// counter has been saved yet.
func (s *Store) Counter() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readCounter()
}

// ————————————————————————————————————————————————————————————————————————
// Internals
// ————————————————————————————————————————————————————————————————————————

func ordersFile(id uint64) string  { return fmt.Sprintf("orders_%d.jsonl", id) }
func tradesFile(id uint64) string  { return fmt.Sprintf("trades_%d.jsonl", id) }
func cancelsFile(id uint64) string { return fmt.Sprintf("cancels_%d.jsonl", id) }
func liveFile(id uint64) string    { return fmt.Sprintf("live_%d.json", id) }

func (s *Store) openAppender(name string) (*appender, error) {
	if a, ok := s.appenders[name]; ok {
		return a, nil
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", name, err)
	}
	a := &appender{f: f, w: bufio.NewWriter(f)}
	s.appenders[name] = a
	return a, nil
}

func (s *Store) appendJSON(name string, v any) error {
	a, err := s.openAppender(name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", name, err)
	}
	if _, err := a.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", name, err)
	}
	if err := a.w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", name, err)
	}
	return a.f.Sync()
}

func (s *Store) flush(name string) error {
	if a, ok := s.appenders[name]; ok {
		return a.w.Flush()
	}
	return nil
}

func (s *Store) readOrderJournal(instrumentID uint64) ([]types.Order, error) {
	if err := s.flush(ordersFile(instrumentID)); err != nil {
		return nil, err
	}
	latest := make(map[uint64]types.Order)
	err := readLines(filepath.Join(s.dir, ordersFile(instrumentID)), func(line []byte) error {
		var o types.Order
		if err := json.Unmarshal(line, &o); err != nil {
			return fmt.Errorf("decode order: %w", err)
		}
		latest[o.OrderID] = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]types.Order, 0, len(latest))
	for _, o := range latest {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (s *Store) projection(instrumentID uint64) (map[uint64]types.Order, error) {
	if proj, ok := s.live[instrumentID]; ok {
		return proj, nil
	}
	proj := make(map[uint64]types.Order)
	data, err := os.ReadFile(filepath.Join(s.dir, liveFile(instrumentID)))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read live projection: %w", err)
		}
	} else {
		var orders []types.Order
		if err := json.Unmarshal(data, &orders); err != nil {
			return nil, fmt.Errorf("decode live projection: %w", err)
		}
		for _, o := range orders {
			proj[o.OrderID] = o
		}
	}
	s.live[instrumentID] = proj
	return proj, nil
}

func (s *Store) saveProjection(instrumentID uint64, proj map[uint64]types.Order) error {
	orders := make([]types.Order, 0, len(proj))
	for _, o := range proj {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })
	return s.writeAtomic(liveFile(instrumentID), orders)
}

func (s *Store) readInstruments() ([]types.Instrument, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "instruments.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read instruments: %w", err)
	}
	var recs []types.Instrument
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode instruments: %w", err)
	}
	return recs, nil
}

func (s *Store) readCounter() (uint64, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "counter.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read counter: %w", err)
	}
	var doc counterDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("decode counter: %w", err)
	}
	return doc.Next, nil
}

// writeAtomic writes to a .tmp file first, then renames over the target so
// the file is never left in a partial state.
func (s *Store) writeAtomic(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

func readLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}
