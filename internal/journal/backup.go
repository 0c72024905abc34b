package journal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"clob-engine/pkg/types"
)

// BackupWriter appends one human-readable line per event to a plain-text
// journal, one file per (instrument, event kind):
//
//	orders_<id>.log, trades_<id>.log, cancels_<id>.log
//
// Lines are written by a worker goroutine so the hot path only enqueues.
// The format is for operators and offline tooling; it is not parsed back
// and the writer does not participate in replay.
type BackupWriter struct {
	dir    string
	lines  chan backupLine
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	files  map[string]*os.File
}

type backupLine struct {
	file string
	text string
}

// NewBackup opens (creating if needed) the backup directory and starts the
// worker.
func NewBackup(dir string, logger *slog.Logger) (*BackupWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	w := &BackupWriter{
		dir:    dir,
		lines:  make(chan backupLine, 4096),
		logger: logger.With("component", "backup-writer"),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
	}
	go w.work()
	return w, nil
}

func (w *BackupWriter) work() {
	defer close(w.done)
	for line := range w.lines {
		f, err := w.file(line.file)
		if err != nil {
			w.logger.Error("backup file unavailable", "file", line.file, "error", err)
			continue
		}
		if _, err := f.WriteString(line.text + "\n"); err != nil {
			w.logger.Error("backup append failed", "file", line.file, "error", err)
		}
	}
}

func (w *BackupWriter) file(name string) (*os.File, error) {
	if f, ok := w.files[name]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	w.files[name] = f
	return f, nil
}

func (w *BackupWriter) emit(file, text string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("backup writer closed")
	}
	w.mu.Unlock()

	select {
	case w.lines <- backupLine{file: file, text: text}:
	default:
		// Backup is best-effort; shedding beats stalling the pipeline.
		w.logger.Warn("backup queue full, dropping line", "file", file)
	}
	return nil
}

func stamp(ns int64) string {
	return time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
}

func (w *BackupWriter) CreateInstrument(rec types.Instrument) error {
	return w.emit("instruments.log",
		fmt.Sprintf("%s INSTRUMENT id=%d name=%q created_by=%s",
			stamp(rec.CreatedAt), rec.InstrumentID, rec.Name, rec.CreatedBy))
}

func (w *BackupWriter) RecordOrder(o types.Order) error {
	return w.emit(fmt.Sprintf("orders_%d.log", o.InstrumentID),
		fmt.Sprintf("%s ORDER id=%d side=%s type=%s price=$%s qty=%d filled=%d remaining=%d cancelled=%t party=%s",
			stamp(o.Timestamp), o.OrderID, o.Side, o.Type, types.Dollars(o.PriceCents),
			o.Quantity, o.FilledQuantity, o.RemainingQuantity, o.Cancelled, o.PartyID))
}

func (w *BackupWriter) RecordTrade(t types.Trade) error {
	return w.emit(fmt.Sprintf("trades_%d.log", t.InstrumentID),
		fmt.Sprintf("%s TRADE price=$%s qty=%d maker=%d taker=%d maker_is_buyer=%t maker_remaining=%d taker_remaining=%d",
			stamp(t.Timestamp), types.Dollars(t.PriceCents), t.Quantity,
			t.MakerOrderID, t.TakerOrderID, t.MakerIsBuyer,
			t.MakerQuantityRemaining, t.TakerQuantityRemaining))
}

func (w *BackupWriter) RecordCancel(instrumentID, orderID uint64, partyID string, ts int64) error {
	return w.emit(fmt.Sprintf("cancels_%d.log", instrumentID),
		fmt.Sprintf("%s CANCEL order=%d party=%s", stamp(ts), orderID, partyID))
}

func (w *BackupWriter) UpsertLiveOrder(types.Order) error { return nil }
func (w *BackupWriter) RemoveLiveOrder(uint64, uint64) error { return nil }
func (w *BackupWriter) UpdateOrderQuantity(uint64, uint64, int64, int64) error { return nil }
func (w *BackupWriter) RecordCounter(uint64) error { return nil }

// IterOrders is empty: backup journals do not participate in replay.
func (w *BackupWriter) IterOrders(uint64, func(types.Order) error) error { return nil }

func (w *BackupWriter) ListInstruments() ([]types.Instrument, error) { return nil, nil }

func (w *BackupWriter) Counter() (uint64, error) { return 0, nil }

// Close drains pending lines and closes every journal file.
func (w *BackupWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.lines)
	<-w.done

	var firstErr error
	for name, f := range w.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
	}
	w.files = nil
	return firstErr
}
