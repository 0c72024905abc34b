package journal

import (
	"testing"

	"clob-engine/pkg/types"
)

func testOrder(id uint64, remaining int64) types.Order {
	return types.Order{
		OrderID:           id,
		InstrumentID:      100,
		Side:              types.SELL,
		Type:              types.OrderTypeGTC,
		PriceCents:        10000,
		Quantity:          5,
		FilledQuantity:    5 - remaining,
		RemainingQuantity: remaining,
		PartyID:           "A",
		Timestamp:         int64(id) * 1000,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreInstruments(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	rec := types.Instrument{InstrumentID: 100, Name: "WIDGET", CreatedBy: "admin"}
	if err := s.CreateInstrument(rec); err != nil {
		t.Fatal(err)
	}
	// Re-creating the same record is a no-op, not a duplicate.
	if err := s.CreateInstrument(rec); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateInstrument(types.Instrument{InstrumentID: 200, Name: "GADGET"}); err != nil {
		t.Fatal(err)
	}

	recs, err := s.ListInstruments()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("instruments = %d, want 2", len(recs))
	}
	if recs[0].InstrumentID != 100 || recs[0].Name != "WIDGET" {
		t.Errorf("first instrument = %+v", recs[0])
	}
}

func TestStoreOrderJournalLatestWins(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	// Order 2 journaled twice: submit-time snapshot, then an amendment
	// after a fill. Replay must see only the amended state, ascending by id.
	if err := s.AppendOrder(testOrder(2, 5)); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendOrder(testOrder(1, 5)); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendOrder(testOrder(2, 2)); err != nil {
		t.Fatal(err)
	}

	var got []types.Order
	err := s.IterOrders(100, func(o types.Order) error {
		got = append(got, o)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("orders = %d, want 2", len(got))
	}
	if got[0].OrderID != 1 || got[1].OrderID != 2 {
		t.Errorf("order ids = %d,%d, want ascending 1,2", got[0].OrderID, got[1].OrderID)
	}
	if got[1].RemainingQuantity != 2 {
		t.Errorf("order 2 remaining = %d, want amended 2", got[1].RemainingQuantity)
	}
}

func TestStoreLiveProjection(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.UpsertLive(testOrder(1, 5)); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertLive(testOrder(2, 3)); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateLiveQuantity(100, 1, 4, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveLive(100, 2); err != nil {
		t.Fatal(err)
	}
	// Removing an absent order is idempotent.
	if err := s.RemoveLive(100, 2); err != nil {
		t.Fatal(err)
	}

	live, err := s.LiveOrders(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 {
		t.Fatalf("live = %d, want 1", len(live))
	}
	if live[0].OrderID != 1 || live[0].FilledQuantity != 4 || live[0].RemainingQuantity != 1 {
		t.Errorf("live[0] = %+v, want order 1 filled 4 remaining 1", live[0])
	}
}

func TestStoreLiveProjectionSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertLive(testOrder(7, 2)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	live, err := s2.LiveOrders(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 || live[0].OrderID != 7 {
		t.Fatalf("live after reopen = %+v, want order 7", live)
	}
}

func TestStoreTrades(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for i := int64(1); i <= 3; i++ {
		err := s.AppendTrade(types.Trade{
			InstrumentID: 100,
			PriceCents:   10000,
			Quantity:     i,
			Timestamp:    i,
			MakerOrderID: 1,
			TakerOrderID: 2,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	trades, err := s.Trades(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 3 {
		t.Fatalf("trades = %d, want 3", len(trades))
	}
	for i, tr := range trades {
		if tr.Quantity != int64(i)+1 {
			t.Errorf("trade %d quantity = %d, want append order preserved", i, tr.Quantity)
		}
	}
}

func TestStoreCounterMonotonic(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if n, err := s.Counter(); err != nil || n != 0 {
		t.Fatalf("fresh counter = %d err=%v, want 0", n, err)
	}
	if err := s.SaveCounter(10); err != nil {
		t.Fatal(err)
	}
	// A stale batched write must not lower the mark.
	if err := s.SaveCounter(5); err != nil {
		t.Fatal(err)
	}
	n, err := s.Counter()
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("counter = %d, want 10", n)
	}
}
