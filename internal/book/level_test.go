package book

import (
	"testing"

	"clob-engine/pkg/types"
)

func gtc(id uint64, side types.Side, price, qty int64) *types.Order {
	return &types.Order{
		OrderID:           id,
		InstrumentID:      100,
		Side:              side,
		Type:              types.OrderTypeGTC,
		PriceCents:        price,
		Quantity:          qty,
		RemainingQuantity: qty,
		PartyID:           "p",
	}
}

func TestLevelFIFO(t *testing.T) {
	t.Parallel()
	l := newPriceLevel(10000)

	l.append(gtc(1, types.SELL, 10000, 5))
	l.append(gtc(2, types.SELL, 10000, 3))

	if got := l.peekLive(); got == nil || got.OrderID != 1 {
		t.Fatalf("peekLive = %v, want order 1", got)
	}
	l.popFront()
	if got := l.peekLive(); got == nil || got.OrderID != 2 {
		t.Fatalf("peekLive after pop = %v, want order 2", got)
	}
}

func TestLevelSkipsDeadHeads(t *testing.T) {
	t.Parallel()
	l := newPriceLevel(10000)

	cancelled := gtc(1, types.SELL, 10000, 5)
	cancelled.Cancelled = true
	filled := gtc(2, types.SELL, 10000, 4)
	filled.Fill(4)
	live := gtc(3, types.SELL, 10000, 2)

	l.append(cancelled)
	l.append(filled)
	l.append(live)

	if got := l.peekLive(); got == nil || got.OrderID != 3 {
		t.Fatalf("peekLive = %v, want order 3", got)
	}
	// Dead heads were discarded, not just skipped.
	if len(l.orders) != 1 {
		t.Errorf("len(orders) = %d, want 1 after discarding dead heads", len(l.orders))
	}
}

func TestLevelPeekLiveEmpty(t *testing.T) {
	t.Parallel()
	l := newPriceLevel(10000)

	if got := l.peekLive(); got != nil {
		t.Errorf("peekLive on empty level = %v, want nil", got)
	}

	dead := gtc(1, types.SELL, 10000, 5)
	dead.Cancelled = true
	l.append(dead)
	if got := l.peekLive(); got != nil {
		t.Errorf("peekLive with only dead orders = %v, want nil", got)
	}
}

func TestLevelLiveQuantity(t *testing.T) {
	t.Parallel()
	l := newPriceLevel(10000)

	a := gtc(1, types.SELL, 10000, 5)
	b := gtc(2, types.SELL, 10000, 3)
	b.Cancelled = true
	c := gtc(3, types.SELL, 10000, 2)
	c.Fill(1)

	l.append(a)
	l.append(b)
	l.append(c)

	if got := l.liveQuantity(); got != 6 {
		t.Errorf("liveQuantity = %d, want 6", got)
	}
}
