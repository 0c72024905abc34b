package types

import (
	"errors"
	"testing"
)

func validRequest() SubmitRequest {
	return SubmitRequest{
		InstrumentID: 100,
		Side:         BUY,
		Type:         OrderTypeGTC,
		PriceCents:   10000,
		Quantity:     5,
		PartyID:      "alice",
	}
}

func TestSubmitRequestValidate(t *testing.T) {
	t.Parallel()

	if err := (&SubmitRequest{}).Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty request error = %v, want ErrInvalidRequest", err)
	}

	req := validRequest()
	if err := req.Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	req = validRequest()
	req.Side = "HOLD"
	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("bad side error = %v, want ErrInvalidRequest", err)
	}

	req = validRequest()
	req.Type = "FOK"
	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("bad type error = %v, want ErrInvalidRequest", err)
	}

	req = validRequest()
	req.Quantity = 0
	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("zero quantity error = %v, want ErrInvalidRequest", err)
	}

	req = validRequest()
	req.PriceCents = 0
	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("GTC without price error = %v, want ErrInvalidRequest", err)
	}

	req = validRequest()
	req.Type = OrderTypeIOC
	req.PriceCents = -1
	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("IOC negative price error = %v, want ErrInvalidRequest", err)
	}

	req = validRequest()
	req.Type = OrderTypeMarket
	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("MARKET with price error = %v, want ErrInvalidRequest", err)
	}
	req.PriceCents = 0
	if err := req.Validate(); err != nil {
		t.Errorf("valid MARKET rejected: %v", err)
	}

	req = validRequest()
	req.PartyID = ""
	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing party error = %v, want ErrInvalidRequest", err)
	}
}

func TestOrderFill(t *testing.T) {
	t.Parallel()
	o := Order{OrderID: 1, Quantity: 5, RemainingQuantity: 5}

	o.Fill(3)
	if o.FilledQuantity != 3 || o.RemainingQuantity != 2 {
		t.Errorf("after fill: filled=%d remaining=%d, want 3/2", o.FilledQuantity, o.RemainingQuantity)
	}
	if !o.Live() {
		t.Error("partially filled order should be live")
	}

	o.Fill(2)
	if o.Live() {
		t.Error("fully filled order should not be live")
	}

	defer func() {
		if recover() == nil {
			t.Error("overfill did not panic")
		}
	}()
	o.Fill(1)
}

func TestSideHelpers(t *testing.T) {
	t.Parallel()

	if BUY.Opposite() != SELL || SELL.Opposite() != BUY {
		t.Error("Opposite is wrong")
	}
	if !BUY.Valid() || !SELL.Valid() || Side("SHORT").Valid() {
		t.Error("Side.Valid is wrong")
	}
	if !OrderTypeGTC.Valid() || !OrderTypeIOC.Valid() || !OrderTypeMarket.Valid() || OrderType("FOK").Valid() {
		t.Error("OrderType.Valid is wrong")
	}
}

func TestDollars(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{100, "1.00"},
		{10050, "100.50"},
		{20010, "200.10"},
	}
	for _, c := range cases {
		if got := Dollars(c.cents); got != c.want {
			t.Errorf("Dollars(%d) = %q, want %q", c.cents, got, c.want)
		}
	}
}
