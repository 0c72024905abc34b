package types

import "errors"

// Error taxonomy surfaced through the exchange API. Expected-state failures
// are returned as wrapped sentinel errors and checked with errors.Is;
// invariant violations inside the engine panic instead.
var (
	// ErrUnknownInstrument — the instrument id does not exist.
	ErrUnknownInstrument = errors.New("unknown instrument")
	// ErrInstrumentExists — duplicate instrument creation.
	ErrInstrumentExists = errors.New("instrument already exists")
	// ErrInvalidRequest — field-level validation failure.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrOrderNotOpen — cancel target is unknown, filled, or already
	// cancelled. Also returned on an ownership mismatch so that existence
	// of another party's order is not revealed.
	ErrOrderNotOpen = errors.New("order not open")
)
