package dispatch

import "errors"

var (
	// ErrSlotBusy is returned when Trigger targets a slot already bound to
	// an in-flight request (spec §3: concurrency-limit, no more than P
	// operations per group in flight).
	ErrSlotBusy = errors.New("dispatch: slot busy")
	// ErrInvalidRingSize is returned when the ring size is not a power of
	// two.
	ErrInvalidRingSize = errors.New("dispatch: ring size must be a power of two")
)
