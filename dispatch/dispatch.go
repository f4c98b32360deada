/*
 * UCG collective communication engine.
 */

// Package dispatch routes incoming wire messages to the correct slot in a
// fixed-size ring of concurrent operations (spec §4.6 / §3 "Concurrency
// slot"), grounded in bgp/pool.go's per-peer state pattern: each Slot
// serializes its own mutation behind its own mutex, so slots never contend
// with one another.
package dispatch

import (
	"context"
	"sync"

	"github.com/coles-systems/ucg/exec"
	"github.com/coles-systems/ucg/log"
	"github.com/coles-systems/ucg/wire"
)

// Deferred is one out-of-order message that arrived before its matching
// step entered its receiving phase (spec §3 "Concurrency slot": "a small
// ordered container of deferred messages").
type Deferred struct {
	Header  wire.Header
	Payload []byte
}

// Slot owns one Request and its deferred-message container. P such slots
// form the ring a Dispatcher routes into.
type Slot struct {
	mutex    sync.Mutex
	req      *exec.Request
	deferred []Deferred
}

func (s *Slot) busy() bool { return s.req != nil }

// Bind attaches req to this slot; the slot is "busy" from here until
// Release is called (spec §3: "A slot is busy from op trigger until the
// final completion callback fires").
func (s *Slot) Bind(req *exec.Request) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.req != nil {
		return ErrSlotBusy
	}
	s.req = req
	return nil
}

// Release frees the slot, dropping any deferred messages for the request
// that just finished (they're stale once the request that was meant to
// receive them is gone).
func (s *Slot) Release() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.req = nil
	s.deferred = nil
}

// Deliver routes one incoming message to this slot's bound Request, or
// defers it if the request isn't ready to receive a message with this
// local id yet.
func (s *Slot) Deliver(h wire.Header, payload []byte, expected func() (uint16, bool)) (matched bool, deferred bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.req == nil {
		return false, false
	}

	wantID, ready := expected()
	if ready && h.LocalID() == wantID {
		return true, false
	}

	s.deferred = append(s.deferred, Deferred{Header: h, Payload: payload})
	return false, true
}

// boundRequest returns the request currently bound to this slot, or nil if
// it's idle.
func (s *Slot) boundRequest() *exec.Request {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.req
}

// DrainMatching removes and returns every deferred message matching id,
// called once a step advances to the point where it expects that id (spec
// §3: deferred messages were "out-of-order" relative to some earlier
// expectation, not meant to be lost).
func (s *Slot) DrainMatching(id uint16) []Deferred {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var matched []Deferred
	var keep []Deferred
	for _, d := range s.deferred {
		if d.Header.LocalID() == id {
			matched = append(matched, d)
		} else {
			keep = append(keep, d)
		}
	}
	s.deferred = keep
	return matched
}

// DeferredCount reports how many messages are waiting in this slot, for
// the Prometheus collector.
func (s *Slot) DeferredCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.deferred)
}

// Dispatcher is the fixed-size ring of concurrent operations spec §3
// describes: slot = coll_id mod P, P a power of two (default 16), with no
// more than P operations per group in flight at once.
type Dispatcher struct {
	slots []*Slot
	log   log.Logger
}

// NewDispatcher builds a ring of size p. p must be a power of two.
func NewDispatcher(p int, logger log.Logger) (*Dispatcher, error) {
	if p <= 0 || p&(p-1) != 0 {
		return nil, ErrInvalidRingSize
	}
	if logger == nil {
		logger = log.Nil{}
	}
	slots := make([]*Slot, p)
	for i := range slots {
		slots[i] = &Slot{}
	}
	return &Dispatcher{slots: slots, log: logger}, nil
}

// Size returns the ring size P.
func (d *Dispatcher) Size() int { return len(d.slots) }

// SlotFor returns the slot a given collective id maps to: coll_id mod P.
func (d *Dispatcher) SlotFor(collID uint8) *Slot {
	return d.slots[int(collID)%len(d.slots)]
}

// Trigger binds req into the slot collID maps to, failing with
// ErrSlotBusy if the concurrency limit (spec §3: "no more than P
// operations per group may be in flight") has been reached for that slot.
func (d *Dispatcher) Trigger(collID uint8, req *exec.Request) error {
	slot := d.SlotFor(collID)
	if err := slot.Bind(req); err != nil {
		return err
	}
	d.log.DEBUG("dispatch", log.KV{"event": "slot-bound", "coll_id": collID})
	return nil
}

// Route decodes b's header, delivers it to the appropriate slot, and
// carries the bound request forward (spec §4.4 "pending reaches zero ->
// completion action runs"): a match runs the request's OnFragmentArrived,
// releasing the slot once the op completes, and re-triggers the request if
// advancing left it Ready for a further step.
func (d *Dispatcher) Route(ctx context.Context, b []byte) (matched bool, ok bool) {
	h, ok := wire.Unmarshal(b)
	if !ok {
		return false, false
	}
	slot := d.SlotFor(h.CollID)
	m, _ := slot.Deliver(h, b[wire.HeaderLen:], func() (uint16, bool) { return h.LocalID(), true })
	if !m {
		return false, true
	}

	req := slot.boundRequest()
	if req == nil {
		return true, true
	}

	if req.OnFragmentArrived() {
		d.log.DEBUG("dispatch", log.KV{"event": "op-complete", "coll_id": h.CollID})
		slot.Release()
		return true, true
	}
	if req.State() == exec.Ready {
		if err := req.Trigger(ctx, d.log); err != nil {
			d.log.ERR("dispatch", log.KV{"event": "advance-trigger-failed", "coll_id": h.CollID, "error": err.Error()})
		}
	}
	return true, true
}

// OccupiedSlots reports how many of the ring's slots currently hold a
// request, for the Prometheus collector.
func (d *Dispatcher) OccupiedSlots() int {
	n := 0
	for _, s := range d.slots {
		s.mutex.Lock()
		if s.busy() {
			n++
		}
		s.mutex.Unlock()
	}
	return n
}

// DeferredTotal sums the deferred-message counts across every slot.
func (d *Dispatcher) DeferredTotal() int {
	n := 0
	for _, s := range d.slots {
		n += s.DeferredCount()
	}
	return n
}
