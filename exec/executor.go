/*
 * UCG collective communication engine.
 */

// Package exec implements the step executor state machine (spec §4.4),
// grounded in original_source/builtin/ops/builtin_step_execute.c's control
// flow and, for its status/bookkeeping shape, bgp/session.go's Status
// struct and mutex-guarded state string.
package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coles-systems/ucg/log"
	"github.com/coles-systems/ucg/step"
	"github.com/coles-systems/ucg/wire"
)

// State is one of the step executor's states (spec §4.4): READY →
// SENDING → WAITING → COMPLETE (terminal) | RESEND.
type State string

const (
	Ready    State = "READY"
	Sending  State = "SENDING"
	Waiting  State = "WAITING"
	Complete State = "COMPLETE"
	Resend   State = "RESEND"
)

// ErrNoResource is returned by a send attempt that the transport could not
// accept right now; the executor treats it as transient (spec's
// KindNoResource: "handled locally by resend queue and never surfaced to
// the user").
var ErrNoResource = errors.New("exec: no resource")

// Request is the per-operation bookkeeping spec §3 assigns to a
// Request: a pending counter, flags, the active-message id, and a
// completion slot invoked exactly once when the whole Op finishes.
type Request struct {
	mutex sync.Mutex

	Op   *step.Op
	AMID uint8
	// CollID is the concurrency-ring slot id the dispatcher bound this
	// request under (spec §3/§4.6); stamped onto every outgoing wire.Header
	// so the receiving dispatcher's Route can recover which slot, and which
	// step within it, a reply belongs to.
	CollID  uint8
	Pending int32

	// HandleOutOfOrder mirrors the source's per-request out-of-order flag.
	// Nothing in this module reads it: the executor does not check which
	// step an arriving fragment belongs to.
	HandleOutOfOrder bool

	state State
	err   error

	// onComplete is invoked exactly once, with the final error (nil on
	// success), when Pending reaches zero on the op's last step.
	onComplete func(error)

	resend *ResendQueue
}

// NewRequest constructs a Request bound to op, ready to Trigger. collID
// should match whatever slot id the caller is about to (or already did)
// Dispatcher.Trigger this request under.
func NewRequest(op *step.Op, amID uint8, collID uint8, onComplete func(error), resend *ResendQueue) *Request {
	return &Request{
		Op:         op,
		AMID:       amID,
		CollID:     collID,
		state:      Ready,
		onComplete: onComplete,
		resend:     resend,
	}
}

func (r *Request) State() State {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.state
}

// Trigger starts (or resumes) execution of the op's current step,
// initializing Pending per spec §4.4: expected_incoming_fragments +
// (is_zcopy ? outgoing_zcopy_completions : 0). A step whose Pending is
// still zero after a successful send (a send-only step with nothing to
// wait for) runs its completion action immediately instead of sitting in
// Waiting for a fragment that will never arrive, then carries on to
// whatever step that action leaves current.
func (r *Request) Trigger(ctx context.Context, logger log.Logger) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if logger == nil {
		logger = log.Nil{}
	}

	for {
		st := r.Op.CurrentStep()
		if st == nil {
			r.state = Complete
			return nil
		}

		r.Pending = expectedPending(st)
		r.state = Sending

		err := r.send(ctx, st)
		switch {
		case err == nil:
			r.state = Waiting
			logger.DEBUG("exec", log.KV{"event": "step-sent", "am_id": r.AMID, "pending": r.Pending})
			if r.Pending != 0 {
				return nil
			}
			if r.advanceLocked() {
				return nil
			}
			continue
		case errors.Is(err, ErrNoResource):
			r.state = Resend
			if r.resend != nil {
				r.resend.Enqueue(r)
			}
			logger.DEBUG("exec", log.KV{"event": "no-resource", "am_id": r.AMID})
			return nil
		default:
			r.state = Complete
			r.err = err
			r.finish(err)
			return err
		}
	}
}

// expectedPending computes the initial pending counter for st.
func expectedPending(st *step.Step) int32 {
	var n int32
	switch st.Criterion {
	case step.CriterionSingleMessage:
		n = 1
	case step.CriterionMultipleMessages, step.CriterionMultipleMessagesZcopy, step.CriterionByFragmentOffset:
		n = int32(st.FragmentsTotal)
	default:
		n = 0
	}

	if st.Flags.Has(step.AMZcopy) || st.Flags.Has(step.PutZcopy) || st.Flags.Has(step.GetZcopy) {
		n += int32(len(st.Endpoints)) * int32(st.FragmentsTotal)
	}
	return n
}

// send dispatches st according to its flags: one-shot, fragmented with an
// offset iterator, a per-endpoint loop, or the nested per-endpoint ×
// per-fragment loop pipelined multi-peer steps need (spec §4.4 "send
// dispatch").
func (r *Request) send(ctx context.Context, st *step.Step) error {
	switch {
	case st.Flags.Has(step.Pipelined):
		return r.sendPipelined(ctx, st)
	case st.Flags.Has(step.Fragmented):
		return r.sendFragmented(ctx, st)
	case len(st.Endpoints) > 1:
		return r.sendPerEndpoint(ctx, st)
	default:
		return r.sendOnce(ctx, st, endpointOrNil(st), st.SendBuffer)
	}
}

func endpointOrNil(st *step.Step) int {
	if len(st.Endpoints) == 0 {
		return -1
	}
	return 0
}

func (r *Request) sendOnce(ctx context.Context, st *step.Step, epIdx int, buf []byte) error {
	if epIdx < 0 {
		// No endpoint: a debug/no-op peer completes automatically
		// (SPEC_FULL's supplemented "no endpoint" case).
		return nil
	}
	return r.dispatchSend(ctx, st, st.Endpoints[epIdx], buf, 0)
}

func (r *Request) sendPerEndpoint(ctx context.Context, st *step.Step) error {
	for i := range st.Endpoints {
		if err := r.dispatchSend(ctx, st, st.Endpoints[i], st.SendBuffer, 0); err != nil {
			st.IterEP = i
			return err
		}
	}
	st.IterEP = 0
	return nil
}

func (r *Request) sendFragmented(ctx context.Context, st *step.Step) error {
	for idx := st.IterOffset / st.FragmentLength; idx < st.FragmentsTotal; idx++ {
		size := step.FragmentSize(idx, st.FragmentsTotal, st.BufferLength, st.FragmentLength)
		off := idx * st.FragmentLength
		buf := st.SendBuffer[off : off+size]

		ep := 0
		if len(st.Endpoints) == 0 {
			continue
		}
		if err := r.dispatchSend(ctx, st, st.Endpoints[ep], buf, uint64(off)); err != nil {
			st.IterOffset = off
			return err
		}
	}
	st.IterOffset = st.BufferLength
	return nil
}

// sendPipelined is the per-endpoint × per-fragment nested loop pipelined
// multi-peer steps need (spec §4.4): each fragment is forwarded as soon as
// its own FragmentPending counter allows, independent of the others.
func (r *Request) sendPipelined(ctx context.Context, st *step.Step) error {
	for f := int64(0); f < st.FragmentsTotal; f++ {
		if st.FragmentPending[f] < 0 {
			continue // already forwarded
		}
		size := step.FragmentSize(f, st.FragmentsTotal, st.BufferLength, st.FragmentLength)
		off := f * st.FragmentLength
		buf := st.SendBuffer[off : off+size]

		for _, ep := range st.Endpoints {
			if err := r.dispatchSend(ctx, st, ep, buf, uint64(off)); err != nil {
				return err
			}
		}
		st.FragmentPending[f] = -1
	}
	return nil
}

// dispatchSend stamps the routing header (coll/step id and remote offset,
// spec §4.6; GroupID stays zero) that the receiving side's
// dispatch.Dispatcher.Route needs to recover which slot and step a frame
// belongs to, then hands the framed bytes to the endpoint's send path by
// capability. An AM-BCOPY step uses its PackFull callback unless it is
// fragmented, in which case each fragment's own slice of buf is packed.
func (r *Request) dispatchSend(ctx context.Context, st *step.Step, ep interface {
	AMShort(context.Context, uint8, uint64, []byte) error
	AMBcopy(context.Context, uint8, func([]byte) int) error
}, buf []byte, offset uint64) error {
	hdr := wire.Header{CollID: r.CollID, StepIdx: uint8(r.Op.Current), RemoteOffset: offset}

	switch {
	case st.Flags.Has(step.AMShort):
		framed := append(hdr.Marshal(), buf...)
		if err := ep.AMShort(ctx, st.Header.AMID, offset, framed); err != nil {
			return classifySendErr(err)
		}
	case st.Flags.Has(step.AMBcopy):
		pack := st.PackFull
		if pack == nil || st.Flags.Has(step.Fragmented) {
			pack = func(dst []byte) int { return copy(dst, buf) }
		}
		framed := func(dst []byte) int {
			n := copy(dst, hdr.Marshal())
			return n + pack(dst[n:])
		}
		if err := ep.AMBcopy(ctx, st.Header.AMID, framed); err != nil {
			return classifySendErr(err)
		}
	default:
		return fmt.Errorf("exec: dispatchSend called for a step with no AM send kind")
	}
	return nil
}

func classifySendErr(err error) error {
	if err == nil {
		return nil
	}
	return err
}

// OnFragmentArrived decrements Pending by one and, if Pending reaches
// zero, runs the step's completion Action (spec §4.4 "pending
// accounting"). It reports true once the whole Op has completed. Callers
// still holding a Ready request afterwards (ActionAdvanceStep moved to a
// new step) must call Trigger to actually send it.
func (r *Request) OnFragmentArrived() (opComplete bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.Pending > 0 {
		r.Pending--
	}
	if r.Pending != 0 {
		return false
	}
	return r.advanceLocked()
}

// advanceLocked runs the current step's completion Action once Pending has
// reached zero, whether that happened via an incoming fragment or a
// send-only step that never expected one. Caller must hold r.mutex.
func (r *Request) advanceLocked() (opComplete bool) {
	st := r.Op.CurrentStep()
	if st == nil {
		return true
	}

	switch st.Action {
	case step.ActionCompleteOp:
		r.state = Complete
		r.finish(nil)
		return true
	case step.ActionAdvanceStep:
		r.Op.Current++
		r.state = Ready
		return false
	case step.ActionReSend:
		r.state = Sending
		return false
	}
	return false
}

func (r *Request) finish(err error) {
	if r.onComplete != nil {
		r.onComplete(err)
	}
}

// ResendQueue is the per-group singly-linked queue of requests waiting for
// transport resources (spec §4.4): on every progress tick it is walked
// head-first, each entry re-executed, successful entries unlinked, and a
// failing entry short-circuits the walk for that tick.
type ResendQueue struct {
	mutex   sync.Mutex
	pending []*Request
}

func NewResendQueue() *ResendQueue { return &ResendQueue{} }

func (q *ResendQueue) Enqueue(r *Request) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.pending = append(q.pending, r)
}

func (q *ResendQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.pending)
}

// Tick re-executes every queued request in order, stopping at the first
// one that still can't proceed.
func (q *ResendQueue) Tick(ctx context.Context, logger log.Logger) {
	q.mutex.Lock()
	remaining := q.pending
	q.mutex.Unlock()

	var stillPending []*Request
	for i, r := range remaining {
		if err := r.Trigger(ctx, logger); err != nil || r.State() == Resend {
			stillPending = append(stillPending, remaining[i:]...)
			break
		}
	}

	q.mutex.Lock()
	q.pending = stillPending
	q.mutex.Unlock()
}
