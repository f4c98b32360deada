/*
 * UCG collective communication engine.
 */

// Package step implements the data model spec §3 assigns to Op and Step,
// and the step builder spec §4.3 describes, grounded in
// original_source/builtin/ops/builtin_ops.h's ucg_builtin_op_step_t and
// ucg_builtin_op_step_flags/_comp_aggregation/_comp_criteria/_comp_action
// enums.
//
// The source packs flags into bitfields sized in bits for cache-line
// alignment; here every flag is its own named bool-ish bit on a single
// Flags word, since Go has no bitfield syntax and a single uint32 serves
// the same "orthogonal bits, exactly one send kind set" invariant just as
// well without the C struct layout concerns.
package step

import (
	"fmt"

	"github.com/coles-systems/ucg/transport"
)

// Flags are the orthogonal send-mode bits spec §3 lists: exactly one "send
// kind" (AMShort/AMBcopy/AMZcopy/PutZcopy/GetZcopy) is set, plus any number
// of modifiers.
type Flags uint32

const (
	AMShort Flags = 1 << iota
	AMBcopy
	AMZcopy
	PutZcopy
	GetZcopy

	Fragmented
	Pipelined
	SingleEndpoint
	SendStrided
	SendVariadic
	RecvAfterSend
	RecvBeforeSend1
	Recv1BeforeSend
	LastStep
	WriteRemoteAddr
	PackedDtypeMode
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// sendKindMask isolates the mutually-exclusive "which wire primitive"
// bits, used to validate that a Step sets exactly one.
const sendKindMask = AMShort | AMBcopy | AMZcopy | PutZcopy | GetZcopy

// Aggregation is the completion aggregation policy (spec §3: "mutually
// exclusive: nop, write (blit), write-out-of-order, gather (concatenate),
// reduce, reduce-swap, unpack remote key").
type Aggregation uint8

const (
	AggregateNop Aggregation = iota
	AggregateWrite
	AggregateWriteOutOfOrder
	AggregateGather
	AggregateReduce
	AggregateReduceSwap
	AggregateRemoteKey
)

// Criterion decides when a step's pending counter is considered satisfied.
type Criterion uint8

const (
	CriterionSend Criterion = iota
	CriterionSingleMessage
	CriterionMultipleMessages
	CriterionMultipleMessagesZcopy
	CriterionByFragmentOffset
)

// Action is what happens once a step's completion criterion is met.
type Action uint8

const (
	ActionCompleteOp Action = iota
	ActionAdvanceStep
	ActionReSend
)

// pipeline iterator sentinels (spec §4.4: iter_offset additionally takes
// the sentinels "ready" and "pending" for pipelined steps).
const (
	OffsetPipelineReady   int64 = -1
	OffsetPipelinePending int64 = -2
)

// Header is the per-step active-message header template. It carries only
// the step's own am id; the executor builds the wire routing header per send.
type Header struct {
	AMID uint8
}

// Step is one element of an Op's step sequence (spec §3). SendBuffer,
// RecvBuffer, FragmentLength etc mirror the source's field set; Endpoints
// holds one entry per peer (length 1 after "single-endpoint specialization"
// collapses a phase to its tight variant).
type Step struct {
	Flags Flags

	Endpoints []transport.Endpoint

	SendBuffer []byte
	RecvBuffer []byte

	// BufferLength is the total payload length in bytes; for fragmented
	// steps it equals FragmentLength * FragmentsTotal (the last fragment
	// may be shorter, per spec §4.3 step 3).
	BufferLength   int64
	FragmentLength int64
	FragmentsTotal int64

	// IterEP/IterOffset are the volatile iterators spec §4.4 describes;
	// they are mutated by the executor, not the builder.
	IterEP     int
	IterOffset int64

	// FragmentPending holds one pending counter per fragment for pipelined
	// waypoint steps (spec §4.4: "each fragment carries an independent
	// pending counter so it can be forwarded as soon as its own inputs
	// arrive").
	FragmentPending []int32

	Header Header

	Aggregation Aggregation
	Criterion   Criterion
	Action      Action

	// Reducer, when Aggregation is AggregateReduce or AggregateReduceSwap,
	// combines one incoming fragment into RecvBuffer.
	Reducer func(dst, src []byte, count int)

	// PackFull/PackPart/PackSingle are the three AM-BCOPY pack callbacks
	// spec §4.3 step 6 names, built once at build time. The executor uses
	// PackFull for an unfragmented step and packs each fragment of a
	// fragmented step from that fragment's own slice of SendBuffer.
	PackFull   func(buf []byte) int
	PackPart   func(buf []byte) int
	PackSingle func(buf []byte) int

	// RemoteOffset/Rkey describe the remote buffer of a Put/GetZcopy step.
	// Build does not fill them in, and no phase in this module exchanges
	// rkeys.
	RemoteOffset uint64
	Rkey         []byte
}

// Validate checks the invariants spec §3 states for a single step:
// exactly one send kind is set, IterOffset is in range, and a fragmented
// step's BufferLength is consistent with its fragment geometry.
func (s *Step) Validate() error {
	kindBits := s.Flags & sendKindMask
	if kindBits == 0 || kindBits&(kindBits-1) != 0 {
		return fmt.Errorf("step: exactly one send kind must be set, got flags=%#x", uint32(s.Flags))
	}

	if s.Flags.Has(Fragmented) {
		if s.FragmentsTotal <= 0 || s.FragmentLength <= 0 {
			return fmt.Errorf("step: fragmented step needs positive FragmentsTotal/FragmentLength")
		}
		expect := s.FragmentLength * (s.FragmentsTotal - 1)
		if s.BufferLength <= expect || s.BufferLength > s.FragmentLength*s.FragmentsTotal {
			return fmt.Errorf("step: buffer_length %d inconsistent with %d fragments of %d bytes",
				s.BufferLength, s.FragmentsTotal, s.FragmentLength)
		}
	}

	switch s.IterOffset {
	case OffsetPipelineReady, OffsetPipelinePending:
		if !s.Flags.Has(Pipelined) {
			return fmt.Errorf("step: pipeline sentinel iter_offset set on a non-pipelined step")
		}
	default:
		if s.IterOffset < 0 || s.IterOffset > s.BufferLength {
			return fmt.Errorf("step: iter_offset %d out of range [0,%d]", s.IterOffset, s.BufferLength)
		}
	}

	return nil
}

// FragmentCount returns the number of fragments a payload of length
// totalBytes splits into under a per-message cap of capBytes, per spec
// §4.3 step 3: ceil(L/F) fragments, the last possibly shorter.
func FragmentCount(totalBytes, capBytes int64) int64 {
	if capBytes <= 0 {
		return 0
	}
	return (totalBytes + capBytes - 1) / capBytes
}

// FragmentSize returns the length of fragment index idx (0-based) out of
// total fragments of cap size capBytes covering totalBytes.
func FragmentSize(idx, total, totalBytes, capBytes int64) int64 {
	if idx == total-1 {
		last := totalBytes - capBytes*(total-1)
		if last > 0 {
			return last
		}
	}
	return capBytes
}

// Op is a plan instance bound to user buffers: a mutable vector of Steps
// with completion bookkeeping (spec §3).
type Op struct {
	Steps   []*Step
	Current int // index of the currently executing step

	Barrier         bool
	Reduce          bool
	AllToAll        bool
	Scatter         bool
	GatherTerminal  bool
	GatherWaypoint  bool
	OptimizePending bool
	NonContiguous   bool
}

// CurrentStep returns the step the executor should act on next, or nil if
// the op has run off the end of its step vector.
func (o *Op) CurrentStep() *Step {
	if o.Current < 0 || o.Current >= len(o.Steps) {
		return nil
	}
	return o.Steps[o.Current]
}

// Done reports whether every step has completed.
func (o *Op) Done() bool { return o.Current >= len(o.Steps) }
