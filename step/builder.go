package step

import (
	"fmt"

	"github.com/coles-systems/ucg/reduceop"
	"github.com/coles-systems/ucg/transport"
	"github.com/coles-systems/ucg/wire"
)

// Method names the primitive the phase this step belongs to implements;
// the builder consults it only to decide aggregation/criterion/action (the
// peer-set and fan shape are topo/builtin's concern, not the step
// builder's).
type Method uint8

const (
	MethodSendTerminal Method = iota
	MethodRecvTerminal
	MethodSendToSMRoot
	MethodReduceTerminal
	MethodReduceWaypoint
	MethodGatherTerminal
	MethodGatherWaypoint
	MethodGatherForPagg
	MethodGatherA2ARoot
	MethodBcastWaypoint
	MethodScatterWaypoint
	MethodScatterTerminal
	MethodRecursiveKing
)

// Request is everything the builder needs to turn one phase into a Step
// (spec §4.3): the resolved endpoints, buffer geometry, and the
// (operator, operand, count) that would drive a reduction.
type Request struct {
	Method    Method
	Endpoints []transport.Endpoint
	Attrs     transport.InterfaceAttrs

	SendBuffer []byte
	RecvBuffer []byte

	// Count/ElemSize describe a contiguous datatype; Contiguous is false
	// when the caller must pack/unpack around the step (spec §4.3 step 1).
	Count      int
	ElemSize   int
	Contiguous bool

	Operator wire.Operator
	Operand  wire.Operand

	// CustomReducer is consulted when no built-in specialization exists
	// for (Operator, Operand) — spec §4.3 step 5's fallback.
	CustomReducer transport.ReduceOperator

	AMID uint8

	// RemoteOffset/Rkey are supplied by the caller; a non-empty Rkey makes
	// PutZcopy/GetZcopy viable. No phase in this module exchanges rkeys, and
	// the built-in planner leaves both unset.
	RemoteOffset uint64
	Rkey         []byte

	// BcopyToZcopyThreshold is the length at or above which AM-ZCOPY is
	// preferred over AM-BCOPY; zero disables the preference. The built-in
	// planner fills it from CollectiveParams.BcopyToZcopyThreshold.
	BcopyToZcopyThreshold int64

	LastStep bool
}

// Build runs the step builder's seven-step decision sequence (spec §4.3)
// and returns a ready-to-execute Step.
func Build(req Request) (*Step, error) {
	length := contiguousLength(req)

	flags, err := chooseTransport(req, length)
	if err != nil {
		return nil, err
	}

	st := &Step{
		Flags:      flags,
		Endpoints:  req.Endpoints,
		SendBuffer: req.SendBuffer,
		RecvBuffer: req.RecvBuffer,
		Header:     Header{AMID: req.AMID},
	}

	if len(req.Endpoints) == 1 {
		st.Flags |= SingleEndpoint
	}

	applyFragmentation(st, req, length, maxMessageSize(req, flags))
	applyPipelining(st, req)

	if err := applyReducer(st, req); err != nil {
		return nil, err
	}
	applyPackers(st, req, flags)
	applyCompletionPolicy(st, req)

	if req.LastStep {
		st.Flags |= LastStep
	}

	if err := st.Validate(); err != nil {
		return nil, err
	}
	return st, nil
}

// contiguousLength computes L = count * element_size for a contiguous
// datatype (spec §4.3 step 1). Non-contiguous data is the caller's
// responsibility to pack ahead of Build; the builder only records the
// resulting buffer's length.
func contiguousLength(req Request) int64 {
	if req.Contiguous {
		return int64(req.Count) * int64(req.ElemSize)
	}
	return int64(len(req.SendBuffer))
}

// chooseTransport picks exactly one send kind by comparing L against the
// endpoint's capability thresholds (spec §4.3 step 2): AM-SHORT if it
// fits, else AM-BCOPY if it fits below the configured bcopy/zcopy
// crossover, else AM-ZCOPY if the transport supports it and L reaches its
// minimum, else PUT/GET-ZCOPY once a remote key is in hand, and failing
// all of those AM-BCOPY, fragmented at the bcopy cap when L exceeds it.
func chooseTransport(req Request, length int64) (Flags, error) {
	a := req.Attrs

	if a.Capabilities.Has(transport.AMShort) && length <= int64(a.MaxShortSize) {
		return AMShort, nil
	}

	wantZcopy := req.BcopyToZcopyThreshold > 0 && length >= req.BcopyToZcopyThreshold

	if a.Capabilities.Has(transport.AMBcopy) && length <= int64(a.MaxBcopySize) && !wantZcopy {
		return AMBcopy, nil
	}

	if a.Capabilities.Has(transport.AMZcopy) && length >= int64(a.MinZcopySize) {
		return AMZcopy, nil
	}

	if len(req.Rkey) > 0 {
		if req.RecvBuffer != nil && a.Capabilities.Has(transport.PutZcopy) {
			return PutZcopy, nil
		}
		if req.SendBuffer == nil && a.Capabilities.Has(transport.GetZcopy) {
			return GetZcopy, nil
		}
	}

	if a.Capabilities.Has(transport.AMBcopy) && a.MaxBcopySize > 0 {
		return AMBcopy, nil
	}

	return 0, fmt.Errorf("step: no viable send kind for length %d against capabilities %#x", length, uint32(a.Capabilities))
}

func maxMessageSize(req Request, flags Flags) int64 {
	switch {
	case flags.Has(AMShort):
		return int64(req.Attrs.MaxShortSize)
	case flags.Has(AMBcopy):
		return int64(req.Attrs.MaxBcopySize)
	default:
		return contiguousLength(req)
	}
}

// applyFragmentation splits the payload into ceil(L/F) fragments when it
// exceeds the chosen transport's single-message cap (spec §4.3 step 3).
func applyFragmentation(st *Step, req Request, length, capBytes int64) {
	st.BufferLength = length
	if capBytes <= 0 || length <= capBytes {
		st.FragmentsTotal = 1
		st.FragmentLength = length
		return
	}

	st.Flags |= Fragmented
	st.FragmentsTotal = FragmentCount(length, capBytes)
	st.FragmentLength = capBytes
}

// applyPipelining marks waypoint methods on fragmented messages PIPELINED
// (spec §4.3 step 4), allocating one pending counter per fragment.
func applyPipelining(st *Step, req Request) {
	if !st.Flags.Has(Fragmented) {
		return
	}
	if !isWaypoint(req.Method) {
		return
	}
	st.Flags |= Pipelined
	st.FragmentPending = make([]int32, st.FragmentsTotal)
}

func isWaypoint(m Method) bool {
	switch m {
	case MethodReduceWaypoint, MethodGatherWaypoint, MethodBcastWaypoint, MethodScatterWaypoint:
		return true
	default:
		return false
	}
}

// applyReducer selects a built-in specialization by (operator, operand)
// when the method aggregates via reduction, falling back to the caller's
// ReduceOperator (spec §4.3 step 5).
func applyReducer(st *Step, req Request) error {
	if req.Method != MethodReduceTerminal && req.Method != MethodReduceWaypoint {
		return nil
	}

	if fn, ok := reduceop.Lookup(req.Operator, req.Operand); ok {
		st.Reducer = fn
		return nil
	}
	if req.CustomReducer != nil {
		op := req.CustomReducer
		st.Reducer = func(dst, src []byte, count int) {
			_ = op.Reduce(dst, src, count)
		}
		return nil
	}
	return fmt.Errorf("step: no built-in or custom reducer for operator=%d operand=%d", req.Operator, req.Operand)
}

// applyPackers builds the three AM-BCOPY pack callbacks (spec §4.3 step
// 6): PackFull copies the first FragmentLength bytes, PackPart the last
// fragment, and PackSingle the whole send buffer.
func applyPackers(st *Step, req Request, flags Flags) {
	if !flags.Has(AMBcopy) {
		return
	}

	full := st.FragmentLength
	st.PackFull = func(buf []byte) int {
		return copy(buf, req.SendBuffer[:full])
	}
	st.PackSingle = func(buf []byte) int {
		return copy(buf, req.SendBuffer)
	}
	st.PackPart = func(buf []byte) int {
		last := st.BufferLength - st.FragmentLength*(st.FragmentsTotal-1)
		start := st.FragmentLength * (st.FragmentsTotal - 1)
		return copy(buf, req.SendBuffer[start:start+last])
	}
}

// applyCompletionPolicy sets aggregation/criterion/action per method (spec
// §4.3 step 7 / §4.4), grounded in builtin_ops.h's method-to-aggregation
// mapping.
func applyCompletionPolicy(st *Step, req Request) {
	switch req.Method {
	case MethodReduceTerminal:
		st.Aggregation = AggregateReduce
		st.Criterion = CriterionMultipleMessages
		st.Action = ActionCompleteOp
	case MethodReduceWaypoint:
		st.Aggregation = AggregateReduce
		st.Criterion = CriterionMultipleMessages
		st.Action = ActionAdvanceStep
	case MethodGatherTerminal, MethodGatherForPagg, MethodGatherA2ARoot:
		st.Aggregation = AggregateGather
		st.Criterion = CriterionMultipleMessages
		st.Action = ActionCompleteOp
	case MethodGatherWaypoint:
		st.Aggregation = AggregateGather
		st.Criterion = CriterionMultipleMessages
		st.Action = ActionAdvanceStep
	case MethodRecvTerminal:
		st.Aggregation = AggregateWrite
		st.Criterion = CriterionSingleMessage
		st.Action = ActionCompleteOp
	case MethodBcastWaypoint, MethodScatterWaypoint:
		st.Aggregation = AggregateWrite
		st.Criterion = CriterionSingleMessage
		st.Action = ActionAdvanceStep
	case MethodScatterTerminal:
		st.Aggregation = AggregateWrite
		st.Criterion = CriterionSingleMessage
		st.Action = ActionCompleteOp
	case MethodSendTerminal, MethodSendToSMRoot, MethodRecursiveKing:
		st.Aggregation = AggregateNop
		st.Criterion = CriterionSend
		st.Action = ActionCompleteOp
	}

	if st.Flags.Has(Fragmented) {
		if st.Flags.Has(AMZcopy) || st.Flags.Has(PutZcopy) || st.Flags.Has(GetZcopy) {
			st.Criterion = CriterionMultipleMessagesZcopy
		} else if st.Flags.Has(Pipelined) {
			st.Criterion = CriterionByFragmentOffset
		} else {
			st.Criterion = CriterionMultipleMessages
		}
	}
}
