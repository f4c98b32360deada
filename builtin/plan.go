/*
 * UCG collective communication engine.
 */

package builtin

import (
	"context"
	"fmt"

	"github.com/coles-systems/ucg/endpoint"
	"github.com/coles-systems/ucg/step"
	"github.com/coles-systems/ucg/topo"
	"github.com/coles-systems/ucg/transport"
	"github.com/coles-systems/ucg/wire"
)

// CollectiveParams describes one collective request bound to user buffers:
// the modifier set (spec §4.2) plus the operand geometry the step builder
// needs (spec §4.3).
//
// By convention (matching scenarios A-C), a root's SendBuffer and every
// member's RecvBuffer occupy the identical memory a caller wants the
// result to land in; fan-out phases always forward from RecvBuffer, and
// fan-in phases beyond the first (levelIdx 0) forward the
// already-accumulated RecvBuffer rather than SendBuffer, the way a
// multi-level reduce must use its own intermediate result as the next
// level's contribution.
type CollectiveParams struct {
	Modifiers wire.Modifier
	Root      int

	SendBuffer []byte
	RecvBuffer []byte

	Count      int
	ElemSize   int
	Contiguous bool

	Operator wire.Operator
	Operand  wire.Operand

	CustomReducer transport.ReduceOperator

	// RecursiveK is the fan-out/fan-in degree for NEIGHBOR-modified
	// collectives (spec §4.2 "recursive-kning"); 0 defaults to 2.
	RecursiveK int

	BcopyToZcopyThreshold int64
}

// BuildOp synthesizes phases for params and turns each into a step.Step
// against endpoints resolved via resolver, producing a ready-to-trigger
// step.Op (spec §4.2 + §4.3).
func BuildOp(ctx context.Context, cache endpoint.Cache, resolver *endpoint.Resolver, memberCount, myIndex int, tree TreeFunc, amID uint8, params CollectiveParams) (*step.Op, error) {
	var phases []Phase
	if params.Modifiers.Has(wire.Neighbor) {
		k := params.RecursiveK
		if k < 2 {
			k = 2
		}
		phases = SynthesizeRecursiveKing(memberCount, myIndex, k)
	} else {
		t, err := tree(params.Root)
		if err != nil {
			return nil, err
		}
		phases = Synthesize(t, params.Modifiers)
	}

	if len(phases) == 0 {
		return &step.Op{
			Barrier: params.Modifiers.Has(wire.Barrier),
		}, nil
	}

	op := &step.Op{
		Barrier:        params.Modifiers.Has(wire.Barrier),
		Reduce:         params.Modifiers.Has(wire.Aggregate),
		AllToAll:       params.Modifiers.Has(wire.Neighbor) && params.Modifiers.Has(wire.Variadic),
		Scatter:        params.Modifiers.Has(wire.SingleSource) && !params.Modifiers.Has(wire.Broadcast) && !params.Modifiers.Has(wire.Aggregate),
		GatherTerminal: params.Modifiers.Has(wire.Concatenate),
		NonContiguous:  !params.Contiguous,
	}

	for i, ph := range phases {
		last := i == len(phases)-1
		st, err := buildStepForPhase(ctx, cache, resolver, amID, params, ph, last)
		if err != nil {
			return nil, fmt.Errorf("builtin: phase %d (%v): %w", i, ph.Method, err)
		}
		op.Steps = append(op.Steps, st)
	}

	return op, nil
}

// TreeFunc resolves the topology tree for a given collective root,
// typically a cached lookup owned by the group's planner state.
type TreeFunc func(root int) (topo.Tree, error)

func buildStepForPhase(ctx context.Context, cache endpoint.Cache, resolver *endpoint.Resolver, amID uint8, params CollectiveParams, ph Phase, lastPhase bool) (*step.Step, error) {
	want, sig := wantFor(ph, params)

	eps := make([]transport.Endpoint, 0, len(ph.Peers))
	var attrs transport.InterfaceAttrs
	for _, peer := range ph.Peers {
		res, err := resolver.Resolve(ctx, cache, peer, want, sig)
		if err != nil {
			return nil, fmt.Errorf("resolve member %d: %w", peer, err)
		}
		if res.Endpoint != nil {
			eps = append(eps, res.Endpoint)
			attrs = res.Attrs
		}
	}

	req := step.Request{
		Method:                ph.Method,
		Endpoints:             eps,
		Attrs:                 attrs,
		Count:                 params.Count,
		ElemSize:              params.ElemSize,
		Contiguous:            params.Contiguous,
		Operator:              params.Operator,
		Operand:               params.Operand,
		CustomReducer:         params.CustomReducer,
		AMID:                  amID,
		BcopyToZcopyThreshold: params.BcopyToZcopyThreshold,
		LastStep:              lastPhase,
	}

	if ph.Role == RoleSend {
		req.SendBuffer = sendBufferFor(params, ph)
	} else {
		req.RecvBuffer = params.RecvBuffer
	}

	return step.Build(req)
}

// wantFor decides which endpoint lane a phase should resolve against (spec
// §4.5): the receiving side of an aggregating or concatenating (gather)
// fan-in phase wants the native incast lane, the sending side of a
// broadcasting fan-out phase wants the native bcast lane, everything else
// (plain barrier sync, scatter, recursive-king) is point-to-point.
func wantFor(ph Phase, params CollectiveParams) (endpoint.Want, wire.IncastSignature) {
	switch {
	case ph.Direction == FanIn && ph.Role == RoleRecv && (params.Modifiers.Has(wire.Aggregate) || params.Modifiers.Has(wire.Concatenate)):
		return endpoint.WantIncast, wire.IncastSignature{
			Operator: params.Operator,
			Operand:  params.Operand,
			Count:    uint64(params.Count),
		}
	case ph.Direction == FanOut && ph.Role == RoleSend && params.Modifiers.Has(wire.Broadcast):
		return endpoint.WantBcast, wire.IncastSignature{}
	default:
		return endpoint.WantNone, wire.IncastSignature{}
	}
}

// sendBufferFor picks the buffer a sending-role phase forwards: the
// caller's original contribution for the first fan-in level, the
// accumulator for every later fan-in level, and the accumulator for every
// fan-out level (see CollectiveParams's buffer-aliasing convention).
func sendBufferFor(params CollectiveParams, ph Phase) []byte {
	if ph.Direction == FanIn && ph.LevelIdx == 0 {
		return params.SendBuffer
	}
	return params.RecvBuffer
}
