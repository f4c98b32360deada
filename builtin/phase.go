/*
 * UCG collective communication engine.
 */

// Package builtin implements the built-in planner (spec §4.2): phase
// synthesis from a collective's modifier set over a derived topology tree,
// and the ucg.PlannerComponent binding that registers it with a Context
// under the name "builtin". Grounded in
// original_source/builtin/plan/builtin_tree.c and builtin_ops.h's primitive
// method set.
package builtin

import (
	"github.com/coles-systems/ucg/step"
	"github.com/coles-systems/ucg/topo"
	"github.com/coles-systems/ucg/wire"
)

// Direction is which way a phase moves data relative to the tree root.
type Direction uint8

const (
	FanIn Direction = iota
	FanOut
)

// Role is this member's part in a phase: contributing upward/outward
// (Send) or aggregating/receiving (Recv).
type Role uint8

const (
	RoleSend Role = iota
	RoleRecv
)

// Phase is one contiguous executor step targeting one peer set with one
// method (spec glossary: "Phase"). LevelIdx indexes the topo.Tree level
// this phase was derived from (0 = finest/intra-host).
type Phase struct {
	Direction Direction
	Role      Role
	Method    step.Method
	Peers     []int
	LevelIdx  int
}

// Synthesize maps tree and mods onto an ordered phase sequence (spec §4.2
// "Phase synthesis"): a FAN-IN sequence (intra-host then inter-host,
// finest to coarsest), a FAN-OUT sequence (inter-host then intra-host,
// coarsest to finest), or their concatenation for fan-in-fan-out
// collectives such as all-reduce and barrier.
func Synthesize(tree topo.Tree, mods wire.Modifier) []Phase {
	var phases []Phase

	if wantsFanIn(mods) {
		for i, lvl := range tree.Levels {
			last := i == len(tree.Levels)-1
			if ph, ok := fanInPhase(lvl, i, last, mods); ok {
				phases = append(phases, ph)
			}
		}
	}

	if wantsFanOut(mods) {
		for i := len(tree.Levels) - 1; i >= 0; i-- {
			lvl := tree.Levels[i]
			if ph, ok := fanOutPhase(lvl, i, mods); ok {
				phases = append(phases, ph)
			}
		}
	}

	return phases
}

func wantsFanIn(mods wire.Modifier) bool {
	return mods.Has(wire.Aggregate) || mods.Has(wire.Concatenate) || mods.Has(wire.Barrier)
}

func wantsFanOut(mods wire.Modifier) bool {
	return mods.Has(wire.Broadcast) || mods.Has(wire.Barrier) ||
		(mods.Has(wire.SingleSource) && !mods.Has(wire.Aggregate) && !mods.Has(wire.Concatenate))
}

// fanInPhase derives this member's role and method at one tree level (spec
// §4.2 "FAN-IN sequence"): a parent (children present) aggregates via
// reduce-* if AGGREGATE, gather-* if CONCATENATE, else a plain
// recv-terminal (pure barrier synchronization); a child (parent present,
// no children) contributes via send-to-sm-root at the intra-host level
// (levelIdx 0) or send-terminal at any coarser level.
func fanInPhase(lvl topo.Level, levelIdx int, last bool, mods wire.Modifier) (Phase, bool) {
	switch {
	case len(lvl.Children) > 0:
		var m step.Method
		switch {
		case mods.Has(wire.Aggregate):
			if last {
				m = step.MethodReduceTerminal
			} else {
				m = step.MethodReduceWaypoint
			}
		case mods.Has(wire.Concatenate):
			if last {
				m = step.MethodGatherTerminal
			} else {
				m = step.MethodGatherWaypoint
			}
		default:
			m = step.MethodRecvTerminal
		}
		return Phase{Direction: FanIn, Role: RoleRecv, Method: m, Peers: lvl.Children, LevelIdx: levelIdx}, true

	case lvl.Parent >= 0:
		m := step.MethodSendTerminal
		if levelIdx == 0 {
			m = step.MethodSendToSMRoot
		}
		return Phase{Direction: FanIn, Role: RoleSend, Method: m, Peers: []int{lvl.Parent}, LevelIdx: levelIdx}, true

	default:
		return Phase{}, false
	}
}

// fanOutPhase is the FAN-OUT sequence's mirror: a distributor (children
// present, including the root) uses bcast-waypoint for BROADCAST or
// scatter-waypoint otherwise; a pure leaf (parent present, no children)
// receives via recv-terminal for broadcast (every receiver gets identical
// data, so no per-leaf primitive is needed) or scatter-terminal for
// scatter (a distinct primitive exists because each leaf's segment and
// displacement differ).
func fanOutPhase(lvl topo.Level, levelIdx int, mods wire.Modifier) (Phase, bool) {
	broadcast := mods.Has(wire.Broadcast)

	switch {
	case len(lvl.Children) > 0:
		m := step.MethodScatterWaypoint
		if broadcast {
			m = step.MethodBcastWaypoint
		}
		return Phase{Direction: FanOut, Role: RoleSend, Method: m, Peers: lvl.Children, LevelIdx: levelIdx}, true

	case lvl.Parent >= 0:
		m := step.MethodScatterTerminal
		if broadcast {
			m = step.MethodRecvTerminal
		}
		return Phase{Direction: FanOut, Role: RoleRecv, Method: m, Peers: []int{lvl.Parent}, LevelIdx: levelIdx}, true

	default:
		return Phase{}, false
	}
}

// SynthesizeRecursiveKing builds the single-phase-per-round peer set for
// the neighbor-exchange pattern (spec §4.2's "recursive-kning": "a
// single-phase method connecting to a k-ary halving/doubling peer set"),
// used in place of a tree for NEIGHBOR-modified collectives (all-to-all
// and its variants). Round r pairs member me with me XOR (k^r); a round
// whose computed partner falls outside [0, memberCount) is skipped rather
// than padded, a known simplification of true recursive-doubling noted in
// the design ledger.
func SynthesizeRecursiveKing(memberCount, me, k int) []Phase {
	if k < 2 {
		k = 2
	}
	var phases []Phase
	for stride := 1; stride < memberCount; stride *= k {
		partner := me ^ stride
		if partner < 0 || partner >= memberCount {
			continue
		}
		phases = append(phases, Phase{
			Direction: FanOut,
			Role:      RoleSend,
			Method:    step.MethodRecursiveKing,
			Peers:     []int{partner},
		})
	}
	return phases
}
