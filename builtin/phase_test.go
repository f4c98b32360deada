package builtin

import (
	"testing"

	"github.com/coles-systems/ucg/step"
	"github.com/coles-systems/ucg/topo"
	"github.com/coles-systems/ucg/wire"
)

// TestSynthesizeBarrierFourMembersUniformHost reproduces spec scenario A:
// a barrier on 4 members at uniform HOST distance synthesizes exactly 2
// phases, one fan-in and one fan-out, each a single tree level since every
// member is on the same host.
func TestSynthesizeBarrierFourMembersUniformHost(t *testing.T) {
	dist := []topo.Distance{topo.Host, topo.Host, topo.Host, topo.Host}
	tree, err := topo.Build(topo.DefaultConfig(), 0, 0, dist, func(a, b int) bool { return true }, func(a, b int) bool { return false })
	if err != nil {
		t.Fatalf("topo.Build: %v", err)
	}

	phases := Synthesize(tree, wire.Barrier)
	if len(phases) != 2 {
		t.Fatalf("expected 2 phases for a single-level barrier, got %d: %+v", len(phases), phases)
	}
	if phases[0].Direction != FanIn || phases[0].Role != RoleRecv || phases[0].Method != step.MethodRecvTerminal {
		t.Fatalf("expected root's fan-in phase to be a plain recv-terminal, got %+v", phases[0])
	}
	if phases[1].Direction != FanOut || phases[1].Role != RoleSend || phases[1].Method != step.MethodScatterWaypoint {
		t.Fatalf("expected root's fan-out phase to be a non-broadcast waypoint, got %+v", phases[1])
	}
}

// TestSynthesizeBarrierLeafRole checks a non-root member's side of the
// same barrier: it contributes in fan-in and only receives in fan-out.
func TestSynthesizeBarrierLeafRole(t *testing.T) {
	dist := []topo.Distance{topo.Host, topo.Host, topo.Host, topo.Host}
	tree, err := topo.Build(topo.DefaultConfig(), 1, 0, dist, func(a, b int) bool { return true }, func(a, b int) bool { return false })
	if err != nil {
		t.Fatalf("topo.Build: %v", err)
	}

	phases := Synthesize(tree, wire.Barrier)
	if len(phases) != 2 {
		t.Fatalf("expected 2 phases, got %d: %+v", len(phases), phases)
	}
	if phases[0].Role != RoleSend || phases[0].Method != step.MethodSendToSMRoot {
		t.Fatalf("expected leaf's fan-in phase to send-to-sm-root, got %+v", phases[0])
	}
	if phases[1].Role != RoleRecv {
		t.Fatalf("expected leaf's fan-out phase to be a receive, got %+v", phases[1])
	}
}

// TestSynthesizeAllReduceTwoHosts reproduces the phase count of spec
// scenario B: two hosts, so both intra-host and inter-host tree levels
// exist, giving 4 total phases for an all-reduce (Aggregate|Broadcast).
func TestSynthesizeAllReduceTwoHosts(t *testing.T) {
	// 8 members, 4 per host (members 0-3 on host A, 4-7 on host B).
	dist := make([]topo.Distance, 8)
	host := func(i int) int { return i / 4 }
	sameHost := func(a, b int) bool { return host(a) == host(b) }
	for i := range dist {
		if sameHost(0, i) {
			dist[i] = topo.Host
		} else {
			dist[i] = topo.Net
		}
	}

	tree, err := topo.Build(topo.DefaultConfig(), 0, 0, dist, sameHost, func(a, b int) bool { return false })
	if err != nil {
		t.Fatalf("topo.Build: %v", err)
	}
	if len(tree.Levels) != 2 {
		t.Fatalf("expected a two-level tree (intra-host + inter-host), got %d levels", len(tree.Levels))
	}

	phases := Synthesize(tree, wire.Aggregate|wire.Broadcast)
	if len(phases) != 4 {
		t.Fatalf("expected 4 phases (intra fan-in, inter fan-in, inter fan-out, intra fan-out), got %d: %+v", len(phases), phases)
	}
	if phases[0].Method != step.MethodReduceTerminal && phases[0].Method != step.MethodReduceWaypoint {
		t.Fatalf("expected the root's first fan-in phase to be a reduce method, got %v", phases[0].Method)
	}
	if phases[len(phases)-1].Direction != FanOut {
		t.Fatalf("expected the last phase to be a fan-out phase, got %+v", phases[len(phases)-1])
	}
}

func TestSynthesizeRecursiveKingSkipsOutOfRangePartners(t *testing.T) {
	phases := SynthesizeRecursiveKing(5, 0, 2)
	for _, ph := range phases {
		if ph.Peers[0] < 0 || ph.Peers[0] >= 5 {
			t.Fatalf("recursive-king produced an out-of-range partner: %+v", ph)
		}
		if ph.Method != step.MethodRecursiveKing {
			t.Fatalf("expected every recursive-king phase to use MethodRecursiveKing, got %v", ph.Method)
		}
	}
}

func TestSynthesizeNoPhasesForSingleMember(t *testing.T) {
	tree, err := topo.Build(topo.DefaultConfig(), 0, 0, []topo.Distance{topo.Host}, nil, nil)
	if err != nil {
		t.Fatalf("topo.Build: %v", err)
	}
	phases := Synthesize(tree, wire.Barrier)
	if len(phases) != 0 {
		t.Fatalf("expected no phases for a single-member group, got %+v", phases)
	}
}
