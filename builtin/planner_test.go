package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/coles-systems/ucg"
	"github.com/coles-systems/ucg/transport"
	"github.com/coles-systems/ucg/transport/mock"
	"github.com/coles-systems/ucg/wire"
)

// recordingDeliveries captures every AM frame a mock peer receives, keyed
// by peer, over a channel: the mock network's delivery goroutine runs
// concurrently with the triggering Start call, so a test must wait for a
// frame rather than poll a plain counter immediately after Start returns.
type recordingDeliveries struct {
	received chan transport.PeerID
}

func newRecordingDeliveries() *recordingDeliveries {
	return &recordingDeliveries{received: make(chan transport.PeerID, 64)}
}

func (r *recordingDeliveries) handlerFor(peer transport.PeerID) func(uint8, uint64, []byte) {
	return func(uint8, uint64, []byte) {
		r.received <- peer
	}
}

// awaitEach blocks until every peer in want has reported at least one
// delivery, failing the test if that doesn't happen within a short
// deadline.
func (r *recordingDeliveries) awaitEach(t *testing.T, want []transport.PeerID) {
	t.Helper()
	remaining := make(map[transport.PeerID]bool, len(want))
	for _, p := range want {
		remaining[p] = true
	}
	deadline := time.After(2 * time.Second)
	for len(remaining) > 0 {
		select {
		case peer := <-r.received:
			delete(remaining, peer)
		case <-deadline:
			t.Fatalf("timed out waiting for deliveries; still missing %v", remaining)
		}
	}
}

// TestPlannerStartBarrierSendsToEveryChild exercises Planner.Start end to
// end: register the planner with a Context, create per-group state, and
// Start a barrier at the root. The root's first phase is a fan-in recv
// with every other member as a peer, so the underlying step executor
// sends one AM frame to each of them as part of establishing the step
// (spec §4.4's send dispatch runs even for the recv side of a phase, since
// a phase's Endpoints are shared regardless of Role).
func TestPlannerStartBarrierSendsToEveryChild(t *testing.T) {
	net := mock.NewNetwork()
	recorder := newRecordingDeliveries()
	conn := net.Join("m0", recorder.handlerFor("m0"))
	for i := 1; i < 4; i++ {
		net.Join(peerName(i), recorder.handlerFor(peerName(i)))
	}

	group, err := ucg.NewGroup(4, 0, ucg.UniformDistance(ucg.Host))
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}

	planner := New(Config{
		AddressResolver: mock.Resolver{},
		Connector:       conn,
		Neighbors:       mock.Neighbors{},
		LocalPeer:       "m0",
		PeerForMember:   func(_ *ucg.Group, member int) transport.PeerID { return peerName(member) },
	})

	ctx, err := ucg.NewContext(ucg.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if err := ctx.Register(planner); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := ctx.CreateGroupState(group); err != nil {
		t.Fatalf("CreateGroupState: %v", err)
	}

	_, amID, ok := ctx.Lookup("builtin")
	if !ok {
		t.Fatalf("expected the builtin planner to be registered")
	}

	err = planner.Start(context.Background(), group, amID, CollectiveParams{
		Modifiers: wire.Barrier,
		Root:      0,
	}, func(error) {})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	recorder.awaitEach(t, []transport.PeerID{peerName(1), peerName(2), peerName(3)})
}

// TestPlannerDispatcherAndResendQueueReachable checks the accessor methods
// a caller's AM-delivery handler and progress ticker need: both must
// resolve to the same per-group state Create installed.
func TestPlannerDispatcherAndResendQueueReachable(t *testing.T) {
	net := mock.NewNetwork()
	conn := net.Join("m0", func(uint8, uint64, []byte) {})
	for i := 1; i < 4; i++ {
		net.Join(peerName(i), func(uint8, uint64, []byte) {})
	}

	group, err := ucg.NewGroup(4, 0, ucg.UniformDistance(ucg.Host))
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}

	planner := New(Config{
		AddressResolver: mock.Resolver{},
		Connector:       conn,
		Neighbors:       mock.Neighbors{},
		LocalPeer:       "m0",
		PeerForMember:   func(_ *ucg.Group, member int) transport.PeerID { return peerName(member) },
	})

	ctx, err := ucg.NewContext(ucg.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if err := ctx.Register(planner); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := ctx.CreateGroupState(group); err != nil {
		t.Fatalf("CreateGroupState: %v", err)
	}

	if planner.Dispatcher(group) == nil {
		t.Fatalf("expected Dispatcher to return the group's slot ring")
	}
	if planner.ResendQueue(group) == nil {
		t.Fatalf("expected ResendQueue to return the group's resend queue")
	}
}

// TestPlannerStartUnregisteredGroupPanics documents Start's contract:
// calling it before ucg.Context.CreateGroupState ran is a programmer
// error, not a runtime condition to recover from (matching
// Planner.state's panic).
func TestPlannerStartUnregisteredGroupPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Start to panic for a group with no planner state")
		}
	}()

	group, err := ucg.NewGroup(4, 0, ucg.UniformDistance(ucg.Host))
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}

	planner := New(Config{
		AddressResolver: mock.Resolver{},
		LocalPeer:       "m0",
		PeerForMember:   func(_ *ucg.Group, member int) transport.PeerID { return peerName(member) },
	})

	_ = planner.Start(context.Background(), group, 7, CollectiveParams{Modifiers: wire.Barrier}, func(error) {})
}
