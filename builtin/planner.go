/*
 * UCG collective communication engine.
 */

package builtin

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/coles-systems/ucg"
	"github.com/coles-systems/ucg/dispatch"
	"github.com/coles-systems/ucg/endpoint"
	"github.com/coles-systems/ucg/exec"
	"github.com/coles-systems/ucg/log"
	"github.com/coles-systems/ucg/topo"
	"github.com/coles-systems/ucg/transport"
)

// Config bundles the transport-layer dependencies the built-in planner
// needs to resolve endpoints and derive topology, supplied once at
// construction and shared by every group the planner serves.
type Config struct {
	AddressResolver transport.AddressResolver
	Connector       transport.Connector
	Neighbors       transport.NeighborQuerier
	LocalPeer       transport.PeerID

	// PeerForMember maps a group member index to its transport peer
	// identity. The core has no opinion on how membership maps to peer
	// addresses, so the embedding application supplies this.
	PeerForMember func(group *ucg.Group, member int) transport.PeerID

	Logger log.Logger
}

// Planner is the ucg.PlannerComponent implementation for the built-in
// planner (spec §4.1, §4.2), registered under the name "builtin".
type Planner struct {
	cfg Config
}

// New constructs a Planner ready for ucg.Context.Register.
func New(cfg Config) *Planner { return &Planner{cfg: cfg} }

func (p *Planner) Name() string { return "builtin" }

type globalState struct {
	topoCfg topo.Config
	maxOps  int
}

// Init stores the tree tunables (spec §6: tree.radix, tree.sock_thresh)
// and the slot ring size (max_concurrent_ops) from the context's
// configuration.
func (p *Planner) Init(cfg ucg.Config) (any, error) {
	return &globalState{topoCfg: topo.Config{Radix: cfg.TreeRadix, SockThresh: cfg.TreeSockThresh}, maxOps: cfg.MaxConcurrentOps}, nil
}

func (p *Planner) Finalize(any) {}

// groupState is the per-group state spec §4.1 describes: a lazily
// memoized tree per requested root, a bound endpoint resolver, the
// concurrency slot ring, and the resend queue.
type groupState struct {
	mutex sync.Mutex
	trees map[int]topo.Tree

	topoCfg    topo.Config
	group      *ucg.Group
	resolver   *endpoint.Resolver
	dispatcher *dispatch.Dispatcher
	resend     *exec.ResendQueue
	collSeq    uint32
}

// Create builds the per-group state: one endpoint resolver bound to this
// group's member-to-peer mapping, a concurrency slot ring, and an empty
// resend queue.
func (p *Planner) Create(gs any, group *ucg.Group) (any, error) {
	g := gs.(*globalState)

	resolver := endpoint.New(endpoint.Config{
		AddressResolver: p.cfg.AddressResolver,
		Connector:       p.cfg.Connector,
		LocalPeer:       p.cfg.LocalPeer,
		PeerID:          func(member int) transport.PeerID { return p.cfg.PeerForMember(group, member) },
		Logger:          p.cfg.Logger,
	})

	dispatcher, err := dispatch.NewDispatcher(g.maxOps, p.cfg.Logger)
	if err != nil {
		return nil, err
	}

	return &groupState{
		trees:      make(map[int]topo.Tree),
		topoCfg:    g.topoCfg,
		group:      group,
		resolver:   resolver,
		dispatcher: dispatcher,
		resend:     exec.NewResendQueue(),
	}, nil
}

func (p *Planner) Destroy(any) {}

// treeFor returns the memoized topology tree rooted at root for group,
// building it on first use from the group's distance model and the
// configured neighbor querier.
func (p *Planner) treeFor(gst *groupState, root int) (topo.Tree, error) {
	gst.mutex.Lock()
	defer gst.mutex.Unlock()

	if t, ok := gst.trees[root]; ok {
		return t, nil
	}

	group := gst.group
	n := group.MemberCount()
	dist := make([]topo.Distance, n)
	for j := 0; j < n; j++ {
		dist[j] = group.Distance(j)
	}

	sameHost := func(a, b int) bool {
		if p.cfg.Neighbors == nil || p.cfg.PeerForMember == nil {
			return false
		}
		return p.cfg.Neighbors.SameHost(p.cfg.PeerForMember(group, a), p.cfg.PeerForMember(group, b))
	}
	sameSocket := func(a, b int) bool {
		if p.cfg.Neighbors == nil || p.cfg.PeerForMember == nil {
			return false
		}
		return p.cfg.Neighbors.SameSocket(p.cfg.PeerForMember(group, a), p.cfg.PeerForMember(group, b))
	}

	t, err := topo.Build(gst.topoCfg, group.MyIndex(), root, dist, sameHost, sameSocket)
	if err != nil {
		return topo.Tree{}, err
	}
	gst.trees[root] = t
	return t, nil
}

// state retrieves the groupState the Context stored for group when
// ucg.Context.CreateGroupState ran, panicking if that setup step was
// skipped — a programmer error, not a runtime condition to recover from.
func (p *Planner) state(group *ucg.Group) *groupState {
	v := group.PlannerState(p.Name(), func() any {
		panic("builtin: group state not initialized; call ucg.Context.CreateGroupState first")
	})
	return v.(*groupState)
}

// Start synthesizes a plan for params against group, binds it to a fresh
// concurrency slot, and triggers its first step (spec §4.1-§4.4 end to
// end). onComplete is invoked exactly once, with the final error (nil on
// success).
func (p *Planner) Start(ctx context.Context, group *ucg.Group, amID uint8, params CollectiveParams, onComplete func(error)) error {
	gst := p.state(group)

	tree := func(root int) (topo.Tree, error) { return p.treeFor(gst, root) }
	op, err := BuildOp(ctx, group, gst.resolver, group.MemberCount(), group.MyIndex(), tree, amID, params)
	if err != nil {
		return err
	}

	collID := uint8(atomic.AddUint32(&gst.collSeq, 1))
	req := exec.NewRequest(op, amID, collID, onComplete, gst.resend)

	if err := gst.dispatcher.Trigger(collID, req); err != nil {
		return err
	}

	return req.Trigger(ctx, p.cfg.Logger)
}

// Dispatcher exposes the group's concurrency slot ring, for routing
// inbound wire messages (spec §4.6) and for the Prometheus collector.
func (p *Planner) Dispatcher(group *ucg.Group) *dispatch.Dispatcher {
	return p.state(group).dispatcher
}

// ResendQueue exposes the group's resend queue, driven by a progress tick
// (spec §4.4 "Resend queue").
func (p *Planner) ResendQueue(group *ucg.Group) *exec.ResendQueue {
	return p.state(group).resend
}
