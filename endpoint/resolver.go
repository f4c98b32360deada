/*
 * UCG collective communication engine.
 */

// Package endpoint implements the endpoint resolver spec §4.5 describes:
// lazy per-peer connection establishment and caching, distinguishing
// point-to-point, native-incast, and native-broadcast lanes. Grounded in
// original_source/base/ucg_plan.c's connect_p2p/incast/bcast helpers. Each
// resolve makes a single address-lookup and connect attempt; a failure is
// returned to the caller as a ResolveError and is not retried.
package endpoint

import (
	"context"
	"sync"

	"github.com/coles-systems/ucg/log"
	"github.com/coles-systems/ucg/transport"
	"github.com/coles-systems/ucg/wire"
)

// Want is the resolution flag spec §4.5 names: none, want_incast, or
// want_bcast.
type Want uint8

const (
	WantNone Want = iota
	WantIncast
	WantBcast
)

// Cache is the subset of Group's endpoint-cache behavior the resolver
// needs: lookup and idempotent insertion per lane.
type Cache interface {
	P2PLookup(member int) (transport.Endpoint, bool)
	P2PStore(member int, ep transport.Endpoint) (transport.Endpoint, bool)
	BcastLookup(member int) (transport.Endpoint, bool)
	BcastStore(member int, ep transport.Endpoint) (transport.Endpoint, bool)
	IncastLookup(sig wire.IncastSignature, member int) (transport.Endpoint, bool)
	IncastStore(sig wire.IncastSignature, member int, ep transport.Endpoint)
}

// Resolved is the (endpoint, attrs, memory-domain attrs) triple Resolve
// returns (spec §4.5's contract).
type Resolved struct {
	Endpoint transport.Endpoint
	Attrs    transport.InterfaceAttrs
	MD       transport.MemoryDomainAttrs
}

// Resolver resolves group members to connected endpoints, lazily, per
// spec §4.5's five-step algorithm.
type Resolver struct {
	resolveAddr transport.AddressResolver
	connect     transport.Connector
	globalIndex func(member int) (peer transport.PeerID, isRootGroupLookup bool)
	peerID      func(member int) transport.PeerID
	localPeer   transport.PeerID

	// broadcasting guards against the recursive-broadcast reentrancy the
	// source's is_bcast_address_being_bcasted flag prevents: a bcast lane
	// wire-up that itself needs to broadcast (to negotiate) must not
	// recurse into the same member's wire-up twice. Scoped per Group per
	// spec §9's "Global mutable state" note (the source uses one static
	// flag per process; we keep one entry per member being wired up, per
	// resolver instance, which a caller binds one-to-one with a Group).
	mutex        sync.Mutex
	broadcasting map[int]bool

	log log.Logger
}

// Config bundles constructor-time dependencies.
type Config struct {
	AddressResolver transport.AddressResolver
	Connector       transport.Connector
	LocalPeer       transport.PeerID
	PeerID          func(member int) transport.PeerID
	// GlobalIndex, when non-nil, translates a member index to a global
	// peer id; when it reports useRootGroup, that peer id is dialed in place
	// of PeerID's. The cache consulted is always the one passed to Resolve:
	// the root group's cache is not looked up.
	GlobalIndex func(member int) (peer transport.PeerID, useRootGroup bool)
	Logger      log.Logger
}

// New constructs a Resolver.
func New(cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nil{}
	}
	return &Resolver{
		resolveAddr:  cfg.AddressResolver,
		connect:      cfg.Connector,
		globalIndex:  cfg.GlobalIndex,
		peerID:       cfg.PeerID,
		localPeer:    cfg.LocalPeer,
		broadcasting: make(map[int]bool),
		log:          logger,
	}
}

// Resolve implements spec §4.5's algorithm against cache for member, under
// want and (for WantIncast) sig.
func (r *Resolver) Resolve(ctx context.Context, cache Cache, member int, want Want, sig wire.IncastSignature) (Resolved, error) {
	peer := r.peerFor(member)

	switch want {
	case WantNone:
		if ep, ok := cache.P2PLookup(member); ok {
			return r.describe(ep), nil
		}
		ep, err := r.dial(ctx, peer)
		if err != nil {
			return Resolved{}, err
		}
		stored, _ := cache.P2PStore(member, ep)
		return r.describe(stored), nil

	case WantIncast:
		if ep, ok := cache.IncastLookup(sig, member); ok {
			return r.describe(ep), nil
		}
		ep, err := r.wireUpNativeCollective(ctx, member, peer)
		if err != nil {
			return Resolved{}, err
		}
		cache.IncastStore(sig, member, ep)
		// One endpoint covers both lanes (spec §4.5 step 3: "store in both
		// caches"); link it into bcast too so a later want_bcast resolve for
		// this member reuses the connection instead of redialing.
		cache.BcastStore(member, ep)
		return r.describe(ep), nil

	case WantBcast:
		if ep, ok := cache.BcastLookup(member); ok {
			return r.describe(ep), nil
		}

		r.mutex.Lock()
		if r.broadcasting[member] {
			r.mutex.Unlock()
			return Resolved{}, ErrRecursiveBroadcast
		}
		r.broadcasting[member] = true
		r.mutex.Unlock()

		defer func() {
			r.mutex.Lock()
			delete(r.broadcasting, member)
			r.mutex.Unlock()
		}()

		ep, err := r.wireUpNativeCollective(ctx, member, peer)
		if err != nil {
			return Resolved{}, err
		}
		stored, _ := cache.BcastStore(member, ep)
		// Invariant (spec §3 "Endpoint caches"): an endpoint appearing in
		// bcast is also linked from the matching incast cache, since the two
		// lanes share the same underlying connection.
		cache.IncastStore(sig, member, stored)
		return r.describe(stored), nil
	}

	return Resolved{}, ErrInvalidWant
}

func (r *Resolver) peerFor(member int) transport.PeerID {
	if r.globalIndex != nil {
		if peer, useRoot := r.globalIndex(member); useRoot {
			return peer
		}
	}
	if r.peerID != nil {
		return r.peerID(member)
	}
	return transport.PeerID("")
}

func (r *Resolver) dial(ctx context.Context, peer transport.PeerID) (transport.Endpoint, error) {
	if peer == "" {
		// A debug/no-endpoint peer: spec's supplemented case (final
		// paragraph of §4.5) — a nil endpoint with no error, which the
		// step executor treats as an automatic no-op completion.
		return nil, nil
	}

	addr, err := r.resolveAddr.Resolve(ctx, peer)
	if err != nil {
		return nil, NewResolveError(peer, err)
	}
	ep, err := r.connect.Connect(ctx, r.localPeer, peer, addr)
	if err != nil {
		return nil, NewResolveError(peer, err)
	}
	r.log.DEBUG("endpoint", log.KV{"event": "p2p-connected", "peer": string(peer)})
	return ep, nil
}

// wireUpNativeCollective performs the native collective wire-up for an
// incast/bcast lane. One endpoint covers both lanes (spec §4.5 step 3:
// "returns one endpoint covering both incast and bcast lanes"), so this is
// just Resolver.dial with a distinct log facility for the wire-up path.
func (r *Resolver) wireUpNativeCollective(ctx context.Context, member int, peer transport.PeerID) (transport.Endpoint, error) {
	ep, err := r.dial(ctx, peer)
	if err != nil {
		return nil, err
	}
	r.log.DEBUG("endpoint", log.KV{"event": "native-collective-wireup", "member": member})
	return ep, nil
}

func (r *Resolver) describe(ep transport.Endpoint) Resolved {
	if ep == nil {
		return Resolved{}
	}
	return Resolved{Endpoint: ep, Attrs: ep.Attrs()}
}
