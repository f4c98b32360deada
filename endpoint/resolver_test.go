package endpoint

import (
	"context"
	"testing"

	"github.com/coles-systems/ucg/transport"
	"github.com/coles-systems/ucg/transport/mock"
	"github.com/coles-systems/ucg/wire"
)

type fakeCache struct {
	p2p    map[int]transport.Endpoint
	bcast  map[int]transport.Endpoint
	incast map[wire.IncastSignature]map[int]transport.Endpoint
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		p2p:    map[int]transport.Endpoint{},
		bcast:  map[int]transport.Endpoint{},
		incast: map[wire.IncastSignature]map[int]transport.Endpoint{},
	}
}

func (c *fakeCache) P2PLookup(m int) (transport.Endpoint, bool) { ep, ok := c.p2p[m]; return ep, ok }
func (c *fakeCache) P2PStore(m int, ep transport.Endpoint) (transport.Endpoint, bool) {
	if e, ok := c.p2p[m]; ok {
		return e, false
	}
	c.p2p[m] = ep
	return ep, true
}
func (c *fakeCache) BcastLookup(m int) (transport.Endpoint, bool) {
	ep, ok := c.bcast[m]
	return ep, ok
}
func (c *fakeCache) BcastStore(m int, ep transport.Endpoint) (transport.Endpoint, bool) {
	if e, ok := c.bcast[m]; ok {
		return e, false
	}
	c.bcast[m] = ep
	return ep, true
}
func (c *fakeCache) IncastLookup(sig wire.IncastSignature, m int) (transport.Endpoint, bool) {
	byMember, ok := c.incast[sig]
	if !ok {
		return nil, false
	}
	ep, ok := byMember[m]
	return ep, ok
}
func (c *fakeCache) IncastStore(sig wire.IncastSignature, m int, ep transport.Endpoint) {
	byMember, ok := c.incast[sig]
	if !ok {
		byMember = map[int]transport.Endpoint{}
		c.incast[sig] = byMember
	}
	byMember[m] = ep
}

func TestResolveP2PCachesAcrossCalls(t *testing.T) {
	net := mock.NewNetwork()
	net.Join("me", func(uint8, uint64, []byte) {})
	conn := net.Join("peer-1", func(uint8, uint64, []byte) {})
	_ = conn

	r := New(Config{
		AddressResolver: mock.Resolver{},
		Connector:       net.Join("me2", func(uint8, uint64, []byte) {}),
		LocalPeer:       "me",
		PeerID:          func(member int) transport.PeerID { return "peer-1" },
	})

	cache := newFakeCache()
	res1, err := r.Resolve(context.Background(), cache, 1, WantNone, wire.IncastSignature{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res1.Endpoint == nil {
		t.Fatalf("expected a non-nil endpoint")
	}

	res2, err := r.Resolve(context.Background(), cache, 1, WantNone, wire.IncastSignature{})
	if err != nil {
		t.Fatalf("Resolve (cached): %v", err)
	}
	if res2.Endpoint != res1.Endpoint {
		t.Fatalf("expected the second resolve to hit the cache and return the same endpoint")
	}
}

func TestResolveNoEndpointPeerReturnsNilWithoutError(t *testing.T) {
	net := mock.NewNetwork()
	net.Join("me", func(uint8, uint64, []byte) {})

	r := New(Config{
		AddressResolver: mock.Resolver{},
		Connector:       net.Join("standalone", func(uint8, uint64, []byte) {}),
		LocalPeer:       "me",
		PeerID:          func(member int) transport.PeerID { return "" },
	})

	cache := newFakeCache()
	res, err := r.Resolve(context.Background(), cache, 3, WantNone, wire.IncastSignature{})
	if err != nil {
		t.Fatalf("expected no error for a debug/no-endpoint peer, got %v", err)
	}
	if res.Endpoint != nil {
		t.Fatalf("expected a nil endpoint for a debug peer")
	}
}

func TestResolveBcastSharesIncastCache(t *testing.T) {
	net := mock.NewNetwork()
	net.Join("me", func(uint8, uint64, []byte) {})
	net.Join("peer-2", func(uint8, uint64, []byte) {})
	conn := net.Join("dialer", func(uint8, uint64, []byte) {})

	r := New(Config{
		AddressResolver: mock.Resolver{},
		Connector:       conn,
		LocalPeer:       "me",
		PeerID:          func(member int) transport.PeerID { return "peer-2" },
	})

	cache := newFakeCache()
	sig := wire.IncastSignature{Operator: wire.OpSum, Operand: wire.OperandI32, Count: 4}
	res, err := r.Resolve(context.Background(), cache, 2, WantBcast, sig)
	if err != nil {
		t.Fatalf("Resolve WantBcast: %v", err)
	}
	if _, ok := cache.BcastLookup(2); !ok {
		t.Fatalf("expected bcast cache to be populated")
	}
	incastEP, ok := cache.IncastLookup(sig, 2)
	if !ok {
		t.Fatalf("expected the bcast endpoint to also be linked from the matching incast cache")
	}
	if incastEP != res.Endpoint {
		t.Fatalf("expected the linked incast entry to be the same endpoint bcast resolved to")
	}
}

// TestResolveIncastSharesBcastCache is TestResolveBcastSharesIncastCache's
// mirror: a want_incast miss should link its endpoint into the bcast
// cache too, since one native-collective wire-up covers both lanes (spec
// §4.5 step 3: "store in both caches").
func TestResolveIncastSharesBcastCache(t *testing.T) {
	net := mock.NewNetwork()
	net.Join("me", func(uint8, uint64, []byte) {})
	net.Join("peer-3", func(uint8, uint64, []byte) {})
	conn := net.Join("dialer2", func(uint8, uint64, []byte) {})

	r := New(Config{
		AddressResolver: mock.Resolver{},
		Connector:       conn,
		LocalPeer:       "me",
		PeerID:          func(member int) transport.PeerID { return "peer-3" },
	})

	cache := newFakeCache()
	sig := wire.IncastSignature{Operator: wire.OpMax, Operand: wire.OperandF64, Count: 8}
	res, err := r.Resolve(context.Background(), cache, 3, WantIncast, sig)
	if err != nil {
		t.Fatalf("Resolve WantIncast: %v", err)
	}
	bcastEP, ok := cache.BcastLookup(3)
	if !ok {
		t.Fatalf("expected the incast endpoint to also be linked from the bcast cache")
	}
	if bcastEP != res.Endpoint {
		t.Fatalf("expected the linked bcast entry to be the same endpoint incast resolved to")
	}
}

func TestResolveInvalidWant(t *testing.T) {
	net := mock.NewNetwork()
	net.Join("me", func(uint8, uint64, []byte) {})
	r := New(Config{
		AddressResolver: mock.Resolver{},
		Connector:       net.Join("invalid-want-dialer", func(uint8, uint64, []byte) {}),
		LocalPeer:       "me",
	})
	cache := newFakeCache()
	if _, err := r.Resolve(context.Background(), cache, 1, Want(99), wire.IncastSignature{}); err != ErrInvalidWant {
		t.Fatalf("expected ErrInvalidWant, got %v", err)
	}
}
