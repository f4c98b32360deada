/*
 * UCG collective communication engine.
 */

// Package mock implements ucg/transport entirely in-process over Go
// channels, grounded in spec §4.2's "mock" collective modifier: every peer
// is reachable, every send completes on the next scheduler tick, and there
// is no notion of network loss. It exists for tests and cmd/ucgdemo, never
// for production traffic.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/coles-systems/ucg/transport"
)

// Network is a shared registry of in-process peers. Every Endpoint obtained
// from the same Network can reach every other peer registered on it.
type Network struct {
	mutex sync.Mutex
	peers map[transport.PeerID]*node
}

// NewNetwork creates an empty in-process network.
func NewNetwork() *Network {
	return &Network{peers: make(map[transport.PeerID]*node)}
}

type node struct {
	id     transport.PeerID
	inbox  chan frame
	md     map[uint64][]byte // rkey -> registered buffer, keyed by synthetic handle
	mdNext uint64
	mdMu   sync.Mutex
}

type frame struct {
	amID    uint8
	header  uint64
	payload []byte
}

// Join registers peer on the network, with deliver called for every frame
// that arrives in peer's inbox, and returns a Connector on the network;
// each Endpoint the Connector produces delivers into the inbox of the peer
// it was connected to.
func (n *Network) Join(peer transport.PeerID, deliver func(amID uint8, header uint64, payload []byte)) *Connector {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	nd := &node{id: peer, inbox: make(chan frame, 256), md: make(map[uint64][]byte)}
	n.peers[peer] = nd

	go func() {
		for f := range nd.inbox {
			deliver(f.amID, f.header, f.payload)
		}
	}()

	return &Connector{net: n}
}

// Connector implements transport.Connector over a Network.
type Connector struct {
	net *Network
}

// Connect returns an Endpoint that delivers to peer's inbox. addr is
// ignored: peer identity alone is sufficient to route within a Network.
func (c *Connector) Connect(_ context.Context, _ transport.PeerID, peer transport.PeerID, _ transport.Address) (transport.Endpoint, error) {
	c.net.mutex.Lock()
	nd, ok := c.net.peers[peer]
	c.net.mutex.Unlock()
	if !ok {
		return nil, fmt.Errorf("mock: peer %q not joined", peer)
	}
	return &endpoint{target: nd}, nil
}

const (
	maxShort = 256
	maxBcopy = 64 << 10
	minZcopy = 64 << 10
)

type endpoint struct {
	target *node
}

func (e *endpoint) Attrs() transport.InterfaceAttrs {
	return transport.InterfaceAttrs{
		Capabilities: transport.AMShort | transport.AMBcopy | transport.AMZcopy | transport.PutZcopy | transport.GetZcopy,
		MaxShortSize: maxShort,
		MaxBcopySize: maxBcopy,
		MinZcopySize: minZcopy,
	}
}

func (e *endpoint) AMShort(_ context.Context, amID uint8, header uint64, payload []byte) error {
	cp := append([]byte(nil), payload...)
	e.target.inbox <- frame{amID: amID, header: header, payload: cp}
	return nil
}

func (e *endpoint) AMBcopy(_ context.Context, amID uint8, pack func(buf []byte) int) error {
	buf := make([]byte, maxBcopy)
	n := pack(buf)
	e.target.inbox <- frame{amID: amID, payload: buf[:n]}
	return nil
}

func (e *endpoint) AMZcopy(_ context.Context, amID uint8, header uint64, payload []byte, done transport.CompletionSink) error {
	cp := append([]byte(nil), payload...)
	e.target.inbox <- frame{amID: amID, header: header, payload: cp}
	if done != nil {
		done(nil)
	}
	return nil
}

func (e *endpoint) PutZcopy(_ context.Context, payload []byte, remoteOffset uint64, rkey []byte, done transport.CompletionSink) error {
	buf, ok := e.target.lookupMemory(rkey)
	if !ok {
		err := fmt.Errorf("mock: unknown rkey")
		if done != nil {
			done(err)
		}
		return err
	}
	if int(remoteOffset)+len(payload) > len(buf) {
		err := fmt.Errorf("mock: put out of bounds")
		if done != nil {
			done(err)
		}
		return err
	}
	copy(buf[remoteOffset:], payload)
	if done != nil {
		done(nil)
	}
	return nil
}

func (e *endpoint) GetZcopy(_ context.Context, into []byte, remoteOffset uint64, rkey []byte, done transport.CompletionSink) error {
	buf, ok := e.target.lookupMemory(rkey)
	if !ok {
		err := fmt.Errorf("mock: unknown rkey")
		if done != nil {
			done(err)
		}
		return err
	}
	if int(remoteOffset)+len(into) > len(buf) {
		err := fmt.Errorf("mock: get out of bounds")
		if done != nil {
			done(err)
		}
		return err
	}
	copy(into, buf[remoteOffset:remoteOffset+uint64(len(into))])
	if done != nil {
		done(nil)
	}
	return nil
}

func (e *endpoint) Close() error { return nil }

// RegisterMemory exposes buf on peer for PutZcopy/GetZcopy, returning the
// rkey a remote endpoint must present to reach it.
func (n *Network) RegisterMemory(peer transport.PeerID, buf []byte) ([]byte, error) {
	n.mutex.Lock()
	nd, ok := n.peers[peer]
	n.mutex.Unlock()
	if !ok {
		return nil, fmt.Errorf("mock: peer %q not joined", peer)
	}

	nd.mdMu.Lock()
	defer nd.mdMu.Unlock()
	handle := nd.mdNext
	nd.mdNext++
	nd.md[handle] = buf

	rkey := make([]byte, 8)
	for i := 0; i < 8; i++ {
		rkey[i] = byte(handle >> (8 * uint(i)))
	}
	return rkey, nil
}

func (n *node) lookupMemory(rkey []byte) ([]byte, bool) {
	if len(rkey) != 8 {
		return nil, false
	}
	var handle uint64
	for i := 0; i < 8; i++ {
		handle |= uint64(rkey[i]) << (8 * uint(i))
	}
	n.mdMu.Lock()
	defer n.mdMu.Unlock()
	buf, ok := n.md[handle]
	return buf, ok
}

// Resolver is a trivial transport.AddressResolver over a Network: every
// joined peer resolves to an empty Address, since Connector.Connect routes
// by peer identity alone.
type Resolver struct{}

func (Resolver) Resolve(_ context.Context, _ transport.PeerID) (transport.Address, error) {
	return transport.Address{}, nil
}

// Neighbors is a transport.NeighborQuerier driven by caller-supplied host
// and socket membership maps, for exercising ucg/topo without real
// hardware.
type Neighbors struct {
	Host   map[transport.PeerID]string
	Socket map[transport.PeerID]string
}

func (n Neighbors) SameHost(a, b transport.PeerID) bool {
	return n.Host != nil && n.Host[a] != "" && n.Host[a] == n.Host[b]
}

func (n Neighbors) SameSocket(a, b transport.PeerID) bool {
	return n.Socket != nil && n.Socket[a] != "" && n.Socket[a] == n.Socket[b]
}
