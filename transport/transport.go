/*
 * UCG collective communication engine.
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * (at your option) any later version.
 */

// Package transport defines the external surface the collective core
// consumes but never implements: endpoints, their capabilities, and the
// runtime callbacks (address resolution, datatypes, reduction, completion,
// fault reporting) that the embedding process supplies. Nothing in this
// package moves a byte; see transport/mock for an in-process implementation
// used by tests and the demo binary.
//
// The core selects a send path "by capability, not by name": it asks an
// Endpoint which Capability bits it has and picks Short/Bcopy/Zcopy
// accordingly (builtin_step_execute.c's uct_ep_am_short_func_t /
// uct_ep_am_bcopy_func_t / uct_ep_am_zcopy_func_t three-way split), rather
// than hard-coding a transport name.
package transport

import "context"

// Capability is a bitmask describing which send paths an Endpoint supports.
type Capability uint32

const (
	// AMShort sends a small active message by value; the caller's buffer is
	// copied into the wire frame synchronously and may be reused immediately.
	AMShort Capability = 1 << iota
	// AMBcopy sends a larger active message via a pack callback invoked by
	// the transport at send time, avoiding a caller-side copy.
	AMBcopy
	// AMZcopy sends a large active message by reference (zero-copy); the
	// caller's buffer must remain valid until the completion callback fires.
	AMZcopy
	// PutZcopy writes directly into a remote buffer described by a prior
	// rkey exchange.
	PutZcopy
	// GetZcopy reads directly from a remote buffer described by a prior
	// rkey exchange.
	GetZcopy
)

func (c Capability) Has(bit Capability) bool { return c&bit != 0 }

// InterfaceAttrs describes the fixed properties of a communication
// interface: its capability set and the size thresholds the step builder
// uses to decide where Short ends and Bcopy/Zcopy begin.
type InterfaceAttrs struct {
	Capabilities  Capability
	MaxShortSize  int // largest payload AMShort will carry
	MaxBcopySize  int // largest payload AMBcopy will carry
	MinZcopySize  int // smallest payload worth the Zcopy setup cost
	Latency       float64
	BandwidthMBps float64
}

// MemoryDomainAttrs describes a registered memory region's remote-access key
// material, exchanged ahead of a Put/GetZcopy step. No phase in this module
// performs that exchange; step.Request takes the rkey from its caller.
type MemoryDomainAttrs struct {
	RkeyPackedSize int
}

// Endpoint is a connection to one peer over one interface. Implementations
// are supplied by the embedding transport layer; the core only ever calls
// through this interface.
type Endpoint interface {
	Attrs() InterfaceAttrs

	// AMShort sends header+payload as a single synchronous active message.
	AMShort(ctx context.Context, amID uint8, header uint64, payload []byte) error

	// AMBcopy invokes pack to fill a transport-owned buffer of up to
	// Attrs().MaxBcopySize bytes, then sends it. pack returns the number of
	// bytes actually written.
	AMBcopy(ctx context.Context, amID uint8, pack func(buf []byte) int) error

	// AMZcopy sends header+payload by reference; done is invoked once the
	// transport no longer needs payload.
	AMZcopy(ctx context.Context, amID uint8, header uint64, payload []byte, done CompletionSink) error

	// PutZcopy writes payload into the peer's registered memory at
	// remoteOffset, using rkey from a prior exchange.
	PutZcopy(ctx context.Context, payload []byte, remoteOffset uint64, rkey []byte, done CompletionSink) error

	// GetZcopy reads len(into) bytes from the peer's registered memory at
	// remoteOffset into into, using rkey from a prior exchange.
	GetZcopy(ctx context.Context, into []byte, remoteOffset uint64, rkey []byte, done CompletionSink) error

	// Close releases any transport resources held for this peer.
	Close() error
}

// CompletionSink is invoked exactly once when an asynchronous send or
// receive finishes, successfully or not.
type CompletionSink func(err error)

// PeerID identifies one member of a group in a transport-agnostic way,
// opaque to the core.
type PeerID string

// AddressResolver maps a peer to the connection parameters an Endpoint
// factory needs. It is supplied through the built-in planner's Config and
// consulted by endpoint.Resolver when it dials a peer.
type AddressResolver interface {
	Resolve(ctx context.Context, peer PeerID) (Address, error)
}

// Address is opaque transport-specific connection data (a packed UCT/UCX
// address in the source; here, whatever bytes the embedding transport's
// factory needs to dial peer).
type Address []byte

// Connector constructs Endpoints from resolved Addresses. It is the one
// factory seam a real transport implements; everything else in this package
// is consumed, not implemented, by the core.
type Connector interface {
	Connect(ctx context.Context, local PeerID, peer PeerID, addr Address) (Endpoint, error)
}

// NeighborQuerier answers topology questions the planner needs to build a
// tree: which peers share a host and which share a NUMA socket. See topo
// for the tree this drives.
type NeighborQuerier interface {
	// SameHost reports whether a and b are known to run on the same host.
	SameHost(a, b PeerID) bool
	// SameSocket reports whether a and b are known to share a NUMA socket.
	SameSocket(a, b PeerID) bool
}

// DatatypeDescriptor is the runtime's description of one operand's memory
// layout, supplied so the core can fragment and pack/unpack a buffer
// without knowing the datatype system above it (spec Non-goal: no built-in
// datatype system). Buffers are always exposed as []byte; a runtime whose
// native operand isn't byte-addressable is responsible for its own
// marshaling inside Pack/Unpack.
type DatatypeDescriptor interface {
	// ExtentBytes returns the total contiguous byte length of count
	// elements, or -1 if the layout is non-contiguous.
	ExtentBytes(count int) int
	// Pack copies count elements starting at elemOffset from src into dst,
	// returning the number of bytes written.
	Pack(dst []byte, src any, elemOffset, count int) int
	// Unpack is the inverse of Pack.
	Unpack(dst any, src []byte, elemOffset, count int) int
}

// ReduceOperator combines two buffers of count elements into dst := dst OP
// src. Built-in operators live in ucg/reduceop; this interface is the
// escape hatch for a custom datatype's reduction (spec §4.3 step 5).
type ReduceOperator interface {
	Reduce(dst, src []byte, count int) error
}

// FaultHandler is a hook for a future fault-tolerance recovery algorithm.
// Open Question (spec §9): the source references a dead ctx->ft_ctx branch
// behind ENABLE_FAULT_TOLERANCE with no reachable implementation to model.
// Rather than guess at recovery semantics, the interface is declared only:
// nothing in the core calls Notify, and no component implements
// retry/reconfiguration on top of it.
type FaultHandler interface {
	Notify(peer PeerID, err error)
}
