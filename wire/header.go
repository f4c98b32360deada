/*
 * UCG collective communication engine.
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * (at your option) any later version.
 */

// Package wire defines the fixed-layout bytes that cross the network: the
// 16-byte collective header, the collective modifier bitfield, and the
// incast reduction signature.
package wire

import "encoding/binary"

// HeaderLen is the fixed size, in bytes, of the active-message header
// attached to every collective fragment.
const HeaderLen = 16

// Header is the compact routing key carried on every fragment: which
// group, which operation, which step, and where in the receiver's buffer
// the payload lands.
//
//	group_id:      u32 little-endian
//	coll_id:       u8  (wraps within the slot ring)
//	step_idx:      u8  (monotonic within one op)
//	reserved:      u16 (zero)
//	remote_offset: u64 (byte offset in the receiver's buffer)
type Header struct {
	GroupID      uint32
	CollID       uint8
	StepIdx      uint8
	RemoteOffset uint64
}

// Marshal encodes h into a fresh 16-byte slice.
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint32(b[0:4], h.GroupID)
	b[4] = h.CollID
	b[5] = h.StepIdx
	// b[6:8] reserved, left zero
	binary.LittleEndian.PutUint64(b[8:16], h.RemoteOffset)
	return b
}

// Unmarshal decodes a Header from a 16-byte slice. It reports false if b is
// too short.
func Unmarshal(b []byte) (Header, bool) {
	var h Header
	if len(b) < HeaderLen {
		return h, false
	}
	h.GroupID = binary.LittleEndian.Uint32(b[0:4])
	h.CollID = b[4]
	h.StepIdx = b[5]
	h.RemoteOffset = binary.LittleEndian.Uint64(b[8:16])
	return h, true
}

// LocalID packs CollID/StepIdx into the 16-bit key used to index deferred
// out-of-order message buffers within a slot: a message from a different
// (coll_id, step_idx) pair than the one a slot is currently receiving is
// unambiguously "not for now".
func (h Header) LocalID() uint16 {
	return uint16(h.CollID)<<8 | uint16(h.StepIdx)
}
