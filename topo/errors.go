package topo

import "errors"

var (
	// ErrInvalidParameter is returned when me or root falls outside the
	// group's member range.
	ErrInvalidParameter = errors.New("topo: invalid parameter")
	// ErrBufferTooSmall is returned when a level's child count would
	// exceed the configured radix (spec §4.2: "exceeding the bound
	// returns a buffer-too-small error; no truncation is ever silent").
	ErrBufferTooSmall = errors.New("topo: radix exceeded")
)
