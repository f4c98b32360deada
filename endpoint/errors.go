package endpoint

import (
	"errors"
	"fmt"

	"github.com/coles-systems/ucg/transport"
)

// ErrRecursiveBroadcast is returned when a bcast-lane wire-up for a member
// is already in progress and something re-entrantly asks to wire up the
// same member again, guarding the reentrancy the source's
// is_bcast_address_being_bcasted flag exists for.
var ErrRecursiveBroadcast = errors.New("endpoint: recursive broadcast wire-up")

// ErrInvalidWant is returned for a Want value outside {WantNone,
// WantIncast, WantBcast}.
var ErrInvalidWant = errors.New("endpoint: invalid want flag")

// ResolveError wraps a failure to resolve or connect to a specific peer.
type ResolveError struct {
	Peer transport.PeerID
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("endpoint: resolve %q: %v", e.Peer, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// NewResolveError constructs a *ResolveError.
func NewResolveError(peer transport.PeerID, err error) *ResolveError {
	return &ResolveError{Peer: peer, Err: err}
}
