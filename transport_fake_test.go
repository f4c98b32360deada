package ucg

import (
	"context"

	"github.com/coles-systems/ucg/transport"
)

// fakeEndpoint is a minimal transport.Endpoint used only to exercise
// endpoint-cache bookkeeping; it never sends anything.
type fakeEndpoint struct {
	id int
}

func (f fakeEndpoint) Attrs() transport.InterfaceAttrs { return transport.InterfaceAttrs{} }

func (f fakeEndpoint) AMShort(context.Context, uint8, uint64, []byte) error { return nil }

func (f fakeEndpoint) AMBcopy(context.Context, uint8, func(buf []byte) int) error { return nil }

func (f fakeEndpoint) AMZcopy(context.Context, uint8, uint64, []byte, transport.CompletionSink) error {
	return nil
}

func (f fakeEndpoint) PutZcopy(context.Context, []byte, uint64, []byte, transport.CompletionSink) error {
	return nil
}

func (f fakeEndpoint) GetZcopy(context.Context, []byte, uint64, []byte, transport.CompletionSink) error {
	return nil
}

func (f fakeEndpoint) Close() error { return nil }
