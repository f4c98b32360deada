package exec

import (
	"context"
	"errors"
	"testing"

	"github.com/coles-systems/ucg/step"
	"github.com/coles-systems/ucg/transport"
	"github.com/coles-systems/ucg/wire"
)

type recordingEndpoint struct {
	attrs    transport.InterfaceAttrs
	sent     [][]byte
	failNext bool
}

func (e *recordingEndpoint) Attrs() transport.InterfaceAttrs { return e.attrs }

func (e *recordingEndpoint) AMShort(_ context.Context, _ uint8, _ uint64, payload []byte) error {
	if e.failNext {
		e.failNext = false
		return ErrNoResource
	}
	e.sent = append(e.sent, append([]byte(nil), payload...))
	return nil
}

func (e *recordingEndpoint) AMBcopy(_ context.Context, _ uint8, pack func([]byte) int) error {
	buf := make([]byte, 4096)
	n := pack(buf)
	e.sent = append(e.sent, buf[:n])
	return nil
}

func (*recordingEndpoint) AMZcopy(context.Context, uint8, uint64, []byte, transport.CompletionSink) error {
	return nil
}
func (*recordingEndpoint) PutZcopy(context.Context, []byte, uint64, []byte, transport.CompletionSink) error {
	return nil
}
func (*recordingEndpoint) GetZcopy(context.Context, []byte, uint64, []byte, transport.CompletionSink) error {
	return nil
}
func (*recordingEndpoint) Close() error { return nil }

func TestTriggerOneShotCompletes(t *testing.T) {
	ep := &recordingEndpoint{}
	st := &step.Step{
		Flags:      step.AMShort | step.SingleEndpoint,
		Endpoints:  []transport.Endpoint{ep},
		SendBuffer: []byte("payload"),
		Criterion:  step.CriterionSend,
		Action:     step.ActionCompleteOp,
	}
	op := &step.Op{Steps: []*step.Step{st}}

	done := make(chan error, 1)
	req := NewRequest(op, 1, 5, func(err error) { done <- err }, nil)

	if err := req.Trigger(context.Background(), nil); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if len(ep.sent) != 1 {
		t.Fatalf("expected one frame to be sent, got %d", len(ep.sent))
	}
	if got := string(ep.sent[0][wire.HeaderLen:]); got != "payload" {
		t.Fatalf("expected payload to be sent after the routing header, got %q", got)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected onComplete(nil), got %v", err)
		}
	default:
		t.Fatalf("expected onComplete to have fired for a zero-pending send-only step")
	}
}

func TestOnFragmentArrivedCompletesOp(t *testing.T) {
	st := &step.Step{
		Flags:     step.AMShort,
		Endpoints: nil,
		Criterion: step.CriterionSingleMessage,
		Action:    step.ActionCompleteOp,
	}
	op := &step.Op{Steps: []*step.Step{st}}

	var gotErr error
	called := false
	req := NewRequest(op, 1, 5, func(err error) { called = true; gotErr = err }, nil)
	if err := req.Trigger(context.Background(), nil); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if req.Pending != 1 {
		t.Fatalf("expected pending=1 for a single-message step, got %d", req.Pending)
	}

	complete := req.OnFragmentArrived()
	if !complete {
		t.Fatalf("expected op to complete after the single expected fragment")
	}
	if !called || gotErr != nil {
		t.Fatalf("expected onComplete(nil) to have been called")
	}
}

func TestOnFragmentArrivedAdvancesStep(t *testing.T) {
	first := &step.Step{Flags: step.AMShort, Criterion: step.CriterionSingleMessage, Action: step.ActionAdvanceStep}
	second := &step.Step{Flags: step.AMShort, Criterion: step.CriterionSingleMessage, Action: step.ActionCompleteOp}
	op := &step.Op{Steps: []*step.Step{first, second}}

	req := NewRequest(op, 1, 5, func(error) {}, nil)
	if err := req.Trigger(context.Background(), nil); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	complete := req.OnFragmentArrived()
	if complete {
		t.Fatalf("op should not complete after the first step advances")
	}
	if op.Current != 1 {
		t.Fatalf("expected Current to advance to 1, got %d", op.Current)
	}
}

func TestTriggerNoResourceEnqueuesResend(t *testing.T) {
	ep := &recordingEndpoint{failNext: true}
	st := &step.Step{
		Flags:      step.AMShort | step.SingleEndpoint,
		Endpoints:  []transport.Endpoint{ep},
		SendBuffer: []byte("x"),
		Criterion:  step.CriterionSend,
		Action:     step.ActionCompleteOp,
	}
	op := &step.Op{Steps: []*step.Step{st}}

	rq := NewResendQueue()
	req := NewRequest(op, 1, 5, func(error) {}, rq)
	if err := req.Trigger(context.Background(), nil); err != nil {
		t.Fatalf("Trigger should absorb ErrNoResource, got %v", err)
	}
	if req.State() != Resend {
		t.Fatalf("expected state Resend, got %v", req.State())
	}
	if rq.Len() != 1 {
		t.Fatalf("expected request to be enqueued, queue len=%d", rq.Len())
	}

	rq.Tick(context.Background(), nil)
	if rq.Len() != 0 {
		t.Fatalf("expected queue to drain after a successful retry, len=%d", rq.Len())
	}
	if len(ep.sent) != 1 {
		t.Fatalf("expected the retried send to go through")
	}
}

func TestTriggerHardErrorCompletesWithError(t *testing.T) {
	boom := errors.New("boom")
	ep := &failingEndpoint{err: boom}
	st := &step.Step{
		Flags:      step.AMShort | step.SingleEndpoint,
		Endpoints:  []transport.Endpoint{ep},
		SendBuffer: []byte("x"),
	}
	op := &step.Op{Steps: []*step.Step{st}}

	var gotErr error
	req := NewRequest(op, 1, 5, func(err error) { gotErr = err }, nil)
	if err := req.Trigger(context.Background(), nil); err == nil {
		t.Fatalf("expected Trigger to propagate a hard error")
	}
	if gotErr != boom {
		t.Fatalf("expected onComplete to receive the hard error, got %v", gotErr)
	}
	if req.State() != Complete {
		t.Fatalf("expected state Complete after a hard error, got %v", req.State())
	}
}

type failingEndpoint struct{ err error }

func (*failingEndpoint) Attrs() transport.InterfaceAttrs                        { return transport.InterfaceAttrs{} }
func (f *failingEndpoint) AMShort(context.Context, uint8, uint64, []byte) error { return f.err }
func (*failingEndpoint) AMBcopy(context.Context, uint8, func([]byte) int) error { return nil }
func (*failingEndpoint) AMZcopy(context.Context, uint8, uint64, []byte, transport.CompletionSink) error {
	return nil
}
func (*failingEndpoint) PutZcopy(context.Context, []byte, uint64, []byte, transport.CompletionSink) error {
	return nil
}
func (*failingEndpoint) GetZcopy(context.Context, []byte, uint64, []byte, transport.CompletionSink) error {
	return nil
}
func (*failingEndpoint) Close() error { return nil }
