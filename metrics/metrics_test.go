package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/coles-systems/ucg/dispatch"
	"github.com/coles-systems/ucg/exec"
	"github.com/coles-systems/ucg/log"
)

func TestCollectReportsRegisteredGroup(t *testing.T) {
	d, err := dispatch.NewDispatcher(4, log.Nil{})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	resend := exec.NewResendQueue()

	c := NewCollectiveCollector()
	c.Add("g1", Source{Dispatcher: d, Resend: resend})

	want := `
# HELP ucg_dispatch_ring_size Total number of slots in the group's concurrency ring.
# TYPE ucg_dispatch_ring_size gauge
ucg_dispatch_ring_size{group="g1"} 4
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want), "ucg_dispatch_ring_size"); err != nil {
		t.Fatalf("unexpected collector output: %v", err)
	}
}

func TestRemoveStopsReporting(t *testing.T) {
	d, err := dispatch.NewDispatcher(4, log.Nil{})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	c := NewCollectiveCollector()
	c.Add("g1", Source{Dispatcher: d, Resend: exec.NewResendQueue()})
	c.Remove("g1")

	if n := testutil.CollectAndCount(c); n != 0 {
		t.Fatalf("expected 0 metrics after Remove, got %d", n)
	}
}
