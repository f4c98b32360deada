/*
 * UCG collective communication engine.
 */

/*
Demo: build a small group over the in-process mock transport, register
the built-in planner, and trigger a barrier and an all-reduce.

	# go run ./cmd/ucgdemo -members 4
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/coles-systems/ucg"
	"github.com/coles-systems/ucg/builtin"
	"github.com/coles-systems/ucg/log"
	"github.com/coles-systems/ucg/metrics"
	"github.com/coles-systems/ucg/transport"
	"github.com/coles-systems/ucg/transport/mock"
	"github.com/coles-systems/ucg/wire"
)

// peerDemo is one member's full stack, wired symmetrically: its own
// Group, Context and Planner, with its mock inbox routed into its own
// Dispatcher so incoming replies actually drive completion (spec §4.6's
// receive path; every member plays both sender and receiver in a
// collective, not just the root).
type peerDemo struct {
	index   int
	group   *ucg.Group
	ctx     *ucg.Context
	planner *builtin.Planner
	amID    uint8
}

func main() {
	numMembers := flag.Int("members", 4, "group member count")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	logger := log.Logger(log.Nil{})
	if *verbose {
		logger = &log.Text{Out: os.Stderr, Verbose: true}
	}

	peer := func(member int) transport.PeerID {
		return transport.PeerID(fmt.Sprintf("member-%d", member))
	}

	net := mock.NewNetwork()
	peers := make([]*peerDemo, *numMembers)

	for i := 0; i < *numMembers; i++ {
		i := i
		group, err := ucg.NewGroup(*numMembers, i, ucg.UniformDistance(ucg.Host))
		if err != nil {
			fatal("new group", err)
		}

		var planner *builtin.Planner
		conn := net.Join(peer(i), func(_ uint8, _ uint64, payload []byte) {
			planner.Dispatcher(group).Route(context.Background(), payload)
		})

		planner = builtin.New(builtin.Config{
			AddressResolver: mock.Resolver{},
			Connector:       conn,
			Neighbors:       mock.Neighbors{},
			LocalPeer:       peer(i),
			PeerForMember:   func(_ *ucg.Group, member int) transport.PeerID { return peer(member) },
			Logger:          logger,
		})

		pctx, err := ucg.NewContext(ucg.DefaultConfig(), logger)
		if err != nil {
			fatal("new context", err)
		}
		if err := pctx.Register(planner); err != nil {
			fatal("register planner", err)
		}
		if err := pctx.CreateGroupState(group); err != nil {
			fatal("create group state", err)
		}

		_, amID, ok := pctx.Lookup("builtin")
		if !ok {
			fatal("lookup planner", fmt.Errorf("builtin planner not registered"))
		}

		peers[i] = &peerDemo{index: i, group: group, ctx: pctx, planner: planner, amID: amID}
	}
	defer func() {
		for _, p := range peers {
			p.ctx.DestroyGroupState(p.group)
		}
	}()

	root := peers[0]
	collector := metrics.NewCollectiveCollector()
	for _, p := range peers {
		collector.Add(p.group.ID(), metrics.Source{
			Dispatcher: p.planner.Dispatcher(p.group),
			Resend:     p.planner.ResendQueue(p.group),
		})
	}

	fmt.Println("-- starting a barrier --")
	runCollective(peers, builtin.CollectiveParams{
		Modifiers: wire.Barrier,
		Root:      0,
	}, "barrier")

	fmt.Println("-- starting an all-reduce --")
	send := make([]byte, 16)
	recv := make([]byte, 16)
	runCollective(peers, builtin.CollectiveParams{
		Modifiers:  wire.Aggregate | wire.Broadcast,
		Root:       0,
		SendBuffer: send,
		RecvBuffer: recv,
		Count:      4,
		ElemSize:   4,
		Contiguous: true,
		Operator:   wire.OpSum,
		Operand:    wire.OperandI32,
	}, "all-reduce")

	dump := struct {
		Context          string            `json:"context"`
		Planners         []ucg.PlannerInfo `json:"planners"`
		DispatchOccupied int               `json:"dispatch_occupied_slots"`
		DispatchSize     int               `json:"dispatch_ring_size"`
		ResendDepth      int               `json:"resend_queue_depth"`
	}{
		Context:          root.ctx.String(),
		Planners:         root.ctx.Planners(),
		DispatchOccupied: root.planner.Dispatcher(root.group).OccupiedSlots(),
		DispatchSize:     root.planner.Dispatcher(root.group).Size(),
		ResendDepth:      root.planner.ResendQueue(root.group).Len(),
	}

	js, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		fatal("marshal status", err)
	}
	fmt.Println(string(js))
}

// runCollective starts params on every peer and blocks until each one's
// onComplete has fired, printing a failure per member rather than
// aborting the whole demo on one bad completion.
func runCollective(peers []*peerDemo, params builtin.CollectiveParams, name string) {
	done := make(chan struct {
		index int
		err   error
	}, len(peers))

	for _, p := range peers {
		p := p
		err := p.planner.Start(context.Background(), p.group, p.amID, params, func(err error) {
			done <- struct {
				index int
				err   error
			}{p.index, err}
		})
		if err != nil {
			fatal(fmt.Sprintf("start %s on member %d", name, p.index), err)
		}
	}

	deadline := time.After(5 * time.Second)
	for i := 0; i < len(peers); i++ {
		select {
		case r := <-done:
			if r.err != nil {
				fmt.Fprintf(os.Stderr, "%s failed on member %d: %v\n", name, r.index, r.err)
			}
		case <-deadline:
			fmt.Fprintf(os.Stderr, "%s: timed out waiting for all members to complete\n", name)
			return
		}
	}
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
