// Package collcomm implements collective communication
// (broadcast, irregular scatter and gather) for a fixed
// cohort of ranks.
package collcomm

import (
	"context"
	"fmt"

	"github.com/unixpickle/dist-stencil/simulator"
)

// FlopTime is the amount of virtual time it takes to
// perform a single arithmetic operation.
const FlopTime = 1e-9

// A Computer can account for local computation time.
// Communicators on a simulated network implement it so
// that benchmarks include compute as well as transfers.
type Computer interface {
	Compute(flops int)
}

// Comms manages a set of connections between a bunch of
// simulated nodes.
//
// Each rank has a local Comms object that represents its
// view of the world.
// A new Comms object should be used for each run, thus
// automatically handling multiplexing.
type Comms struct {
	// Handle is the node's main Goroutine's handle on the
	// event loop.
	Handle *simulator.Handle

	// Port is the current node's port.
	Port *simulator.Port

	// Ports contains ports to all the nodes in the
	// network, including the current node.
	// A node's rank is its index in Ports.
	Ports []*simulator.Port

	// Network is the network connecting the nodes.
	Network simulator.Network

	mailbox Mailbox
}

var _ Communicator = (*Comms)(nil)

// SpawnComms creates Comms objects for every node in a
// network and calls f for each node in its own Goroutine.
//
// Run the loop afterwards to drive the cohort.
func SpawnComms(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(c *Comms)) {
	ports := make([]*simulator.Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	for i := range nodes {
		port := ports[i]
		loop.Go(func(h *simulator.Handle) {
			f(&Comms{
				Handle:  h,
				Port:    port,
				Ports:   ports,
				Network: network,
			})
		})
	}
}

// Size gets the number of nodes.
func (c *Comms) Size() int {
	return len(c.Ports)
}

// Rank returns the current node's index in the list of
// nodes.
func (c *Comms) Rank() int {
	return c.IndexOf(c.Port)
}

// IndexOf returns any node's index.
func (c *Comms) IndexOf(p *simulator.Port) int {
	for i, port := range c.Ports {
		if port == p {
			return i
		}
	}
	panic("unreachable")
}

// Send schedules a packet to be sent to the destination.
//
// The payload is copied, as it would be on a real wire,
// so the receiver never aliases the sender's memory.
// The context is unused: simulated sends never block.
func (c *Comms) Send(ctx context.Context, dst int, p *Packet) error {
	if dst < 0 || dst >= len(c.Ports) {
		return fmt.Errorf("%w: destination %d", ErrInvalidRank, dst)
	}
	packet := *p
	packet.Source = c.Rank()
	packet.Payload = append([]int32(nil), p.Payload...)
	c.Network.Send(c.Handle, &simulator.Message{
		Source:  c.Port,
		Dest:    c.Ports[dst],
		Message: &packet,
		Size:    packet.Size(),
	})
	return nil
}

// Recv receives the next packet from src with the tag.
//
// A simulated Recv cannot be cancelled; if no packet ever
// arrives, the event loop reports a deadlock instead.
func (c *Comms) Recv(ctx context.Context, src int, tag Tag) (*Packet, error) {
	return c.mailbox.Recv(src, tag, func() (*Packet, error) {
		msg := c.Port.Recv(c.Handle)
		return msg.Message.(*Packet), nil
	})
}

// Compute advances virtual time by the cost of the given
// number of operations.
func (c *Comms) Compute(flops int) {
	c.Handle.Sleep(FlopTime * float64(flops))
}
