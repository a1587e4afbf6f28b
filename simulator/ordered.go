package simulator

import (
	"sync"
)

// An OrderedNetwork delivers the messages bound for each
// node one at a time, in the order they were sent, at a
// fixed rate.
//
// Messages to or from a node that is down are dropped,
// which makes it useful for simulating crashed workers.
type OrderedNetwork struct {
	Rate             float64
	MaxRandomLatency float64

	lock      sync.Mutex
	busyUntil map[*Node]float64
	downNodes map[*Node]bool
	inFlight  []orderedDelivery
}

type orderedDelivery struct {
	timer *Timer
	src   *Node
	dst   *Node
}

// NewOrderedNetwork creates an OrderedNetwork with the
// given transfer rate (bytes per unit of virtual time)
// and an upper bound on random per-message latency.
func NewOrderedNetwork(rate float64, maxRandomLatency float64) *OrderedNetwork {
	return &OrderedNetwork{
		Rate:             rate,
		MaxRandomLatency: maxRandomLatency,
		busyUntil:        map[*Node]float64{},
		downNodes:        map[*Node]bool{},
	}
}

// Send queues the messages behind anything already bound
// for their destinations.
func (o *OrderedNetwork) Send(h *Handle, msgs ...*Message) {
	o.lock.Lock()
	defer o.lock.Unlock()

	now := h.Time()
	o.forgetDelivered(now)

	for _, msg := range msgs {
		src, dst := msg.Source.Node, msg.Dest.Node
		if o.downNodes[src] || o.downNodes[dst] {
			continue
		}
		start := now
		if busy, ok := o.busyUntil[dst]; ok && busy > now {
			start = busy
		}
		arrival := start + h.Float64()*o.MaxRandomLatency + msg.Size/o.Rate
		o.busyUntil[dst] = arrival
		o.inFlight = append(o.inFlight, orderedDelivery{
			timer: h.Schedule(msg.Dest.Incoming, msg, arrival-now),
			src:   src,
			dst:   dst,
		})
	}
}

// SetDown marks a node as down or up.
// Taking a node down cancels its in-flight messages.
func (o *OrderedNetwork) SetDown(h *Handle, node *Node, down bool) {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.downNodes[node] = down
	if !down {
		return
	}
	delete(o.busyUntil, node)

	o.forgetDelivered(h.Time())
	remaining := o.inFlight[:0]
	for _, d := range o.inFlight {
		if d.src == node || d.dst == node {
			h.Cancel(d.timer)
		} else {
			remaining = append(remaining, d)
		}
	}
	o.inFlight = remaining
}

// forgetDelivered drops deliveries whose timers may have
// already fired.
func (o *OrderedNetwork) forgetDelivered(now float64) {
	remaining := o.inFlight[:0]
	for _, d := range o.inFlight {
		if d.timer.Time() >= now {
			remaining = append(remaining, d)
		}
	}
	o.inFlight = remaining
}
