package simulator

import (
	"math"
	"sync"
)

// A SwitcherNetwork is a network where data is passed
// through a Switcher. Messages in flight at the same time
// share bandwidth, so each new send can slow down the
// ones already on the wire.
type SwitcherNetwork struct {
	lock sync.Mutex

	switcher Switcher
	indices  map[*Node]int
	latency  float64

	plan []*planSegment
}

// NewSwitcherNetwork creates a new SwitcherNetwork.
//
// The latency argument adds an extra constant-length
// timeout to every message delivery.
// A message's latency period counts against its link's
// bandwidth, so latency can contribute to congestion.
func NewSwitcherNetwork(switcher Switcher, nodes []*Node, latency float64) *SwitcherNetwork {
	indices := make(map[*Node]int, len(nodes))
	for i, node := range nodes {
		indices[node] = i
	}
	return &SwitcherNetwork{
		switcher: switcher,
		indices:  indices,
		latency:  latency,
	}
}

// Send sends the messages over the network, re-planning
// the delivery of everything already in flight.
func (s *SwitcherNetwork) Send(h *Handle, msgs ...*Message) {
	s.lock.Lock()
	defer s.lock.Unlock()

	inFlight := s.abandonPlan(h)
	for _, msg := range msgs {
		inFlight = append(inFlight, &transfer{
			msg:              msg,
			remainingLatency: s.latency,
			remainingSize:    msg.Size,
		})
	}
	s.plan = s.makePlan(h, inFlight)
}

// abandonPlan cancels every delivery that has not
// happened yet and returns the transfers still in flight.
func (s *SwitcherNetwork) abandonPlan(h *Handle) []*transfer {
	now := h.Time()
	var inFlight []*transfer
	for _, seg := range s.plan {
		if now >= seg.end {
			continue
		}
		if now >= seg.start {
			for _, t := range seg.transfers {
				inFlight = append(inFlight, t.advance(now-seg.start))
			}
		}
		for _, timer := range seg.timers {
			h.Cancel(timer)
		}
	}
	return inFlight
}

// assignRates gives each transfer its share of the
// switched bandwidth between its endpoints.
func (s *SwitcherNetwork) assignRates(transfers []*transfer) {
	n := len(s.indices)
	active := NewConnMat(n)
	counts := NewConnMat(n)
	for _, t := range transfers {
		src, dst := s.endpoints(t)
		active.Set(src, dst, 1)
		counts.Set(src, dst, counts.Get(src, dst)+1)
	}
	s.switcher.SwitchedRates(active)
	for _, t := range transfers {
		src, dst := s.endpoints(t)
		t.rate = active.Get(src, dst) / counts.Get(src, dst)
	}
}

func (s *SwitcherNetwork) endpoints(t *transfer) (src, dst int) {
	return s.indices[t.msg.Source.Node], s.indices[t.msg.Dest.Node]
}

// makePlan schedules deliveries for the transfers.
//
// Rates are constant between deliveries, so the plan is a
// sequence of segments, each ending when the next batch
// of transfers completes.
func (s *SwitcherNetwork) makePlan(h *Handle, transfers []*transfer) []*planSegment {
	plan := make([]*planSegment, 0, len(transfers))
	now := h.Time()
	start := now
	for len(transfers) > 0 {
		s.assignRates(transfers)
		done, rest, eta := splitByETA(transfers)

		seg := &planSegment{
			start:     start,
			end:       start + eta,
			transfers: transfers,
			timers:    make([]*Timer, len(done)),
		}
		for i, t := range done {
			seg.timers[i] = h.Schedule(t.msg.Dest.Incoming, t.msg, start-now+eta)
		}
		seg.end = seg.timers[0].Time()
		plan = append(plan, seg)

		for i, t := range rest {
			rest[i] = t.advance(seg.end - start)
		}
		transfers = rest
		start = seg.end
	}
	return plan
}

// A transfer is a message partway across the network.
type transfer struct {
	msg *Message

	remainingLatency float64
	remainingSize    float64
	rate             float64
}

// eta is the time until the transfer completes at its
// current rate.
func (t *transfer) eta() float64 {
	return math.Max(0, t.remainingLatency+t.remainingSize/t.rate)
}

// advance returns the transfer's state after elapsed
// time. Latency is paid before any bytes move.
func (t *transfer) advance(elapsed float64) *transfer {
	res := *t
	if elapsed < res.remainingLatency {
		res.remainingLatency -= elapsed
		return &res
	}
	elapsed -= res.remainingLatency
	res.remainingLatency = 0
	res.remainingSize -= res.rate * elapsed
	return &res
}

// A planSegment is a period during which transfer rates
// are constant. It ends with the deliveries in timers.
type planSegment struct {
	start     float64
	end       float64
	timers    []*Timer
	transfers []*transfer
}

// splitByETA separates the transfers that finish first
// from the rest.
func splitByETA(transfers []*transfer) (done, rest []*transfer, eta float64) {
	etas := make([]float64, len(transfers))
	eta = math.Inf(1)
	for i, t := range transfers {
		etas[i] = t.eta()
		eta = math.Min(eta, etas[i])
	}
	for i, t := range transfers {
		if etas[i] == eta {
			done = append(done, t)
		} else {
			rest = append(rest, t)
		}
	}
	return done, rest, eta
}
