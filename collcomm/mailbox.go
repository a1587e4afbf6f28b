package collcomm

import "github.com/unixpickle/essentials"

// A Mailbox buffers packets that arrived before anybody
// asked for them, so that collectives can receive by
// source and tag regardless of delivery order.
//
// Once an abort packet is seen, every later receive fails.
type Mailbox struct {
	pending []*Packet
	aborted *AbortError
}

// Recv returns the first buffered packet that matches,
// or pulls packets from next until one does.
func (m *Mailbox) Recv(src int, tag Tag, next func() (*Packet, error)) (*Packet, error) {
	if m.aborted != nil {
		return nil, m.aborted
	}
	for i, p := range m.pending {
		if p.matches(src, tag) {
			essentials.OrderedDelete(&m.pending, i)
			return p, nil
		}
	}
	for {
		p, err := next()
		if err != nil {
			return nil, err
		}
		if p.Tag == TagAbort {
			m.aborted = &AbortError{Source: p.Source, Reason: p.Reason}
			return nil, m.aborted
		}
		if p.matches(src, tag) {
			return p, nil
		}
		m.pending = append(m.pending, p)
	}
}

// Pending returns the number of buffered packets.
func (m *Mailbox) Pending() int {
	return len(m.pending)
}
