package collcomm

import (
	"context"
	"fmt"
)

// Bcast sends a vector from root to every other rank.
// Every rank returns the root's vector.
func Bcast(ctx context.Context, c Communicator, root int, vec []int32) ([]int32, error) {
	if err := checkRoot(c, root); err != nil {
		return nil, err
	}
	if c.Rank() != root {
		p, err := c.Recv(ctx, root, TagBcast)
		if err != nil {
			return nil, err
		}
		return p.Payload, nil
	}
	for dst := 0; dst < c.Size(); dst++ {
		if dst == root {
			continue
		}
		if err := c.Send(ctx, dst, &Packet{Tag: TagBcast, Payload: vec}); err != nil {
			return nil, err
		}
	}
	return vec, nil
}

// Scatterv sends each rank its segment of the root's send
// buffer. Segments may overlap.
//
// Only the root reads send. Every rank must pass the same
// layout; non-root ranks use it to check what they got.
// The root validates the whole layout before sending
// anything, so a malformed layout moves no data.
//
// The returned slice never aliases send.
func Scatterv(ctx context.Context, c Communicator, root int, send []int32,
	layout Layout) ([]int32, error) {
	if err := checkRoot(c, root); err != nil {
		return nil, err
	}
	rank := c.Rank()
	if rank != root {
		if layout.Len() != c.Size() {
			return nil, fmt.Errorf("%w: %d segments for %d ranks", ErrMalformedLayout,
				layout.Len(), c.Size())
		}
		p, err := c.Recv(ctx, root, TagScatter)
		if err != nil {
			return nil, err
		}
		if len(p.Payload) != layout.Counts[rank] {
			return nil, fmt.Errorf("%w: rank %d got %d elements, expected %d",
				ErrLengthMismatch, rank, len(p.Payload), layout.Counts[rank])
		}
		return p.Payload, nil
	}

	if err := layout.Validate(c.Size(), len(send), false); err != nil {
		return nil, err
	}
	for dst := 0; dst < c.Size(); dst++ {
		if dst == root {
			continue
		}
		packet := &Packet{Tag: TagScatter, Payload: layout.Segment(send, dst)}
		if err := c.Send(ctx, dst, packet); err != nil {
			return nil, err
		}
	}
	return append([]int32(nil), layout.Segment(send, root)...), nil
}

// Gatherv collects every rank's local buffer into a
// buffer of recvLen elements on the root.
//
// The layout must tile the receive buffer exactly.
// The root returns the assembled buffer; other ranks
// return nil once their data is sent.
func Gatherv(ctx context.Context, c Communicator, root int, local []int32, layout Layout,
	recvLen int) ([]int32, error) {
	if err := checkRoot(c, root); err != nil {
		return nil, err
	}
	if err := layout.Validate(c.Size(), recvLen, true); err != nil {
		return nil, err
	}
	rank := c.Rank()
	if len(local) != layout.Counts[rank] {
		return nil, fmt.Errorf("%w: rank %d has %d elements, layout says %d",
			ErrLengthMismatch, rank, len(local), layout.Counts[rank])
	}
	if rank != root {
		return nil, c.Send(ctx, root, &Packet{Tag: TagGather, Payload: local})
	}

	recv := make([]int32, recvLen)
	copy(layout.Segment(recv, root), local)
	for src := 0; src < c.Size(); src++ {
		if src == root {
			continue
		}
		p, err := c.Recv(ctx, src, TagGather)
		if err != nil {
			return nil, err
		}
		if len(p.Payload) != layout.Counts[src] {
			return nil, fmt.Errorf("%w: rank %d sent %d elements, expected %d",
				ErrLengthMismatch, src, len(p.Payload), layout.Counts[src])
		}
		copy(layout.Segment(recv, src), p.Payload)
	}
	return recv, nil
}

// Abort tells every other rank that this rank has failed.
//
// Peers observe the failure as an *AbortError from their
// next Recv. Abort is best-effort and ignores send errors.
func Abort(ctx context.Context, c Communicator, err error) {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	for dst := 0; dst < c.Size(); dst++ {
		if dst == c.Rank() {
			continue
		}
		c.Send(ctx, dst, &Packet{Tag: TagAbort, Reason: reason})
	}
}

func checkRoot(c Communicator, root int) error {
	if root < 0 || root >= c.Size() {
		return fmt.Errorf("%w: root %d of %d", ErrInvalidRank, root, c.Size())
	}
	return nil
}
