package collcomm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAborted is wrapped by errors from a Recv that was
	// interrupted by a peer's abort packet.
	ErrAborted = errors.New("collcomm: cohort aborted")

	// ErrTransport indicates the underlying network failed
	// to move a packet.
	ErrTransport = errors.New("collcomm: transport failure")

	// ErrLengthMismatch indicates a received payload whose
	// length disagrees with the layout.
	ErrLengthMismatch = errors.New("collcomm: payload length mismatch")

	// ErrMalformedLayout indicates counts and offsets that do
	// not fit the buffer they describe.
	ErrMalformedLayout = errors.New("collcomm: malformed layout")

	// ErrInvalidRank indicates a root or destination outside
	// the cohort.
	ErrInvalidRank = errors.New("collcomm: invalid rank")
)

// AnySource may be passed to Recv to accept a packet from
// any rank.
const AnySource = -1

// A Tag identifies which collective a packet belongs to.
type Tag int

const (
	TagBcast Tag = iota
	TagScatter
	TagGather
	TagReduce
	TagAbort
)

// String returns the name of the tag.
func (t Tag) String() string {
	switch t {
	case TagBcast:
		return "bcast"
	case TagScatter:
		return "scatter"
	case TagGather:
		return "gather"
	case TagReduce:
		return "reduce"
	case TagAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// A Packet is the unit of data moved between ranks.
type Packet struct {
	Tag Tag

	// Source is filled in by the sender's Communicator.
	Source int

	Payload []int32

	// Reason is only set on abort packets.
	Reason string
}

// Size approximates the packet's encoded size in bytes.
func (p *Packet) Size() float64 {
	return float64(len(p.Payload)*4+len(p.Reason)) + 8
}

func (p *Packet) matches(src int, tag Tag) bool {
	return p.Tag == tag && (src == AnySource || p.Source == src)
}

// A Communicator is one rank's view of a cohort.
//
// Communicators are used by a single Goroutine.
// All collectives must be called by every rank at the same
// point in program order.
type Communicator interface {
	// Rank is this member's index in [0, Size()).
	Rank() int

	// Size is the number of ranks in the cohort.
	Size() int

	// Send delivers a packet to dst.
	// The payload is not retained after Send returns.
	Send(ctx context.Context, dst int, p *Packet) error

	// Recv blocks until a packet with the given tag arrives
	// from src (or any rank, for AnySource).
	//
	// If a peer aborts, Recv returns an *AbortError.
	Recv(ctx context.Context, src int, tag Tag) (*Packet, error)
}

// An AbortError reports that a peer gave up on the cohort.
type AbortError struct {
	Source int
	Reason string
}

func (a *AbortError) Error() string {
	return fmt.Sprintf("collcomm: rank %d aborted: %s", a.Source, a.Reason)
}

// Unwrap makes errors.Is(err, ErrAborted) hold.
func (a *AbortError) Unwrap() error {
	return ErrAborted
}
