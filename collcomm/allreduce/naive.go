package allreduce

import (
	"context"

	"github.com/unixpickle/dist-stencil/collcomm"
)

// A NaiveAllreducer sends every vector from every rank
// to every other rank.
type NaiveAllreducer struct{}

// Allreduce runs fn() on all of the ranks' vectors on
// every rank.
func (n NaiveAllreducer) Allreduce(ctx context.Context, c collcomm.Communicator, data []int32,
	fn ReduceFn) ([]int32, error) {
	gatheredVecs := make([][]int32, c.Size())

	for dst := 0; dst < c.Size(); dst++ {
		if dst == c.Rank() {
			continue
		}
		if err := c.Send(ctx, dst, &collcomm.Packet{Tag: collcomm.TagReduce, Payload: data}); err != nil {
			return nil, err
		}
	}

	for src := range gatheredVecs {
		if src == c.Rank() {
			gatheredVecs[src] = data
			continue
		}
		p, err := c.Recv(ctx, src, collcomm.TagReduce)
		if err != nil {
			return nil, err
		}
		gatheredVecs[src] = p.Payload
	}

	return fn(c, gatheredVecs...)
}
