package allreduce

import (
	"context"

	"github.com/unixpickle/dist-stencil/collcomm"
	"github.com/unixpickle/essentials"
)

// A TreeAllreducer arranges the ranks in a binary tree
// and performs a reduction by going up the tree to a
// root rank, and then back down the tree to the leaves.
type TreeAllreducer struct{}

// Allreduce calls fn on vectors along a tree and returns
// the resulting reduced vector.
func (t TreeAllreducer) Allreduce(ctx context.Context, c collcomm.Communicator, data []int32,
	fn ReduceFn) ([]int32, error) {
	parent, children := positionInTree(c.Rank(), c.Size())

	messages := [][]int32{data}
	for _, child := range children {
		p, err := c.Recv(ctx, child, collcomm.TagReduce)
		if err != nil {
			return nil, err
		}
		messages = append(messages, p.Payload)
	}

	finalVector, err := fn(c, messages...)
	if err != nil {
		return nil, err
	}
	if parent >= 0 {
		packet := &collcomm.Packet{Tag: collcomm.TagReduce, Payload: finalVector}
		if err := c.Send(ctx, parent, packet); err != nil {
			return nil, err
		}
		p, err := c.Recv(ctx, parent, collcomm.TagReduce)
		if err != nil {
			return nil, err
		}
		finalVector = p.Payload
	}

	for _, child := range children {
		packet := &collcomm.Packet{Tag: collcomm.TagReduce, Payload: finalVector}
		if err := c.Send(ctx, child, packet); err != nil {
			return nil, err
		}
	}

	return finalVector, nil
}

// positionInTree returns the child ranks and parent rank
// for a rank in the reduction tree.
//
// There may be no children.
// There may be no parent (for the root), in which case
// parent is -1.
func positionInTree(rank, size int) (parent int, children []int) {
	parent = -1
	for depth := uint(0); true; depth++ {
		rowSize := 1 << depth
		rowStart := rowSize - 1
		if rank >= rowStart+rowSize {
			continue
		}
		rowIdx := rank - rowStart
		if depth > 0 {
			parent = rowIdx/2 + (rowSize/2 - 1)
		}
		firstChild := rowIdx*2 + (rowSize*2 - 1)
		for i := firstChild; i < essentials.MinInt(firstChild+2, size); i++ {
			children = append(children, i)
		}
		return
	}
	panic("unreachable")
}
