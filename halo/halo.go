// Package halo moves overlapping row windows from the
// coordinator to the workers and collects the results.
package halo

import (
	"context"
	"errors"
	"fmt"

	"github.com/unixpickle/dist-stencil/collcomm"
	"github.com/unixpickle/dist-stencil/grid"
	"github.com/unixpickle/dist-stencil/stencil"
)

// Root is the rank that owns the grid.
const Root = 0

// ErrDistribution wraps every scatter or gather failure.
// The underlying cause stays reachable with errors.Is.
var ErrDistribution = errors.New("halo: distribution failed")

// A Window is a worker's padded copy of the rows it needs.
//
// Cells holds Partition.PaddedRows rows of N cells and
// never aliases the coordinator's grid.
type Window struct {
	stencil.Partition
	N     int
	Cells []int32
}

// ScatterLayout ships each rank its padded rows, starting
// at the first halo row above its owned rows.
func ScatterLayout(parts []stencil.Partition, n int) collcomm.Layout {
	layout := collcomm.Layout{
		Counts:  make([]int, len(parts)),
		Offsets: make([]int, len(parts)),
	}
	for i, p := range parts {
		layout.Counts[i] = p.PaddedRows * n
		layout.Offsets[i] = p.WindowStart() * n
	}
	return layout
}

// GatherLayout places each rank's owned rows back at
// their global position. It tiles the grid exactly.
func GatherLayout(parts []stencil.Partition, n int) collcomm.Layout {
	layout := collcomm.Layout{
		Counts:  make([]int, len(parts)),
		Offsets: make([]int, len(parts)),
	}
	for i, p := range parts {
		layout.Counts[i] = p.LocalRows * n
		layout.Offsets[i] = p.StartRow * n
	}
	return layout
}

// ScatterWindows distributes padded windows from the root.
//
// Only the root passes a grid; other ranks pass nil.
// Every rank passes the same partitions, one per rank.
func ScatterWindows(ctx context.Context, c collcomm.Communicator, g *grid.Grid,
	parts []stencil.Partition) (*Window, error) {
	n, err := checkParts(c, parts)
	if err != nil {
		return nil, err
	}
	var send []int32
	if c.Rank() == Root {
		if g == nil || g.N != n {
			return nil, fmt.Errorf("%w: root grid does not match %d rows", ErrDistribution, n)
		}
		send = g.Cells
	}
	cells, err := collcomm.Scatterv(ctx, c, Root, send, ScatterLayout(parts, n))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDistribution, err)
	}
	return &Window{Partition: parts[c.Rank()], N: n, Cells: cells}, nil
}

// GatherResults sends every rank's LocalRows*n result
// cells to the root.
//
// The root returns the assembled grid; other ranks return
// nil once their rows are sent.
func GatherResults(ctx context.Context, c collcomm.Communicator, local []int32,
	parts []stencil.Partition, n int) (*grid.Grid, error) {
	partsN, err := checkParts(c, parts)
	if err != nil {
		return nil, err
	} else if partsN != n {
		return nil, fmt.Errorf("%w: partitions cover %d rows, grid has %d", ErrDistribution,
			partsN, n)
	}
	cells, err := collcomm.Gatherv(ctx, c, Root, local, GatherLayout(parts, n), n*n)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDistribution, err)
	}
	if c.Rank() != Root {
		return nil, nil
	}
	return grid.FromCells(n, cells)
}

// checkParts returns the number of rows the partitions
// cover.
func checkParts(c collcomm.Communicator, parts []stencil.Partition) (int, error) {
	if len(parts) != c.Size() {
		return 0, fmt.Errorf("%w: %w: %d partitions for %d ranks", ErrDistribution,
			collcomm.ErrMalformedLayout, len(parts), c.Size())
	}
	return parts[len(parts)-1].EndRow(), nil
}
