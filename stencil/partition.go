// Package stencil implements the row partitioning and the
// weighted neighborhood kernel for distributed stencil
// convolution.
package stencil

import (
	"fmt"

	"github.com/unixpickle/essentials"
)

// A Partition describes the rows one worker produces and
// the halo rows it must receive to produce them.
type Partition struct {
	Rank int

	// StartRow is the first global row the worker owns.
	StartRow int

	// TopPad and BottomPad are the halo sizes above and
	// below the owned rows, clamped at the grid edges.
	TopPad    int
	BottomPad int

	// LocalRows is the number of rows the worker produces.
	LocalRows int

	// PaddedRows is TopPad + LocalRows + BottomPad.
	PaddedRows int
}

// WindowStart is the first global row of the worker's
// padded window.
func (p Partition) WindowStart() int {
	return p.StartRow - p.TopPad
}

// EndRow is one past the last global row the worker owns.
func (p Partition) EndRow() int {
	return p.StartRow + p.LocalRows
}

// ComputePartition assigns rows to one worker.
//
// Every worker gets n/workerCount rows, and the last
// worker also takes the n%workerCount leftover rows.
// Halos extend radius rows in each direction but never
// past the edges of the grid.
func ComputePartition(rank, workerCount, n, radius int) (Partition, error) {
	if err := checkConfig(workerCount, n, radius); err != nil {
		return Partition{}, err
	}
	if rank < 0 || rank >= workerCount {
		return Partition{}, fmt.Errorf("%w: rank %d out of range [0, %d)",
			ErrInvalidConfiguration, rank, workerCount)
	}

	rowsPerWorker := n / workerCount
	p := Partition{
		Rank:      rank,
		StartRow:  rank * rowsPerWorker,
		LocalRows: rowsPerWorker,
	}
	if rank == workerCount-1 {
		p.LocalRows += n % workerCount
	}
	p.TopPad = essentials.MinInt(radius, p.StartRow)
	p.BottomPad = essentials.MinInt(radius, n-p.EndRow())
	p.PaddedRows = p.TopPad + p.LocalRows + p.BottomPad
	return p, nil
}

// Partitions computes the partition of every rank.
func Partitions(workerCount, n, radius int) ([]Partition, error) {
	if err := checkConfig(workerCount, n, radius); err != nil {
		return nil, err
	}
	res := make([]Partition, workerCount)
	for rank := range res {
		p, err := ComputePartition(rank, workerCount, n, radius)
		if err != nil {
			return nil, err
		}
		res[rank] = p
	}
	return res, nil
}

func checkConfig(workerCount, n, radius int) error {
	if workerCount <= 0 {
		return fmt.Errorf("%w: worker count %d", ErrInvalidConfiguration, workerCount)
	} else if n <= 0 {
		return fmt.Errorf("%w: grid size %d", ErrInvalidConfiguration, n)
	} else if radius < 0 {
		return fmt.Errorf("%w: radius %d", ErrInvalidConfiguration, radius)
	} else if workerCount > n {
		// Some workers would own no rows at all.
		return fmt.Errorf("%w: %d workers for %d rows", ErrInvalidConfiguration,
			workerCount, n)
	}
	return nil
}
