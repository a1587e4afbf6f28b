// Package convolve runs distributed stencil convolutions:
// each rank convolves a band of rows and the root
// reassembles the grid.
package convolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unixpickle/dist-stencil/collcomm"
	"github.com/unixpickle/dist-stencil/collcomm/allreduce"
	"github.com/unixpickle/dist-stencil/grid"
	"github.com/unixpickle/dist-stencil/halo"
	"github.com/unixpickle/dist-stencil/logging"
	"github.com/unixpickle/dist-stencil/metrics"
	"github.com/unixpickle/dist-stencil/stencil"
)

// A Worker is one rank's participant in a run.
//
// Every rank of the cohort must call Run exactly once.
type Worker struct {
	Comm collcomm.Communicator

	// Radius is the kernel radius. Non-root ranks adopt the
	// root's radius if theirs differs.
	Radius int

	// MaxBufferCells caps the size of the padded window.
	// Zero means unlimited.
	MaxBufferCells int

	// Reducer runs the completion vote.
	// Defaults to allreduce.TreeAllreducer.
	Reducer allreduce.Allreducer

	Logger  logging.Logger
	Metrics metrics.Collector
	RunID   string

	state State
	log   logging.Logger
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	return w.state
}

// Run convolves the grid across the cohort.
//
// The root passes the grid and gets the result; other
// ranks pass nil and get nil. On failure every reachable
// peer is told to abort.
func (w *Worker) Run(ctx context.Context, g *grid.Grid) (result *grid.Grid, err error) {
	w.init()
	start := time.Now()
	defer func() {
		w.Metrics.RecordRun(err == nil, time.Since(start).Seconds())
	}()

	result, err = w.run(ctx, g)
	if err != nil {
		w.setState(StateFailed)
		w.log.Error("run failed", "error", err)
		if !errors.Is(err, collcomm.ErrAborted) {
			collcomm.Abort(context.WithoutCancel(ctx), w.Comm, err)
		}
		return nil, err
	}
	w.setState(StateDone)
	return result, nil
}

func (w *Worker) init() {
	if w.Logger == nil {
		w.Logger = logging.NewNop()
	}
	if w.Metrics == nil {
		w.Metrics = metrics.NewNop()
	}
	if w.Reducer == nil {
		w.Reducer = allreduce.TreeAllreducer{}
	}
	w.log = w.Logger.With("rank", w.Comm.Rank(), "run_id", w.RunID)
	w.state = StateInit
}

func (w *Worker) run(ctx context.Context, g *grid.Grid) (*grid.Grid, error) {
	rank := w.Comm.Rank()
	n, radius, err := w.shareShape(ctx, g)
	if err != nil {
		return nil, err
	}

	parts, err := stencil.Partitions(w.Comm.Size(), n, radius)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	part := parts[rank]
	w.setState(StatePartitionComputed)
	w.log.Debug("partition computed", "start_row", part.StartRow, "local_rows", part.LocalRows,
		"top_pad", part.TopPad, "bottom_pad", part.BottomPad)

	if need := part.PaddedRows * n; w.MaxBufferCells > 0 && need > w.MaxBufferCells {
		return nil, fmt.Errorf("%w: window needs %d cells, budget is %d", ErrAllocation, need,
			w.MaxBufferCells)
	}

	t := time.Now()
	window, err := halo.ScatterWindows(ctx, w.Comm, g, parts)
	if err != nil {
		return nil, err
	}
	w.Metrics.RecordTransfer("scatter", len(window.Cells), time.Since(t).Seconds())
	w.setState(StateWindowReceived)

	local, err := stencil.ConvolveWindow(window.Cells, part, n, radius)
	if err != nil {
		return nil, fmt.Errorf("convolve: kernel: %w", err)
	}
	if computer, ok := w.Comm.(collcomm.Computer); ok {
		computer.Compute(stencil.KernelFlops(part, n, radius))
	}
	w.Metrics.RecordCellsConvolved(len(local))
	w.setState(StateConvolved)

	t = time.Now()
	result, err := halo.GatherResults(ctx, w.Comm, local, parts, n)
	if err != nil {
		return nil, err
	}
	w.Metrics.RecordTransfer("gather", len(local), time.Since(t).Seconds())
	w.setState(StateResultSent)

	if err := w.vote(ctx, part.LocalRows, n); err != nil {
		return nil, err
	}
	return result, nil
}

// shareShape broadcasts the grid size and radius from the
// root.
func (w *Worker) shareShape(ctx context.Context, g *grid.Grid) (n, radius int, err error) {
	var shape []int32
	if w.Comm.Rank() == halo.Root {
		if g == nil {
			return 0, 0, fmt.Errorf("%w: root has no grid", ErrConfiguration)
		}
		shape = []int32{int32(g.N), int32(w.Radius)}
	}
	t := time.Now()
	shape, err = collcomm.Bcast(ctx, w.Comm, halo.Root, shape)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrDistribution, err)
	}
	if len(shape) != 2 {
		return 0, 0, fmt.Errorf("%w: %w: shape has %d values", ErrDistribution,
			collcomm.ErrLengthMismatch, len(shape))
	}
	w.Metrics.RecordTransfer("bcast", len(shape), time.Since(t).Seconds())

	n, radius = int(shape[0]), int(shape[1])
	if radius != w.Radius {
		w.log.Warn("using the root's radius", "local_radius", w.Radius, "radius", radius)
	}
	return n, radius, nil
}

// vote checks that the ranks together produced every row,
// so that non-root ranks learn whether the gather
// completed.
func (w *Worker) vote(ctx context.Context, localRows, n int) error {
	total, err := w.Reducer.Allreduce(ctx, w.Comm, []int32{int32(localRows)}, allreduce.Sum)
	if err != nil {
		return fmt.Errorf("%w: completion vote: %w", ErrDistribution, err)
	}
	if len(total) != 1 || int(total[0]) != n {
		return fmt.Errorf("%w: completion vote counted %v rows of %d", ErrDistribution, total, n)
	}
	return nil
}

func (w *Worker) setState(s State) {
	w.log.Debug("state transition", "from", w.state.String(), "to", s.String())
	w.Metrics.RecordStateTransition(w.state.String(), s.String())
	w.state = s
}
