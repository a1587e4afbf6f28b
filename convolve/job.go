package convolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/unixpickle/dist-stencil/collcomm"
	"github.com/unixpickle/dist-stencil/grid"
	"github.com/unixpickle/dist-stencil/halo"
	"github.com/unixpickle/dist-stencil/logging"
	"github.com/unixpickle/dist-stencil/metrics"
	"github.com/unixpickle/dist-stencil/stencil"
)

// GridIO loads and stores grids by path.
type GridIO interface {
	Load(path string) (*grid.Grid, error)
	Store(path string, g *grid.Grid) error
}

// FileIO is a GridIO for the headerless binary format on
// the local filesystem.
type FileIO struct{}

// Load reads a grid file.
func (FileIO) Load(path string) (*grid.Grid, error) {
	return grid.LoadFile(path)
}

// Store writes a grid file with owner-only permissions.
func (FileIO) Store(path string, g *grid.Grid) error {
	return grid.StoreFile(path, g)
}

// A Job names the input and output of a run.
// Only the root touches the files.
type Job struct {
	Input  string
	Output string

	// Store defaults to FileIO.
	Store GridIO

	Logger  logging.Logger
	Metrics metrics.Collector
}

// A Result summarizes a finished run on the root.
type Result struct {
	N      int
	Digest uint64

	// VirtualTime is the simulated duration of the run.
	// It is zero on real transports.
	VirtualTime float64
}

// runRank runs one rank of a job. The root loads the
// input before the run and stores the output after it.
func runRank(ctx context.Context, job Job, w *Worker) (*Result, error) {
	store := job.Store
	if store == nil {
		store = FileIO{}
	}
	w.Logger = job.Logger
	w.Metrics = job.Metrics

	if w.Comm.Rank() != halo.Root {
		_, err := w.Run(ctx, nil)
		return nil, err
	}

	g, err := store.Load(job.Input)
	if err != nil {
		err = classifyLoadError(err)
		collcomm.Abort(context.WithoutCancel(ctx), w.Comm, err)
		return nil, err
	}
	out, err := w.Run(ctx, g)
	if err != nil {
		return nil, err
	}
	if err := store.Store(job.Output, out); err != nil {
		return nil, fmt.Errorf("%w: store %s: %w", ErrIO, job.Output, err)
	}
	return &Result{N: out.N, Digest: out.Digest()}, nil
}

func classifyLoadError(err error) error {
	if errors.Is(err, grid.ErrNotSquare) {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return fmt.Errorf("%w: load: %w", ErrIO, err)
}

// RunLocal convolves a grid on a single worker without any
// transport. It is the reference the distributed runs must
// match.
func RunLocal(g *grid.Grid, radius int) (*grid.Grid, error) {
	part, err := stencil.ComputePartition(0, 1, g.N, radius)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	cells, err := stencil.ConvolveWindow(g.Cells, part, g.N, radius)
	if err != nil {
		return nil, fmt.Errorf("convolve: kernel: %w", err)
	}
	return grid.FromCells(g.N, cells)
}
