package halo

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/unixpickle/dist-stencil/collcomm"
	"github.com/unixpickle/dist-stencil/grid"
	"github.com/unixpickle/dist-stencil/stencil"
)

// A CohortRunner runs f on every rank of a fresh cohort of
// the given size and waits for all of them to return.
type CohortRunner func(t *testing.T, size int, f func(ctx context.Context, c collcomm.Communicator))

// RunDistributorTests runs a battery of scatter, convolve
// and gather round trips over cohorts made by runner.
//
// Every case is checked against a single-worker
// convolution of the whole grid.
func RunDistributorTests(t *testing.T, runner CohortRunner) {
	for _, n := range []int{1, 5, 12} {
		for _, workers := range []int{1, 2, 3, 4} {
			if workers > n {
				continue
			}
			for _, radius := range []int{0, 1, 2, 6} {
				testName := fmt.Sprintf("N=%d,Workers=%d,Radius=%d", n, workers, radius)
				t.Run(testName, func(t *testing.T) {
					runDistributorTest(t, runner, n, workers, radius)
				})
			}
		}
	}
}

func runDistributorTest(t *testing.T, runner CohortRunner, n, workers, radius int) {
	g := grid.New(n)
	for i := range g.Cells {
		g.Cells[i] = int32(rand.Intn(20001) - 10000)
	}
	original := g.Clone()
	expected, err := stencil.ConvolveWindow(g.Cells, stencil.Partition{
		LocalRows:  n,
		PaddedRows: n,
	}, n, radius)
	if err != nil {
		t.Fatal(err)
	}

	parts, err := stencil.Partitions(workers, n, radius)
	if err != nil {
		t.Fatal(err)
	}

	var result *grid.Grid
	runner(t, workers, func(ctx context.Context, c collcomm.Communicator) {
		var local *grid.Grid
		if c.Rank() == Root {
			local = g
		}
		w, err := ScatterWindows(ctx, c, local, parts)
		if err != nil {
			t.Errorf("rank %d: scatter: %v", c.Rank(), err)
			return
		}
		start := w.WindowStart() * n
		if !equalCells(w.Cells, original.Cells[start:start+w.PaddedRows*n]) {
			t.Errorf("rank %d: window does not match grid rows", c.Rank())
		}
		out, err := stencil.ConvolveWindow(w.Cells, w.Partition, n, radius)
		if err != nil {
			t.Errorf("rank %d: convolve: %v", c.Rank(), err)
			return
		}
		res, err := GatherResults(ctx, c, out, parts, n)
		if err != nil {
			t.Errorf("rank %d: gather: %v", c.Rank(), err)
			return
		}
		if c.Rank() == Root {
			result = res
		} else if res != nil {
			t.Errorf("rank %d: expected nil grid", c.Rank())
		}
	})

	if result == nil {
		t.Fatal("root returned no grid")
	}
	if !equalCells(result.Cells, expected) {
		t.Error("distributed result differs from single-worker result")
	}
	if !g.Equal(original) {
		t.Error("input grid was modified")
	}
}

func equalCells(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, x := range a {
		if b[i] != x {
			return false
		}
	}
	return true
}
