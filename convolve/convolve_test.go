package convolve

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/dist-stencil/collcomm"
	"github.com/unixpickle/dist-stencil/config"
	"github.com/unixpickle/dist-stencil/grid"
	"github.com/unixpickle/dist-stencil/simulator"
)

// memIO keeps grids in memory, keyed by path.
type memIO struct {
	lock  sync.Mutex
	grids map[string]*grid.Grid
}

func newMemIO(input *grid.Grid) *memIO {
	return &memIO{grids: map[string]*grid.Grid{"in": input}}
}

func (m *memIO) Load(path string) (*grid.Grid, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	g, ok := m.grids[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return g.Clone(), nil
}

func (m *memIO) Store(path string, g *grid.Grid) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.grids[path] = g.Clone()
	return nil
}

func (m *memIO) Get(path string) *grid.Grid {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.grids[path]
}

func randomGrid(n int, seed int64) *grid.Grid {
	gen := rand.New(rand.NewSource(seed))
	g := grid.New(n)
	for i := range g.Cells {
		g.Cells[i] = int32(gen.Intn(200001) - 100000)
	}
	return g
}

func simConfig(workers, radius int, kind string) *config.Config {
	cfg := config.Default()
	cfg.Workers = workers
	cfg.Radius = radius
	cfg.Network.Kind = kind
	return cfg
}

func TestRunLocalGolden(t *testing.T) {
	g := grid.New(4)
	for i := range g.Cells {
		g.Cells[i] = int32(i + 1)
	}
	out, err := RunLocal(g, 1)
	require.NoError(t, err)
	assert.Equal(t, []int32{7, 11, 16, 12, 18, 27, 34, 25, 32, 47, 54, 39, 29, 41, 46, 34}, out.Cells)
}

func TestRunSimulatedMatchesLocal(t *testing.T) {
	kinds := []string{config.NetworkSwitched, config.NetworkRandom, config.NetworkOrdered}
	for _, kind := range kinds {
		for _, workers := range []int{1, 2, 3, 5} {
			for _, radius := range []int{0, 1, 3} {
				name := fmt.Sprintf("%s,Workers=%d,Radius=%d", kind, workers, radius)
				t.Run(name, func(t *testing.T) {
					input := randomGrid(11, int64(workers*10+radius))
					expected, err := RunLocal(input, radius)
					require.NoError(t, err)

					io := newMemIO(input)
					job := Job{Input: "in", Output: "out", Store: io}
					res, err := RunSimulated(context.Background(), simConfig(workers, radius, kind), job)
					require.NoError(t, err)

					assert.Equal(t, 11, res.N)
					assert.Equal(t, expected.Digest(), res.Digest)
					assert.Greater(t, res.VirtualTime, 0.0)
					assert.True(t, expected.Equal(io.Get("out")))
				})
			}
		}
	}
}

func TestRunSimulatedRadiusZeroIsIdentity(t *testing.T) {
	input := randomGrid(6, 1)
	io := newMemIO(input)
	_, err := RunSimulated(context.Background(), simConfig(3, 0, config.NetworkSwitched),
		Job{Input: "in", Output: "out", Store: io})
	require.NoError(t, err)
	assert.True(t, input.Equal(io.Get("out")))
}

func TestFasterRootShortensRun(t *testing.T) {
	input := randomGrid(16, 3)
	elapsed := func(rootRate float64) float64 {
		cfg := simConfig(4, 1, config.NetworkSwitched)
		cfg.Network.Rate = 1e4
		cfg.Network.RootRate = rootRate
		res, err := RunSimulated(context.Background(), cfg, Job{Input: "in", Output: "out", Store: newMemIO(input)})
		require.NoError(t, err)
		return res.VirtualTime
	}
	assert.Less(t, elapsed(8e4), elapsed(0))
}

func TestSeededRunsRepeat(t *testing.T) {
	input := randomGrid(9, 5)
	elapsed := func() float64 {
		cfg := simConfig(3, 2, config.NetworkOrdered)
		cfg.Network.Seed = 7
		res, err := RunSimulated(context.Background(), cfg, Job{Input: "in", Output: "out", Store: newMemIO(input)})
		require.NoError(t, err)
		return res.VirtualTime
	}
	assert.Equal(t, elapsed(), elapsed())
}

func TestRunSimulatedFiles(t *testing.T) {
	dir := t.TempDir()
	input := randomGrid(9, 2)
	inPath := filepath.Join(dir, "in.bin")
	outPath := filepath.Join(dir, "out.bin")
	require.NoError(t, grid.StoreFile(inPath, input))

	res, err := RunSimulated(context.Background(), simConfig(4, 2, config.NetworkSwitched),
		Job{Input: inPath, Output: outPath})
	require.NoError(t, err)

	out, err := grid.LoadFile(outPath)
	require.NoError(t, err)
	expected, err := RunLocal(input, 2)
	require.NoError(t, err)
	assert.True(t, expected.Equal(out))
	assert.Equal(t, out.Digest(), res.Digest)
}

func TestAllocationFailurePropagates(t *testing.T) {
	// With 8 rows over 4 workers and radius 1, the middle
	// ranks need 32 cells and the outer ranks 24.
	cfg := simConfig(4, 1, config.NetworkSwitched)
	cfg.MaxBufferCells = 30
	io := newMemIO(randomGrid(8, 3))

	_, err := RunSimulated(context.Background(), cfg, Job{Input: "in", Output: "out", Store: io})
	assert.ErrorIs(t, err, ErrAllocation)
	assert.Nil(t, io.Get("out"))
}

func TestEveryRankFails(t *testing.T) {
	sim, err := NewSimulation(3, config.NetworkConfig{Kind: config.NetworkRandom})
	require.NoError(t, err)

	errs := make([]error, 3)
	collcomm.SpawnComms(sim.Loop, sim.Network, sim.Nodes, func(c *collcomm.Comms) {
		w := &Worker{Comm: c, Radius: 1}
		if c.Rank() == 1 {
			w.MaxBufferCells = 10
		}
		var g *grid.Grid
		if c.Rank() == 0 {
			g = randomGrid(6, 4)
		}
		_, errs[c.Rank()] = w.Run(context.Background(), g)
		if c.Rank() == 1 {
			assert.Equal(t, StateFailed, w.State())
		}
	})
	require.NoError(t, sim.Loop.Run())

	assert.ErrorIs(t, errs[1], ErrAllocation)
	assert.ErrorIs(t, errs[0], collcomm.ErrAborted)
	assert.ErrorIs(t, errs[0], ErrDistribution)
	assert.ErrorIs(t, errs[2], collcomm.ErrAborted)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(bad, make([]byte, 12), 0o600))

	cfg := simConfig(3, 1, config.NetworkSwitched)
	_, err := RunSimulated(context.Background(), cfg, Job{Input: bad, Output: filepath.Join(dir, "o")})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, grid.ErrNotSquare)

	_, err = RunSimulated(context.Background(), cfg,
		Job{Input: filepath.Join(dir, "missing"), Output: filepath.Join(dir, "o")})
	assert.ErrorIs(t, err, ErrIO)
}

func TestTooManyWorkers(t *testing.T) {
	io := newMemIO(randomGrid(3, 5))
	_, err := RunSimulated(context.Background(), simConfig(5, 1, config.NetworkSwitched),
		Job{Input: "in", Output: "out", Store: io})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestDownNodeDeadlocks(t *testing.T) {
	cfg := simConfig(3, 1, config.NetworkOrdered)
	sim, err := NewSimulation(3, cfg.Network)
	require.NoError(t, err)
	network := sim.Network.(*simulator.OrderedNetwork)

	// The node goes down at time zero, before anything it
	// was sent can arrive.
	sim.Loop.Go(func(h *simulator.Handle) {
		network.SetDown(h, sim.Nodes[1], true)
	})

	io := newMemIO(randomGrid(6, 6))
	_, err = sim.Run(context.Background(), cfg, Job{Input: "in", Output: "out", Store: io})
	assert.ErrorIs(t, err, ErrDistribution)
	assert.ErrorIs(t, err, simulator.ErrDeadlock)
}

func TestNonRootAdoptsRootRadius(t *testing.T) {
	input := randomGrid(7, 7)
	expected, err := RunLocal(input, 2)
	require.NoError(t, err)

	sim, err := NewSimulation(3, config.Default().Network)
	require.NoError(t, err)
	var result *grid.Grid
	collcomm.SpawnComms(sim.Loop, sim.Network, sim.Nodes, func(c *collcomm.Comms) {
		w := &Worker{Comm: c, Radius: 2}
		var g *grid.Grid
		if c.Rank() == 0 {
			g = input
		} else {
			w.Radius = 5
		}
		res, err := w.Run(context.Background(), g)
		assert.NoError(t, err)
		if c.Rank() == 0 {
			result = res
		}
	})
	require.NoError(t, sim.Loop.Run())
	assert.True(t, expected.Equal(result))
}

// recordingCollector keeps the state transitions of one
// worker.
type recordingCollector struct {
	lock        sync.Mutex
	transitions []string
	cells       int
	runs        []bool
}

func (r *recordingCollector) RecordStateTransition(from, to string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

func (r *recordingCollector) RecordTransfer(string, int, float64) {}

func (r *recordingCollector) RecordCellsConvolved(cells int) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.cells += cells
}

func (r *recordingCollector) RecordRun(success bool, _ float64) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.runs = append(r.runs, success)
}

func TestWorkerStateSequence(t *testing.T) {
	recorder := &recordingCollector{}
	sim, err := NewSimulation(1, config.Default().Network)
	require.NoError(t, err)
	var state State
	collcomm.SpawnComms(sim.Loop, sim.Network, sim.Nodes, func(c *collcomm.Comms) {
		w := &Worker{Comm: c, Radius: 1, Metrics: recorder}
		_, err := w.Run(context.Background(), randomGrid(4, 8))
		assert.NoError(t, err)
		state = w.State()
	})
	require.NoError(t, sim.Loop.Run())

	assert.Equal(t, StateDone, state)
	assert.Equal(t, []string{
		"init->partition_computed",
		"partition_computed->window_received",
		"window_received->convolved",
		"convolved->result_sent",
		"result_sent->done",
	}, recorder.transitions)
	assert.Equal(t, 16, recorder.cells)
	assert.Equal(t, []bool{true}, recorder.runs)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "window_received", StateWindowReceived.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestCohortError(t *testing.T) {
	aborted := &collcomm.AbortError{Source: 2, Reason: "boom"}
	cause := errors.New("cause")
	assert.Equal(t, cause, cohortError([]error{aborted, nil, cause}))
	assert.Equal(t, aborted, cohortError([]error{aborted, aborted, nil}))
	assert.NoError(t, cohortError([]error{nil, nil}))
}
