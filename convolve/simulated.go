package convolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/unixpickle/dist-stencil/collcomm"
	"github.com/unixpickle/dist-stencil/config"
	"github.com/unixpickle/dist-stencil/halo"
	"github.com/unixpickle/dist-stencil/simulator"
)

// A Simulation is a cohort of simulated nodes on a
// virtual network.
//
// Callers may schedule their own goroutines on Loop, for
// example to take nodes down, before calling Run.
type Simulation struct {
	Loop    *simulator.EventLoop
	Nodes   []*simulator.Node
	Network simulator.Network
}

// NewSimulation creates a simulated cohort of the given
// size.
func NewSimulation(workers int, netCfg config.NetworkConfig) (*Simulation, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: %d workers", ErrConfiguration, workers)
	}
	nodes := simulator.NewNodes(workers)
	var network simulator.Network
	switch netCfg.Kind {
	case config.NetworkSwitched, "":
		rootRate := netCfg.RootRate
		if rootRate == 0 {
			rootRate = netCfg.Rate
		}
		switcher := simulator.NewRootedSwitcher(workers, netCfg.Rate, rootRate)
		network = simulator.NewSwitcherNetwork(switcher, nodes, netCfg.Latency)
	case config.NetworkRandom:
		network = simulator.RandomNetwork{}
	case config.NetworkOrdered:
		network = simulator.NewOrderedNetwork(netCfg.Rate, netCfg.Latency)
	default:
		return nil, fmt.Errorf("%w: unknown network kind %q", ErrConfiguration, netCfg.Kind)
	}
	loop := simulator.NewEventLoop()
	if netCfg.Seed != 0 {
		loop = simulator.NewEventLoopSeed(netCfg.Seed)
	}
	return &Simulation{
		Loop:    loop,
		Nodes:   nodes,
		Network: network,
	}, nil
}

// Run runs the job on every node and drives the event loop
// until the cohort finishes.
//
// A cohort that stalls is reported as ErrDistribution
// wrapping simulator.ErrDeadlock.
func (s *Simulation) Run(ctx context.Context, cfg *config.Config, job Job) (*Result, error) {
	results := make([]*Result, len(s.Nodes))
	errs := make([]error, len(s.Nodes))
	collcomm.SpawnComms(s.Loop, s.Network, s.Nodes, func(c *collcomm.Comms) {
		w := &Worker{
			Comm:           c,
			Radius:         cfg.Radius,
			MaxBufferCells: cfg.MaxBufferCells,
			RunID:          cfg.NATS.RunID,
		}
		results[c.Rank()], errs[c.Rank()] = runRank(ctx, job, w)
	})
	if err := s.Loop.Run(); err != nil {
		if errors.Is(err, simulator.ErrDeadlock) {
			return nil, fmt.Errorf("%w: %w", ErrDistribution, err)
		}
		return nil, err
	}
	if err := cohortError(errs); err != nil {
		return nil, err
	}
	res := results[halo.Root]
	res.VirtualTime = s.Loop.Time()
	return res, nil
}

// RunSimulated runs a job on cfg.Workers simulated nodes
// connected by the network in cfg.Network.
func RunSimulated(ctx context.Context, cfg *config.Config, job Job) (*Result, error) {
	sim, err := NewSimulation(cfg.Workers, cfg.Network)
	if err != nil {
		return nil, err
	}
	return sim.Run(ctx, cfg, job)
}

// cohortError picks the error that caused the run to
// fail. Ranks that merely observed an abort or were
// cancelled are reported only if no rank has a better
// explanation.
func cohortError(errs []error) error {
	ordered := append([]error{errs[halo.Root]}, errs...)
	for _, err := range ordered {
		if err != nil && !errors.Is(err, collcomm.ErrAborted) && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	for _, err := range ordered {
		if err != nil {
			return err
		}
	}
	return nil
}
