package convolve

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/unixpickle/dist-stencil/collcomm"
	"github.com/unixpickle/dist-stencil/collcomm/natscomm"
	"github.com/unixpickle/dist-stencil/config"
	"github.com/unixpickle/dist-stencil/halo"
	"golang.org/x/sync/errgroup"
)

// RunNATS runs a job over a NATS server.
//
// With a non-negative cfg.NATS.Rank, this process is one
// rank of a multi-process cohort and only the root gets a
// Result. Otherwise all cfg.Workers ranks run in this
// process, each with its own connection.
//
// The root stores the output after the cohort's completion
// vote, so in multi-process mode a failed store is only
// reported by the root process. Non-root processes exit
// successfully once their part of the run is done; judge
// the run by the root's result.
func RunNATS(ctx context.Context, cfg *config.Config, job Job) (*Result, error) {
	if cfg.NATS.Rank >= 0 {
		return runNATSRank(ctx, cfg, job, cfg.NATS.RunID, cfg.NATS.Rank, cfg.NATS.Size)
	}

	runID := cfg.NATS.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	results := make([]*Result, cfg.Workers)
	errs := make([]error, cfg.Workers)
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < cfg.Workers; rank++ {
		g.Go(func() error {
			results[rank], errs[rank] = runNATSRank(ctx, cfg, job, runID, rank, cfg.Workers)
			return errs[rank]
		})
	}
	g.Wait()
	if err := cohortError(errs); err != nil {
		return nil, err
	}
	return results[halo.Root], nil
}

func runNATSRank(ctx context.Context, cfg *config.Config, job Job, runID string, rank,
	size int) (*Result, error) {
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name(fmt.Sprintf("stencil-%s-%d", runID, rank)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: connect: %w", ErrDistribution, collcomm.ErrTransport, err)
	}
	defer nc.Close()

	comm, err := natscomm.Dial(ctx, nc, natscomm.Config{
		RunID:       runID,
		Rank:        rank,
		Size:        size,
		Prefix:      cfg.NATS.SubjectPrefix,
		Compress:    cfg.NATS.Compress,
		JoinTimeout: cfg.NATS.JoinTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDistribution, err)
	}
	defer comm.Close()

	w := &Worker{
		Comm:           comm,
		Radius:         cfg.Radius,
		MaxBufferCells: cfg.MaxBufferCells,
		RunID:          runID,
	}
	return runRank(ctx, job, w)
}
