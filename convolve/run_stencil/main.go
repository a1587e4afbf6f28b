// Command run_stencil convolves a grid file across a
// cohort of workers and writes the result.
//
//	run_stencil <input-path> <output-path> <radius> [flags]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/unixpickle/dist-stencil/config"
	"github.com/unixpickle/dist-stencil/convolve"
	"github.com/unixpickle/dist-stencil/logging"
	"github.com/unixpickle/dist-stencil/metrics"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// A usageError is reported with exit status 2.
type usageError struct {
	err error
}

func (u usageError) Error() string {
	return u.err.Error()
}

func (u usageError) Unwrap() error {
	return u.err
}

type flags struct {
	configPath     string
	workers        int
	transport      string
	natsURL        string
	rank           int
	size           int
	runID          string
	compress       bool
	network        string
	seed           int64
	logLevel       string
	metricsFile    string
	maxBufferCells int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command and returns the exit status.
func execute(ctx context.Context, args []string, stderr io.Writer) int {
	cmd := newCommand(stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(stderr, "run_stencil:", err)
	var usage usageError
	if errors.As(err, &usage) || errors.Is(err, config.ErrInvalidConfig) ||
		errors.Is(err, convolve.ErrConfiguration) {
		return exitUsage
	}
	return exitFailure
}

func newCommand(stderr io.Writer) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "run_stencil <input-path> <output-path> <radius>",
		Short:         "Apply a distance-weighted stencil to a square int32 grid",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 3 {
				return usageError{fmt.Errorf("expected 3 arguments, got %d", len(args))}
			}
			radius, err := strconv.Atoi(args[2])
			if err != nil {
				return usageError{fmt.Errorf("radius %q is not an integer", args[2])}
			} else if radius < 0 {
				return usageError{fmt.Errorf("radius %d is negative", radius)}
			}
			cfg, err := loadConfig(cmd, &f, radius)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, args[0], args[1], stderr)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fs.IntVar(&f.workers, "workers", 0, "number of workers in the cohort")
	fs.StringVar(&f.transport, "transport", "", "transport: sim or nats")
	fs.StringVar(&f.natsURL, "nats-url", "", "NATS server URL")
	fs.IntVar(&f.rank, "rank", -1, "rank of this process (negative runs all ranks in-process)")
	fs.IntVar(&f.size, "size", 0, "cohort size in multi-process mode")
	fs.StringVar(&f.runID, "run-id", "", "identifier shared by all ranks of a run")
	fs.BoolVar(&f.compress, "compress", false, "compress NATS payloads with zstd")
	fs.StringVar(&f.network, "network", "", "simulated network: switched, random or ordered")
	fs.Int64Var(&f.seed, "seed", 0, "seed for the simulated network (0 picks one at random)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&f.metricsFile, "metrics-textfile", "", "write Prometheus metrics to this file")
	fs.IntVar(&f.maxBufferCells, "max-buffer-cells", 0, "per-worker window budget in cells (0 is unlimited)")
	return cmd
}

// loadConfig overlays the config file and then any flags
// that were set on the defaults.
func loadConfig(cmd *cobra.Command, f *flags, radius int) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		cfg, err = config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
	}
	cfg.Radius = radius

	changed := cmd.Flags().Changed
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("transport") {
		cfg.Transport = f.transport
	}
	if changed("nats-url") {
		cfg.NATS.URL = f.natsURL
	}
	if changed("rank") {
		cfg.NATS.Rank = f.rank
	}
	if changed("size") {
		cfg.NATS.Size = f.size
	}
	if changed("run-id") {
		cfg.NATS.RunID = f.runID
	}
	if changed("compress") {
		cfg.NATS.Compress = f.compress
	}
	if changed("network") {
		cfg.Network.Kind = f.network
	}
	if changed("seed") {
		cfg.Network.Seed = f.seed
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("metrics-textfile") {
		cfg.Metrics.Textfile = f.metricsFile
	}
	if changed("max-buffer-cells") {
		cfg.MaxBufferCells = f.maxBufferCells
	}
	if cfg.NATS.RunID == "" && cfg.Transport == config.TransportSim {
		cfg.NATS.RunID = uuid.NewString()
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, input, output string, stderr io.Writer) error {
	logger, err := logging.NewText(stderr, cfg.Log.Level)
	if err != nil {
		return err
	}

	var registry *prometheus.Registry
	var collector metrics.Collector = metrics.NewNop()
	if cfg.Metrics.Textfile != "" {
		registry = prometheus.NewRegistry()
		collector = metrics.NewPrometheus(registry, cfg.Metrics.Namespace)
	}

	job := convolve.Job{
		Input:   input,
		Output:  output,
		Logger:  logger,
		Metrics: collector,
	}
	logger.Info("run starting", "transport", cfg.Transport, "workers", cfg.CohortSize(),
		"radius", cfg.Radius, "run_id", cfg.NATS.RunID)

	start := time.Now()
	var res *convolve.Result
	if cfg.Transport == config.TransportNATS {
		res, err = convolve.RunNATS(ctx, cfg, job)
	} else {
		res, err = convolve.RunSimulated(ctx, cfg, job)
	}

	if registry != nil {
		if werr := prometheus.WriteToTextfile(cfg.Metrics.Textfile, registry); werr != nil {
			logger.Warn("could not write metrics", "path", cfg.Metrics.Textfile, "error", werr)
		}
	}
	if err != nil {
		return err
	}
	if res != nil {
		logger.Info("run finished", "n", res.N, "digest", fmt.Sprintf("%016x", res.Digest),
			"virtual_seconds", res.VirtualTime, "elapsed", time.Since(start))
	}
	return nil
}
