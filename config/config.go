// Package config loads run settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Transport names.
const (
	TransportSim  = "sim"
	TransportNATS = "nats"
)

// Simulated network kinds.
const (
	NetworkSwitched = "switched"
	NetworkRandom   = "random"
	NetworkOrdered  = "ordered"
)

// Config is the root configuration of a run.
type Config struct {
	Radius    int    `yaml:"radius"`
	Workers   int    `yaml:"workers"`
	Transport string `yaml:"transport"` // "sim" or "nats"

	// MaxBufferCells caps the cells a worker may hold in
	// its padded window. Zero means unlimited.
	MaxBufferCells int `yaml:"max_buffer_cells"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Network NetworkConfig `yaml:"network"`
	NATS    NATSConfig    `yaml:"nats"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	Textfile  string `yaml:"textfile"` // empty disables the export
	Namespace string `yaml:"namespace"`
}

// NetworkConfig configures the simulated network.
type NetworkConfig struct {
	Kind    string  `yaml:"kind"`    // switched, random, ordered
	Latency float64 `yaml:"latency"` // virtual seconds
	Rate    float64 `yaml:"rate"`    // bytes per virtual second

	// RootRate is the link rate of rank 0 on a switched
	// network. Zero means the same as Rate.
	RootRate float64 `yaml:"root_rate"`

	// Seed fixes the simulator's random choices. Zero
	// picks a seed at random.
	Seed int64 `yaml:"seed"`
}

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	URL string `yaml:"url"`

	// Rank is this process's rank. A negative rank runs
	// the whole cohort in-process.
	Rank int `yaml:"rank"`

	// Size is the cohort size in multi-process mode.
	Size int `yaml:"size"`

	RunID         string        `yaml:"run_id"`
	Compress      bool          `yaml:"compress"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	JoinTimeout   time.Duration `yaml:"join_timeout"` // e.g. "30s"
}

// Default returns the configuration used when no file or
// flag overrides a setting.
func Default() *Config {
	return &Config{
		Radius:    1,
		Workers:   4,
		Transport: TransportSim,
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Namespace: "stencil",
		},
		Network: NetworkConfig{
			Kind:    NetworkSwitched,
			Latency: 1e-4,
			Rate:    1e9,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Rank:          -1,
			SubjectPrefix: "stencil",
			JoinTimeout:   30 * time.Second,
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates
// the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings describe a runnable
// cohort.
func (c *Config) Validate() error {
	if c.Radius < 0 {
		return fmt.Errorf("%w: radius %d is negative", ErrInvalidConfig, c.Radius)
	}
	if c.MaxBufferCells < 0 {
		return fmt.Errorf("%w: max_buffer_cells %d is negative", ErrInvalidConfig,
			c.MaxBufferCells)
	}
	switch c.Transport {
	case TransportSim:
		if c.Workers <= 0 {
			return fmt.Errorf("%w: workers %d", ErrInvalidConfig, c.Workers)
		}
		if err := c.Network.validate(); err != nil {
			return err
		}
	case TransportNATS:
		if err := c.NATS.validate(c.Workers); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	return nil
}

// CohortSize returns the number of ranks in the run.
func (c *Config) CohortSize() int {
	if c.Transport == TransportNATS && c.NATS.Rank >= 0 {
		return c.NATS.Size
	}
	return c.Workers
}

func (n NetworkConfig) validate() error {
	switch n.Kind {
	case NetworkSwitched, NetworkRandom, NetworkOrdered:
	default:
		return fmt.Errorf("%w: unknown network kind %q", ErrInvalidConfig, n.Kind)
	}
	if n.Latency < 0 {
		return fmt.Errorf("%w: network latency %g", ErrInvalidConfig, n.Latency)
	}
	if n.Kind != NetworkRandom && n.Rate <= 0 {
		return fmt.Errorf("%w: network rate %g", ErrInvalidConfig, n.Rate)
	}
	if n.RootRate < 0 {
		return fmt.Errorf("%w: root rate %g", ErrInvalidConfig, n.RootRate)
	}
	return nil
}

func (n NATSConfig) validate(workers int) error {
	if n.URL == "" {
		return fmt.Errorf("%w: empty nats url", ErrInvalidConfig)
	}
	if n.SubjectPrefix == "" {
		return fmt.Errorf("%w: empty subject prefix", ErrInvalidConfig)
	}
	if n.JoinTimeout <= 0 {
		return fmt.Errorf("%w: join timeout %v", ErrInvalidConfig, n.JoinTimeout)
	}
	if n.Rank < 0 {
		if workers <= 0 {
			return fmt.Errorf("%w: workers %d", ErrInvalidConfig, workers)
		}
		return nil
	}
	if n.Size <= 0 || n.Rank >= n.Size {
		return fmt.Errorf("%w: rank %d of %d", ErrInvalidConfig, n.Rank, n.Size)
	}
	if n.RunID == "" {
		return fmt.Errorf("%w: multi-process runs need a shared run_id", ErrInvalidConfig)
	}
	return nil
}
