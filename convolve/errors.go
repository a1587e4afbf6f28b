package convolve

import (
	"errors"

	"github.com/unixpickle/dist-stencil/halo"
)

var (
	// ErrConfiguration indicates settings or inputs that
	// cannot produce a run, such as a bad radius, a
	// non-square grid or more workers than rows.
	ErrConfiguration = errors.New("convolve: invalid configuration")

	// ErrAllocation indicates that a worker's window does
	// not fit its buffer budget.
	ErrAllocation = errors.New("convolve: buffer budget exceeded")

	// ErrDistribution indicates that moving data between
	// ranks failed, including a peer aborting the run.
	ErrDistribution = halo.ErrDistribution

	// ErrIO indicates that the grid could not be loaded or
	// stored.
	ErrIO = errors.New("convolve: grid I/O failed")
)
