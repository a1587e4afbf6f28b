package stencil

import "errors"

var (
	// ErrInvalidConfiguration indicates partitioning
	// parameters that cannot describe a valid cohort.
	ErrInvalidConfiguration = errors.New("stencil: invalid configuration")

	// ErrInvalidCell indicates a kernel call whose cell or
	// radius does not fit the window. It means the
	// partitioner and the kernel disagree about the shape
	// of a window.
	ErrInvalidCell = errors.New("stencil: invalid cell")
)
