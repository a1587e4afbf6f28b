package grid

import "errors"

var (
	// ErrNotSquare indicates the input length does not hold
	// a whole, non-empty square of cells.
	ErrNotSquare = errors.New("grid: data is not a square grid of int32 cells")

	// ErrShortRead indicates the source ended before the
	// expected number of cells was read.
	ErrShortRead = errors.New("grid: unexpected end of data")

	// ErrSizeMismatch indicates a cell slice whose length is
	// not N*N.
	ErrSizeMismatch = errors.New("grid: cell count does not match N*N")
)
