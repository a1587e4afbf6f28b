package stencil

import (
	"fmt"
	"math"

	"github.com/unixpickle/essentials"
)

// Apply computes the weighted neighborhood sum for one
// cell of a padded window with paddedRows rows and n
// columns.
//
// Every neighbor within Chebyshev distance d <= radius
// that lies inside the window contributes value/(d+1),
// truncated toward zero. Neighbors outside the window are
// skipped. The center has weight 1. The result is the raw
// sum, saturated to the int32 range.
//
// A radius of 0 returns the cell unchanged.
func Apply(window []int32, paddedRows, row, col, n, radius int) (int32, error) {
	if radius < 0 {
		return 0, fmt.Errorf("%w: radius %d", ErrInvalidCell, radius)
	} else if paddedRows <= 0 || n <= 0 || len(window) < paddedRows*n {
		return 0, fmt.Errorf("%w: %d cells cannot hold a %dx%d window",
			ErrInvalidCell, len(window), paddedRows, n)
	} else if row < 0 || col < 0 || row >= paddedRows || col >= n {
		return 0, fmt.Errorf("%w: (%d, %d) outside %dx%d window",
			ErrInvalidCell, row, col, paddedRows, n)
	}

	if radius == 0 {
		return window[row*n+col], nil
	}

	minRow := essentials.MaxInt(row-radius, 0)
	maxRow := essentials.MinInt(row+radius, paddedRows-1)
	minCol := essentials.MaxInt(col-radius, 0)
	maxCol := essentials.MinInt(col+radius, n-1)

	var sum int64
	for r := minRow; r <= maxRow; r++ {
		rowCells := window[r*n : (r+1)*n]
		dr := absInt(r - row)
		for c := minCol; c <= maxCol; c++ {
			dist := essentials.MaxInt(dr, absInt(c-col))
			sum += int64(rowCells[c]) / int64(dist+1)
		}
	}
	return saturate(sum), nil
}

// ConvolveWindow applies the kernel to every owned row of
// a window, producing LocalRows*n cells.
func ConvolveWindow(cells []int32, p Partition, n, radius int) ([]int32, error) {
	if len(cells) != p.PaddedRows*n {
		return nil, fmt.Errorf("%w: window has %d cells, partition needs %d",
			ErrInvalidCell, len(cells), p.PaddedRows*n)
	}
	res := make([]int32, p.LocalRows*n)
	for i := 0; i < p.LocalRows; i++ {
		row := p.TopPad + i
		for col := 0; col < n; col++ {
			value, err := Apply(cells, p.PaddedRows, row, col, n, radius)
			if err != nil {
				return nil, err
			}
			res[i*n+col] = value
		}
	}
	return res, nil
}

// KernelFlops estimates the arithmetic cost of convolving
// a partition, for simulated compute time.
func KernelFlops(p Partition, n, radius int) int {
	side := 2*radius + 1
	return p.LocalRows * n * side * side * 2
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func saturate(x int64) int32 {
	if x > math.MaxInt32 {
		return math.MaxInt32
	} else if x < math.MinInt32 {
		return math.MinInt32
	}
	return int32(x)
}
