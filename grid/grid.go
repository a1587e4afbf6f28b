// Package grid stores square grids of int32 samples and
// reads and writes them in a headerless binary format.
package grid

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/xxh3"
)

// CellWidth is the number of bytes used to encode a cell.
const CellWidth = 4

// A Grid is an N×N array of signed integers stored in
// row-major order.
type Grid struct {
	N     int
	Cells []int32
}

// New creates an all-zero N×N grid.
func New(n int) *Grid {
	return &Grid{N: n, Cells: make([]int32, n*n)}
}

// FromCells wraps a row-major cell slice.
// The slice is not copied.
func FromCells(n int, cells []int32) (*Grid, error) {
	if n <= 0 || len(cells) != n*n {
		return nil, fmt.Errorf("%w: n=%d, cells=%d", ErrSizeMismatch, n, len(cells))
	}
	return &Grid{N: n, Cells: cells}, nil
}

// At gets the cell at a row and column.
func (g *Grid) At(row, col int) int32 {
	return g.Cells[row*g.N+col]
}

// Set changes the cell at a row and column.
func (g *Grid) Set(row, col int, value int32) {
	g.Cells[row*g.N+col] = value
}

// Row returns a view of one row of the grid.
func (g *Grid) Row(row int) []int32 {
	return g.Cells[row*g.N : (row+1)*g.N]
}

// Clone creates a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	return &Grid{N: g.N, Cells: append([]int32(nil), g.Cells...)}
}

// Equal checks if two grids have the same size and cells.
func (g *Grid) Equal(other *Grid) bool {
	if g.N != other.N || len(g.Cells) != len(other.Cells) {
		return false
	}
	for i, x := range g.Cells {
		if other.Cells[i] != x {
			return false
		}
	}
	return true
}

// Digest hashes the grid's on-disk encoding.
//
// Two grids have the same digest when their files would
// be byte-identical (up to hash collisions).
func (g *Grid) Digest() uint64 {
	h := xxh3.New()
	buf := make([]byte, 0, g.N*CellWidth)
	for row := 0; row < g.N; row++ {
		buf = appendCells(buf[:0], g.Row(row))
		h.Write(buf)
	}
	return h.Sum64()
}

func appendCells(buf []byte, cells []int32) []byte {
	for _, x := range cells {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(x))
	}
	return buf
}
