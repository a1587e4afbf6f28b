package grid

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// SizeFromLength infers N from the byte length of an
// encoded grid.
func SizeFromLength(byteLen int64) (int, error) {
	if byteLen <= 0 || byteLen%CellWidth != 0 {
		return 0, fmt.Errorf("%w: %d bytes", ErrNotSquare, byteLen)
	}
	numCells := byteLen / CellWidth
	n := int64(math.Round(math.Sqrt(float64(numCells))))
	if n*n != numCells {
		return 0, fmt.Errorf("%w: %d cells", ErrNotSquare, numCells)
	}
	return int(n), nil
}

// Load reads an entire encoded grid from r.
// The size is inferred from the amount of data.
func Load(r io.Reader) (*Grid, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read grid: %w", err)
	}
	n, err := SizeFromLength(int64(len(data)))
	if err != nil {
		return nil, err
	}
	return decode(n, data), nil
}

// LoadFile reads a grid from a file, using the file size
// to determine N.
func LoadFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	n, err := SizeFromLength(info.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	data := make([]byte, n*n*CellWidth)
	if _, err := io.ReadFull(bufio.NewReader(f), data); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, fmt.Errorf("%s: %w", path, ErrShortRead)
		}
		return nil, err
	}
	return decode(n, data), nil
}

// Store writes the grid's cells to w in row-major order.
func Store(w io.Writer, g *Grid) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, g.N*CellWidth)
	for row := 0; row < g.N; row++ {
		buf = appendCells(buf[:0], g.Row(row))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// StoreFile writes the grid to path, replacing any
// existing file.
// The file is readable and writable only by its owner.
// A failed write leaves the previous contents in place.
func StoreFile(path string, g *Grid) error {
	return storeFile(path, g, Store)
}

// storeFile writes into a temporary file in the same
// directory and renames it over path once it is complete.
func storeFile(path string, g *Grid, write func(io.Writer, *Grid) error) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()
	if err := f.Chmod(0600); err != nil {
		return err
	}
	if err := write(f, g); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

func decode(n int, data []byte) *Grid {
	g := New(n)
	for i := range g.Cells {
		g.Cells[i] = int32(binary.LittleEndian.Uint32(data[i*CellWidth:]))
	}
	return g
}
