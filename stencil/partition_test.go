package stencil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionsTileRows(t *testing.T) {
	for _, n := range []int{1, 4, 7, 16, 33} {
		for workers := 1; workers <= n && workers <= 9; workers++ {
			for _, radius := range []int{0, 1, 2, 5, 40} {
				name := fmt.Sprintf("N=%d,Workers=%d,Radius=%d", n, workers, radius)
				t.Run(name, func(t *testing.T) {
					parts, err := Partitions(workers, n, radius)
					require.NoError(t, err)
					require.Len(t, parts, workers)

					next := 0
					for rank, p := range parts {
						assert.Equal(t, rank, p.Rank)
						assert.Equal(t, next, p.StartRow, "rows must be contiguous")
						assert.Positive(t, p.LocalRows)
						next = p.EndRow()

						assert.LessOrEqual(t, p.TopPad, radius)
						assert.LessOrEqual(t, p.BottomPad, radius)
						assert.GreaterOrEqual(t, p.WindowStart(), 0)
						assert.LessOrEqual(t, p.EndRow()+p.BottomPad, n)
						assert.Equal(t, p.TopPad+p.LocalRows+p.BottomPad, p.PaddedRows)
						assert.Positive(t, p.PaddedRows)
					}
					assert.Equal(t, n, next, "rows must cover the grid")
				})
			}
		}
	}
}

func TestComputePartitionHalos(t *testing.T) {
	// 12 rows, 4 workers, radius 2.
	expected := []Partition{
		{Rank: 0, StartRow: 0, TopPad: 0, BottomPad: 2, LocalRows: 3, PaddedRows: 5},
		{Rank: 1, StartRow: 3, TopPad: 2, BottomPad: 2, LocalRows: 3, PaddedRows: 7},
		{Rank: 2, StartRow: 6, TopPad: 2, BottomPad: 2, LocalRows: 3, PaddedRows: 7},
		{Rank: 3, StartRow: 9, TopPad: 2, BottomPad: 0, LocalRows: 3, PaddedRows: 5},
	}
	for rank, want := range expected {
		p, err := ComputePartition(rank, 4, 12, 2)
		require.NoError(t, err)
		assert.Equal(t, want, p)
	}
}

func TestComputePartitionRemainder(t *testing.T) {
	parts, err := Partitions(3, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 4}, []int{parts[0].LocalRows, parts[1].LocalRows,
		parts[2].LocalRows})
	assert.Equal(t, 6, parts[2].StartRow)
	assert.Equal(t, 0, parts[2].BottomPad)
	assert.Equal(t, 1, parts[2].TopPad)
}

func TestComputePartitionNearEdges(t *testing.T) {
	// Radius larger than a band: halos are clamped by the
	// distance to the grid edge, not by the radius.
	p, err := ComputePartition(1, 4, 8, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, p.TopPad)
	assert.Equal(t, 4, p.BottomPad)
	assert.Equal(t, 8, p.PaddedRows)
}

func TestComputePartitionErrors(t *testing.T) {
	tests := []struct {
		name                         string
		rank, workers, n, radius int
	}{
		{"NoWorkers", 0, 0, 4, 1},
		{"NegativeWorkers", 0, -1, 4, 1},
		{"EmptyGrid", 0, 1, 0, 1},
		{"NegativeRadius", 0, 1, 4, -1},
		{"RankTooLarge", 2, 2, 4, 1},
		{"NegativeRank", -1, 2, 4, 1},
		{"MoreWorkersThanRows", 0, 5, 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputePartition(tt.rank, tt.workers, tt.n, tt.radius)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
	_, err := Partitions(0, 4, 1)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
