package collcomm

import "fmt"

// A Layout lists, for every rank, how many elements it
// sends or receives and where they live in the root's
// buffer.
//
// This is the counts/displacements pair of an irregular
// scatter or gather.
type Layout struct {
	Counts  []int
	Offsets []int
}

// Len returns the number of ranks in the layout.
func (l Layout) Len() int {
	return len(l.Counts)
}

// Total sums the counts of all segments.
func (l Layout) Total() int {
	var sum int
	for _, c := range l.Counts {
		sum += c
	}
	return sum
}

// Segment returns the slice of buf that belongs to a rank.
func (l Layout) Segment(buf []int32, rank int) []int32 {
	return buf[l.Offsets[rank] : l.Offsets[rank]+l.Counts[rank]]
}

// Validate checks that the layout has one segment per
// rank and that every segment fits inside a buffer of
// supply elements.
//
// If tiling is true, the segments must also be contiguous
// in rank order and cover the whole buffer exactly once.
func (l Layout) Validate(size, supply int, tiling bool) error {
	if len(l.Counts) != size || len(l.Offsets) != size {
		return fmt.Errorf("%w: %d counts and %d offsets for %d ranks",
			ErrMalformedLayout, len(l.Counts), len(l.Offsets), size)
	}
	next := 0
	for i, count := range l.Counts {
		offset := l.Offsets[i]
		if count < 0 || offset < 0 || offset+count > supply {
			return fmt.Errorf("%w: rank %d wants [%d, %d) of %d elements",
				ErrMalformedLayout, i, offset, offset+count, supply)
		}
		if tiling {
			if offset != next {
				return fmt.Errorf("%w: rank %d starts at %d, expected %d",
					ErrMalformedLayout, i, offset, next)
			}
			next += count
		}
	}
	if tiling && next != supply {
		return fmt.Errorf("%w: segments cover %d of %d elements", ErrMalformedLayout,
			next, supply)
	}
	return nil
}
