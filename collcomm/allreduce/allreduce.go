// Package allreduce implements algorithms for summing or
// maxing vectors across every rank of a cohort.
package allreduce

import (
	"context"
	"fmt"

	"github.com/unixpickle/dist-stencil/collcomm"
)

// Allreducer is an algorithm that can apply a ReduceFn to
// vectors that are distributed across ranks.
//
// Every rank must call Allreduce with a vector of the
// same length.
type Allreducer interface {
	Allreduce(ctx context.Context, c collcomm.Communicator, data []int32,
		fn ReduceFn) ([]int32, error)
}

// A ReduceFn is an operation that reduces many vectors
// into a single vector.
//
// If c is a collcomm.Computer, the reduction is charged
// as local computation.
type ReduceFn func(c collcomm.Communicator, vecs ...[]int32) ([]int32, error)

// Sum is a ReduceFn that computes a vector sum.
func Sum(c collcomm.Communicator, vecs ...[]int32) ([]int32, error) {
	return reduce(c, vecs, func(acc, x int32) int32 {
		return acc + x
	})
}

// Max is a ReduceFn that computes an element-wise max.
func Max(c collcomm.Communicator, vecs ...[]int32) ([]int32, error) {
	return reduce(c, vecs, func(acc, x int32) int32 {
		if x > acc {
			return x
		}
		return acc
	})
}

func reduce(c collcomm.Communicator, vecs [][]int32, f func(acc, x int32) int32) ([]int32, error) {
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			return nil, fmt.Errorf("%w: reducing vectors of length %d and %d",
				collcomm.ErrLengthMismatch, len(vecs[0]), len(v))
		}
	}
	res := append([]int32(nil), vecs[0]...)
	for _, v := range vecs[1:] {
		for i, x := range v {
			res[i] = f(res[i], x)
		}
	}

	// Simulate computation time.
	if computer, ok := c.(collcomm.Computer); ok {
		computer.Compute(len(vecs) * len(vecs[0]))
	}

	return res, nil
}
