package allreduce

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/unixpickle/dist-stencil/collcomm"
	"github.com/unixpickle/dist-stencil/simulator"
)

// RunAllreducerTests runs a battery of tests on an
// Allreducer.
//
// Every case reduces random vectors with both Sum and Max
// and checks that all ranks agree on the result.
func RunAllreducerTests(t *testing.T, reducer Allreducer) {
	for _, numNodes := range []int{1, 2, 5, 15, 16, 17} {
		for _, size := range []int{0, 1, 1337} {
			for _, randomized := range []bool{false, true} {
				name := fmt.Sprintf("Nodes=%d,Size=%d,Random=%v", numNodes, size, randomized)
				t.Run(name, func(t *testing.T) {
					seed := int64(numNodes*10007 + size)
					vectors := randomVectors(rand.New(rand.NewSource(seed)), numNodes, size)
					for _, fn := range []struct {
						name   string
						fn     ReduceFn
						expect func(a, b int32) int32
					}{
						{"Sum", Sum, func(a, b int32) int32 { return a + b }},
						{"Max", Max, func(a, b int32) int32 {
							if a > b {
								return a
							}
							return b
						}},
					} {
						results := runAllreduce(t, reducer, vectors, fn.fn, randomized, seed)
						verifyReductionResults(t, fn.name, results, foldVectors(vectors, fn.expect))
					}
				})
			}
		}
	}
}

func randomVectors(gen *rand.Rand, numNodes, size int) [][]int32 {
	vectors := make([][]int32, numNodes)
	for i := range vectors {
		vectors[i] = make([]int32, size)
		for j := range vectors[i] {
			vectors[i][j] = int32(gen.Intn(2001) - 1000)
		}
	}
	return vectors
}

func foldVectors(vectors [][]int32, f func(a, b int32) int32) []int32 {
	res := append([]int32{}, vectors[0]...)
	for _, vec := range vectors[1:] {
		for i, x := range vec {
			res[i] = f(res[i], x)
		}
	}
	return res
}

func runAllreduce(t *testing.T, reducer Allreducer, vectors [][]int32, fn ReduceFn,
	randomized bool, seed int64) [][]int32 {
	numNodes := len(vectors)
	loop := simulator.NewEventLoopSeed(seed)
	nodes := simulator.NewNodes(numNodes)

	var network simulator.Network
	if randomized {
		network = simulator.RandomNetwork{}
	} else {
		// A slower root shakes out algorithms that
		// depend on rank 0 finishing first.
		switcher := simulator.NewRootedSwitcher(numNodes, 1.0, 0.5)
		network = simulator.NewSwitcherNetwork(switcher, nodes, 0.1)
	}

	results := make([][]int32, numNodes)
	collcomm.SpawnComms(loop, network, nodes, func(c *collcomm.Comms) {
		res, err := reducer.Allreduce(context.Background(), c, vectors[c.Rank()], fn)
		if err != nil {
			t.Errorf("rank %d: %v", c.Rank(), err)
		}
		results[c.Rank()] = res
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	return results
}

func verifyReductionResults(t *testing.T, name string, results [][]int32, expected []int32) {
	for rank, res := range results {
		if len(res) != len(expected) {
			t.Errorf("%s: rank %d has length %d but expected %d", name, rank, len(res), len(expected))
			continue
		}
		for i, x := range expected {
			if res[i] != x {
				t.Errorf("%s: rank %d has %d at component %d but expected %d", name, rank, res[i], i, x)
				break
			}
		}
	}
}
