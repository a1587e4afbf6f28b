// Command bench_scatter prints a markdown table of the
// virtual time a full convolution run takes on switched
// networks of various shapes.
package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/unixpickle/dist-stencil/config"
	"github.com/unixpickle/dist-stencil/convolve"
	"github.com/unixpickle/dist-stencil/grid"
	"github.com/unixpickle/essentials"
)

// RunInfo describes a specific network configuration.
type RunInfo struct {
	NumNodes int
	Latency  float64
	Rate     float64
	RootRate float64
}

// Run convolves a grid on a simulated cohort and returns
// the virtual time it took.
func (r *RunInfo) Run(g *grid.Grid, radius int) float64 {
	cfg := config.Default()
	cfg.Workers = r.NumNodes
	cfg.Radius = radius
	cfg.Network = config.NetworkConfig{
		Kind:     config.NetworkSwitched,
		Latency:  r.Latency,
		Rate:     r.Rate,
		RootRate: r.RootRate,
	}
	store := &memStore{input: g}
	res, err := convolve.RunSimulated(context.Background(), cfg, convolve.Job{
		Input:  "input",
		Output: "output",
		Store:  store,
	})
	essentials.Must(err)
	return res.VirtualTime
}

func main() {
	runs := []RunInfo{
		{
			NumNodes: 2,
			Latency:  0.1,
			Rate:     1e6,
		},
		{
			NumNodes: 8,
			Latency:  1e-3,
			Rate:     1e6,
		},
		{
			NumNodes: 8,
			Latency:  1e-3,
			Rate:     1e6,
			RootRate: 8e6,
		},
		{
			NumNodes: 16,
			Latency:  1e-4,
			Rate:     1e9,
		},
	}
	gridSizes := []int{64, 256}
	radii := []int{1, 4, 16}

	// Markdown table header.
	fmt.Print("| Nodes | Latency | NIC rate | Root rate | N ")
	for _, radius := range radii {
		fmt.Printf("| r=%d ", radius)
	}
	fmt.Println("|")
	for i := 0; i < 5+len(radii); i++ {
		fmt.Print("|:--")
	}
	fmt.Println("|")

	// Markdown table body.
	for _, runInfo := range runs {
		for _, n := range gridSizes {
			fmt.Printf(
				"| %d | %s | %s | %s | %d ",
				runInfo.NumNodes,
				strconv.FormatFloat(runInfo.Latency, 'f', -1, 64),
				strconv.FormatFloat(runInfo.Rate, 'E', -1, 64),
				rootRate(runInfo),
				n,
			)
			g := grid.New(n)
			for i := range g.Cells {
				g.Cells[i] = int32(i % 1000)
			}
			for _, radius := range radii {
				fmt.Printf("| %f ", runInfo.Run(g, radius))
			}
			fmt.Println("|")
		}
	}
}

func rootRate(r RunInfo) string {
	if r.RootRate == 0 {
		return "-"
	}
	return strconv.FormatFloat(r.RootRate, 'E', -1, 64)
}

// memStore serves one input grid and discards the output.
type memStore struct {
	input *grid.Grid
}

func (m *memStore) Load(path string) (*grid.Grid, error) {
	return m.input.Clone(), nil
}

func (m *memStore) Store(path string, g *grid.Grid) error {
	return nil
}
