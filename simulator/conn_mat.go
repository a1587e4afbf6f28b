package simulator

import "fmt"

// A ConnMat is a connectivity matrix.
//
// Entry (src, dst) is the transfer rate from a source node
// (row) to a destination node (column).
type ConnMat struct {
	numNodes int
	rates    []float64
}

// NewConnMat creates an all-zero connection matrix.
func NewConnMat(numNodes int) *ConnMat {
	return &ConnMat{
		numNodes: numNodes,
		rates:    make([]float64, numNodes*numNodes),
	}
}

// NumNodes returns the number of nodes.
func (c *ConnMat) NumNodes() int {
	return c.numNodes
}

// Get an entry in the matrix.
func (c *ConnMat) Get(src, dst int) float64 {
	return c.rates[c.index(src, dst)]
}

// Set an entry in the matrix.
func (c *ConnMat) Set(src, dst int, value float64) {
	c.rates[c.index(src, dst)] = value
}

// SumDest sums the rates into dst.
func (c *ConnMat) SumDest(dst int) float64 {
	return c.sumLine(c.column(dst))
}

// SumSource sums the rates out of src.
func (c *ConnMat) SumSource(src int) float64 {
	return c.sumLine(c.row(src))
}

// ScaleDest scales every rate into dst.
func (c *ConnMat) ScaleDest(dst int, scale float64) {
	start, stride := c.column(dst)
	c.scaleLine(start, stride, scale)
}

// ScaleSource scales every rate out of src.
func (c *ConnMat) ScaleSource(src int, scale float64) {
	start, stride := c.row(src)
	c.scaleLine(start, stride, scale)
}

// row and column return the first index of a line and the
// stride between its entries.
func (c *ConnMat) row(src int) (start, stride int) {
	return c.index(src, 0), 1
}

func (c *ConnMat) column(dst int) (start, stride int) {
	return c.index(0, dst), c.numNodes
}

func (c *ConnMat) sumLine(start, stride int) float64 {
	var sum float64
	for i := 0; i < c.numNodes; i++ {
		sum += c.rates[start+i*stride]
	}
	return sum
}

func (c *ConnMat) scaleLine(start, stride int, scale float64) {
	for i := 0; i < c.numNodes; i++ {
		c.rates[start+i*stride] *= scale
	}
}

func (c *ConnMat) index(src, dst int) int {
	if src < 0 || dst < 0 || src >= c.numNodes || dst >= c.numNodes {
		panic(fmt.Sprintf("index (%d, %d) out of bounds for %d nodes", src, dst, c.numNodes))
	}
	return src*c.numNodes + dst
}
