// Package metrics records what a convolution run did.
package metrics

// Collector receives measurements from workers.
//
// Implementations must be safe for concurrent use, since
// in-process cohorts share a single collector.
type Collector interface {
	// RecordStateTransition counts a worker moving between
	// two lifecycle states.
	RecordStateTransition(from, to string)

	// RecordTransfer observes one collective: the op name,
	// the cells this rank moved and how long it took.
	RecordTransfer(op string, cells int, seconds float64)

	// RecordCellsConvolved counts produced output cells.
	RecordCellsConvolved(cells int)

	// RecordRun observes a finished worker run.
	RecordRun(success bool, seconds float64)
}

// NopMetrics discards all metrics.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

// NewNop creates a collector that discards everything.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordStateTransition discards the transition.
func (n *NopMetrics) RecordStateTransition(_, _ string) {}

// RecordTransfer discards the transfer.
func (n *NopMetrics) RecordTransfer(_ string, _ int, _ float64) {}

// RecordCellsConvolved discards the count.
func (n *NopMetrics) RecordCellsConvolved(_ int) {}

// RecordRun discards the run.
func (n *NopMetrics) RecordRun(_ bool, _ float64) {}
