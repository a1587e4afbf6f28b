package convolve

// State is a worker's position in the run lifecycle.
type State int

const (
	StateInit State = iota
	StatePartitionComputed
	StateWindowReceived
	StateConvolved
	StateResultSent
	StateDone
	StateFailed
)

// String returns the snake_case name of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePartitionComputed:
		return "partition_computed"
	case StateWindowReceived:
		return "window_received"
	case StateConvolved:
		return "convolved"
	case StateResultSent:
		return "result_sent"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
