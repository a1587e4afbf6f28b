package simulator

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/unixpickle/essentials"
)

// ErrDeadlock is matched by the error EventLoop.Run
// returns when every live Goroutine is polling and no
// timers remain.
//
// For a cohort of workers, this is how a stalled or
// crashed peer surfaces: everyone else blocks forever
// waiting on it.
var ErrDeadlock = errors.New("deadlock: all Handles are polling")

// A DeadlockError describes a stalled event loop.
type DeadlockError struct {
	// Time is the virtual time when the loop stalled.
	Time float64

	// Polling is the number of Goroutines left waiting.
	Polling int
}

func (d *DeadlockError) Error() string {
	return fmt.Sprintf("%s (%d waiting at t=%g)", ErrDeadlock.Error(), d.Polling, d.Time)
}

// Is reports whether target is ErrDeadlock.
func (d *DeadlockError) Is(target error) bool {
	return target == ErrDeadlock
}

// An EventStream is a uni-directional channel of events
// that are passed through an EventLoop.
//
// It is only safe to use an EventStream on one EventLoop
// at once.
type EventStream struct {
	loop    *EventLoop
	pending []interface{}
}

// An Event is a message received on some EventStream.
type Event struct {
	Message interface{}
	Stream  *EventStream
}

// A Timer controls the delayed delivery of an event.
// In particular, a Timer represents a single send that
// will happen in the (virtual) future.
type Timer struct {
	time  float64
	event *Event

	// tiebreak orders timers with equal deadlines.
	tiebreak int64

	// index is the timer's position in the loop's heap,
	// or -1 once it has fired or been cancelled.
	index int
}

// Time gets the time when the timer will be fired.
//
// If the virtual time is lower than a timer's Time(),
// then it is guaranteed that the timer has not fired.
func (t *Timer) Time() float64 {
	return t.time
}

// A Handle is a Goroutine's mechanism for accessing an
// EventLoop. Goroutines should not share Handles.
type Handle struct {
	*EventLoop

	// These fields are empty when the Goroutine is
	// not polling on any streams.
	pollStreams []*EventStream
	pollChan    chan<- *Event
}

// Poll waits for the next event from a set of streams.
func (h *Handle) Poll(streams ...*EventStream) *Event {
	ch := make(chan *Event, 1)
	h.modifyHandles(func() {
		if h.pollStreams != nil {
			panic("Handle is shared between Goroutines")
		}
		for _, stream := range streams {
			if len(stream.pending) > 0 {
				msg := stream.pending[0]
				essentials.OrderedDelete(&stream.pending, 0)
				ch <- &Event{Message: msg, Stream: stream}
				return
			}
		}
		h.pollStreams = streams
		h.pollChan = ch
	})
	return <-ch
}

// Schedule creates a Timer for delivering an event.
func (h *Handle) Schedule(stream *EventStream, msg interface{}, delay float64) *Timer {
	if stream.loop != h.EventLoop {
		panic("EventStream is not associated with the correct EventLoop")
	}
	var timer *Timer
	h.modify(func() {
		timer = &Timer{
			time:     h.time + delay,
			event:    &Event{Message: msg, Stream: stream},
			tiebreak: h.rng.Int63(),
		}
		if math.IsInf(timer.time, 0) || math.IsNaN(timer.time) {
			panic(fmt.Sprintf("invalid deadline: %f", timer.time))
		}
		heap.Push(&h.timers, timer)
	})
	return timer
}

// Cancel stops a timer if the timer is scheduled.
//
// If the timer already fired or was cancelled, this has
// no effect.
func (h *Handle) Cancel(t *Timer) {
	h.modify(func() {
		if t.index >= 0 && t.index < len(h.timers) && h.timers[t.index] == t {
			heap.Remove(&h.timers, t.index)
		}
	})
}

// Sleep waits for a certain amount of virtual time to
// elapse.
func (h *Handle) Sleep(delay float64) {
	stream := h.Stream()
	h.Schedule(stream, nil, delay)
	h.Poll(stream)
}

// Float64 draws a number in [0, 1) from the loop's random
// source.
func (h *Handle) Float64() float64 {
	var res float64
	h.modify(func() {
		res = h.rng.Float64()
	})
	return res
}

// An EventLoop is a global scheduler for events in a
// simulated distributed system.
//
// All Goroutines which access an EventLoop should be
// started using the EventLoop.Go() method.
//
// The event loop will only run when all active Goroutines
// are polling for an event.
// This way, simulated machines don't have to worry about
// real timing while performing computations.
type EventLoop struct {
	lock    sync.Mutex
	timers  timerHeap
	handles []*Handle
	rng     *rand.Rand

	time float64

	running  bool
	notifyCh chan struct{}
}

// NewEventLoop creates an event loop with an arbitrary
// random seed.
//
// The event loop's clock starts at 0.
func NewEventLoop() *EventLoop {
	return NewEventLoopSeed(time.Now().UnixNano())
}

// NewEventLoopSeed creates an event loop whose tie-breaks
// and random delays are drawn from the given seed.
//
// Runs with the same seed and the same Goroutine behavior
// see the same event ordering.
func NewEventLoopSeed(seed int64) *EventLoop {
	return &EventLoop{
		notifyCh: make(chan struct{}, 1),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Stream creates a new EventStream.
func (e *EventLoop) Stream() *EventStream {
	return &EventStream{loop: e}
}

// Go runs a function in a Goroutine and passes it a new
// handle to the EventLoop.
func (e *EventLoop) Go(f func(h *Handle)) {
	h := &Handle{EventLoop: e}
	e.lock.Lock()
	e.handles = append(e.handles, h)
	e.lock.Unlock()
	go func() {
		defer e.release(h)
		f(h)
	}()
}

func (e *EventLoop) release(h *Handle) {
	e.modifyHandles(func() {
		for i, handle := range e.handles {
			if handle == h {
				essentials.UnorderedDelete(&e.handles, i)
				return
			}
		}
		panic("cannot free handle that does not exist")
	})
}

// Run runs the loop and blocks until all handles have
// been closed.
//
// It is not safe to run the loop from more than one
// Goroutine at once.
//
// If the loop stalls, the returned error is a
// *DeadlockError matching ErrDeadlock.
func (e *EventLoop) Run() error {
	e.lock.Lock()
	if e.running {
		e.lock.Unlock()
		panic("EventLoop is already running.")
	}
	e.running = true
	e.lock.Unlock()

	defer func() {
		e.lock.Lock()
		e.running = false
		e.lock.Unlock()
	}()

	for range e.notifyCh {
		if shouldContinue, err := e.step(); !shouldContinue {
			return err
		}
	}

	panic("unreachable")
}

// MustRun is like Run, but it panics if there is a
// deadlock.
func (e *EventLoop) MustRun() {
	if err := e.Run(); err != nil {
		panic(err)
	}
}

// Time gets the current virtual time.
func (e *EventLoop) Time() float64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.time
}

// modify calls f with the loop locked, for changes that
// cannot alter which Goroutines are runnable.
func (e *EventLoop) modify(f func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	f()
}

// modifyHandles is like modify, but wakes the loop
// afterwards since f may have changed a Handle's state.
func (e *EventLoop) modifyHandles(f func()) {
	e.lock.Lock()
	defer func() {
		e.lock.Unlock()
		select {
		case e.notifyCh <- struct{}{}:
		default:
		}
	}()
	f()
}

// step fires timers until one of them wakes a Goroutine.
//
// It returns false once the loop should stop, along with
// a *DeadlockError if Goroutines are still waiting.
func (e *EventLoop) step() (bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if len(e.handles) == 0 {
		return false, nil
	}

	for _, h := range e.handles {
		if len(h.pollStreams) == 0 {
			// A Goroutine is still doing real-time work.
			return true, nil
		}
	}

	for len(e.timers) > 0 {
		timer := heap.Pop(&e.timers).(*Timer)
		e.time = math.Max(e.time, timer.time)
		if e.deliver(timer.event) {
			return true, nil
		}
	}

	return false, &DeadlockError{Time: e.time, Polling: len(e.handles)}
}

func (e *EventLoop) deliver(event *Event) bool {
	// Two receivers on one stream are woken in random
	// order.
	for _, i := range e.rng.Perm(len(e.handles)) {
		h := e.handles[i]
		for _, stream := range h.pollStreams {
			if stream == event.Stream {
				h.pollChan <- event
				h.pollChan = nil
				h.pollStreams = nil
				return true
			}
		}
	}
	event.Stream.pending = append(event.Stream.pending, event.Message)
	return false
}

// timerHeap orders timers by deadline, breaking ties at
// random.
type timerHeap []*Timer

func (t timerHeap) Len() int {
	return len(t)
}

func (t timerHeap) Less(i, j int) bool {
	if t[i].time != t[j].time {
		return t[i].time < t[j].time
	}
	return t[i].tiebreak < t[j].tiebreak
}

func (t timerHeap) Swap(i, j int) {
	t[i], t[j] = t[j], t[i]
	t[i].index = i
	t[j].index = j
}

func (t *timerHeap) Push(x interface{}) {
	timer := x.(*Timer)
	timer.index = len(*t)
	*t = append(*t, timer)
}

func (t *timerHeap) Pop() interface{} {
	old := *t
	timer := old[len(old)-1]
	old[len(old)-1] = nil
	timer.index = -1
	*t = old[:len(old)-1]
	return timer
}
