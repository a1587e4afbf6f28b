package simulator

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func ExampleEventLoop() {
	loop := NewEventLoop()
	stream := loop.Stream()
	loop.Go(func(h *Handle) {
		msg := h.Poll(stream).Message
		fmt.Println(msg, h.Time())
	})
	loop.Go(func(h *Handle) {
		h.Schedule(stream, "scatter done", 15.5)
	})
	loop.Run()
	// Output: scatter done 15.5
}

// TestEventLoopDeadlineOrder checks that timers fire in
// deadline order regardless of scheduling order, and that
// the clock ends at the last deadline.
func TestEventLoopDeadlineOrder(t *testing.T) {
	loop := NewEventLoop()
	streams := []*EventStream{loop.Stream(), loop.Stream(), loop.Stream()}
	values := make(chan interface{}, len(streams))
	loop.Go(func(h *Handle) {
		for range streams {
			values <- h.Poll(streams...).Message
		}
	})
	loop.Go(func(h *Handle) {
		h.Schedule(streams[2], 3, 7.0)
		h.Schedule(streams[0], 1, 2.5)
		h.Schedule(streams[1], 2, 5.0)
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if loop.Time() != 7.0 {
		t.Errorf("time should be 7.0 but got %f", loop.Time())
	}
	for _, expected := range []int{1, 2, 3} {
		if val := <-values; val != expected {
			t.Errorf("expected %d but got %v", expected, val)
		}
	}
}

// TestEventLoopMultiConsumer checks that receivers of one
// stream are woken in every possible order.
func TestEventLoopMultiConsumer(t *testing.T) {
	orderings := map[[3]int]bool{}
	for i := 0; i < 2000; i++ {
		loop := NewEventLoopSeed(int64(i))
		stream := loop.Stream()
		var ordering [3]int
		for j := 0; j < 3; j++ {
			idx := j
			loop.Go(func(h *Handle) {
				ordering[idx] = h.Poll(stream).Message.(int)
			})
		}
		loop.Go(func(h *Handle) {
			for k := 1; k <= 3; k++ {
				h.Schedule(stream, k, float64(k))
			}
		})
		if err := loop.Run(); err != nil {
			t.Fatal(err)
		}
		orderings[ordering] = true
	}
	if len(orderings) != 6 {
		t.Errorf("expected 6 possible orderings but saw %d", len(orderings))
	}
}

// TestEventLoopTies checks that timers with equal
// deadlines fire in either order.
func TestEventLoopTies(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		loop := NewEventLoopSeed(int64(i))
		stream := loop.Stream()
		var first string
		loop.Go(func(h *Handle) {
			first = h.Poll(stream).Message.(string)
			h.Poll(stream)
		})
		loop.Go(func(h *Handle) {
			h.Schedule(stream, "a", 1.0)
			h.Schedule(stream, "b", 1.0)
		})
		if err := loop.Run(); err != nil {
			t.Fatal(err)
		}
		seen[first] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("tie was always broken the same way: %v", seen)
	}
}

// TestEventLoopSeed checks that a seeded loop replays the
// same tie-breaks and random draws.
func TestEventLoopSeed(t *testing.T) {
	trace := func() []interface{} {
		loop := NewEventLoopSeed(42)
		stream := loop.Stream()
		var res []interface{}
		loop.Go(func(h *Handle) {
			for i := 0; i < 8; i++ {
				res = append(res, h.Poll(stream).Message)
			}
			res = append(res, h.Float64())
		})
		loop.Go(func(h *Handle) {
			for i := 0; i < 8; i++ {
				h.Schedule(stream, i, 1.0)
			}
		})
		if err := loop.Run(); err != nil {
			t.Fatal(err)
		}
		return res
	}
	first, second := trace(), trace()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("runs diverged: %v vs %v", first, second)
		}
	}
}

// TestEventLoopBuffering tests that messages sent to an
// EventStream are queued while nobody polls it.
func TestEventLoopBuffering(t *testing.T) {
	loop := NewEventLoop()

	readFirst := loop.Stream()
	readSecond := loop.Stream()
	neverRead := loop.Stream()

	value := make(chan interface{}, 1)

	loop.Go(func(h *Handle) {
		h.Poll(readFirst)
		value <- h.Poll(readSecond).Message
	})

	loop.Go(func(h *Handle) {
		h.Schedule(readSecond, 1337, 3.0)
		h.Sleep(2)
		h.Schedule(neverRead, 321, 4.0)
		h.Schedule(readFirst, 123, 7.0)
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if loop.Time() != 9.0 {
		t.Errorf("time should be 9.0 but got %f", loop.Time())
	}
	if val := <-value; val != 1337 {
		t.Errorf("expected 1337 but got %v", val)
	}
}

// TestEventLoopRealTime checks that wall-clock delays
// between Schedule calls do not affect delivery order.
func TestEventLoopRealTime(t *testing.T) {
	loop := NewEventLoop()

	first := loop.Stream()
	second := loop.Stream()
	third := loop.Stream()

	values := make(chan interface{}, 3)

	loop.Go(func(h *Handle) {
		for _, stream := range []*EventStream{first, second, third} {
			event := h.Poll(third, second, first)
			if event.Stream != stream {
				t.Error("incorrect stream order")
			}
			values <- event.Message
		}
	})

	loop.Go(func(h *Handle) {
		h.Schedule(first, 133, 3.0)
		h.Sleep(3.5)
		h.Schedule(third, 333, 7.0)
		time.Sleep(time.Second / 4)
		h.Schedule(second, 233, 1.0)
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if loop.Time() != 10.5 {
		t.Errorf("time should be 10.5 but got %f", loop.Time())
	}
	for _, expected := range []int{133, 233, 333} {
		if val := <-values; val != expected {
			t.Errorf("expected %d but got %v", expected, val)
		}
	}
}

func TestEventLoopCancel(t *testing.T) {
	loop := NewEventLoop()
	stream := loop.Stream()
	var got interface{}
	loop.Go(func(h *Handle) {
		got = h.Poll(stream).Message
	})
	loop.Go(func(h *Handle) {
		dropped := h.Schedule(stream, "dropped", 1.0)
		h.Schedule(stream, "kept", 2.0)
		h.Cancel(dropped)

		// Cancelling twice is harmless.
		h.Cancel(dropped)
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if got != "kept" {
		t.Errorf("expected kept but got %v", got)
	}
	if loop.Time() != 2.0 {
		t.Errorf("time should be 2.0 but got %f", loop.Time())
	}
}

// TestEventLoopDeadlocks makes sure that the event loop
// detects two Goroutines waiting on each other.
func TestEventLoopDeadlocks(t *testing.T) {
	loop := NewEventLoop()

	stream1 := loop.Stream()
	stream2 := loop.Stream()

	loop.Go(func(h *Handle) {
		h.Sleep(4)
		h.Poll(stream1)
		h.Schedule(stream2, 1337, 0.0)
	})

	loop.Go(func(h *Handle) {
		time.Sleep(time.Second / 4)
		h.Poll(stream2)
		h.Schedule(stream1, 1337, 0.0)
	})

	err := loop.Run()
	if !errors.Is(err, ErrDeadlock) {
		t.Fatalf("did not detect deadlock: %v", err)
	}
	var deadlock *DeadlockError
	if !errors.As(err, &deadlock) {
		t.Fatalf("unexpected error type: %T", err)
	}
	if deadlock.Polling != 2 || deadlock.Time != 4 {
		t.Errorf("unexpected deadlock details: %+v", deadlock)
	}
}
