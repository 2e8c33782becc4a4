package queue

import (
	"testing"
	"time"

	"github.com/n0remac/video-compositor/internal/config"
	"github.com/n0remac/video-compositor/internal/frame"
	"github.com/n0remac/video-compositor/internal/ids"
	"github.com/n0remac/video-compositor/internal/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(config.Config{LoggerLevel: "error", LoggerFormat: "compact"})
}

// TestQueue_TickMonotonicity covers invariant 3: tick PTS emitted after
// start are 0, Δ, 2Δ, ... with no gaps or duplicates.
func TestQueue_TickMonotonicity(t *testing.T) {
	q := New(frame.Framerate{Num: 100, Den: 1}, 50*time.Millisecond, testLogger(t))
	out := q.Start()
	defer q.Stop()

	var last int64 = -1
	for i := 0; i < 5; i++ {
		select {
		case batch := <-out:
			if int64(batch.Tick) != last+1 {
				t.Fatalf("expected tick %d, got %d", last+1, batch.Tick)
			}
			last = int64(batch.Tick)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for batch")
		}
	}
}

// TestQueue_NoInputsRegisteredStillTicks covers the edge case where
// ticks continue to advance with no batch content when nothing is
// registered.
func TestQueue_NoInputsRegisteredStillTicks(t *testing.T) {
	q := New(frame.Framerate{Num: 50, Den: 1}, 20*time.Millisecond, testLogger(t))
	out := q.Start()
	defer q.Stop()

	select {
	case batch := <-out:
		if len(batch.Frames) != 0 {
			t.Fatalf("expected empty batch with no inputs, got %d frames", len(batch.Frames))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch")
	}
}

// TestQueue_EnqueueFiresListenerOnce covers invariant 8: a subscribed
// listener fires at most once, only for a frame enqueued after
// subscription.
func TestQueue_EnqueueFiresListenerOnce(t *testing.T) {
	q := New(frame.Framerate{Num: 30, Den: 1}, time.Second, testLogger(t))
	id := ids.InputId("A")
	q.AddInput(id)

	fired := make(chan frame.RawFrame, 2)
	if !q.SubscribeInputListener(id, func(f frame.RawFrame) { fired <- f }) {
		t.Fatal("expected subscribe to succeed for a registered input")
	}

	q.Enqueue(id, frame.RawFrame{PTSSeconds: 0})
	q.Enqueue(id, frame.RawFrame{PTSSeconds: 1}) // listener must not fire again

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected listener to fire once")
	}

	select {
	case <-fired:
		t.Fatal("listener fired a second time")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestQueue_EnqueueOnUnknownInputIsNoop ensures frames for an
// unregistered or already-removed input are dropped rather than
// panicking or resurrecting the input.
func TestQueue_EnqueueOnUnknownInputIsNoop(t *testing.T) {
	q := New(frame.Framerate{Num: 30, Den: 1}, time.Second, testLogger(t))
	q.Enqueue(ids.InputId("ghost"), frame.RawFrame{})
	// No crash, and the input is never added as a side effect.
	if _, ok := q.inputs[ids.InputId("ghost")]; ok {
		t.Fatal("enqueue on unknown input must not create it")
	}
}

// TestQueue_FallbackTimeoutWaitsThenDropsLaggard covers the fallback
// part of scenario S5: with A and B registered and B silent, the first
// tick waits for slack (B is still inside its fallback window), so it
// arrives no sooner than half the fallback timeout, and no later than the
// fallback timeout plus scheduling slack, without B in the batch.
func TestQueue_FallbackTimeoutWaitsThenDropsLaggard(t *testing.T) {
	fallback := 80 * time.Millisecond
	q := New(frame.Framerate{Num: 30, Den: 1}, fallback, testLogger(t))
	a, b := ids.InputId("A"), ids.InputId("B")
	q.AddInput(a)
	q.AddInput(b)

	out := q.Start()
	defer q.Stop()

	start := time.Now()
	select {
	case batch := <-out:
		elapsed := time.Since(start)
		if elapsed < fallback/2 {
			t.Fatalf("expected the tick to wait close to the fallback timeout for silent B, got %s", elapsed)
		}
		if elapsed > fallback+200*time.Millisecond {
			t.Fatalf("tick delayed more than fallback timeout plus slack: %s", elapsed)
		}
		if _, ok := batch.Frames[b]; ok {
			t.Fatal("expected silent input B to be absent from the batch")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first batch")
	}

	q.Enqueue(a, frame.RawFrame{PTSSeconds: 0, Origin: a})
}

// TestQueue_PendingWaitIgnoresInputsWithFrameInWindow ensures an input
// that already has a frame in-window never contributes wait time, so a
// fully-fed pipeline never incurs fallback latency.
func TestQueue_PendingWaitIgnoresInputsWithFrameInWindow(t *testing.T) {
	q := New(frame.Framerate{Num: 30, Den: 1}, 500*time.Millisecond, testLogger(t))
	a := ids.InputId("A")
	q.AddInput(a)
	q.Enqueue(a, frame.RawFrame{PTSSeconds: 0, Origin: a})

	if wait := q.pendingWait(0); wait != 0 {
		t.Fatalf("expected zero wait when the only input is already satisfied, got %s", wait)
	}
}
