package render

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/n0remac/video-compositor/internal/config"
	"github.com/n0remac/video-compositor/internal/frame"
	"github.com/n0remac/video-compositor/internal/ids"
	"github.com/n0remac/video-compositor/internal/logging"
	"github.com/n0remac/video-compositor/internal/queue"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(config.Config{LoggerLevel: "error", LoggerFormat: "compact"})
}

type slowRenderer struct {
	calls  int32
	delay  time.Duration
}

func (r *slowRenderer) Render(in map[ids.InputId]frame.RawFrame) (map[ids.OutputId]frame.RawFrame, error) {
	atomic.AddInt32(&r.calls, 1)
	time.Sleep(r.delay)
	return map[ids.OutputId]frame.RawFrame{}, nil
}

type recordingSink struct {
	mu    sync.Mutex
	count int
}

func (s *recordingSink) SendFrame(frame.RawFrame) {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
}

// TestDriver_BacklogDropRecoversWithoutDeadlock mirrors scenario S6: a
// renderer that sleeps 200ms per call is fed 40 batches at once. Batches
// received while more than 20 remain queued (the first 19) are dropped,
// so the renderer is called fewer than 40 times, and the driver must
// finish draining the channel without deadlocking.
func TestDriver_BacklogDropRecoversWithoutDeadlock(t *testing.T) {
	r := &slowRenderer{delay: 200 * time.Millisecond}
	lookup := func(ids.OutputId) (OutputSink, bool) { return nil, false }
	d := New(r, lookup, testLogger(t))

	in := make(chan queue.Batch, 64)
	for i := 0; i < 40; i++ {
		in <- queue.Batch{Tick: uint64(i)}
	}
	close(in)

	done := make(chan struct{})
	go func() {
		d.Run(in)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not terminate: suspected deadlock")
	}

	calls := atomic.LoadInt32(&r.calls)
	if calls >= 40 {
		t.Fatalf("expected backlog drop to skip rendering some batches, renderer was called %d times", calls)
	}
}

// TestDriver_RenderErrorIsSkippedNotFatal ensures a render failure logs
// and continues rather than stopping the driver.
func TestDriver_RenderErrorIsSkippedNotFatal(t *testing.T) {
	sink := &recordingSink{}
	r := &fakeRenderer{
		frames:    map[ids.OutputId]frame.RawFrame{"O": {}},
		failFirst: true,
	}
	lookup := func(ids.OutputId) (OutputSink, bool) { return sink, true }
	d := New(r, lookup, testLogger(t))

	// Tick 0 fails to render and is skipped; tick 1 renders normally.
	in := make(chan queue.Batch, 2)
	in <- queue.Batch{Tick: 0}
	in <- queue.Batch{Tick: 1}
	close(in)

	d.Run(in)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.count != 1 {
		t.Fatalf("expected sink to receive exactly one frame, got %d", sink.count)
	}
}

type fakeRenderer struct {
	frames    map[ids.OutputId]frame.RawFrame
	failFirst bool
	calls     int
}

func (f *fakeRenderer) Render(map[ids.InputId]frame.RawFrame) (map[ids.OutputId]frame.RawFrame, error) {
	f.calls++
	if f.failFirst && f.calls == 1 {
		return nil, errors.New("render failed")
	}
	return f.frames, nil
}
