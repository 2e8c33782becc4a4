// Package queue implements the frame queue: the real-time aligner that
// merges per-input frame streams, each with its own pacing and PTS,
// into a single sequence of aligned batches at the configured output
// framerate. Its concurrency shape mirrors the teacher's goroutine+
// channel style (webrtc/sfu.go's negotiation worker): one mutex guards
// shared state, a single ticker-driven goroutine drives emission, and
// listener callbacks fire outside the lock to avoid inversion.
package queue

import (
	"sync"
	"time"

	"github.com/n0remac/video-compositor/internal/frame"
	"github.com/n0remac/video-compositor/internal/ids"
	"github.com/n0remac/video-compositor/internal/logging"
)

// softBufferBound caps the number of unconsumed frames kept per input
// before the oldest is dropped; spec.md leaves the exact bound a
// tunable, this matches the render backlog drop threshold's order of
// magnitude.
const softBufferBound = 20

// Batch is one tick's worth of aligned input frames.
type Batch struct {
	Tick       uint64
	PTSSeconds float64
	Frames     map[ids.InputId]frame.RawFrame
}

type inputBuffer struct {
	frames       []frame.RawFrame // oldest first
	lastArrival  time.Time
	hasArrived   bool
	listener     func(frame.RawFrame)
}

// Queue is the per-pipeline frame aligner. One Queue per Pipeline.
type Queue struct {
	mu         sync.Mutex
	framerate  frame.Framerate
	fallback   time.Duration
	inputs     map[ids.InputId]*inputBuffer
	tick       uint64
	started    bool
	startedAt  time.Time
	stopCh     chan struct{}
	out        chan Batch
	log        *logging.Logger
	nowFn      func() time.Time
}

// New constructs a Queue for the given output framerate and stream
// fallback timeout.
func New(fr frame.Framerate, fallbackTimeout time.Duration, log *logging.Logger) *Queue {
	return &Queue{
		framerate: fr,
		fallback:  fallbackTimeout,
		inputs:    make(map[ids.InputId]*inputBuffer),
		stopCh:    make(chan struct{}),
		log:       log,
		nowFn:     time.Now,
	}
}

// AddInput registers id with an empty buffer. Idempotent: re-adding an
// already-present id is a no-op, matching the facade's call-after-
// successful-registration invariant.
func (q *Queue) AddInput(id ids.InputId) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inputs[id]; ok {
		return
	}
	q.inputs[id] = &inputBuffer{}
}

// RemoveInput drops id's buffer and any pending frames immediately.
func (q *Queue) RemoveInput(id ids.InputId) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inputs, id)
}

// Enqueue appends f to id's buffer, dropping the oldest frame if the
// soft bound is exceeded, and fires any pending single-shot listener.
func (q *Queue) Enqueue(id ids.InputId, f frame.RawFrame) {
	q.mu.Lock()
	buf, ok := q.inputs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	buf.frames = append(buf.frames, f)
	if len(buf.frames) > softBufferBound {
		buf.frames = buf.frames[1:]
		q.log.Warnf("dropping oldest buffered frame for input %s: buffer exceeded %d", id, softBufferBound)
	}
	buf.lastArrival = q.nowFn()
	buf.hasArrived = true
	listener := buf.listener
	buf.listener = nil
	q.mu.Unlock()

	if listener != nil {
		listener(f)
	}
}

// SubscribeInputListener arranges for callback to be invoked exactly
// once, on the next successful Enqueue for id. Any previously pending
// listener for id is replaced, not chained.
func (q *Queue) SubscribeInputListener(id ids.InputId, callback func(frame.RawFrame)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	buf, ok := q.inputs[id]
	if !ok {
		return false
	}
	buf.listener = callback
	return true
}

// Start begins the tick-driven emission loop and returns the channel
// aligned batches are delivered on. Calling Start twice is a caller
// error; the facade guards against it (spec.md §4.2 start idempotency).
func (q *Queue) Start() <-chan Batch {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return q.out
	}
	q.started = true
	q.startedAt = q.nowFn()
	q.out = make(chan Batch, 256)
	q.mu.Unlock()

	go q.run()
	return q.out
}

// Stop terminates the tick loop and closes the output channel.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.mu.Unlock()
	close(q.stopCh)
}

func (q *Queue) run() {
	defer close(q.out)
	period := time.Duration(q.framerate.TickPeriodSeconds() * float64(time.Second))
	if period <= 0 {
		period = time.Second / 30
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var tick uint64
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			batch := q.collectTick(tick)
			select {
			case q.out <- batch:
			case <-q.stopCh:
				return
			}
			tick++
		}
	}
}

// collectTick selects, for each registered input, the frame closest to
// the tick's nominal PTS within a ±½-tick window (spec.md's chosen
// resolution of the Queue's window policy). If any input is still
// inside its fallback window, the tick waits once for up to a tick
// period's worth of slack before finalizing, per spec.md §4.3's "wait
// up to a small slack and retry" option.
func (q *Queue) collectTick(tick uint64) Batch {
	t := q.framerate.TickPTS(tick)
	if wait := q.pendingWait(t); wait > 0 {
		q.log.Debugf("tick %d: waiting %s for a laggard input", tick, wait)
		time.Sleep(wait)
	}
	frames := q.selectTick(t)
	return Batch{Tick: tick, PTSSeconds: t, Frames: frames}
}

// pendingWait reports how long this tick should wait, if at all, before
// finalizing its batch. An input with nothing in-window that hasn't yet
// exceeded stream_fallback_timeout contributes up to one tick period's
// worth of slack (bounded by its own remaining fallback budget); once an
// input has been silent longer than the fallback timeout it no longer
// holds up the tick. This is a read-only peek: it never mutates buffers,
// so retrying selectTick after the wait sees every frame that arrived
// meanwhile without having discarded anything chosen in an earlier pass.
func (q *Queue) pendingWait(t float64) time.Duration {
	half := q.framerate.TickPeriodSeconds() / 2
	tickPeriod := time.Duration(q.framerate.TickPeriodSeconds() * float64(time.Second))

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.nowFn()
	var wait time.Duration
	for _, buf := range q.inputs {
		if buf.hasFrameInWindow(t, half) {
			continue
		}
		since := q.startedAt
		if buf.hasArrived {
			since = buf.lastArrival
		}
		elapsed := now.Sub(since)
		if elapsed >= q.fallback {
			continue
		}
		slack := q.fallback - elapsed
		if slack > tickPeriod {
			slack = tickPeriod
		}
		if slack > wait {
			wait = slack
		}
	}
	return wait
}

// selectTick performs the actual, mutating per-input selection: keep the
// frame closest to t, discard strictly-earlier ones, skip any input with
// nothing in-window (whether because it never arrived or because its
// fallback window has now elapsed).
func (q *Queue) selectTick(t float64) map[ids.InputId]frame.RawFrame {
	half := q.framerate.TickPeriodSeconds() / 2

	q.mu.Lock()
	defer q.mu.Unlock()

	frames := make(map[ids.InputId]frame.RawFrame)
	for id, buf := range q.inputs {
		chosenIdx := -1
		for i, f := range buf.frames {
			if f.PTSSeconds <= t+half {
				chosenIdx = i
			} else {
				break
			}
		}
		if chosenIdx == -1 {
			continue
		}
		frames[id] = buf.frames[chosenIdx]
		buf.frames = buf.frames[chosenIdx+1:]
	}

	return frames
}

// hasFrameInWindow reports whether buf has a frame at or before the
// tick's ±½-period window, without mutating it.
func (b *inputBuffer) hasFrameInWindow(t, half float64) bool {
	for _, f := range b.frames {
		if f.PTSSeconds <= t+half {
			return true
		}
	}
	return false
}
