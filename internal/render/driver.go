// Package render implements the render driver: the worker that reads
// aligned batches off the queue, applies backpressure, invokes the
// Renderer, and routes each per-output frame to its encoder.
package render

import (
	"github.com/n0remac/video-compositor/internal/frame"
	"github.com/n0remac/video-compositor/internal/ids"
	"github.com/n0remac/video-compositor/internal/logging"
	"github.com/n0remac/video-compositor/internal/queue"
)

// backlogDropThreshold is RENDER_BACKLOG_DROP from spec.md §4.4: once
// more than this many batches are queued, the current one is dropped
// rather than rendered. Chosen to cap added latency at roughly ⅔s at
// 30fps (spec.md Design Notes).
const backlogDropThreshold = 20

// Renderer is the subset of the renderer package's surface the driver
// needs; kept as an interface so tests can inject a slow or failing fake
// (scenario S6).
type Renderer interface {
	Render(map[ids.InputId]frame.RawFrame) (map[ids.OutputId]frame.RawFrame, error)
}

// OutputSink is anything that can accept a composed frame for one
// output; the pipeline facade's output registry lookups satisfy this by
// resolving to an encoder's SendFrame.
type OutputSink interface {
	SendFrame(frame.RawFrame)
}

// OutputLookup resolves an OutputId to its current encoder, cloning the
// shared handle under the output registry's lock rather than handing
// back a borrowed reference (spec.md §5).
type OutputLookup func(ids.OutputId) (OutputSink, bool)

// Driver is the render backlog/dispatch worker.
type Driver struct {
	renderer Renderer
	lookup   OutputLookup
	log      *logging.Logger
}

func New(renderer Renderer, lookup OutputLookup, log *logging.Logger) *Driver {
	return &Driver{renderer: renderer, lookup: lookup, log: log}
}

// Run reads batches from in until it closes. The channel's buffered
// length stands in for "channel backlog" from spec.md §4.4: Go channels
// don't expose arbitrary backlog inspection from the receive side for
// an unbounded channel, so the queue hands the driver a large buffered
// channel and Run treats len(in) as the backlog depth, matching the
// crossbeam `frames_receiver.len()` check in the original.
func (d *Driver) Run(in <-chan queue.Batch) {
	for batch := range in {
		if len(in) > backlogDropThreshold {
			d.log.Warnf("dropping batch tick=%d: render queue backlog %d exceeds %d", batch.Tick, len(in), backlogDropThreshold)
			continue
		}
		d.renderBatch(batch)
	}
}

func (d *Driver) renderBatch(batch queue.Batch) {
	outputFrames, err := d.renderer.Render(batch.Frames)
	if err != nil {
		d.log.Errorf("render error at tick %d: %v", batch.Tick, err)
		return
	}

	for outputID, f := range outputFrames {
		sink, ok := d.lookup(outputID)
		if !ok {
			d.log.Errorf("no output with id %s", outputID)
			continue
		}
		sink.SendFrame(f)
	}
}
