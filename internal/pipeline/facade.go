// Package pipeline implements the facade: the single owner of the
// input/output registries and the frame queue, exposing registration,
// unregistration, scene update, and start. Grounded directly on
// compositor_pipeline/src/pipeline.rs's Pipeline struct and methods.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/n0remac/video-compositor/internal/decoder"
	"github.com/n0remac/video-compositor/internal/encoder"
	"github.com/n0remac/video-compositor/internal/errs"
	"github.com/n0remac/video-compositor/internal/frame"
	"github.com/n0remac/video-compositor/internal/ids"
	"github.com/n0remac/video-compositor/internal/logging"
	"github.com/n0remac/video-compositor/internal/queue"
	"github.com/n0remac/video-compositor/internal/registry"
	"github.com/n0remac/video-compositor/internal/render"
	"github.com/n0remac/video-compositor/internal/renderer"
	"github.com/n0remac/video-compositor/internal/transport"
)

// Input is one registered PipelineInput: its transport socket, decoder,
// and id. Exactly one entry per InputId.
type Input struct {
	ID       ids.InputId
	Port     int
	Socket   *transport.InputSocket
	Decoder  *decoder.Decoder
}

// Output is one registered PipelineOutput: its encoder, transport
// socket, declared resolution, and the SDP generated for it.
type Output struct {
	ID         ids.OutputId
	IP         string
	Port       int
	Resolution frame.Resolution
	Encoder    *encoder.Encoder
	Socket     *transport.OutputSocket
	SDP        string
}

// SendFrame satisfies render.OutputSink.
func (o *Output) SendFrame(f frame.RawFrame) { o.Encoder.SendFrame(f) }

// Options configures a new Pipeline.
type Options struct {
	Framerate             frame.Framerate
	StreamFallbackTimeout time.Duration
	RendererInitFailure   renderer.InitFailureHook
	DecoderTestHook       decoder.TestHook
}

// Pipeline is the facade. It exclusively owns both registries and the
// queue; the render driver holds shared references to the output
// registry and the renderer but never writes to the input registry.
type Pipeline struct {
	mu sync.Mutex // guards inputs + is-started; single writer per spec.md §5

	inputs  map[ids.InputId]*Input
	outputs *registry.Registry[ids.OutputId, *Output]

	queue    *queue.Queue
	renderer *renderer.Renderer
	log      *logging.Logger

	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	portAllocator *transport.PortAllocator
	decoderHook   decoder.TestHook
}

// New constructs the renderer and empty registries, returning the
// pipeline and the event loop handle the caller must drive separately
// (spec.md §4.1).
func New(ctx context.Context, opts Options, log *logging.Logger) (*Pipeline, *renderer.EventLoop, error) {
	r, loop, err := renderer.New(log.Tagged("renderer"), opts.RendererInitFailure)
	if err != nil {
		return nil, nil, err
	}

	q := queue.New(opts.Framerate, opts.StreamFallbackTimeout, log.Tagged("queue"))

	ctx, cancel := context.WithCancel(ctx)

	p := &Pipeline{
		inputs:        make(map[ids.InputId]*Input),
		outputs:       registry.New[ids.OutputId, *Output](),
		queue:         q,
		renderer:      r,
		log:           log.Tagged("pipeline"),
		ctx:           ctx,
		cancel:        cancel,
		portAllocator: transport.NewPortAllocator(),
		decoderHook:   opts.DecoderTestHook,
	}
	return p, loop, nil
}

// InputOptions configures a new registered input.
type InputOptions struct {
	Port        int
	PayloadType uint8
	Resolution  frame.Resolution
	Framerate   frame.Framerate
}

// RegisterInput constructs the transport then the decoder, and only on
// full success inserts into the registry and the queue. Any failure
// releases whatever was already constructed and leaves state unchanged.
func (p *Pipeline) RegisterInput(id ids.InputId, opts InputOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.inputs[id]; exists {
		return errs.AlreadyRegistered(fmt.Sprintf("input %s already registered", id))
	}

	if _, err := p.portAllocator.Allocate(transport.ExactPort(opts.Port)); err != nil {
		if errors.Is(err, transport.ErrNoPortsAvailable) {
			return errs.AddressInUse(fmt.Sprintf("register input %s: port %d", id, opts.Port), err)
		}
		return errs.Transport(fmt.Sprintf("register input %s: port %d", id, opts.Port), err)
	}

	internalPort := transport.InputInternalPort(opts.Port)
	socket, err := transport.NewInputSocket(p.ctx, opts.Port, internalPort, p.log)
	if err != nil {
		p.portAllocator.Release(opts.Port)
		return errs.Transport(fmt.Sprintf("register input %s", id), err)
	}

	dec, err := decoder.New(p.ctx, decoder.Options{
		InputID:     id,
		ListenPort:  internalPort,
		PayloadType: opts.PayloadType,
		Resolution:  opts.Resolution,
		Framerate:   opts.Framerate,
	}, p.queue, p.log.Tagged("decoder"), p.decoderHook)
	if err != nil {
		socket.Close()
		p.portAllocator.Release(opts.Port)
		return errs.Decoder(fmt.Sprintf("register input %s", id), err)
	}

	p.inputs[id] = &Input{ID: id, Port: opts.Port, Socket: socket, Decoder: dec}
	p.queue.AddInput(id)
	return nil
}

// UnregisterInput removes id from the registry and from the queue,
// tearing down its decoder and transport. Tolerates either teardown
// order; never leaves a decoder pushing into a removed queue slot for
// long since RemoveInput happens first.
func (p *Pipeline) UnregisterInput(id ids.InputId) error {
	p.mu.Lock()
	in, exists := p.inputs[id]
	if !exists {
		p.mu.Unlock()
		return errs.NotFound(fmt.Sprintf("input %s not found", id))
	}
	delete(p.inputs, id)
	p.mu.Unlock()

	p.queue.RemoveInput(id)
	in.Decoder.Stop()
	in.Socket.Close()
	p.portAllocator.Release(in.Port)
	return nil
}

// OutputOptions configures a new registered output.
type OutputOptions struct {
	IP          string
	Port        int
	Resolution  frame.Resolution
	Preset      encoder.Preset
	BitrateKbps int
}

// RegisterOutput rejects odd resolutions outright, then constructs the
// encoder, then the transport, inserting only on full success.
func (p *Pipeline) RegisterOutput(ctx context.Context, id ids.OutputId, opts OutputOptions) error {
	if p.outputs.Contains(id) {
		return errs.AlreadyRegistered(fmt.Sprintf("output %s already registered", id))
	}
	if !opts.Resolution.Even() {
		return errs.UnsupportedResolution(fmt.Sprintf("output %s: resolution %s must be even", id, opts.Resolution))
	}

	// Best-effort duplicate-destination pre-check (original's
	// PORT_AND_IP_ALREADY_IN_USE check): advisory only, since the real
	// invariant is enforced by the transport bind itself.
	if _, found := p.outputs.Find(func(_ ids.OutputId, o *Output) bool {
		return o.IP == opts.IP && o.Port == opts.Port
	}); found {
		return errs.AddressInUse(fmt.Sprintf("output %s: %s:%d already in use", id, opts.IP, opts.Port), nil)
	}

	internalPort := transport.OutputInternalPort(opts.Port)
	enc, err := encoder.New(ctx, encoder.Options{
		Resolution:  opts.Resolution,
		Framerate:   frame.DefaultFramerate,
		Preset:      opts.Preset,
		BitrateKbps: opts.BitrateKbps,
		DestHost:    "127.0.0.1",
		DestPort:    internalPort,
	}, p.log.Tagged("encoder"))
	if err != nil {
		return err
	}

	socket, err := transport.NewOutputSocket(ctx, internalPort, opts.IP, opts.Port, p.log)
	if err != nil {
		enc.Stop()
		return errs.Transport(fmt.Sprintf("register output %s", id), err)
	}

	sdp, err := transport.GenerateSDP(opts.IP, opts.Port, encoder.PayloadTypeH264)
	if err != nil {
		enc.Stop()
		socket.Close()
		return errs.Transport(fmt.Sprintf("generate sdp for output %s", id), err)
	}
	p.log.Infof("output %s registered, sdp:\n%s", id, sdp)

	out := &Output{ID: id, IP: opts.IP, Port: opts.Port, Resolution: opts.Resolution, Encoder: enc, Socket: socket, SDP: sdp}
	if !p.outputs.Insert(id, out) {
		enc.Stop()
		socket.Close()
		return errs.AlreadyRegistered(fmt.Sprintf("output %s already registered", id))
	}
	return nil
}

// UnregisterOutput removes id, if present.
func (p *Pipeline) UnregisterOutput(id ids.OutputId) error {
	out, ok := p.outputs.Remove(id)
	if !ok {
		return errs.NotFound(fmt.Sprintf("output %s not found", id))
	}
	out.Encoder.Stop()
	out.Socket.Close()
	return nil
}

// RegisterRenderer forwards to the Renderer collaborator.
func (p *Pipeline) RegisterRenderer(id ids.RendererId, kind ids.RendererKind) error {
	return p.renderer.RegisterRenderer(id, kind)
}

// UnregisterRenderer forwards to the Renderer collaborator.
func (p *Pipeline) UnregisterRenderer(id ids.RendererId) error {
	return p.renderer.UnregisterRenderer(id)
}

// OutputSceneUpdate is one element of an update_scene call.
type OutputSceneUpdate struct {
	OutputID   ids.OutputId
	Placements []renderer.Placement
}

// UpdateScene resolves each output's declared resolution and forwards
// the full list to the renderer in one call; if any OutputId is
// unregistered, no partial update is applied.
func (p *Pipeline) UpdateScene(updates []OutputSceneUpdate) error {
	scenes := make([]renderer.OutputScene, 0, len(updates))
	for _, u := range updates {
		out, ok := p.outputs.Get(u.OutputID)
		if !ok {
			return errs.UpdateScene(fmt.Sprintf("output %s not registered", u.OutputID))
		}
		scenes = append(scenes, renderer.OutputScene{
			OutputID:   u.OutputID,
			Resolution: out.Resolution,
			Placements: u.Placements,
		})
	}
	return p.renderer.UpdateScene(scenes)
}

// Start is idempotent-with-warning: a second call logs and returns.
// It starts the queue and spawns the render driver worker.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		p.log.Warnf("pipeline already started")
		return
	}
	p.started = true
	p.mu.Unlock()

	batches := p.queue.Start()
	driver := render.New(p.renderer, p.lookupOutput, p.log.Tagged("render"))
	go driver.Run(batches)
}

func (p *Pipeline) lookupOutput(id ids.OutputId) (render.OutputSink, bool) {
	out, ok := p.outputs.Get(id)
	if !ok {
		return nil, false
	}
	return out, true
}

// Inputs yields a snapshot of currently registered input ids and their
// records.
func (p *Pipeline) Inputs() []Input {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Input, 0, len(p.inputs))
	for _, in := range p.inputs {
		out = append(out, *in)
	}
	return out
}

// WithOutputs invokes f with a snapshot of the output registry, cloned
// out under its lock; f never runs while the lock is held.
func (p *Pipeline) WithOutputs(f func(entries []registry.Entry[ids.OutputId, *Output])) {
	p.outputs.Snapshot(f)
}

// Queue exposes the queue for the dispatcher's subscribe_input_listener
// path (wait_for_next_frame, invariant 8).
func (p *Pipeline) Queue() *queue.Queue { return p.queue }

// Stop cancels every stage. Dropping the Pipeline is how spec.md models
// "stopping is implicit"; this method makes that explicit for Go's lack
// of destructors.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel()
	p.queue.Stop()
	for _, in := range p.inputs {
		in.Decoder.Stop()
		in.Socket.Close()
	}
	p.outputs.Snapshot(func(entries []registry.Entry[ids.OutputId, *Output]) {
		for _, e := range entries {
			e.Value.Encoder.Stop()
			e.Value.Socket.Close()
		}
	})
}
