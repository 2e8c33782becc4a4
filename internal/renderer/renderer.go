// Package renderer implements the default in-process Renderer
// collaborator: a gocv-backed compositor that places each scene's
// referenced input frames onto an output canvas at the output's
// resolution. The teacher's cvpipe.Pipeline uses gocv for Haar-cascade
// face detection on a single stream; this backend reuses the same
// library for the leaf "blit a frame into a canvas" operation a
// compositor needs instead, resizing and overlaying rather than
// detecting.
package renderer

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/n0remac/video-compositor/internal/errs"
	"github.com/n0remac/video-compositor/internal/frame"
	"github.com/n0remac/video-compositor/internal/ids"
	"github.com/n0remac/video-compositor/internal/logging"
)

// Placement positions one input's frame within an output's canvas. The
// scene graph proper (shaders, web rendering, text, images) stays
// opaque per spec.md §1; this is the minimal shape a concrete backend
// needs to know to composite.
type Placement struct {
	Input ids.InputId
	X, Y  int
	W, H  int
}

// OutputScene is the per-output scene graph the facade resolves a
// target resolution for before handing it to the renderer, matching the
// original's scene::OutputScene{output_id, root, resolution} triple.
type OutputScene struct {
	OutputID   ids.OutputId
	Resolution frame.Resolution
	Placements []Placement
}

// RegisteredRenderer records a registered shader/web-renderer/image
// spec. Evaluation is explicitly out of scope (spec.md §1); this is
// bookkeeping only.
type RegisteredRenderer struct {
	ID   ids.RendererId
	Kind ids.RendererKind
}

// InitFailureHook, when non-nil, is consulted by New and can force a
// RendererInitFailed error for testing.
type InitFailureHook func() error

// Renderer is the default in-process backend.
type Renderer struct {
	log *logging.Logger

	mu     sync.RWMutex
	scenes map[ids.OutputId]OutputScene

	renderersMu sync.RWMutex
	renderers   map[ids.RendererId]RegisteredRenderer
}

// EventLoop is the handle the caller drives on its own goroutine. The
// in-process backend has no real windowing system to pump, so Run just
// blocks until stopped (spec.md Design Note "Event loop on main thread").
type EventLoop struct {
	stop chan struct{}
}

func (e *EventLoop) Run(fallback func()) {
	<-e.stop
	if fallback != nil {
		fallback()
	}
}

func (e *EventLoop) Stop() {
	close(e.stop)
}

// New constructs the renderer and its event loop handle. If hook
// returns a non-nil error, construction fails with RendererInitFailed.
func New(log *logging.Logger, hook InitFailureHook) (*Renderer, *EventLoop, error) {
	if hook != nil {
		if err := hook(); err != nil {
			return nil, nil, errs.RendererInitFailed("renderer init", err)
		}
	}
	r := &Renderer{
		log:       log,
		scenes:    make(map[ids.OutputId]OutputScene),
		renderers: make(map[ids.RendererId]RegisteredRenderer),
	}
	return r, &EventLoop{stop: make(chan struct{})}, nil
}

// UpdateScene replaces the scene graph for each named output.
func (r *Renderer) UpdateScene(scenes []OutputScene) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range scenes {
		r.scenes[s.OutputID] = s
	}
	return nil
}

// RegisterRenderer records a renderer spec under its id and kind.
// Re-registering an existing id is rejected, matching the registries'
// general at-most-once insert rule.
func (r *Renderer) RegisterRenderer(id ids.RendererId, kind ids.RendererKind) error {
	r.renderersMu.Lock()
	defer r.renderersMu.Unlock()
	if _, exists := r.renderers[id]; exists {
		return errs.AlreadyRegistered(fmt.Sprintf("renderer %s already registered", id))
	}
	r.renderers[id] = RegisteredRenderer{ID: id, Kind: kind}
	return nil
}

// UnregisterRenderer removes a previously registered renderer spec.
func (r *Renderer) UnregisterRenderer(id ids.RendererId) error {
	r.renderersMu.Lock()
	defer r.renderersMu.Unlock()
	if _, exists := r.renderers[id]; !exists {
		return errs.NotFound(fmt.Sprintf("renderer %s not found", id))
	}
	delete(r.renderers, id)
	return nil
}

// Render composites the given input frames into one output frame per
// registered scene. An output whose scene references an input missing
// from inputFrames simply omits that placement rather than failing the
// whole render, matching the tolerant "unknown ids are logged and
// skipped" philosophy applied symmetrically here.
func (r *Renderer) Render(inputFrames map[ids.InputId]frame.RawFrame) (map[ids.OutputId]frame.RawFrame, error) {
	r.mu.RLock()
	scenes := make([]OutputScene, 0, len(r.scenes))
	for _, s := range r.scenes {
		scenes = append(scenes, s)
	}
	r.mu.RUnlock()

	out := make(map[ids.OutputId]frame.RawFrame, len(scenes))
	for _, scene := range scenes {
		composed, err := r.renderOne(scene, inputFrames)
		if err != nil {
			return nil, errs.Internal(fmt.Sprintf("render output %s", scene.OutputID), err)
		}
		out[scene.OutputID] = composed
	}
	return out, nil
}

func (r *Renderer) renderOne(scene OutputScene, inputFrames map[ids.InputId]frame.RawFrame) (frame.RawFrame, error) {
	canvas := gocv.NewMatWithSize(scene.Resolution.Height, scene.Resolution.Width, gocv.MatTypeCV8UC3)
	defer canvas.Close()
	canvas.SetTo(gocv.NewScalar(0, 0, 0, 0))

	for _, placement := range scene.Placements {
		src, ok := inputFrames[placement.Input]
		if !ok {
			r.log.Debugf("output %s: input %s missing this tick, skipping placement", scene.OutputID, placement.Input)
			continue
		}
		if err := blit(canvas, src, placement); err != nil {
			r.log.Warnf("output %s: blit input %s failed: %v", scene.OutputID, placement.Input, err)
			continue
		}
	}

	bytes, err := canvas.DataPtrUint8()
	if err != nil {
		return frame.RawFrame{}, fmt.Errorf("read canvas bytes: %w", err)
	}
	pixels := make([]byte, len(bytes))
	copy(pixels, bytes)

	return frame.RawFrame{
		Pixels:     pixels,
		Resolution: scene.Resolution,
	}, nil
}

func blit(canvas gocv.Mat, src frame.RawFrame, p Placement) error {
	if src.Resolution.Width <= 0 || src.Resolution.Height <= 0 {
		return fmt.Errorf("source frame has non-positive resolution %s", src.Resolution)
	}
	srcMat, err := gocv.NewMatFromBytes(src.Resolution.Height, src.Resolution.Width, gocv.MatTypeCV8UC3, src.Pixels)
	if err != nil {
		return fmt.Errorf("source mat from bytes: %w", err)
	}
	defer srcMat.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(srcMat, &resized, image.Pt(p.W, p.H), 0, 0, gocv.InterpolationLinear)

	roi := image.Rect(p.X, p.Y, p.X+p.W, p.Y+p.H)
	bounds := image.Rect(0, 0, canvas.Cols(), canvas.Rows())
	if !roi.In(bounds) {
		return fmt.Errorf("placement %+v out of canvas bounds", p)
	}
	canvasROI := canvas.Region(roi)
	defer canvasROI.Close()
	resized.CopyTo(&canvasROI)
	return nil
}
