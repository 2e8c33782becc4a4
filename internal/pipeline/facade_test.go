package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/n0remac/video-compositor/internal/config"
	"github.com/n0remac/video-compositor/internal/decoder"
	"github.com/n0remac/video-compositor/internal/errs"
	"github.com/n0remac/video-compositor/internal/frame"
	"github.com/n0remac/video-compositor/internal/ids"
	"github.com/n0remac/video-compositor/internal/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(config.Config{LoggerLevel: "error", LoggerFormat: "compact"})
}

// newTestPipeline builds a Pipeline whose decoder stage never spawns a
// real codec subprocess, the same way vshapovalov's manager_test.go
// injects fakes through constructor function fields rather than real
// I/O.
func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	noop := decoder.TestHook(func(ctx context.Context, opts decoder.Options, sink decoder.Sink, log *logging.Logger) error {
		<-ctx.Done()
		return nil
	})
	p, _, err := New(context.Background(), Options{
		Framerate:             frame.Framerate{Num: 30, Den: 1},
		StreamFallbackTimeout: 2 * time.Second,
		DecoderTestHook:       noop,
	}, testLogger(t))
	if err != nil {
		t.Fatalf("unexpected error constructing pipeline: %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

// TestPipeline_RegisterOutput_OddResolutionRejected covers scenario S2:
// registering an output with an odd dimension is rejected with
// UnsupportedResolution and the registry is left unchanged.
func TestPipeline_RegisterOutput_OddResolutionRejected(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	err := p.RegisterOutput(ctx, ids.OutputId("O"), OutputOptions{
		IP:         "127.0.0.1",
		Port:       18000,
		Resolution: frame.Resolution{Width: 1921, Height: 1080},
	})
	if !errs.Is(err, errs.KindUnsupportedResolution) {
		t.Fatalf("expected UnsupportedResolution, got %v", err)
	}
	if p.outputs.Contains(ids.OutputId("O")) {
		t.Fatal("registry must be unchanged after a rejected registration")
	}
}

// TestPipeline_RegisterInput_DoubleRegistrationRejected covers scenario
// S4: the second registration of the same input id fails with
// AlreadyRegistered, and the inputs listing still has exactly one entry.
func TestPipeline_RegisterInput_DoubleRegistrationRejected(t *testing.T) {
	p := newTestPipeline(t)

	opts := InputOptions{
		Port:       19000,
		Resolution: frame.Resolution{Width: 1920, Height: 1080},
		Framerate:  frame.Framerate{Num: 30, Den: 1},
	}
	if err := p.RegisterInput(ids.InputId("A"), opts); err != nil {
		t.Fatalf("first registration should succeed, got %v", err)
	}

	opts2 := opts
	opts2.Port = 19001
	err := p.RegisterInput(ids.InputId("A"), opts2)
	if !errs.Is(err, errs.KindAlreadyRegistered) {
		t.Fatalf("expected AlreadyRegistered on second registration, got %v", err)
	}

	if got := len(p.Inputs()); got != 1 {
		t.Fatalf("expected exactly one registered input, got %d", got)
	}
}

// TestPipeline_UpdateScene_UnregisteredOutputRejected ensures an
// update_scene referencing an unknown OutputId fails and applies no
// partial update.
func TestPipeline_UpdateScene_UnregisteredOutputRejected(t *testing.T) {
	p := newTestPipeline(t)
	err := p.UpdateScene([]OutputSceneUpdate{{OutputID: ids.OutputId("missing")}})
	if !errs.Is(err, errs.KindUpdateScene) {
		t.Fatalf("expected UpdateSceneError, got %v", err)
	}
}

// TestPipeline_Start_SecondCallIsIdempotent ensures calling Start twice
// logs a warning and does not spawn a second render driver or panic.
func TestPipeline_Start_SecondCallIsIdempotent(t *testing.T) {
	p := newTestPipeline(t)
	p.Start()
	p.Start() // must not panic or deadlock
}
