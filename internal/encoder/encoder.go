// Package encoder runs the per-output encode stage: a gst-launch-1.0
// subprocess turning raw BGR frames written to its stdin into RTP/H.264
// packets sent out over a local UDP socket, mirroring the encode half of
// the teacher's cvpipe.StartH264 pipeline.
package encoder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/n0remac/video-compositor/internal/errs"
	"github.com/n0remac/video-compositor/internal/frame"
	"github.com/n0remac/video-compositor/internal/logging"
)

// Preset names the x264 speed-preset knob, from the ten documented in
// spec.md §6.
type Preset string

// PayloadTypeH264 is the RTP dynamic payload type this encoder's
// rtph264pay stage is configured with; transport.GenerateSDP must be
// handed the same value so a receiver's SDP matches the wire format.
const PayloadTypeH264 uint8 = 96

const (
	PresetUltrafast Preset = "ultrafast"
	PresetSuperfast Preset = "superfast"
	PresetVeryfast  Preset = "veryfast"
	PresetFaster    Preset = "faster"
	PresetFast      Preset = "fast"
	PresetMedium    Preset = "medium" // default
	PresetSlow      Preset = "slow"
	PresetSlower    Preset = "slower"
	PresetVerySlow  Preset = "veryslow"
	PresetPlacebo   Preset = "placebo"
)

// Options parameterizes an Encoder instance.
type Options struct {
	Resolution frame.Resolution
	Framerate  frame.Framerate
	Preset     Preset
	BitrateKbps int
	DestHost   string
	DestPort   int
}

// Encoder owns one gst-launch-1.0 encode subprocess and the stdin pipe
// feeding it raw frames.
type Encoder struct {
	opts Options
	log  *logging.Logger

	cmd    *exec.Cmd
	stdin  interface {
		Write([]byte) (int, error)
		Close() error
	}
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// New starts the encode subprocess.
func New(ctx context.Context, opts Options, log *logging.Logger) (*Encoder, error) {
	if !opts.Resolution.Even() {
		return nil, errs.UnsupportedResolution(fmt.Sprintf("resolution %s must have even dimensions", opts.Resolution))
	}
	if opts.Preset == "" {
		opts.Preset = PresetMedium
	}

	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, "gst-launch-1.0",
		"-q",
		"fdsrc", "fd=0", "do-timestamp=true",
		"!",
		"videoparse", "format=bgr",
		fmt.Sprintf("width=%d", opts.Resolution.Width),
		fmt.Sprintf("height=%d", opts.Resolution.Height),
		fmt.Sprintf("framerate=%d/%d", opts.Framerate.Num, opts.Framerate.Den),
		"!",
		"videoconvert",
		"!",
		"x264enc",
		"tune=zerolatency", fmt.Sprintf("speed-preset=%s", opts.Preset),
		"key-int-max=30", "bframes=0", "cabac=false",
		"byte-stream=true", "rc-lookahead=0", "aud=true", "ref=1",
		fmt.Sprintf("bitrate=%d", opts.BitrateKbps),
		"!",
		"h264parse", "config-interval=1",
		"!",
		"rtph264pay", fmt.Sprintf("pt=%d", PayloadTypeH264), "config-interval=1", "mtu=1200",
		"!",
		"udpsink", fmt.Sprintf("host=%s", opts.DestHost), fmt.Sprintf("port=%d", opts.DestPort),
		"sync=false", "async=false",
	)
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "GST_DEBUG=2")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, errs.Encoder("encoder stdin pipe", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errs.Encoder("start encoder subprocess", err)
	}

	return &Encoder{opts: opts, log: log, cmd: cmd, stdin: stdin, cancel: cancel}, nil
}

// SendFrame writes a composed frame's pixels to the subprocess's stdin.
// Write errors are logged, not returned: a stalled encoder affects only
// its own output, per spec.md's backpressure section.
func (e *Encoder) SendFrame(f frame.RawFrame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if _, err := e.stdin.Write(f.Pixels); err != nil {
		e.log.Errorf("encoder write to %s:%d failed: %v", e.opts.DestHost, e.opts.DestPort, err)
	}
}

// Resolution reports the output resolution update_scene resolves
// against.
func (e *Encoder) Resolution() frame.Resolution {
	return e.opts.Resolution
}

// Stop closes stdin and cancels the subprocess.
func (e *Encoder) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	_ = e.stdin.Close()
	e.cancel()
	_ = e.cmd.Wait()
}
