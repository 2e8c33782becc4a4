// Package decoder runs the per-input decode stage: a gst-launch-1.0
// subprocess turning RTP/H.264 arriving on a local UDP socket into raw
// BGR frames on its stdout, which this package reads and pushes into
// the frame queue under the owning input's identity. The subprocess
// shape is the decode half of the teacher's cvpipe.StartH264 pipeline.
package decoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"

	"github.com/n0remac/video-compositor/internal/errs"
	"github.com/n0remac/video-compositor/internal/frame"
	"github.com/n0remac/video-compositor/internal/ids"
	"github.com/n0remac/video-compositor/internal/logging"
)

// Options parameterizes a Decoder instance.
type Options struct {
	InputID    ids.InputId
	ListenPort int
	PayloadType uint8
	Resolution frame.Resolution
	Framerate  frame.Framerate
}

// Sink receives decoded frames, tagged with their owning input. The
// queue satisfies this interface; tests substitute a fake.
type Sink interface {
	Enqueue(id ids.InputId, f frame.RawFrame)
}

// Decoder owns one gst-launch-1.0 decode subprocess and the goroutine
// reading its raw BGR stdout.
type Decoder struct {
	opts Options
	log  *logging.Logger

	cmd    *exec.Cmd
	stdout io.ReadCloser
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// TestHook, when non-nil, is called instead of starting a real gst
// subprocess. It lets tests (e.g. scenario S1) push frames directly
// into the sink without a codec dependency, mirroring the constructor-
// injected fakes in vshapovalov's manager_test.go.
type TestHook func(ctx context.Context, opts Options, sink Sink, log *logging.Logger) error

// New starts the decode subprocess and the stdout-reading goroutine,
// pushing frames into sink as they arrive. If hook is non-nil it is run
// instead of a real subprocess.
func New(ctx context.Context, opts Options, sink Sink, log *logging.Logger, hook TestHook) (*Decoder, error) {
	d := &Decoder{opts: opts, log: log}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if hook != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := hook(ctx, opts, sink, log); err != nil {
				log.Errorf("decoder test hook for input %s: %v", opts.InputID, err)
			}
		}()
		return d, nil
	}

	cmd := exec.CommandContext(ctx, "gst-launch-1.0",
		"-q",
		"udpsrc", "address=127.0.0.1",
		fmt.Sprintf("port=%d", opts.ListenPort),
		fmt.Sprintf("caps=application/x-rtp,media=video,clock-rate=90000,encoding-name=H264,packetization-mode=1,payload=%d", opts.PayloadType),
		"!", "rtpjitterbuffer", "latency=200",
		"!", "rtph264depay",
		"!", "h264parse", "config-interval=1", "disable-passthrough=true",
		"!", "avdec_h264", "max-threads=1",
		"!", "videoconvert",
		"!", "videoscale",
		"!", fmt.Sprintf("video/x-raw,format=BGR,width=%d,height=%d", opts.Resolution.Width, opts.Resolution.Height),
		"!", "fdsink", "fd=1",
	)
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "GST_DEBUG=2")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errs.Decoder("decoder stdout pipe", err)
	}
	d.cmd = cmd
	d.stdout = stdout

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errs.Decoder("start decoder subprocess", err)
	}

	d.wg.Add(1)
	go d.readLoop(sink)

	return d, nil
}

func (d *Decoder) readLoop(sink Sink) {
	defer d.wg.Done()

	frameBytes := d.opts.Resolution.Width * d.opts.Resolution.Height * 3
	reader := bufio.NewReaderSize(d.stdout, frameBytes)
	buf := make([]byte, frameBytes)

	var pts float64
	period := d.opts.Framerate.TickPeriodSeconds()

	for {
		if _, err := io.ReadFull(reader, buf); err != nil {
			if err != io.EOF {
				d.log.Errorf("input %s: decoder read error: %v", d.opts.InputID, err)
			}
			return
		}

		pixels := make([]byte, len(buf))
		copy(pixels, buf)

		sink.Enqueue(d.opts.InputID, frame.RawFrame{
			Pixels:     pixels,
			PTSSeconds: pts,
			Resolution: d.opts.Resolution,
			Origin:     d.opts.InputID,
		})
		pts += period
	}
}

// Stop terminates the subprocess and waits for the reader goroutine to
// exit. Safe to call more than once.
func (d *Decoder) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	if d.stdout != nil {
		_ = d.stdout.Close()
	}
	d.wg.Wait()
}

// ListenAddr reports the local UDP address the decoder's gst subprocess
// binds for incoming RTP, for callers that need to confirm allocation.
func (d *Decoder) ListenAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: d.opts.ListenPort}
}
