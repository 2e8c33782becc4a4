package frame

import (
	"fmt"

	"github.com/n0remac/video-compositor/internal/ids"
)

// CodecKind names the wire codec an EncodedChunk carries. The only
// supported value today is CodecH264 (spec.md §1 non-goals), but the
// field exists so decoder/encoder boundaries don't need to change shape
// if that non-goal is ever relaxed.
type CodecKind int

const (
	CodecH264 CodecKind = iota
)

func (c CodecKind) String() string {
	if c == CodecH264 {
		return "h264"
	}
	return "unknown"
}

// EncodedChunk is an opaque, timestamped unit of compressed media as
// produced by the transport's receive side and consumed by the decoder.
type EncodedChunk struct {
	Bytes []byte
	PTS   int64 // codec-defined units (90kHz clock for H.264/RTP)
	DTS   *int64
	Codec CodecKind
}

// Validate enforces the EncodedChunk invariants from spec.md §3: bytes
// non-empty, and dts <= pts when dts is present.
func (c EncodedChunk) Validate() error {
	if len(c.Bytes) == 0 {
		return fmt.Errorf("encoded chunk: empty payload")
	}
	if c.DTS != nil && *c.DTS > c.PTS {
		return fmt.Errorf("encoded chunk: dts %d > pts %d", *c.DTS, c.PTS)
	}
	return nil
}

// Resolution is a codec-constrained frame size; outputs require both
// dimensions to be even (spec.md §3).
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) Even() bool {
	return r.Width%2 == 0 && r.Height%2 == 0
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// RawFrame is a decoded frame ready for rendering: pixel bytes (packed
// BGR, matching the decoder's gstreamer `videoconvert` output format),
// its PTS in rational seconds, the resolution the decoder declared, and
// the input it originated from.
type RawFrame struct {
	Pixels     []byte
	PTSSeconds float64
	Resolution Resolution
	Origin     ids.InputId
}

// Clone makes a deep copy of the pixel buffer so a frame handed to the
// renderer can be safely retained past the queue's own lifetime.
func (f RawFrame) Clone() RawFrame {
	cp := make([]byte, len(f.Pixels))
	copy(cp, f.Pixels)
	f.Pixels = cp
	return f
}
