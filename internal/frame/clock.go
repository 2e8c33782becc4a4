// Package frame holds the clock/framerate model and the chunk/frame types
// that flow between the decoder, queue, renderer, and encoder stages.
package frame

import "fmt"

// Framerate is a rational frames-per-second value. Tick PTS values are
// float64 seconds computed directly from the tick index rather than by
// summing periods, so rounding error does not build up over a long run;
// they are not exact rationals.
type Framerate struct {
	Num uint32
	Den uint32
}

// DefaultFramerate matches spec.md's documented default of 30/1.
var DefaultFramerate = Framerate{Num: 30, Den: 1}

// TickPeriodSeconds returns the tick period as a float64 seconds value
// (Den/Num). It does not check Valid: a zero Num yields +Inf or NaN.
// config.Load rejects such framerates.
func (f Framerate) TickPeriodSeconds() float64 {
	return float64(f.Den) / float64(f.Num)
}

// TickPTS returns the presentation timestamp, in seconds, of tick k:
// k * den / num.
func (f Framerate) TickPTS(k uint64) float64 {
	return float64(k) * f.TickPeriodSeconds()
}

func (f Framerate) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// Valid reports whether the framerate can be used to derive tick periods.
func (f Framerate) Valid() bool {
	return f.Num > 0 && f.Den > 0
}
