package pru

import (
	"runtime"
	"sync/atomic"
)

// Sample is one read of the PRU0 R31 register: pixel data in the low byte
// and the sensor's clock and sync lines in the bits above.
type Sample uint32

// Clock reports the pixel clock level.
func (s Sample) Clock() bool { return s&ClockMask != 0 }

// VSync reports the frame sync level. It is low during vertical blanking.
func (s Sample) VSync() bool { return s&VSyncMask != 0 }

// HSync reports the line sync level. It is high while line data is valid.
func (s Sample) HSync() bool { return s&HSyncMask != 0 }

// Data returns the 8-bit bus value.
func (s Sample) Data() byte { return byte(s & DataMask) }

// PixelBus is the capture core's view of the sensor's parallel port.
// Every call returns the bus state at the next instant the core looks.
type PixelBus interface {
	Sample() Sample
}

// Pattern returns the byte a simulated sensor drives at byte offset off of
// line row.
type Pattern func(row, off int) byte

// GradientPattern is a diagonal ramp that makes misplaced chunks obvious.
func GradientPattern(row, off int) byte {
	return byte(row + off)
}

// SimSensor is a deterministic [PixelBus] that emits an endless stream of
// frames. Each call to Sample advances the stream by half a pixel clock
// period, so the stream never runs ahead of the core reading it.
//
// Each frame is vblank clock cycles with VSYNC low, followed by rows lines
// of hblank cycles with HSYNC low and line-bytes cycles with HSYNC high.
// Data is stable across both halves of a cycle.
type SimSensor struct {
	geom    Geometry
	pattern Pattern
	vblank  int
	hblank  int

	halted atomic.Bool
	frames atomic.Uint64

	// Stream position, owned by the sampling goroutine.
	high  bool
	row   int // -1 during vertical blanking
	cycle int
}

// SimOption configures a [SimSensor].
type SimOption func(*SimSensor)

// WithPattern sets the data pattern. The default is [GradientPattern].
func WithPattern(p Pattern) SimOption {
	return func(s *SimSensor) { s.pattern = p }
}

// WithBlanking sets the vertical and horizontal blanking in clock cycles.
// Both are clamped to at least one cycle so sync edges always exist.
func WithBlanking(vblank, hblank int) SimOption {
	return func(s *SimSensor) {
		s.vblank = max(vblank, 1)
		s.hblank = max(hblank, 1)
	}
}

// NewSimSensor creates a free-running sensor positioned at the start of
// vertical blanking.
func NewSimSensor(g Geometry, opts ...SimOption) *SimSensor {
	s := &SimSensor{
		geom:    g,
		pattern: GradientPattern,
		vblank:  4,
		hblank:  2,
		row:     -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample implements [PixelBus].
func (s *SimSensor) Sample() Sample {
	if s.halted.Load() {
		// A stalled sensor holds every line low.
		runtime.Gosched()
		return 0
	}
	v := s.current()
	s.advance()
	return v
}

func (s *SimSensor) current() Sample {
	var v Sample
	if s.high {
		v |= ClockMask
	}
	if s.row >= 0 {
		v |= VSyncMask
		if off := s.cycle - s.hblank; off >= 0 {
			v |= HSyncMask | Sample(s.pattern(s.row, off))
		}
	}
	return v
}

func (s *SimSensor) advance() {
	if !s.high {
		s.high = true
		return
	}
	s.high = false
	s.cycle++

	if s.row < 0 {
		if s.cycle >= s.vblank {
			s.row, s.cycle = 0, 0
		}
		return
	}
	if s.cycle >= s.hblank+s.geom.LineBytes() {
		s.row++
		s.cycle = 0
		if s.row >= s.geom.Rows {
			s.row = -1
			s.frames.Add(1)
		}
	}
}

// Halt freezes every bus line low, as a sensor losing power or clock would.
func (s *SimSensor) Halt() { s.halted.Store(true) }

// Resume restarts the stream where it stopped.
func (s *SimSensor) Resume() { s.halted.Store(false) }

// Halted reports whether the sensor is halted.
func (s *SimSensor) Halted() bool { return s.halted.Load() }

// Frames returns the number of complete frames emitted.
func (s *SimSensor) Frames() uint64 { return s.frames.Load() }
