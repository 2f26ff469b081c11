package pru

import (
	"fmt"

	"github.com/ardnew/prucam/pkg"
)

// PRU-ICSS memory map on the AM335x.
const (
	PRUSSBase      = 0x4A300000 // L3 address of the PRU-ICSS block
	PRUSSSize      = 0x80000
	SharedRAMBase  = 0x00010000 // offset of the 12 KiB shared data RAM
	SharedRAMSize  = 0x3000
	INTCBase       = 0x00020000 // offset of the PRU interrupt controller
	INTCSize       = 0x2000
	INTCSRSR0      = 0x200 // system event status raw set, events 0-31
	INTCSECR0      = 0x280 // system event status enabled/clear, events 0-31
	INTCSICR       = 0x024 // system event status indexed clear
	SharedVarsBase = 0x100 // chunk buffers within shared RAM
)

// Offsets of the handshake words within shared RAM.
const (
	OffsetAddress       = 0x00 // frame buffer physical address
	OffsetCaptureState  = 0x04 // CaptureCore CoreState
	OffsetTransferState = 0x08 // TransferCore CoreState
)

// R31 input bits on PRU0 in parallel capture mode.
const (
	ClockBit = 16
	VSyncBit = 15
	HSyncBit = 14

	ClockMask = 1 << ClockBit
	VSyncMask = 1 << VSyncBit
	HSyncMask = 1 << HSyncBit
	DataMask  = 0xFF
)

// DefaultChunkSize is the number of bytes relayed per chunk-ready event.
const DefaultChunkSize = 32

// Geometry describes the frame shape and relay granularity.
type Geometry struct {
	Rows          int `yaml:"rows" msgpack:"rows"`
	Cols          int `yaml:"cols" msgpack:"cols"`
	BytesPerPixel int `yaml:"bytes_per_pixel" msgpack:"bpp"`
	ChunkSize     int `yaml:"chunk_size" msgpack:"chunk"`
}

// Frame geometries shipped with the sensors this pipeline drives.
var (
	GeometryAR0130 = Geometry{Rows: 960, Cols: 1280, BytesPerPixel: 1, ChunkSize: DefaultChunkSize}
	GeometryCFC    = Geometry{Rows: 1024, Cols: 1280, BytesPerPixel: 2, ChunkSize: DefaultChunkSize}
)

// LineBytes returns the number of bytes sampled per line.
func (g Geometry) LineBytes() int {
	return g.Cols * g.BytesPerPixel
}

// FrameSize returns rows × cols × bytes-per-pixel.
func (g Geometry) FrameSize() int {
	return g.Rows * g.LineBytes()
}

// ChunksPerLine returns the number of chunk-ready events per line.
func (g Geometry) ChunksPerLine() int {
	return g.LineBytes() / g.ChunkSize
}

// Chunks returns the number of chunk-ready events per frame.
func (g Geometry) Chunks() int {
	return g.Rows * g.ChunksPerLine()
}

// Validate rejects geometries the cores cannot relay exactly.
func (g Geometry) Validate() error {
	switch {
	case g.Rows <= 0 || g.Cols <= 0:
		return fmt.Errorf("%w: frame %dx%d", pkg.ErrInvalidParameter, g.Rows, g.Cols)
	case g.BytesPerPixel < 1 || g.BytesPerPixel > 2:
		return fmt.Errorf("%w: %d bytes per pixel", pkg.ErrInvalidParameter, g.BytesPerPixel)
	case g.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk size %d", pkg.ErrInvalidParameter, g.ChunkSize)
	case g.LineBytes()%g.ChunkSize != 0:
		return fmt.Errorf("%w: line of %d bytes is not a multiple of chunk size %d",
			pkg.ErrInvalidParameter, g.LineBytes(), g.ChunkSize)
	}
	return nil
}

// String returns the geometry as rows×cols×bpp.
func (g Geometry) String() string {
	return fmt.Sprintf("%dx%dx%d", g.Rows, g.Cols, g.BytesPerPixel)
}

// Core identifies one of the two co-processors.
type Core int

// Co-processor indices. The numbering matches the remoteproc instances.
const (
	CoreCapture  Core = 0 // PRU0, samples the pixel bus
	CoreTransfer Core = 1 // PRU1, relays chunks to the frame buffer
)

// String returns a human-readable core name.
func (c Core) String() string {
	switch c {
	case CoreCapture:
		return "capture"
	case CoreTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// CoreState is the state a core publishes into the handshake region.
type CoreState uint32

// Core states.
const (
	StateStopped        CoreState = iota // firmware not running
	StateWaitTrigger                     // idle, waiting for a new frame request
	StateWaitFrameStart                  // waiting for VSYNC fall then rise
	StateWaitLineStart                   // waiting for HSYNC to assert
	StateSampling                        // sampling pixel bytes into a chunk
	StateRelaying                        // copying chunks into the frame buffer
)

// String returns a human-readable state name.
func (s CoreState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateWaitTrigger:
		return "wait-trigger"
	case StateWaitFrameStart:
		return "wait-frame-start"
	case StateWaitLineStart:
		return "wait-line-start"
	case StateSampling:
		return "sampling"
	case StateRelaying:
		return "relaying"
	default:
		return "unknown"
	}
}

// Idle reports whether a core in this state holds no frame in progress.
func (s CoreState) Idle() bool {
	return s == StateStopped || s == StateWaitTrigger
}
