package frame

import (
	"fmt"
	"hash/crc32"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/ardnew/prucam/host"
	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/pru"
)

// Frame is one captured image.
type Frame struct {
	ID       uuid.UUID
	Geometry pru.Geometry
	Captured time.Time
	Elapsed  time.Duration
	Data     []byte
}

// New wraps data captured with geometry g. The data must hold exactly one
// frame.
func New(g pru.Geometry, data []byte) (*Frame, error) {
	if len(data) != g.FrameSize() {
		return nil, fmt.Errorf("%w: %d bytes for %v frame", pkg.ErrInvalidParameter, len(data), g)
	}
	return &Frame{ID: uuid.New(), Geometry: g, Captured: time.Now(), Data: data}, nil
}

// FromRequest wraps the data delivered by req, keeping its ID and timing.
func FromRequest(g pru.Geometry, data []byte, req host.Request) (*Frame, error) {
	f, err := New(g, data)
	if err != nil {
		return nil, err
	}
	f.ID = req.ID
	f.Captured = req.Started
	f.Elapsed = req.Elapsed
	return f, nil
}

// Checksum returns the IEEE CRC-32 of the raw bytes.
func (f *Frame) Checksum() uint32 { return crc32.ChecksumIEEE(f.Data) }

// Image returns the frame as a grayscale image that shares no memory with
// Data.
func (f *Frame) Image() (image.Image, error) {
	g := f.Geometry
	r := image.Rect(0, 0, g.Cols, g.Rows)
	switch g.BytesPerPixel {
	case 1:
		img := image.NewGray(r)
		copy(img.Pix, f.Data)
		return img, nil
	case 2:
		img := image.NewGray16(r)
		// Samples arrive low byte first; Gray16 stores high byte first.
		for i := 0; i+1 < len(f.Data); i += 2 {
			img.Pix[i] = f.Data[i+1]
			img.Pix[i+1] = f.Data[i]
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: %d bytes per pixel", pkg.ErrNotSupported, g.BytesPerPixel)
}

// Preview returns an 8-bit image whose longer side is at most size pixels.
// A size of zero or one at least the frame's longer side keeps the
// original dimensions.
func (f *Frame) Preview(size int) (*image.Gray, error) {
	src, err := f.Image()
	if err != nil {
		return nil, err
	}
	w, h := f.Geometry.Cols, f.Geometry.Rows
	if long := max(w, h); size > 0 && size < long {
		w = max(w*size/long, 1)
		h = max(h*size/long, 1)
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == f.Geometry.Cols && h == f.Geometry.Rows {
		draw.Draw(dst, dst.Bounds(), src, image.Point{}, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}
	return dst, nil
}

// WriteRaw writes the raw bytes to path.
func (f *Frame) WriteRaw(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, f.Data, 0o644)
}
