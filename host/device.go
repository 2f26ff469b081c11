package host

import (
	"context"
	"io"
)

// Device reads frames like the prucam character device. Each Read
// performs one blocking capture; there are no partial reads and no file
// offset.
type Device struct {
	ctrl *Controller
	ctx  context.Context
}

var _ io.Reader = (*Device)(nil)

// NewDevice wraps a controller.
func NewDevice(c *Controller) *Device {
	return &Device{ctrl: c, ctx: context.Background()}
}

// WithContext returns a copy of d whose reads are bounded by ctx as well
// as by the capture timeout.
func (d *Device) WithContext(ctx context.Context) *Device {
	return &Device{ctrl: d.ctrl, ctx: ctx}
}

// Read captures one frame into p. p must hold at least FrameSize bytes.
func (d *Device) Read(p []byte) (int, error) {
	return d.ctrl.Capture(d.ctx, p)
}

// WriteTo captures one frame and writes it to w.
func (d *Device) WriteTo(w io.Writer) (int64, error) {
	n, err := d.ctrl.CaptureTo(d.ctx, w)
	return int64(n), err
}

// FrameSize returns the byte count of every successful Read.
func (d *Device) FrameSize() int {
	return d.ctrl.FrameSize()
}
