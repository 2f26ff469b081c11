package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/prucam/host"
	"github.com/ardnew/prucam/pkg"
)

// DefaultSettle is the pause after a settling line is enabled.
const DefaultSettle = 10 * time.Millisecond

// Camera owns the camera lines on one chip.
type Camera struct {
	chip   Chip
	pins   []Pin
	settle time.Duration

	mu      sync.Mutex
	claimed []Pin
	enabled bool
}

// Option configures a Camera.
type Option func(*Camera)

// WithPins replaces the pin table.
func WithPins(pins []Pin) Option {
	return func(c *Camera) { c.pins = pins }
}

// WithSettle sets the pause after settling lines. Zero disables it.
func WithSettle(d time.Duration) Option {
	return func(c *Camera) { c.settle = d }
}

// NewCamera returns the camera lines on chip.
func NewCamera(chip Chip, opts ...Option) *Camera {
	c := &Camera{chip: chip, pins: CameraPins, settle: DefaultSettle}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init claims every line at its safe level. On failure the lines already
// claimed are released.
func (c *Camera) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.claimed) > 0 {
		return pkg.ErrAlreadyRunning
	}
	for _, p := range c.pins {
		if err := c.chip.Request(p.Num, p.Safe); err != nil {
			rerr := c.release()
			return errors.Join(fmt.Errorf("gpio: request %v: %w", p, err), rerr)
		}
		c.claimed = append(c.claimed, p)
	}
	pkg.LogDebug(pkg.ComponentGPIO, "lines claimed", "count", len(c.claimed))
	return nil
}

// Enable drives the enabled levels in table order.
func (c *Camera) Enable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.claimed) == 0 {
		return pkg.ErrNotRunning
	}
	for _, p := range c.claimed {
		if err := c.chip.Set(p.Num, p.Enable); err != nil {
			return fmt.Errorf("gpio: enable %v: %w", p, err)
		}
		if p.Settle && c.settle > 0 {
			t := time.NewTimer(c.settle)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	c.enabled = true
	pkg.LogInfo(pkg.ComponentGPIO, "camera enabled")
	return nil
}

// Disable drives the safe levels in reverse order and releases every line.
// It attempts every line and returns the joined errors.
func (c *Camera) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for i := len(c.claimed) - 1; i >= 0; i-- {
		p := c.claimed[i]
		if err := c.chip.Set(p.Num, p.Safe); err != nil {
			errs = append(errs, fmt.Errorf("gpio: disable %v: %w", p, err))
		}
	}
	errs = append(errs, c.release())
	c.enabled = false
	pkg.LogInfo(pkg.ComponentGPIO, "camera disabled")
	return errors.Join(errs...)
}

func (c *Camera) release() error {
	var errs []error
	for i := len(c.claimed) - 1; i >= 0; i-- {
		if err := c.chip.Release(c.claimed[i].Num); err != nil {
			errs = append(errs, fmt.Errorf("gpio: release %v: %w", c.claimed[i], err))
		}
	}
	c.claimed = nil
	return errors.Join(errs...)
}

// Enabled reports whether the camera lines are at their enabled levels.
func (c *Camera) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Stage returns a subsystem bring-up stage that claims and enables the
// lines, and disables them on teardown.
func (c *Camera) Stage() host.Stage {
	return host.Stage{
		Name: "gpio",
		Up: func(ctx context.Context) error {
			if err := c.Init(); err != nil {
				return err
			}
			if err := c.Enable(ctx); err != nil {
				return errors.Join(err, c.Disable())
			}
			return nil
		},
		Down: c.Disable,
	}
}
