package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/prucam/host/hal"
	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/pru"
)

// Config holds the capture parameters of a [Subsystem].
type Config struct {
	Geometry pru.Geometry

	// Timeout bounds the wait for completion. Zero means DefaultTimeout.
	Timeout time.Duration

	// QuiesceTimeout bounds the wait for both cores to go idle after an
	// aborted cycle. Zero means Timeout.
	QuiesceTimeout time.Duration

	// AddressMode selects whether the frame address is published before
	// every trigger or once during Open.
	AddressMode pru.AddressMode

	// DisableAbort leaves the cores running after a timeout. The next
	// capture then clears whatever completion the abandoned cycle leaves.
	DisableAbort bool
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.QuiesceTimeout <= 0 {
		c.QuiesceTimeout = c.Timeout
	}
	return c
}

// Stage is one reversible bring-up step run by [Open] after the frame
// buffer is allocated and before the cores start, such as powering the
// sensor or loading its register table.
type Stage struct {
	Name string
	Up   func(ctx context.Context) error
	Down func() error // may be nil
}

// Subsystem is one open camera: HAL, frame buffer, bring-up stages and
// capture controller.
type Subsystem struct {
	hal   hal.HostHAL
	cfg   Config
	frame *pru.Buffer
	ctrl  *Controller

	mu       sync.Mutex
	closed   bool
	teardown []teardownStep
}

type teardownStep struct {
	name string
	fn   func() error
}

// Open brings up a capture subsystem:
//
//  1. initialize the HAL
//  2. allocate the frame buffer ([pkg.ErrAllocation] is fatal)
//  3. run each stage's Up in order
//  4. publish the frame address (startup address mode)
//  5. start both cores
//
// If any step fails the completed steps are undone in reverse order.
func Open(ctx context.Context, h hal.HostHAL, cfg Config, stages ...Stage) (*Subsystem, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, err
	}

	s := &Subsystem{hal: h, cfg: cfg}
	if err := s.open(ctx, stages); err != nil {
		if uerr := s.unwind(); uerr != nil {
			pkg.LogWarn(pkg.ComponentHost, "unwind after failed open", "error", uerr)
		}
		return nil, err
	}

	s.ctrl = newController(h, s.frame, cfg)
	pkg.LogInfo(pkg.ComponentHost, "subsystem open",
		"geometry", cfg.Geometry, "frame", fmt.Sprintf("0x%08x", s.frame.Phys),
		"timeout", cfg.Timeout, "address", cfg.AddressMode)
	return s, nil
}

func (s *Subsystem) open(ctx context.Context, stages []Stage) error {
	if err := s.hal.Init(ctx); err != nil {
		return fmt.Errorf("hal init: %w", err)
	}
	s.push("hal", s.hal.Close)

	buf, err := s.hal.AllocFrame(s.cfg.Geometry.FrameSize())
	if err != nil {
		if !errors.Is(err, pkg.ErrAllocation) {
			err = fmt.Errorf("%w: %w", pkg.ErrAllocation, err)
		}
		return err
	}
	s.frame = buf
	s.push("frame buffer", func() error { return s.hal.FreeFrame(buf) })

	for _, st := range stages {
		if st.Up != nil {
			if err := st.Up(ctx); err != nil {
				return fmt.Errorf("%s: %w", st.Name, err)
			}
		}
		if st.Down != nil {
			s.push(st.Name, st.Down)
		}
		pkg.LogDebug(pkg.ComponentHost, "stage up", "stage", st.Name)
	}

	if s.cfg.AddressMode == pru.AddressStartup {
		if err := s.hal.PublishAddress(buf.Phys); err != nil {
			return fmt.Errorf("publish address: %w", err)
		}
	}

	if err := s.hal.Start(); err != nil {
		return fmt.Errorf("start cores: %w", err)
	}
	s.push("cores", s.hal.Stop)
	return nil
}

func (s *Subsystem) push(name string, fn func() error) {
	s.teardown = append(s.teardown, teardownStep{name: name, fn: fn})
}

func (s *Subsystem) unwind() error {
	var errs []error
	for i := len(s.teardown) - 1; i >= 0; i-- {
		st := s.teardown[i]
		if err := st.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
		}
	}
	s.teardown = nil
	return errors.Join(errs...)
}

// Close waits for an in-flight capture, then stops the cores, runs every
// stage's Down in reverse order, frees the frame buffer and closes the
// HAL. Captures after Close fail with [pkg.ErrDeviceNotReady].
func (s *Subsystem) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return pkg.ErrClosed
	}
	s.closed = true

	s.ctrl.close()
	err := s.unwind()
	pkg.LogInfo(pkg.ComponentHost, "subsystem closed", "error", err)
	return err
}

// Controller returns the capture controller.
func (s *Subsystem) Controller() *Controller { return s.ctrl }

// Capture is shorthand for Controller().Capture.
func (s *Subsystem) Capture(ctx context.Context, dst []byte) (int, error) {
	return s.ctrl.Capture(ctx, dst)
}

// Config returns the effective configuration.
func (s *Subsystem) Config() Config { return s.cfg }

// Geometry returns the frame geometry.
func (s *Subsystem) Geometry() pru.Geometry { return s.cfg.Geometry }

// FrameAddress returns the physical address of the frame buffer.
func (s *Subsystem) FrameAddress() uint32 { return s.frame.Phys }

// Device returns an [io.Reader] view of the subsystem.
func (s *Subsystem) Device() *Device { return NewDevice(s.ctrl) }
