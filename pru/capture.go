package pru

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ardnew/prucam/pkg"
)

// pollMask sets how often bus wait loops look at abort and ctx.
const pollMask = 0xFF

var errStopped = errors.New("core stopped")

// CaptureCore samples the pixel bus into the chunk ring (PRU0).
type CaptureCore struct {
	geom   Geometry
	fabric *Fabric
	region *Region
	bus    PixelBus
	opts   coreOptions

	last   Sample
	done   <-chan struct{}
	warmed bool

	running atomic.Bool
	frames  atomic.Uint64
	chunks  atomic.Uint64
	aborts  atomic.Uint64
}

// NewCaptureCore creates a capture core reading from bus.
func NewCaptureCore(g Geometry, f *Fabric, r *Region, bus PixelBus, opts ...CoreOption) *CaptureCore {
	return &CaptureCore{
		geom:   g,
		fabric: f,
		region: r,
		bus:    bus,
		opts:   applyOptions(opts),
	}
}

// Run executes the core's state machine until ctx is done:
//
//	WaitTrigger → WaitFrameStart → (WaitLineStart → Sampling)×rows → WaitTrigger
//
// The trigger for this core is the start event raised by the transfer
// core. Run returns ctx.Err() on shutdown or [pkg.ErrAlreadyRunning].
func (c *CaptureCore) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	defer c.running.Store(false)
	defer c.region.SetState(CoreCapture, StateStopped)

	c.done = ctx.Done()
	c.warmed = false
	for {
		c.region.SetState(CoreCapture, StateWaitTrigger)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.fabric.Start.Ready():
		}
		// Leave the idle state before consuming start, so the host never
		// sees both cores idle while a frame is about to begin.
		c.region.SetState(CoreCapture, StateWaitFrameStart)
		if !c.fabric.Start.Clear() {
			// Withdrawn by the transfer core on abort.
			continue
		}

		err := pkg.ErrAborted
		if !c.fabric.Abort.Pending() {
			err = c.frame(ctx)
		}
		switch {
		case err == nil:
			c.frames.Add(1)
		case errors.Is(err, pkg.ErrAborted):
			c.aborts.Add(1)
			pkg.LogDebug(pkg.ComponentCapture, "frame aborted", "state", c.region.State(CoreCapture))
		default:
			return ctx.Err()
		}
	}
}

func (c *CaptureCore) frame(ctx context.Context) error {
	if !c.warmed {
		if err := c.warmup(); err != nil {
			return err
		}
		c.warmed = true
	}

	c.region.SetState(CoreCapture, StateWaitFrameStart)
	if err := c.await(Sample.VSync, false); err != nil {
		return err
	}
	if err := c.await(Sample.VSync, true); err != nil {
		return err
	}

	ring := c.region.Ring()
	abort := c.fabric.Abort.Ready()
	chunks := c.geom.ChunksPerLine()

	for row := 0; row < c.geom.Rows; row++ {
		c.region.SetState(CoreCapture, StateWaitLineStart)
		if err := c.await(Sample.HSync, false); err != nil {
			return err
		}
		if err := c.await(Sample.HSync, true); err != nil {
			return err
		}

		c.region.SetState(CoreCapture, StateSampling)
		for range chunks {
			buf, err := ring.Acquire(ctx, abort)
			if err != nil {
				return err
			}
			for i := range buf {
				if err := c.await(Sample.Clock, false); err != nil {
					return err
				}
				if err := c.await(Sample.Clock, true); err != nil {
					return err
				}
				buf[i] = c.last.Data()
			}
			ring.Commit()
			c.fabric.ChunkReady.Raise()
			c.chunks.Add(1)

			if c.fabric.Abort.Pending() {
				return pkg.ErrAborted
			}
		}
	}
	return nil
}

// warmup skips the configured number of pixel clock cycles.
func (c *CaptureCore) warmup() error {
	for range c.opts.warmup {
		if err := c.await(Sample.Clock, false); err != nil {
			return err
		}
		if err := c.await(Sample.Clock, true); err != nil {
			return err
		}
	}
	return nil
}

// await reads the bus until line(sample) == level. The most recent sample
// counts, so back-to-back waits never skip an edge.
func (c *CaptureCore) await(line func(Sample) bool, level bool) error {
	for n := 0; line(c.last) != level; n++ {
		if n&pollMask == pollMask {
			if c.fabric.Abort.Pending() {
				return pkg.ErrAborted
			}
			select {
			case <-c.done:
				return errStopped
			default:
			}
		}
		c.last = c.bus.Sample()
	}
	return nil
}

// Running reports whether Run is executing.
func (c *CaptureCore) Running() bool { return c.running.Load() }

// Stats returns a snapshot of the core counters.
func (c *CaptureCore) Stats() CoreStats {
	return CoreStats{
		Frames: c.frames.Load(),
		Chunks: c.chunks.Load(),
		Aborts: c.aborts.Load(),
	}
}
