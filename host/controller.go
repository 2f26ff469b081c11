package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/prucam/host/hal"
	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/pru"
)

// Stats counts capture outcomes.
type Stats struct {
	Captures         uint64
	Completed        uint64
	TimedOut         uint64
	Faulted          uint64
	Aborts           uint64
	StaleCompletions uint64
	LastElapsed      time.Duration
}

// Controller serializes capture requests and runs the host side of the
// handshake.
type Controller struct {
	hal     hal.HostHAL
	frame   *pru.Buffer
	size    int
	timeout time.Duration
	quiesce time.Duration
	mode    pru.AddressMode
	abort   bool

	// sem is the capture lock. A token in the channel means a cycle is in
	// flight.
	sem     chan struct{}
	aborted bool // guarded by sem
	closed  atomic.Bool

	obsMu     sync.RWMutex
	observers []Observer

	captures    atomic.Uint64
	completed   atomic.Uint64
	timedOut    atomic.Uint64
	faulted     atomic.Uint64
	aborts      atomic.Uint64
	stale       atomic.Uint64
	lastElapsed atomic.Int64
}

func newController(h hal.HostHAL, frame *pru.Buffer, cfg Config) *Controller {
	return &Controller{
		hal:     h,
		frame:   frame,
		size:    cfg.Geometry.FrameSize(),
		timeout: cfg.Timeout,
		quiesce: cfg.QuiesceTimeout,
		mode:    cfg.AddressMode,
		abort:   !cfg.DisableAbort,
		sem:     make(chan struct{}, 1),
	}
}

// FrameSize returns the number of bytes every successful capture returns.
func (c *Controller) FrameSize() int { return c.size }

// Timeout returns the completion deadline.
func (c *Controller) Timeout() time.Duration { return c.timeout }

// Observe registers fn to be called after every capture cycle.
func (c *Controller) Observe(fn Observer) {
	c.obsMu.Lock()
	c.observers = append(c.observers, fn)
	c.obsMu.Unlock()
}

// Capture captures the next frame into dst and returns the number of bytes
// written, which is always [Controller.FrameSize] on success.
//
// Concurrent callers are serialized; a caller waiting for the lock gives
// up when ctx is done. On timeout Capture returns an error wrapping
// [pkg.ErrTimeout] and dst is left unmodified. A failed completion wait
// wraps the HAL error in [pkg.ErrDeviceNotReady].
func (c *Controller) Capture(ctx context.Context, dst []byte) (int, error) {
	if len(dst) < c.size {
		return 0, fmt.Errorf("%w: %d bytes, frame is %d", pkg.ErrBufferTooSmall, len(dst), c.size)
	}
	return c.run(ctx, func(frame []byte) (int, error) {
		return copy(dst, frame), nil
	})
}

// CaptureTo captures the next frame and writes it to w. A failed or short
// write is reported as [pkg.ErrTransferFault].
func (c *Controller) CaptureTo(ctx context.Context, w io.Writer) (int, error) {
	return c.run(ctx, w.Write)
}

func (c *Controller) run(ctx context.Context, deliver func([]byte) (int, error)) (int, error) {
	if c.closed.Load() {
		return 0, pkg.ErrDeviceNotReady
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-c.sem }()

	if c.closed.Load() {
		return 0, pkg.ErrDeviceNotReady
	}

	req := newRequest()
	c.captures.Add(1)
	n, err := c.cycle(ctx, req, deliver)
	c.lastElapsed.Store(int64(req.Elapsed))
	c.notify(*req)
	return n, err
}

func (c *Controller) cycle(ctx context.Context, req *Request, deliver func([]byte) (int, error)) (int, error) {
	if err := c.prepare(ctx, req); err != nil {
		req.finish(pkg.RequestFaulted, 0, err)
		c.faulted.Add(1)
		return 0, err
	}

	if err := c.hal.Raise(hal.SignalTrigger); err != nil {
		err = fmt.Errorf("%w: raise trigger: %w", pkg.ErrDeviceNotReady, err)
		req.finish(pkg.RequestFaulted, 0, err)
		c.faulted.Add(1)
		return 0, err
	}
	req.advance(pkg.RequestHandshakeSent)

	req.advance(pkg.RequestWaitingCompletion)
	wctx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.hal.WaitCompletion(wctx)
	cancel()

	if err != nil {
		// The cores may still be working on this frame either way.
		c.abandon()
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			err = fmt.Errorf("%w after %v", pkg.ErrTimeout, c.timeout)
		default:
			err = fmt.Errorf("%w: wait completion: %w", pkg.ErrDeviceNotReady, err)
			req.finish(pkg.RequestFaulted, 0, err)
			c.faulted.Add(1)
			pkg.LogError(pkg.ComponentHost, "completion wait failed",
				"id", req.ID, "error", err, "abort", c.abort)
			return 0, err
		}
		req.finish(pkg.RequestTimedOut, 0, err)
		c.timedOut.Add(1)
		pkg.LogWarn(pkg.ComponentHost, "capture timed out",
			"id", req.ID, "timeout", c.timeout, "abort", c.abort)
		return 0, err
	}

	if _, err := c.hal.Clear(hal.SignalCompletion); err != nil {
		pkg.LogWarn(pkg.ComponentHost, "clear completion failed", "id", req.ID, "error", err)
	}

	n, err := deliver(c.frame.Data[:c.size])
	if err == nil && n != c.size {
		err = io.ErrShortWrite
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", pkg.ErrTransferFault, err)
		req.finish(pkg.RequestFaulted, n, err)
		c.faulted.Add(1)
		pkg.LogError(pkg.ComponentHost, "frame copy failed", "id", req.ID, "error", err)
		return n, err
	}

	req.finish(pkg.RequestCompleted, n, nil)
	c.completed.Add(1)
	pkg.LogInfo(pkg.ComponentHost, "frame captured",
		"id", req.ID, "bytes", n, "elapsed", req.Elapsed)
	return n, nil
}

// prepare settles state left by the previous cycle and publishes the
// frame buffer address.
func (c *Controller) prepare(ctx context.Context, req *Request) error {
	if c.aborted {
		if err := c.awaitIdle(ctx); err != nil {
			return err
		}
		if _, err := c.hal.Clear(hal.SignalAbort); err != nil {
			return fmt.Errorf("%w: clear abort: %w", pkg.ErrDeviceNotReady, err)
		}
		c.aborted = false
	}

	stale, err := c.hal.Clear(hal.SignalCompletion)
	if err != nil {
		return fmt.Errorf("%w: clear completion: %w", pkg.ErrDeviceNotReady, err)
	}
	if stale {
		req.StaleCompletion = true
		c.stale.Add(1)
		pkg.LogWarn(pkg.ComponentHost, "cleared stale completion", "id", req.ID)
	}

	if c.mode == pru.AddressPerCapture {
		if err := c.hal.PublishAddress(c.frame.Phys); err != nil {
			return fmt.Errorf("%w: publish address: %w", pkg.ErrDeviceNotReady, err)
		}
	}
	return nil
}

// abandon raises abort after a timeout so the cores stop working on a
// frame nobody is waiting for.
func (c *Controller) abandon() {
	if !c.abort {
		return
	}
	if err := c.hal.Raise(hal.SignalAbort); err != nil {
		pkg.LogWarn(pkg.ComponentHost, "raise abort failed", "error", err)
		return
	}
	c.aborted = true
	c.aborts.Add(1)
}

// awaitIdle polls the core status words until both cores are idle.
func (c *Controller) awaitIdle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.quiesce)
	defer cancel()

	ticker := time.NewTicker(quiescePoll)
	defer ticker.Stop()

	for {
		idle, err := c.hal.CoresIdle()
		if err != nil {
			return fmt.Errorf("%w: read core state: %w", pkg.ErrDeviceNotReady, err)
		}
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: cores did not quiesce after abort", pkg.ErrDeviceNotReady)
		case <-ticker.C:
		}
	}
}

func (c *Controller) notify(req Request) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for _, fn := range c.observers {
		fn(req)
	}
}

// Exclusive runs fn while holding the capture lock, or returns
// [pkg.ErrBusy] without running it when a capture is in flight. After
// close it returns [pkg.ErrDeviceNotReady].
func (c *Controller) Exclusive(fn func() error) error {
	if c.closed.Load() {
		return pkg.ErrDeviceNotReady
	}
	select {
	case c.sem <- struct{}{}:
	default:
		return pkg.ErrBusy
	}
	defer func() { <-c.sem }()
	if c.closed.Load() {
		return pkg.ErrDeviceNotReady
	}
	return fn()
}

// close marks the controller closed and waits for an in-flight capture.
func (c *Controller) close() {
	if c.closed.Swap(true) {
		return
	}
	c.sem <- struct{}{}
	<-c.sem
}

// Stats returns a snapshot of the capture counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Captures:         c.captures.Load(),
		Completed:        c.completed.Load(),
		TimedOut:         c.timedOut.Load(),
		Faulted:          c.faulted.Load(),
		Aborts:           c.aborts.Load(),
		StaleCompletions: c.stale.Load(),
		LastElapsed:      time.Duration(c.lastElapsed.Load()),
	}
}
