package linux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ardnew/prucam/host/hal"
	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/pru"
)

// ErrNotInitialized is returned before Init or after Close.
var ErrNotInitialized = errors.New("linux HAL not initialized")

// mapper maps physical address ranges into the process.
type mapper interface {
	Map(phys uint32, size int) ([]byte, error)
	Unmap(b []byte) error
}

// irqSource delivers the host interrupt that completion is routed to.
type irqSource interface {
	wait(timeout time.Duration) (bool, error)
	interrupt()
	close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config places the PRU-ICSS block, the frame carveout and the core
// control files.
type Config struct {
	PRUSSBase    uint32
	CarveoutBase uint32 // reserved-memory region handed to the cores
	CarveoutSize int

	// UIO is the event device for host interrupt 2. When empty,
	// WaitCompletion polls the INTC every PollInterval.
	UIO string

	RemoteprocRoot string
	Remoteproc     [2]string // indexed by pru.Core
	Firmware       [2]string // empty keeps the image already selected
}

// DefaultConfig returns the BeagleBone layout without a carveout; the
// caller supplies CarveoutBase and CarveoutSize.
func DefaultConfig() Config {
	return Config{
		PRUSSBase:      pru.PRUSSBase,
		UIO:            DefaultUIO,
		RemoteprocRoot: RemoteprocRoot,
		Remoteproc:     [2]string{DefaultCaptureRemoteproc, DefaultTransferRemoteproc},
		Firmware:       [2]string{DefaultCaptureFirmware, DefaultTransferFirmware},
	}
}

func (c Config) validate() error {
	page := uint32(os.Getpagesize())
	switch {
	case c.CarveoutSize <= 0:
		return fmt.Errorf("%w: carveout of %d bytes", pkg.ErrInvalidParameter, c.CarveoutSize)
	case c.CarveoutBase%page != 0 || c.PRUSSBase%page != 0:
		return fmt.Errorf("%w: carveout 0x%08x or PRU-ICSS 0x%08x not page aligned",
			pkg.ErrInvalidAddress, c.CarveoutBase, c.PRUSSBase)
	case c.Remoteproc[pru.CoreCapture] == "" || c.Remoteproc[pru.CoreTransfer] == "":
		return fmt.Errorf("%w: remoteproc instance not named", pkg.ErrInvalidParameter)
	}
	return nil
}

// =============================================================================
// HostHAL Implementation
// =============================================================================

// HostHAL implements [hal.HostHAL] on an AM335x running Linux, with the
// cores under remoteproc and the PRU-ICSS mapped through /dev/mem.
type HostHAL struct {
	cfg     Config
	mapper  mapper
	openIRQ func(path string) (irqSource, error)

	mu      sync.Mutex
	pruss   []byte
	carve   []byte
	intc    intc
	shared  sharedRAM
	pool    *pru.Pool
	irq     irqSource
	rprocs  [2]remoteproc
	running bool
}

var _ hal.HostHAL = (*HostHAL)(nil)

// New creates a Linux HAL. Nothing is mapped until Init.
func New(cfg Config) *HostHAL {
	return newHostHAL(cfg, sysMapper(), openUIO)
}

func newHostHAL(cfg Config, m mapper, openIRQ func(string) (irqSource, error)) *HostHAL {
	if cfg.PRUSSBase == 0 {
		cfg.PRUSSBase = pru.PRUSSBase
	}
	if cfg.RemoteprocRoot == "" {
		cfg.RemoteprocRoot = RemoteprocRoot
	}
	return &HostHAL{cfg: cfg, mapper: m, openIRQ: openIRQ}
}

// =============================================================================
// Lifecycle Methods
// =============================================================================

// Init maps the PRU-ICSS block and the carveout, opens the event device
// and clears every system event the protocol uses.
func (h *HostHAL) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := h.cfg.validate(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pruss != nil {
		return pkg.ErrBusy
	}

	pruss, err := h.mapper.Map(h.cfg.PRUSSBase, pru.PRUSSSize)
	if err != nil {
		return err
	}
	carve, err := h.mapper.Map(h.cfg.CarveoutBase, h.cfg.CarveoutSize)
	if err != nil {
		h.mapper.Unmap(pruss)
		return fmt.Errorf("%w: %w", pkg.ErrAllocation, err)
	}

	fail := func(err error) error {
		h.mapper.Unmap(carve)
		h.mapper.Unmap(pruss)
		return err
	}

	ic, err := newINTC(pruss)
	if err != nil {
		return fail(err)
	}
	shared, err := newSharedRAM(pruss)
	if err != nil {
		return fail(err)
	}

	var irq irqSource
	if h.cfg.UIO != "" {
		if irq, err = h.openIRQ(h.cfg.UIO); err != nil {
			return fail(err)
		}
	}

	for _, r := range pru.Routes {
		ic.clear(r.SysEvent)
	}
	shared.publish(0)

	h.pruss, h.carve = pruss, carve
	h.intc, h.shared, h.irq = ic, shared, irq
	h.pool = pru.NewPool(h.cfg.CarveoutBase, carve)
	for _, c := range []pru.Core{pru.CoreCapture, pru.CoreTransfer} {
		h.rprocs[c] = newRemoteproc(c, h.cfg.RemoteprocRoot, h.cfg.Remoteproc[c], h.cfg.Firmware[c])
	}

	pkg.LogInfo(pkg.ComponentHAL, "linux HAL initialized",
		"pruss", fmt.Sprintf("0x%08x", h.cfg.PRUSSBase),
		"carveout", fmt.Sprintf("0x%08x+%d", h.cfg.CarveoutBase, h.cfg.CarveoutSize),
		"uio", h.cfg.UIO)
	return nil
}

// Start runs the transfer core and then the capture core, so the relay
// is listening before sampling can begin.
func (h *HostHAL) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pruss == nil {
		return ErrNotInitialized
	}
	if h.running {
		return pkg.ErrAlreadyRunning
	}

	ctx := context.Background()
	if err := h.rprocs[pru.CoreTransfer].start(ctx); err != nil {
		return err
	}
	if err := h.rprocs[pru.CoreCapture].start(ctx); err != nil {
		h.rprocs[pru.CoreTransfer].stop(ctx)
		return err
	}
	h.running = true

	pkg.LogInfo(pkg.ComponentHAL, "cores started",
		"capture", h.cfg.Remoteproc[pru.CoreCapture],
		"transfer", h.cfg.Remoteproc[pru.CoreTransfer])
	return nil
}

// Stop halts the capture core and then the transfer core.
func (h *HostHAL) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopLocked()
}

func (h *HostHAL) stopLocked() error {
	if !h.running {
		return nil
	}
	ctx := context.Background()
	err := errors.Join(
		h.rprocs[pru.CoreCapture].stop(ctx),
		h.rprocs[pru.CoreTransfer].stop(ctx),
	)
	h.running = false

	pkg.LogInfo(pkg.ComponentHAL, "cores stopped")
	return err
}

// Close stops the cores, closes the event device and unmaps memory.
func (h *HostHAL) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pruss == nil {
		return nil
	}

	errs := []error{h.stopLocked()}
	if h.irq != nil {
		h.irq.interrupt()
		errs = append(errs, h.irq.close())
	}
	errs = append(errs, h.mapper.Unmap(h.carve), h.mapper.Unmap(h.pruss))

	h.pruss, h.carve = nil, nil
	h.intc, h.shared, h.irq = intc{}, sharedRAM{}, nil
	h.pool = nil
	return errors.Join(errs...)
}

// =============================================================================
// Memory Methods
// =============================================================================

// AllocFrame implements [hal.HostHAL].
func (h *HostHAL) AllocFrame(size int) (*pru.Buffer, error) {
	pool, err := h.memory()
	if err != nil {
		return nil, err
	}
	return pool.Alloc(size)
}

// FreeFrame implements [hal.HostHAL].
func (h *HostHAL) FreeFrame(buf *pru.Buffer) error {
	pool, err := h.memory()
	if err != nil {
		return err
	}
	return pool.Free(buf)
}

// PublishAddress implements [hal.HostHAL].
func (h *HostHAL) PublishAddress(phys uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pruss == nil {
		return ErrNotInitialized
	}
	h.shared.publish(phys)
	return nil
}

// CoresIdle implements [hal.HostHAL].
func (h *HostHAL) CoresIdle() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pruss == nil {
		return false, ErrNotInitialized
	}
	return h.shared.idle(), nil
}

// =============================================================================
// Signal Methods
// =============================================================================

// Raise implements [hal.HostHAL].
func (h *HostHAL) Raise(s hal.Signal) error {
	ic, ev, err := h.signal(s)
	if err != nil {
		return err
	}
	if ic.pending(ev) {
		pkg.LogDebug(pkg.ComponentHAL, "raise lost, event already pending", "signal", s)
	}
	ic.raise(ev)
	return nil
}

// Clear implements [hal.HostHAL].
func (h *HostHAL) Clear(s hal.Signal) (bool, error) {
	ic, ev, err := h.signal(s)
	if err != nil {
		return false, err
	}
	was := ic.pending(ev)
	ic.clear(ev)
	return was, nil
}

// WaitCompletion implements [hal.HostHAL]. Between interrupts it re-reads
// the raw status, so a completion raised before the wait began is seen.
func (h *HostHAL) WaitCompletion(ctx context.Context) error {
	ic, ev, err := h.signal(hal.SignalCompletion)
	if err != nil {
		return err
	}
	h.mu.Lock()
	irq := h.irq
	h.mu.Unlock()

	for {
		if ic.pending(ev) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if irq == nil {
			t := time.NewTimer(PollInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			continue
		}
		if _, err := irq.wait(PollInterval); err != nil {
			return err
		}
	}
}

func (h *HostHAL) memory() (*pru.Pool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pool == nil {
		return nil, ErrNotInitialized
	}
	return h.pool, nil
}

func (h *HostHAL) signal(s hal.Signal) (intc, uint8, error) {
	r, ok := s.Route()
	if !ok {
		return intc{}, 0, fmt.Errorf("%w: signal %d", pkg.ErrInvalidParameter, s)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pruss == nil {
		return intc{}, 0, ErrNotInitialized
	}
	return h.intc, r.SysEvent, nil
}
