package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/prucam/host/hal"
	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/pru"
)

// Default carveout placement, mirroring the reserved-memory node used on
// the BeagleBone.
const (
	DefaultCarveoutBase = 0x9F000000
	DefaultCarveoutSize = 16 << 20
)

// Errors.
var (
	ErrNotInitialized = errors.New("sim HAL not initialized")
)

// HostHAL implements [hal.HostHAL] with an in-process [pru.Pipeline].
type HostHAL struct {
	geom     pru.Geometry
	slots    int
	policy   pru.OverrunPolicy
	coreOpts []pru.CoreOption
	bus      pru.PixelBus
	sensor   *pru.SimSensor
	base     uint32
	size     int

	mu   sync.Mutex
	pipe *pru.Pipeline
	pool *pru.Pool

	cancel context.CancelFunc
	done   chan error
}

var _ hal.HostHAL = (*HostHAL)(nil)

// Option configures a [HostHAL].
type Option func(*HostHAL)

// WithGeometry sets the frame geometry. The default is [pru.GeometryAR0130].
func WithGeometry(g pru.Geometry) Option {
	return func(h *HostHAL) { h.geom = g }
}

// WithChunkRing sets the ring depth and overrun policy.
func WithChunkRing(slots int, policy pru.OverrunPolicy) Option {
	return func(h *HostHAL) {
		h.slots = slots
		h.policy = policy
	}
}

// WithCoreOptions passes options to both cores.
func WithCoreOptions(opts ...pru.CoreOption) Option {
	return func(h *HostHAL) { h.coreOpts = append(h.coreOpts, opts...) }
}

// WithBus replaces the simulated sensor with another pixel bus.
func WithBus(bus pru.PixelBus) Option {
	return func(h *HostHAL) {
		h.bus = bus
		h.sensor, _ = bus.(*pru.SimSensor)
	}
}

// WithCarveout sets the physical base and size of frame memory.
func WithCarveout(base uint32, size int) Option {
	return func(h *HostHAL) {
		h.base = base
		h.size = size
	}
}

// New creates a simulated HAL. Init must be called before use.
func New(opts ...Option) *HostHAL {
	h := &HostHAL{
		geom:   pru.GeometryAR0130,
		slots:  2,
		policy: pru.PolicyStall,
		base:   DefaultCarveoutBase,
		size:   DefaultCarveoutSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.bus == nil {
		h.sensor = pru.NewSimSensor(h.geom)
		h.bus = h.sensor
	}
	return h
}

// Init builds the pipeline and the carveout.
func (h *HostHAL) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.pool = pru.NewHeapPool(h.base, h.size)
	pipe, err := pru.NewPipeline(pru.PipelineConfig{
		Geometry: h.geom,
		Slots:    h.slots,
		Policy:   h.policy,
		Bus:      h.bus,
		Memory:   h.pool,
		Options:  h.coreOpts,
	})
	if err != nil {
		return err
	}
	pipe.Fabric.ClearAll()
	h.pipe = pipe

	pkg.LogInfo(pkg.ComponentHAL, "sim HAL initialized",
		"geometry", h.geom, "slots", h.slots, "policy", h.policy)
	return nil
}

// Start runs both cores.
func (h *HostHAL) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pipe == nil {
		return ErrNotInitialized
	}
	if h.cancel != nil {
		return pkg.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func(done chan<- error) { done <- h.pipe.Run(ctx) }(h.done)

	pkg.LogInfo(pkg.ComponentHAL, "sim cores started")
	return nil
}

// Stop halts both cores and waits for them to exit.
func (h *HostHAL) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopLocked()
}

func (h *HostHAL) stopLocked() error {
	if h.cancel == nil {
		return nil
	}
	h.cancel()
	err := <-h.done
	h.cancel, h.done = nil, nil

	pkg.LogInfo(pkg.ComponentHAL, "sim cores stopped")
	return err
}

// Close stops the cores and drops the pipeline.
func (h *HostHAL) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.stopLocked()
	h.pipe = nil
	h.pool = nil
	return err
}

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
	p, err := h.pipeline()
	if err != nil {
		return err
	}
	p.Region.Publish(phys)
	return nil
}

// CoresIdle implements [hal.HostHAL].
func (h *HostHAL) CoresIdle() (bool, error) {
	p, err := h.pipeline()
	if err != nil {
		return false, err
	}
	return p.Region.Idle(), nil
}

// Raise implements [hal.HostHAL].
func (h *HostHAL) Raise(s hal.Signal) error {
	e, err := h.event(s)
	if err != nil {
		return err
	}
	if !e.Raise() {
		pkg.LogDebug(pkg.ComponentHAL, "raise lost, event already pending", "signal", s)
	}
	return nil
}

// Clear implements [hal.HostHAL].
func (h *HostHAL) Clear(s hal.Signal) (bool, error) {
	e, err := h.event(s)
	if err != nil {
		return false, err
	}
	return e.Clear(), nil
}

// WaitCompletion implements [hal.HostHAL].
func (h *HostHAL) WaitCompletion(ctx context.Context) error {
	e, err := h.event(hal.SignalCompletion)
	if err != nil {
		return err
	}
	return e.Wait(ctx)
}

// Pipeline returns the running pipeline, or nil before Init.
func (h *HostHAL) Pipeline() *pru.Pipeline {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pipe
}

// Sensor returns the simulated sensor, or nil when a custom bus was set.
func (h *HostHAL) Sensor() *pru.SimSensor {
	return h.sensor
}

func (h *HostHAL) pipeline() (*pru.Pipeline, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pipe == nil {
		return nil, ErrNotInitialized
	}
	return h.pipe, nil
}

func (h *HostHAL) memory() (*pru.Pool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pool == nil {
		return nil, ErrNotInitialized
	}
	return h.pool, nil
}

func (h *HostHAL) event(s hal.Signal) (*pru.Event, error) {
	p, err := h.pipeline()
	if err != nil {
		return nil, err
	}
	e, ok := p.Fabric.Lookup(s.String())
	if !ok {
		return nil, fmt.Errorf("%w: signal %d", pkg.ErrInvalidParameter, s)
	}
	return e, nil
}
