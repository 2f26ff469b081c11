package hal

import (
	"context"

	"github.com/ardnew/prucam/pru"
)

// Signal is a host-facing event.
type Signal uint8

// Host-facing signals.
const (
	SignalTrigger    Signal = iota // host → cores
	SignalAbort                    // host → cores
	SignalCompletion               // transfer core → host
)

// String returns the logical event name.
func (s Signal) String() string {
	switch s {
	case SignalTrigger:
		return pru.EventTrigger
	case SignalAbort:
		return pru.EventAbort
	case SignalCompletion:
		return pru.EventCompletion
	default:
		return "unknown"
	}
}

// Route returns the INTC routing for the signal.
func (s Signal) Route() (pru.Route, bool) {
	r, ok := pru.Routes[s.String()]
	return r, ok
}

// Mask returns the SRSR0/SECR0 bit for the signal's system event.
func (s Signal) Mask() uint32 {
	r, ok := s.Route()
	if !ok {
		return 0
	}
	return 1 << r.SysEvent
}

// HostHAL is the platform interface used by the host capture controller.
//
// Lifecycle methods are called from a single goroutine. Signal and memory
// methods may be called while a capture is in flight but never
// concurrently with each other; the host serializes them under its
// capture lock.
type HostHAL interface {
	// Init maps the co-processor block and prepares events. The cores are
	// not running after Init.
	Init(ctx context.Context) error

	// Start runs both cores, transfer core first.
	Start() error

	// Stop halts both cores.
	Stop() error

	// Close releases every resource. The HAL is unusable afterwards.
	Close() error

	// AllocFrame reserves a physically contiguous buffer of size bytes.
	// It wraps [pkg.ErrAllocation] on failure.
	AllocFrame(size int) (*pru.Buffer, error)

	// FreeFrame releases a buffer returned by AllocFrame.
	FreeFrame(buf *pru.Buffer) error

	// PublishAddress writes the frame buffer address into the handshake
	// region.
	PublishAddress(phys uint32) error

	// CoresIdle reports whether neither core is inside a frame.
	CoresIdle() (bool, error)

	// Raise raises a host → cores signal.
	Raise(s Signal) error

	// Clear clears a signal and reports whether it was pending.
	Clear(s Signal) (bool, error)

	// WaitCompletion blocks until completion is pending or ctx is done.
	// It does not clear the event.
	WaitCompletion(ctx context.Context) error
}
