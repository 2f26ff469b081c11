package pru

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardnew/prucam/pkg"
)

// Logical event names.
const (
	EventTrigger    = "trigger"     // host → cores, new frame requested
	EventStart      = "start"       // transfer → capture, begin sampling
	EventChunkReady = "chunk_ready" // capture → transfer, one chunk staged
	EventCompletion = "completion"  // transfer → host, frame written
	EventAbort      = "abort"       // host → cores, abandon the frame in progress
)

// Unrouted marks a system event that is polled in SECR0 rather than mapped
// to an INTC channel.
const Unrouted = 0xFF

// Route binds a logical event to its PRU-ICSS INTC system event, channel
// and host interrupt.
type Route struct {
	SysEvent uint8
	Channel  uint8
	Host     uint8
}

// Routed reports whether the event is mapped through the INTC.
func (r Route) Routed() bool {
	return r.Channel != Unrouted
}

// Routes is the fixed INTC routing table loaded by the firmware.
//
// The trigger and abort events are raised by the host through SRSR0 and
// polled by the cores, keeping R31 host bits free for inter-core traffic.
var Routes = map[string]Route{
	EventStart:      {SysEvent: 16, Channel: 3, Host: 0},
	EventChunkReady: {SysEvent: 17, Channel: 1, Host: 1},
	EventCompletion: {SysEvent: 20, Channel: 2, Host: 2},
	EventTrigger:    {SysEvent: 24, Channel: Unrouted, Host: Unrouted},
	EventAbort:      {SysEvent: 25, Channel: Unrouted, Host: Unrouted},
}

// EventStats counts raise outcomes for one event.
type EventStats struct {
	Raised  uint64 // raises that set the pending flag
	Lost    uint64 // raises that found the flag already set
	Cleared uint64 // clears that reset a pending flag
}

// Event is a single pending/cleared interrupt line.
//
// Raise and Clear are safe for concurrent use. Writes made before Raise
// are visible to a goroutine that observes the event through Wait or
// Ready.
type Event struct {
	name  string
	route Route

	pending atomic.Bool

	mu    sync.Mutex
	ready chan struct{} // closed while pending

	raised  atomic.Uint64
	lost    atomic.Uint64
	cleared atomic.Uint64
}

// NewEvent creates a cleared event.
func NewEvent(name string, route Route) *Event {
	return &Event{
		name:  name,
		route: route,
		ready: make(chan struct{}),
	}
}

// Name returns the logical event name.
func (e *Event) Name() string { return e.name }

// Route returns the INTC routing of the event.
func (e *Event) Route() Route { return e.route }

// Raise sets the pending flag. It reports false if the event was already
// pending, in which case the raise is lost.
func (e *Event) Raise() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending.Load() {
		e.lost.Add(1)
		return false
	}
	e.pending.Store(true)
	close(e.ready)
	e.raised.Add(1)
	return true
}

// Clear resets the pending flag and reports whether it was set.
func (e *Event) Clear() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.pending.Load() {
		return false
	}
	e.pending.Store(false)
	e.ready = make(chan struct{})
	e.cleared.Add(1)
	return true
}

// Pending reports whether the event is raised and not yet cleared.
func (e *Event) Pending() bool {
	return e.pending.Load()
}

// Ready returns a channel that is closed while the event is pending.
// The channel is replaced on Clear, so callers must fetch it again after
// clearing.
func (e *Event) Ready() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Wait blocks until the event is pending or ctx is done. It does not clear
// the event.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the event counters.
func (e *Event) Stats() EventStats {
	return EventStats{
		Raised:  e.raised.Load(),
		Lost:    e.lost.Load(),
		Cleared: e.cleared.Load(),
	}
}

// Fabric is the set of events shared by the host and both cores.
type Fabric struct {
	Trigger    *Event
	Start      *Event
	ChunkReady *Event
	Completion *Event
	Abort      *Event
}

// NewFabric creates every event in the routing table, all cleared.
func NewFabric() *Fabric {
	ev := func(name string) *Event { return NewEvent(name, Routes[name]) }
	return &Fabric{
		Trigger:    ev(EventTrigger),
		Start:      ev(EventStart),
		ChunkReady: ev(EventChunkReady),
		Completion: ev(EventCompletion),
		Abort:      ev(EventAbort),
	}
}

// Events returns the events in protocol order.
func (f *Fabric) Events() []*Event {
	return []*Event{f.Trigger, f.Start, f.ChunkReady, f.Completion, f.Abort}
}

// Lookup returns the event with the given logical name.
func (f *Fabric) Lookup(name string) (*Event, bool) {
	for _, e := range f.Events() {
		if e.name == name {
			return e, true
		}
	}
	return nil, false
}

// ClearAll clears every pending event. Used at bring-up, before either
// core runs.
func (f *Fabric) ClearAll() {
	for _, e := range f.Events() {
		if e.Clear() {
			pkg.LogDebug(pkg.ComponentFabric, "cleared stale event", "event", e.name)
		}
	}
}
