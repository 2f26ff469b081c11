package pru

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ardnew/prucam/pkg"
)

// AddressMode selects when the transfer core reads the frame buffer
// address from the handshake region.
type AddressMode int

// Address modes.
const (
	// AddressPerCapture re-reads the address on every trigger. The host
	// publishes it before every trigger.
	AddressPerCapture AddressMode = iota

	// AddressStartup reads the address on the first trigger only. The host
	// publishes it once at bring-up.
	AddressStartup
)

// String returns the mode name.
func (m AddressMode) String() string {
	switch m {
	case AddressPerCapture:
		return "per-capture"
	case AddressStartup:
		return "startup"
	default:
		return "unknown"
	}
}

// ParseAddressMode returns the mode with the given name.
func ParseAddressMode(s string) (AddressMode, error) {
	switch strings.ToLower(s) {
	case "", "per-capture":
		return AddressPerCapture, nil
	case "startup":
		return AddressStartup, nil
	}
	return 0, fmt.Errorf("%w: address mode %q", pkg.ErrInvalidParameter, s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *AddressMode) UnmarshalText(text []byte) error {
	v, err := ParseAddressMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (m AddressMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Region is the shared handshake region: the frame buffer address word,
// one status word per core, and the chunk ring.
//
// None of the words are locked. Ordering comes from the event sequence;
// the words are atomics so a store before a Raise is visible after the
// matching Wait.
type Region struct {
	addr  atomic.Uint32
	state [2]atomic.Uint32
	ring  *ChunkRing
}

// NewRegion creates a region around ring with both cores stopped.
func NewRegion(ring *ChunkRing) *Region {
	return &Region{ring: ring}
}

// Publish stores the frame buffer physical address.
func (r *Region) Publish(addr uint32) {
	r.addr.Store(addr)
}

// Address returns the last published frame buffer address.
func (r *Region) Address() uint32 {
	return r.addr.Load()
}

// SetState records the state of a core.
func (r *Region) SetState(c Core, s CoreState) {
	r.state[c].Store(uint32(s))
}

// State returns the last state recorded by a core.
func (r *Region) State(c Core) CoreState {
	return CoreState(r.state[c].Load())
}

// Idle reports whether both cores are outside a frame. The transfer core
// is read first: once it has withdrawn or handed off a start, the capture
// core has either skipped it or already left its idle state.
func (r *Region) Idle() bool {
	if !r.State(CoreTransfer).Idle() {
		return false
	}
	return r.State(CoreCapture).Idle()
}

// Ring returns the chunk ring.
func (r *Region) Ring() *ChunkRing {
	return r.ring
}
