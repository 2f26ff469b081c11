package pru

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ardnew/prucam/pkg"
)

// MaxSlots bounds the chunk ring to what fits in shared RAM beside the
// handshake words.
const MaxSlots = 8

// OverrunPolicy selects what the writer does when the next slot is full.
type OverrunPolicy int

// Overrun policies.
const (
	// PolicyStall makes the writer wait for the reader to drain the slot.
	PolicyStall OverrunPolicy = iota

	// PolicyOverwrite never waits. The slot is overwritten and the overrun
	// counted, matching hardware that cannot stall the pixel clock.
	PolicyOverwrite
)

// String returns the policy name.
func (p OverrunPolicy) String() string {
	switch p {
	case PolicyStall:
		return "stall"
	case PolicyOverwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

// ParseOverrunPolicy returns the policy with the given name.
func ParseOverrunPolicy(s string) (OverrunPolicy, error) {
	switch strings.ToLower(s) {
	case "", "stall":
		return PolicyStall, nil
	case "overwrite":
		return PolicyOverwrite, nil
	}
	return 0, fmt.Errorf("%w: overrun policy %q", pkg.ErrInvalidParameter, s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *OverrunPolicy) UnmarshalText(text []byte) error {
	v, err := ParseOverrunPolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p OverrunPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// RingStats counts chunk ring traffic.
type RingStats struct {
	Written  uint64
	Drained  uint64
	Overruns uint64
}

// ChunkRing is the set of chunk buffers in shared RAM with one full flag
// per slot.
//
// There is exactly one writer (the capture core) and one reader (the
// transfer core). The writer fills a slot and calls Commit, which sets the
// slot's full flag; it must do so before raising chunk-ready. The reader
// clears chunk-ready before calling Drain so a commit racing the drain is
// always followed by a pending event.
type ChunkRing struct {
	chunk  int
	slots  [][]byte
	full   []atomic.Bool
	policy OverrunPolicy

	space chan struct{} // token sent after each drained slot

	w int // writer index, owned by the writer
	r int // reader index, owned by the reader

	written  atomic.Uint64
	drained  atomic.Uint64
	overruns atomic.Uint64
}

// NewChunkRing allocates slots buffers of chunkSize bytes each.
func NewChunkRing(slots, chunkSize int, policy OverrunPolicy) (*ChunkRing, error) {
	if slots < 1 || slots > MaxSlots {
		return nil, fmt.Errorf("%w: %d chunk slots", pkg.ErrInvalidParameter, slots)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d", pkg.ErrInvalidParameter, chunkSize)
	}

	backing := make([]byte, slots*chunkSize)
	r := &ChunkRing{
		chunk:  chunkSize,
		slots:  make([][]byte, slots),
		full:   make([]atomic.Bool, slots),
		policy: policy,
		space:  make(chan struct{}, 1),
	}
	for i := range r.slots {
		r.slots[i] = backing[i*chunkSize : (i+1)*chunkSize : (i+1)*chunkSize]
	}
	return r, nil
}

// Slots returns the number of slots.
func (r *ChunkRing) Slots() int { return len(r.slots) }

// ChunkSize returns the slot size in bytes.
func (r *ChunkRing) ChunkSize() int { return r.chunk }

// Policy returns the overrun policy.
func (r *ChunkRing) Policy() OverrunPolicy { return r.policy }

// Acquire returns the next slot for the writer to fill.
//
// Under PolicyStall it blocks while the slot is full, returning
// [pkg.ErrAborted] if abort closes first or ctx.Err() if ctx is done.
// Under PolicyOverwrite it returns immediately and counts an overrun when
// the slot had not been drained.
func (r *ChunkRing) Acquire(ctx context.Context, abort <-chan struct{}) ([]byte, error) {
	i := r.w
	for r.full[i].Load() {
		if r.policy == PolicyOverwrite {
			r.overruns.Add(1)
			break
		}
		select {
		case <-r.space:
		case <-abort:
			return nil, pkg.ErrAborted
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.slots[i], nil
}

// Commit marks the slot returned by the last Acquire as full.
func (r *ChunkRing) Commit() {
	r.full[r.w].Store(true)
	r.w = (r.w + 1) % len(r.slots)
	r.written.Add(1)
}

// Drain passes every full slot, in ring order, to fn and marks it empty.
// It returns the number of slots drained. fn must not retain the slice.
func (r *ChunkRing) Drain(fn func(chunk []byte)) int {
	n := 0
	for r.full[r.r].Load() {
		fn(r.slots[r.r])
		r.full[r.r].Store(false)
		r.r = (r.r + 1) % len(r.slots)
		r.drained.Add(1)
		n++

		select {
		case r.space <- struct{}{}:
		default:
		}
	}
	return n
}

// Reset empties every slot and rewinds both indices. Only valid while
// neither core is inside a frame.
func (r *ChunkRing) Reset() {
	for i := range r.full {
		r.full[i].Store(false)
	}
	r.w, r.r = 0, 0
	select {
	case <-r.space:
	default:
	}
}

// Stats returns a snapshot of the ring counters.
func (r *ChunkRing) Stats() RingStats {
	return RingStats{
		Written:  r.written.Load(),
		Drained:  r.drained.Load(),
		Overruns: r.overruns.Load(),
	}
}
