package pru

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ardnew/prucam/pkg"
)

// Memory resolves physical addresses published in the handshake region to
// writable byte slices. It is what the transfer core's OCP master port
// sees.
type Memory interface {
	Slice(phys uint32, n int) ([]byte, error)
}

// Buffer is a physically contiguous allocation.
type Buffer struct {
	Phys uint32
	Data []byte
}

// Size returns the allocation length in bytes.
func (b *Buffer) Size() int { return len(b.Data) }

// PageSize is the allocation granularity of a [Pool].
const PageSize = 4096

// Pool hands out physically contiguous buffers from a fixed carveout,
// standing in for the kernel's coherent DMA allocator.
type Pool struct {
	mu     sync.Mutex
	base   uint32
	mem    []byte
	allocs []span // sorted by offset
}

type span struct {
	off, size int
}

// NewPool wraps mem as a carveout starting at physical address base.
func NewPool(base uint32, mem []byte) *Pool {
	return &Pool{base: base, mem: mem}
}

// NewHeapPool allocates a carveout of size bytes on the Go heap.
func NewHeapPool(base uint32, size int) *Pool {
	return NewPool(base, make([]byte, size))
}

// Base returns the physical address of the first byte of the carveout.
func (p *Pool) Base() uint32 { return p.base }

// Size returns the carveout size in bytes.
func (p *Pool) Size() int { return len(p.mem) }

// Alloc reserves n bytes, rounded up to a page, using first fit.
// It returns [pkg.ErrAllocation] when no gap is large enough.
func (p *Pool) Alloc(n int) (*Buffer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: allocation of %d bytes", pkg.ErrInvalidParameter, n)
	}
	size := (n + PageSize - 1) &^ (PageSize - 1)

	p.mu.Lock()
	defer p.mu.Unlock()

	off := 0
	idx := len(p.allocs)
	for i, a := range p.allocs {
		if a.off-off >= size {
			idx = i
			break
		}
		off = a.off + a.size
	}
	if off+size > len(p.mem) {
		return nil, fmt.Errorf("%w: %d bytes requested, carveout is %d bytes",
			pkg.ErrAllocation, n, len(p.mem))
	}

	p.allocs = append(p.allocs, span{})
	copy(p.allocs[idx+1:], p.allocs[idx:])
	p.allocs[idx] = span{off: off, size: size}

	clear(p.mem[off : off+size])
	return &Buffer{
		Phys: p.base + uint32(off),
		Data: p.mem[off : off+n : off+n],
	}, nil
}

// Free releases a buffer returned by Alloc.
func (p *Pool) Free(b *Buffer) error {
	if b == nil {
		return nil
	}
	if b.Phys < p.base {
		return fmt.Errorf("%w: 0x%08x below carveout", pkg.ErrInvalidAddress, b.Phys)
	}
	off := int(b.Phys - p.base)

	p.mu.Lock()
	defer p.mu.Unlock()

	i := sort.Search(len(p.allocs), func(i int) bool { return p.allocs[i].off >= off })
	if i == len(p.allocs) || p.allocs[i].off != off {
		return fmt.Errorf("%w: 0x%08x not allocated", pkg.ErrInvalidAddress, b.Phys)
	}
	p.allocs = append(p.allocs[:i], p.allocs[i+1:]...)
	return nil
}

// Slice returns n bytes of the carveout starting at phys. The range must
// lie within a single live allocation.
func (p *Pool) Slice(phys uint32, n int) ([]byte, error) {
	if phys < p.base {
		return nil, fmt.Errorf("%w: 0x%08x below carveout", pkg.ErrInvalidAddress, phys)
	}
	off := int(phys - p.base)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, a := range p.allocs {
		if off >= a.off && off+n <= a.off+a.size {
			return p.mem[off : off+n : off+n], nil
		}
	}
	return nil, fmt.Errorf("%w: 0x%08x+%d outside any allocation", pkg.ErrInvalidAddress, phys, n)
}
