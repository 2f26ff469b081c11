package linux

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/pru"
)

// =============================================================================
// Register Window
// =============================================================================

// window is a mapped view of device memory accessed in 32-bit words.
// Offsets must be word aligned and the backing slice word aligned, which
// holds for mmap results and for heap slices of at least 8 bytes.
type window []byte

func (w window) word(off int) *uint32 {
	if off < 0 || off%4 != 0 || off+4 > len(w) {
		panic(fmt.Sprintf("mmio: word offset 0x%x outside %d byte window", off, len(w)))
	}
	return (*uint32)(unsafe.Pointer(&w[off]))
}

func (w window) load32(off int) uint32 {
	return atomic.LoadUint32(w.word(off))
}

func (w window) store32(off int, v uint32) {
	atomic.StoreUint32(w.word(off), v)
}

// sub returns the n bytes at off.
func (w window) sub(off, n int) (window, error) {
	if off < 0 || n < 0 || off+n > len(w) {
		return nil, fmt.Errorf("%w: window [0x%x, 0x%x) outside %d bytes",
			pkg.ErrInvalidAddress, off, off+n, len(w))
	}
	return w[off : off+n : off+n], nil
}

// =============================================================================
// Interrupt Controller
// =============================================================================

// intc drives the PRU-ICSS interrupt controller from the host side.
//
// Writing a one to SRSR sets the raw status of a system event; zeros are
// ignored. Writing an event number to SICR clears it. The raw status is
// visible whether or not the event is mapped to a channel.
type intc struct {
	w window
}

func newINTC(pruss window) (intc, error) {
	w, err := pruss.sub(pru.INTCBase, pru.INTCSize)
	if err != nil {
		return intc{}, err
	}
	return intc{w: w}, nil
}

func srsr(ev uint8) (off int, mask uint32) {
	if ev < 32 {
		return pru.INTCSRSR0, 1 << ev
	}
	return intcSRSR1, 1 << (ev - 32)
}

func (c intc) raise(ev uint8) {
	off, mask := srsr(ev)
	c.w.store32(off, mask)
}

func (c intc) clear(ev uint8) {
	c.w.store32(pru.INTCSICR, uint32(ev))
}

func (c intc) pending(ev uint8) bool {
	off, mask := srsr(ev)
	return c.w.load32(off)&mask != 0
}

// =============================================================================
// Shared RAM
// =============================================================================

// sharedRAM is the handshake region as the host sees it.
type sharedRAM struct {
	w window
}

func newSharedRAM(pruss window) (sharedRAM, error) {
	w, err := pruss.sub(pru.SharedRAMBase, pru.SharedRAMSize)
	if err != nil {
		return sharedRAM{}, err
	}
	return sharedRAM{w: w}, nil
}

func (s sharedRAM) publish(addr uint32) {
	s.w.store32(pru.OffsetAddress, addr)
}

func (s sharedRAM) address() uint32 {
	return s.w.load32(pru.OffsetAddress)
}

func (s sharedRAM) state(c pru.Core) pru.CoreState {
	switch c {
	case pru.CoreCapture:
		return pru.CoreState(s.w.load32(pru.OffsetCaptureState))
	case pru.CoreTransfer:
		return pru.CoreState(s.w.load32(pru.OffsetTransferState))
	default:
		return pru.StateStopped
	}
}

func (s sharedRAM) idle() bool {
	return s.state(pru.CoreTransfer).Idle() && s.state(pru.CoreCapture).Idle()
}
