package pru

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ardnew/prucam/pkg"
)

// TransferCore relays chunks from the ring into the frame buffer (PRU1).
type TransferCore struct {
	geom   Geometry
	fabric *Fabric
	region *Region
	mem    Memory
	opts   coreOptions

	addr   uint32
	cached bool

	running atomic.Bool
	frames  atomic.Uint64
	chunks  atomic.Uint64
	aborts  atomic.Uint64
	faults  atomic.Uint64
}

// NewTransferCore creates a transfer core writing through mem.
func NewTransferCore(g Geometry, f *Fabric, r *Region, mem Memory, opts ...CoreOption) *TransferCore {
	return &TransferCore{
		geom:   g,
		fabric: f,
		region: r,
		mem:    mem,
		opts:   applyOptions(opts),
	}
}

// Run executes the core's state machine until ctx is done:
//
//	WaitTrigger → read address → raise start → Relaying → raise completion → WaitTrigger
//
// Run returns ctx.Err() on shutdown or [pkg.ErrAlreadyRunning].
func (t *TransferCore) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	defer t.running.Store(false)
	defer t.region.SetState(CoreTransfer, StateStopped)

	for {
		t.region.SetState(CoreTransfer, StateWaitTrigger)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.fabric.Trigger.Ready():
		}
		t.fabric.Trigger.Clear()

		if t.opts.mode == AddressPerCapture || !t.cached {
			t.addr = t.region.Address()
			t.cached = true
		}
		dst, err := t.mem.Slice(t.addr, t.geom.FrameSize())
		if err != nil {
			// No error path back to the host; it will time out.
			t.faults.Add(1)
			t.cached = false
			pkg.LogDebug(pkg.ComponentTransfer, "destination unresolved", "addr", t.addr, "error", err)
			continue
		}

		t.region.Ring().Reset()
		t.fabric.ChunkReady.Clear()
		t.region.SetState(CoreTransfer, StateRelaying)
		t.fabric.Start.Raise()

		err = t.relay(ctx, dst)
		switch {
		case err == nil:
			t.frames.Add(1)
			t.fabric.Completion.Raise()
		case errors.Is(err, pkg.ErrAborted):
			// Withdraw a start the capture core has not consumed yet.
			t.fabric.Start.Clear()
			t.aborts.Add(1)
			pkg.LogDebug(pkg.ComponentTransfer, "frame aborted", "chunks", t.chunks.Load())
		default:
			return err
		}
	}
}

func (t *TransferCore) relay(ctx context.Context, dst []byte) error {
	var (
		ring  = t.region.Ring()
		size  = t.geom.ChunkSize
		total = t.geom.Chunks()
		n     int
	)
	for n < total {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.fabric.Abort.Ready():
			return pkg.ErrAborted
		case <-t.fabric.ChunkReady.Ready():
		}
		t.fabric.ChunkReady.Clear()

		ring.Drain(func(chunk []byte) {
			if n >= total {
				return
			}
			off := n * size
			copy(dst[off:off+size], chunk)
			if t.opts.observer != nil {
				t.opts.observer(n, off)
			}
			n++
			t.chunks.Add(1)
		})
	}
	return nil
}

// Running reports whether Run is executing.
func (t *TransferCore) Running() bool { return t.running.Load() }

// Stats returns a snapshot of the core counters.
func (t *TransferCore) Stats() CoreStats {
	return CoreStats{
		Frames: t.frames.Load(),
		Chunks: t.chunks.Load(),
		Aborts: t.aborts.Load(),
		Faults: t.faults.Load(),
	}
}
