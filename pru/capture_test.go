package pru

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

// countingBus holds every line low and counts reads.
type countingBus struct {
	n atomic.Uint64
}

func (b *countingBus) Sample() Sample {
	b.n.Add(1)
	return 0
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(50 * time.Microsecond)
	}
}

func TestCaptureCore_WithdrawnStart(t *testing.T) {
	g := Geometry{Rows: 2, Cols: 8, BytesPerPixel: 1, ChunkSize: 8}
	ring, err := NewChunkRing(1, g.ChunkSize, PolicyStall)
	if err != nil {
		t.Fatal(err)
	}
	fabric := NewFabric()
	region := NewRegion(ring)
	bus := &countingBus{}
	core := NewCaptureCore(g, fabric, region, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- core.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	var withdrawn, taken int
	for i := range 200 {
		waitFor(t, "capture core idle", func() bool {
			return region.State(CoreCapture) == StateWaitTrigger
		})
		before := bus.n.Load()
		aborts := core.Stats().Aborts

		fabric.Start.Raise()
		runtime.Gosched()
		if fabric.Start.Clear() {
			// The transfer core withdrew the start; no frame may follow.
			withdrawn++
			time.Sleep(100 * time.Microsecond)
			if n := bus.n.Load(); n != before {
				t.Fatalf("iteration %d: %d bus reads after a withdrawn start", i, n-before)
			}
			continue
		}

		taken++
		fabric.Abort.Raise()
		waitFor(t, "frame abort", func() bool { return core.Stats().Aborts > aborts })
		fabric.Abort.Clear()
	}
	t.Logf("withdrawn=%d taken=%d", withdrawn, taken)
}

func TestCaptureCore_WarmupOncePerRun(t *testing.T) {
	g := Geometry{Rows: 4, Cols: 16, BytesPerPixel: 2, ChunkSize: 8}
	// One sensor frame is vblank plus rows of (hblank + line bytes) cycles.
	period := 4 + g.Rows*(2+g.LineBytes())
	r := newRig(t, g, 2, WithWarmup(10*period))

	if err := r.capture(5 * time.Second); err != nil {
		t.Fatalf("first capture error = %v", err)
	}
	first := r.sensor.Frames()
	if first < 10 {
		t.Errorf("sensor frames after first capture = %d, want at least 10", first)
	}
	checkPattern(t, g, r.buf.Data)

	if err := r.capture(5 * time.Second); err != nil {
		t.Fatalf("second capture error = %v", err)
	}
	if n := r.sensor.Frames() - first; n > 2 {
		t.Errorf("second capture consumed %d sensor frames, want at most 2", n)
	}
	checkPattern(t, g, r.buf.Data)
}
