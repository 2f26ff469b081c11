package linux

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/prucam/host/hal"
	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/pru"
)

// =============================================================================
// Fakes
// =============================================================================

type heapMapper struct {
	mu     sync.Mutex
	maps   map[uint32]int
	unmaps int
	fail   uint32 // physical base that fails to map
}

func (m *heapMapper) Map(phys uint32, size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != 0 && phys == m.fail {
		return nil, errors.New("mmap failed")
	}
	if m.maps == nil {
		m.maps = make(map[uint32]int)
	}
	m.maps[phys] = size
	return make([]byte, size), nil
}

func (m *heapMapper) Unmap(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b != nil {
		m.unmaps++
	}
	return nil
}

type fakeIRQ struct {
	mu     sync.Mutex
	waits  int
	onWait func(n int)
	closed bool
}

func (f *fakeIRQ) wait(time.Duration) (bool, error) {
	f.mu.Lock()
	f.waits++
	n := f.waits
	f.mu.Unlock()
	if f.onWait != nil {
		f.onWait(n)
	}
	return false, nil
}

func (f *fakeIRQ) interrupt() {}

func (f *fakeIRQ) close() error {
	f.closed = true
	return nil
}

// fakeKernel answers remoteproc state writes the way the driver does.
type fakeKernel struct {
	root string
	mu   sync.Mutex
	log  []string
	stop chan struct{}
	done chan struct{}
}

func newFakeKernel(t *testing.T, names ...string) *fakeKernel {
	t.Helper()
	k := &fakeKernel{
		root: t.TempDir(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, n := range names {
		dir := filepath.Join(k.root, n)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		k.write(t, n, "state", RprocOffline)
		k.write(t, n, "firmware", "")
	}
	go k.run(names)
	t.Cleanup(func() {
		close(k.stop)
		<-k.done
	})
	return k
}

func (k *fakeKernel) write(t *testing.T, name, attr, value string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(k.root, name, attr), []byte(value), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (k *fakeKernel) read(t *testing.T, name, attr string) string {
	t.Helper()
	s, err := readSysfsString(filepath.Join(k.root, name, attr))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func (k *fakeKernel) run(names []string) {
	defer close(k.done)
	for {
		select {
		case <-k.stop:
			return
		case <-time.After(time.Millisecond):
		}
		for _, n := range names {
			path := filepath.Join(k.root, n, "state")
			st, err := readSysfsString(path)
			if err != nil {
				continue
			}
			var next string
			switch st {
			case rprocStart:
				next = RprocRunning
			case rprocStop:
				next = RprocOffline
			default:
				continue
			}
			os.WriteFile(path, []byte(next+"\n"), 0o644)
			k.mu.Lock()
			k.log = append(k.log, n+":"+st)
			k.mu.Unlock()
		}
	}
}

func (k *fakeKernel) transitions() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.log...)
}

const (
	testCarveBase = 0x9F000000
	testCarveSize = 4 * pru.PageSize
)

func testConfig(root string) Config {
	cfg := DefaultConfig()
	cfg.CarveoutBase = testCarveBase
	cfg.CarveoutSize = testCarveSize
	cfg.UIO = ""
	cfg.RemoteprocRoot = root
	return cfg
}

func newTestHAL(t *testing.T, cfg Config, m *heapMapper, irq *fakeIRQ) *HostHAL {
	t.Helper()
	open := func(string) (irqSource, error) {
		if irq == nil {
			return nil, errors.New("no event device")
		}
		return irq, nil
	}
	h := newHostHAL(cfg, m, open)
	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func intcWord(h *HostHAL, off int) uint32 {
	return h.intc.w.load32(off)
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestHostHAL_Init(t *testing.T) {
	m := &heapMapper{}
	h := newTestHAL(t, testConfig(t.TempDir()), m, nil)

	if got := m.maps[pru.PRUSSBase]; got != pru.PRUSSSize {
		t.Errorf("PRU-ICSS mapped %d bytes, want %d", got, pru.PRUSSSize)
	}
	if got := m.maps[testCarveBase]; got != testCarveSize {
		t.Errorf("carveout mapped %d bytes, want %d", got, testCarveSize)
	}
	if err := h.Init(context.Background()); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("second Init = %v, want ErrBusy", err)
	}
}

func TestHostHAL_InitErrors(t *testing.T) {
	t.Run("no carveout", func(t *testing.T) {
		cfg := testConfig(t.TempDir())
		cfg.CarveoutSize = 0
		h := newHostHAL(cfg, &heapMapper{}, nil)
		if err := h.Init(context.Background()); !errors.Is(err, pkg.ErrInvalidParameter) {
			t.Errorf("Init = %v, want ErrInvalidParameter", err)
		}
	})

	t.Run("unaligned carveout", func(t *testing.T) {
		cfg := testConfig(t.TempDir())
		cfg.CarveoutBase = testCarveBase + 0x10
		h := newHostHAL(cfg, &heapMapper{}, nil)
		if err := h.Init(context.Background()); !errors.Is(err, pkg.ErrInvalidAddress) {
			t.Errorf("Init = %v, want ErrInvalidAddress", err)
		}
	})

	t.Run("carveout map fails", func(t *testing.T) {
		m := &heapMapper{fail: testCarveBase}
		h := newHostHAL(testConfig(t.TempDir()), m, nil)
		if err := h.Init(context.Background()); !errors.Is(err, pkg.ErrAllocation) {
			t.Errorf("Init = %v, want ErrAllocation", err)
		}
		if m.unmaps != 1 {
			t.Errorf("unmaps = %d, want 1", m.unmaps)
		}
	})

	t.Run("event device fails", func(t *testing.T) {
		m := &heapMapper{}
		cfg := testConfig(t.TempDir())
		cfg.UIO = "/dev/uio9"
		h := newHostHAL(cfg, m, func(string) (irqSource, error) {
			return nil, os.ErrNotExist
		})
		if err := h.Init(context.Background()); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Init = %v, want ErrNotExist", err)
		}
		if m.unmaps != 2 {
			t.Errorf("unmaps = %d, want 2", m.unmaps)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		h := newHostHAL(testConfig(t.TempDir()), &heapMapper{}, nil)
		if err := h.Init(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Init = %v, want Canceled", err)
		}
	})
}

func TestHostHAL_NotInitialized(t *testing.T) {
	h := newHostHAL(testConfig(t.TempDir()), &heapMapper{}, nil)

	if err := h.Start(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Start = %v", err)
	}
	if _, err := h.AllocFrame(16); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("AllocFrame = %v", err)
	}
	if err := h.PublishAddress(0x1000); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("PublishAddress = %v", err)
	}
	if _, err := h.CoresIdle(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("CoresIdle = %v", err)
	}
	if err := h.Raise(hal.SignalTrigger); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Raise = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func TestHostHAL_StartStop(t *testing.T) {
	k := newFakeKernel(t, DefaultCaptureRemoteproc, DefaultTransferRemoteproc)
	h := newTestHAL(t, testConfig(k.root), &heapMapper{}, nil)

	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Start(); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if got := k.read(t, DefaultCaptureRemoteproc, "firmware"); got != DefaultCaptureFirmware {
		t.Errorf("capture firmware = %q", got)
	}
	if got := k.read(t, DefaultTransferRemoteproc, "firmware"); got != DefaultTransferFirmware {
		t.Errorf("transfer firmware = %q", got)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []string{
		DefaultTransferRemoteproc + ":start",
		DefaultCaptureRemoteproc + ":start",
		DefaultCaptureRemoteproc + ":stop",
		DefaultTransferRemoteproc + ":stop",
	}
	got := k.transitions()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestHostHAL_Close(t *testing.T) {
	k := newFakeKernel(t, DefaultCaptureRemoteproc, DefaultTransferRemoteproc)
	m := &heapMapper{}
	irq := &fakeIRQ{}
	cfg := testConfig(k.root)
	cfg.UIO = "/dev/uio0"
	h := newTestHAL(t, cfg, m, irq)

	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !irq.closed {
		t.Error("event device not closed")
	}
	if m.unmaps != 2 {
		t.Errorf("unmaps = %d, want 2", m.unmaps)
	}
	if got := k.read(t, DefaultCaptureRemoteproc, "state"); got != RprocOffline {
		t.Errorf("capture state = %q after Close", got)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

// =============================================================================
// Memory Tests
// =============================================================================

func TestHostHAL_AllocFrame(t *testing.T) {
	h := newTestHAL(t, testConfig(t.TempDir()), &heapMapper{}, nil)

	buf, err := h.AllocFrame(1000)
	if err != nil {
		t.Fatalf("AllocFrame: %v", err)
	}
	if buf.Phys != testCarveBase {
		t.Errorf("Phys = 0x%08x, want 0x%08x", buf.Phys, uint32(testCarveBase))
	}
	if _, err := h.AllocFrame(testCarveSize); !errors.Is(err, pkg.ErrAllocation) {
		t.Errorf("oversized AllocFrame = %v, want ErrAllocation", err)
	}
	if err := h.FreeFrame(buf); err != nil {
		t.Errorf("FreeFrame: %v", err)
	}
}

func TestHostHAL_PublishAddress(t *testing.T) {
	h := newTestHAL(t, testConfig(t.TempDir()), &heapMapper{}, nil)

	if err := h.PublishAddress(0x9F001000); err != nil {
		t.Fatal(err)
	}
	word := window(h.pruss).load32(pru.SharedRAMBase + pru.OffsetAddress)
	if word != 0x9F001000 {
		t.Errorf("shared RAM address = 0x%08x", word)
	}
}

func TestHostHAL_CoresIdle(t *testing.T) {
	h := newTestHAL(t, testConfig(t.TempDir()), &heapMapper{}, nil)
	ram := window(h.pruss)

	tests := []struct {
		capture, transfer pru.CoreState
		want              bool
	}{
		{pru.StateStopped, pru.StateStopped, true},
		{pru.StateWaitTrigger, pru.StateWaitTrigger, true},
		{pru.StateSampling, pru.StateWaitTrigger, false},
		{pru.StateWaitTrigger, pru.StateRelaying, false},
		{pru.StateWaitFrameStart, pru.StateRelaying, false},
	}
	for _, tt := range tests {
		ram.store32(pru.SharedRAMBase+pru.OffsetCaptureState, uint32(tt.capture))
		ram.store32(pru.SharedRAMBase+pru.OffsetTransferState, uint32(tt.transfer))
		got, err := h.CoresIdle()
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("CoresIdle(%s, %s) = %v, want %v", tt.capture, tt.transfer, got, tt.want)
		}
	}
}

// =============================================================================
// Signal Tests
// =============================================================================

func TestHostHAL_Raise(t *testing.T) {
	h := newTestHAL(t, testConfig(t.TempDir()), &heapMapper{}, nil)

	tests := []struct {
		sig  hal.Signal
		mask uint32
	}{
		{hal.SignalTrigger, 1 << 24},
		{hal.SignalAbort, 1 << 25},
	}
	for _, tt := range tests {
		t.Run(tt.sig.String(), func(t *testing.T) {
			if err := h.Raise(tt.sig); err != nil {
				t.Fatal(err)
			}
			if got := intcWord(h, pru.INTCSRSR0); got != tt.mask {
				t.Errorf("SRSR0 = 0x%08x, want 0x%08x", got, tt.mask)
			}
		})
	}

	if err := h.Raise(hal.Signal(9)); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Raise(9) = %v, want ErrInvalidParameter", err)
	}
}

func TestHostHAL_Clear(t *testing.T) {
	h := newTestHAL(t, testConfig(t.TempDir()), &heapMapper{}, nil)

	h.intc.w.store32(pru.INTCSRSR0, 1<<20)
	was, err := h.Clear(hal.SignalCompletion)
	if err != nil {
		t.Fatal(err)
	}
	if !was {
		t.Error("Clear reported completion not pending")
	}
	if got := intcWord(h, pru.INTCSICR); got != 20 {
		t.Errorf("SICR = %d, want 20", got)
	}

	h.intc.w.store32(pru.INTCSRSR0, 0)
	if was, _ := h.Clear(hal.SignalAbort); was {
		t.Error("Clear reported abort pending")
	}
	if got := intcWord(h, pru.INTCSICR); got != 25 {
		t.Errorf("SICR = %d, want 25", got)
	}
}

func TestHostHAL_WaitCompletion(t *testing.T) {
	t.Run("already pending", func(t *testing.T) {
		h := newTestHAL(t, testConfig(t.TempDir()), &heapMapper{}, nil)
		h.intc.w.store32(pru.INTCSRSR0, 1<<20)
		if err := h.WaitCompletion(context.Background()); err != nil {
			t.Errorf("WaitCompletion = %v", err)
		}
	})

	t.Run("polled", func(t *testing.T) {
		h := newTestHAL(t, testConfig(t.TempDir()), &heapMapper{}, nil)
		go func() {
			time.Sleep(5 * time.Millisecond)
			h.intc.raise(20)
		}()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := h.WaitCompletion(ctx); err != nil {
			t.Errorf("WaitCompletion = %v", err)
		}
	})

	t.Run("interrupt", func(t *testing.T) {
		irq := &fakeIRQ{}
		cfg := testConfig(t.TempDir())
		cfg.UIO = "/dev/uio0"
		h := newTestHAL(t, cfg, &heapMapper{}, irq)
		irq.onWait = func(n int) {
			if n == 3 {
				h.intc.raise(20)
			}
		}
		if err := h.WaitCompletion(context.Background()); err != nil {
			t.Fatalf("WaitCompletion = %v", err)
		}
		if irq.waits != 3 {
			t.Errorf("waits = %d, want 3", irq.waits)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		h := newTestHAL(t, testConfig(t.TempDir()), &heapMapper{}, nil)
		h.intc.raise(24)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if err := h.WaitCompletion(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("WaitCompletion = %v, want DeadlineExceeded", err)
		}
	})
}

// =============================================================================
// Register Window Tests
// =============================================================================

func TestWindow_Sub(t *testing.T) {
	w := window(make([]byte, 64))

	sub, err := w.sub(16, 16)
	if err != nil {
		t.Fatal(err)
	}
	sub.store32(4, 0xDEADBEEF)
	if got := w.load32(20); got != 0xDEADBEEF {
		t.Errorf("load32(20) = 0x%08x", got)
	}
	if _, err := w.sub(60, 8); !errors.Is(err, pkg.ErrInvalidAddress) {
		t.Errorf("sub past end = %v, want ErrInvalidAddress", err)
	}
}

func TestWindow_Unaligned(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("unaligned load did not panic")
		}
	}()
	window(make([]byte, 16)).load32(2)
}

func TestINTC_HighEvents(t *testing.T) {
	ic, err := newINTC(window(make([]byte, pru.PRUSSSize)))
	if err != nil {
		t.Fatal(err)
	}
	ic.raise(33)
	if got := ic.w.load32(intcSRSR1); got != 1<<1 {
		t.Errorf("SRSR1 = 0x%08x, want 0x2", got)
	}
	if !ic.pending(33) || ic.pending(1) {
		t.Error("pending does not follow SRSR1")
	}
}

// =============================================================================
// Remoteproc Tests
// =============================================================================

func TestRemoteproc_RestartsRunningCore(t *testing.T) {
	k := newFakeKernel(t, "remoteproc1")
	k.write(t, "remoteproc1", "state", RprocRunning)

	r := newRemoteproc(pru.CoreCapture, k.root, "remoteproc1", "")
	if err := r.start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	got := k.transitions()
	if strings.Join(got, ",") != "remoteproc1:stop,remoteproc1:start" {
		t.Errorf("transitions = %v", got)
	}
	if fw := k.read(t, "remoteproc1", "firmware"); fw != "" {
		t.Errorf("firmware rewritten to %q", fw)
	}
}

func TestRemoteproc_Timeout(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "remoteproc2")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "state"), []byte(RprocOffline), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newRemoteproc(pru.CoreTransfer, root, "remoteproc2", "")
	r.interval, r.attempts = time.Millisecond, 3
	if err := r.start(context.Background()); !errors.Is(err, ErrRemoteproc) {
		t.Errorf("start = %v, want ErrRemoteproc", err)
	}
}

func TestRemoteproc_Crashed(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "remoteproc1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "state"), []byte(RprocCrashed), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newRemoteproc(pru.CoreCapture, root, "remoteproc1", "")
	if err := r.await(context.Background(), RprocRunning); !errors.Is(err, ErrRemoteproc) {
		t.Errorf("await = %v, want ErrRemoteproc", err)
	}
}

func TestRemoteproc_Missing(t *testing.T) {
	r := newRemoteproc(pru.CoreCapture, t.TempDir(), "remoteproc7", "")
	if err := r.start(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("start = %v, want ErrNotExist", err)
	}
}
