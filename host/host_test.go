package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/prucam/host/hal"
	"github.com/ardnew/prucam/host/hal/sim"
	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/pru"
)

// =============================================================================
// Mock HAL for Testing
// =============================================================================

// mockHAL implements hal.HostHAL with a scripted transfer core.
type mockHAL struct {
	initErr  error
	allocErr error
	startErr error
	waitErr  error // returned by WaitCompletion at once

	// respond makes every trigger complete after delay with fill bytes.
	respond bool
	delay   time.Duration
	fill    byte

	pool       *pru.Pool
	completion *pru.Event
	abort      *pru.Event

	mu        sync.Mutex
	calls     []string
	published []uint32
	addr      uint32
	triggers  int
	inflight  bool
	overlap   bool
	busy      bool // cores report not idle
}

var _ hal.HostHAL = (*mockHAL)(nil)

func newMockHAL() *mockHAL {
	return &mockHAL{
		respond:    true,
		fill:       0x5A,
		pool:       pru.NewHeapPool(0x8000, 4*pru.PageSize),
		completion: pru.NewEvent(pru.EventCompletion, pru.Routes[pru.EventCompletion]),
		abort:      pru.NewEvent(pru.EventAbort, pru.Routes[pru.EventAbort]),
	}
}

func (m *mockHAL) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockHAL) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

func (m *mockHAL) Init(ctx context.Context) error {
	m.record("init")
	return m.initErr
}

func (m *mockHAL) Start() error {
	m.record("start")
	return m.startErr
}

func (m *mockHAL) Stop() error {
	m.record("stop")
	return nil
}

func (m *mockHAL) Close() error {
	m.record("close")
	return nil
}

func (m *mockHAL) AllocFrame(size int) (*pru.Buffer, error) {
	m.record("alloc")
	if m.allocErr != nil {
		return nil, m.allocErr
	}
	return m.pool.Alloc(size)
}

func (m *mockHAL) FreeFrame(buf *pru.Buffer) error {
	m.record("free")
	return m.pool.Free(buf)
}

func (m *mockHAL) PublishAddress(phys uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, phys)
	m.addr = phys
	return nil
}

func (m *mockHAL) CoresIdle() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.busy, nil
}

func (m *mockHAL) Raise(s hal.Signal) error {
	switch s {
	case hal.SignalAbort:
		m.abort.Raise()
		return nil
	case hal.SignalTrigger:
	default:
		return pkg.ErrInvalidParameter
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers++
	if m.inflight {
		m.overlap = true
	}
	m.inflight = true

	if m.respond {
		addr := m.addr
		go func() {
			time.Sleep(m.delay)
			m.mu.Lock()
			if buf, err := m.pool.Slice(addr, 16); err == nil {
				for i := range buf {
					buf[i] = m.fill
				}
			}
			m.inflight = false
			m.mu.Unlock()
			m.completion.Raise()
		}()
	}
	return nil
}

func (m *mockHAL) Clear(s hal.Signal) (bool, error) {
	switch s {
	case hal.SignalCompletion:
		return m.completion.Clear(), nil
	case hal.SignalAbort:
		return m.abort.Clear(), nil
	}
	return false, pkg.ErrInvalidParameter
}

func (m *mockHAL) WaitCompletion(ctx context.Context) error {
	if m.waitErr != nil {
		return m.waitErr
	}
	return m.completion.Wait(ctx)
}

var tiny = pru.Geometry{Rows: 2, Cols: 8, BytesPerPixel: 1, ChunkSize: 4}

func openMock(t *testing.T, m *mockHAL, cfg Config, stages ...Stage) *Subsystem {
	t.Helper()
	if cfg.Geometry == (pru.Geometry{}) {
		cfg.Geometry = tiny
	}
	s, err := Open(context.Background(), m, cfg, stages...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestOpen_Order(t *testing.T) {
	m := newMockHAL()
	var order []string
	stage := func(name string) Stage {
		return Stage{
			Name: name,
			Up:   func(context.Context) error { order = append(order, "up "+name); return nil },
			Down: func() error { order = append(order, "down "+name); return nil },
		}
	}

	s, err := Open(context.Background(), m, Config{Geometry: tiny}, stage("gpio"), stage("sensor"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); !errors.Is(err, pkg.ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}

	wantOrder := []string{"up gpio", "up sensor", "down sensor", "down gpio"}
	if !slices.Equal(order, wantOrder) {
		t.Errorf("stage order = %v, want %v", order, wantOrder)
	}
	wantCalls := []string{"init", "alloc", "start", "stop", "free", "close"}
	if got := m.Calls(); !slices.Equal(got, wantCalls) {
		t.Errorf("HAL calls = %v, want %v", got, wantCalls)
	}
}

func TestOpen_Unwind(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		setup     func(*mockHAL)
		failStage bool
		wantErr   error
		wantCalls []string
	}{
		{
			name:      "init",
			setup:     func(m *mockHAL) { m.initErr = boom },
			wantErr:   boom,
			wantCalls: []string{"init"},
		},
		{
			name:      "allocation",
			setup:     func(m *mockHAL) { m.allocErr = boom },
			wantErr:   pkg.ErrAllocation,
			wantCalls: []string{"init", "alloc", "close"},
		},
		{
			name:      "stage",
			setup:     func(*mockHAL) {},
			failStage: true,
			wantErr:   boom,
			wantCalls: []string{"init", "alloc", "free", "close"},
		},
		{
			name:      "start",
			setup:     func(m *mockHAL) { m.startErr = boom },
			wantErr:   boom,
			wantCalls: []string{"init", "alloc", "start", "free", "close"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockHAL()
			tt.setup(m)

			var downs int
			stages := []Stage{{
				Name: "power",
				Up:   func(context.Context) error { return nil },
				Down: func() error { downs++; return nil },
			}}
			if tt.failStage {
				stages = append(stages, Stage{
					Name: "table",
					Up:   func(context.Context) error { return boom },
				})
			}

			_, err := Open(context.Background(), m, Config{Geometry: tiny}, stages...)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
			}
			if got := m.Calls(); !slices.Equal(got, tt.wantCalls) {
				t.Errorf("HAL calls = %v, want %v", got, tt.wantCalls)
			}
			if tt.failStage && downs != 1 {
				t.Errorf("power stage Down ran %d times, want 1", downs)
			}
		})
	}
}

func TestOpen_InvalidGeometry(t *testing.T) {
	m := newMockHAL()
	_, err := Open(context.Background(), m, Config{Geometry: pru.Geometry{Rows: 1, Cols: 5, BytesPerPixel: 1, ChunkSize: 4}})
	if !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Open() error = %v, want ErrInvalidParameter", err)
	}
	if len(m.Calls()) != 0 {
		t.Errorf("HAL touched for invalid geometry: %v", m.Calls())
	}
}

func TestOpen_AddressModes(t *testing.T) {
	for _, mode := range []pru.AddressMode{pru.AddressPerCapture, pru.AddressStartup} {
		t.Run(mode.String(), func(t *testing.T) {
			m := newMockHAL()
			s := openMock(t, m, Config{AddressMode: mode})

			buf := make([]byte, tiny.FrameSize())
			for range 3 {
				if _, err := s.Capture(context.Background(), buf); err != nil {
					t.Fatal(err)
				}
			}

			m.mu.Lock()
			defer m.mu.Unlock()
			want := 3
			if mode == pru.AddressStartup {
				want = 1
			}
			if len(m.published) != want {
				t.Errorf("address published %d times, want %d", len(m.published), want)
			}
			for _, a := range m.published {
				if a != s.FrameAddress() {
					t.Errorf("published 0x%08x, want 0x%08x", a, s.FrameAddress())
				}
			}
		})
	}
}

// =============================================================================
// Capture Tests
// =============================================================================

func TestCapture_Success(t *testing.T) {
	m := newMockHAL()
	s := openMock(t, m, Config{})

	var reqs []Request
	s.Controller().Observe(func(r Request) { reqs = append(reqs, r) })

	buf := make([]byte, tiny.FrameSize()+10)
	n, err := s.Capture(context.Background(), buf)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if n != tiny.FrameSize() {
		t.Errorf("Capture() = %d bytes, want %d", n, tiny.FrameSize())
	}
	if !bytes.Equal(buf[:n], bytes.Repeat([]byte{0x5A}, n)) {
		t.Errorf("frame = %x", buf[:n])
	}
	for _, b := range buf[n:] {
		if b != 0 {
			t.Fatal("Capture() wrote past the frame")
		}
	}

	if m.triggers != 1 {
		t.Errorf("triggers = %d, want 1", m.triggers)
	}
	if len(reqs) != 1 || reqs[0].State != pkg.RequestCompleted || reqs[0].Bytes != n {
		t.Errorf("observed requests = %+v", reqs)
	}
	if st := s.Controller().Stats(); st.Captures != 1 || st.Completed != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestCapture_BufferTooSmall(t *testing.T) {
	m := newMockHAL()
	s := openMock(t, m, Config{})

	_, err := s.Capture(context.Background(), make([]byte, tiny.FrameSize()-1))
	if !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("Capture() error = %v, want ErrBufferTooSmall", err)
	}
	if m.triggers != 0 {
		t.Errorf("trigger raised for a short buffer")
	}
}

func TestCapture_TimeoutBound(t *testing.T) {
	m := newMockHAL()
	m.respond = false
	s := openMock(t, m, Config{Timeout: 500 * time.Millisecond})

	buf := bytes.Repeat([]byte{0xAA}, tiny.FrameSize())
	want := slices.Clone(buf)

	start := time.Now()
	n, err := s.Capture(context.Background(), buf)
	elapsed := time.Since(start)

	if !errors.Is(err, pkg.ErrTimeout) {
		t.Fatalf("Capture() error = %v, want ErrTimeout", err)
	}
	if n != 0 {
		t.Errorf("Capture() = %d bytes on timeout", n)
	}
	if elapsed < 500*time.Millisecond {
		t.Errorf("timed out after %v, before the deadline", elapsed)
	}
	if elapsed > 600*time.Millisecond {
		t.Errorf("timed out after %v, well past the deadline", elapsed)
	}
	if !bytes.Equal(buf, want) {
		t.Error("destination modified by a timed-out capture")
	}
	if !m.abort.Pending() {
		t.Error("abort not raised after timeout")
	}
}

func TestCapture_WaitFailure(t *testing.T) {
	eio := errors.New("uio read: input/output error")
	m := newMockHAL()
	m.respond = false
	m.waitErr = eio
	s := openMock(t, m, Config{Timeout: 500 * time.Millisecond})

	var req Request
	s.Controller().Observe(func(r Request) { req = r })

	buf := bytes.Repeat([]byte{0xAA}, tiny.FrameSize())
	start := time.Now()
	n, err := s.Capture(context.Background(), buf)
	elapsed := time.Since(start)

	if !errors.Is(err, eio) || !errors.Is(err, pkg.ErrDeviceNotReady) {
		t.Fatalf("Capture() error = %v, want the HAL error wrapped in ErrDeviceNotReady", err)
	}
	if errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("Capture() error = %v reported as a timeout", err)
	}
	if n != 0 {
		t.Errorf("Capture() = %d bytes on failure", n)
	}
	if elapsed >= 500*time.Millisecond {
		t.Errorf("failure reported after %v, the full deadline", elapsed)
	}
	if req.State != pkg.RequestFaulted {
		t.Errorf("request state = %v, want faulted", req.State)
	}
	if st := s.Controller().Stats(); st.Faulted != 1 || st.TimedOut != 0 {
		t.Errorf("stats = %+v, want one fault and no timeouts", st)
	}
}

func TestCapture_CallerCanceled(t *testing.T) {
	m := newMockHAL()
	m.respond = false
	s := openMock(t, m, Config{Timeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Capture(ctx, make([]byte, tiny.FrameSize()))
	if !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("Capture() error = %v, want the caller's context error", err)
	}
}

func TestCapture_AbortClearedBeforeNextTrigger(t *testing.T) {
	m := newMockHAL()
	m.respond = false
	s := openMock(t, m, Config{Timeout: 10 * time.Millisecond})

	buf := make([]byte, tiny.FrameSize())
	if _, err := s.Capture(context.Background(), buf); !errors.Is(err, pkg.ErrTimeout) {
		t.Fatalf("Capture() error = %v, want ErrTimeout", err)
	}

	// Cores stuck: the next capture cannot clear abort.
	m.mu.Lock()
	m.busy = true
	m.mu.Unlock()
	if _, err := s.Capture(context.Background(), buf); !errors.Is(err, pkg.ErrDeviceNotReady) {
		t.Fatalf("Capture() with busy cores error = %v, want ErrDeviceNotReady", err)
	}
	if !m.abort.Pending() {
		t.Fatal("abort cleared while cores were busy")
	}

	m.mu.Lock()
	m.busy = false
	m.inflight = false
	m.respond = true
	m.mu.Unlock()
	if _, err := s.Capture(context.Background(), buf); err != nil {
		t.Fatalf("Capture() after quiesce error = %v", err)
	}
	if m.abort.Pending() {
		t.Error("abort still pending after a successful cycle")
	}
	if st := s.Controller().Stats(); st.Aborts != 1 || st.TimedOut != 1 || st.Completed != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestCapture_StaleCompletionCleared(t *testing.T) {
	m := newMockHAL()
	s := openMock(t, m, Config{DisableAbort: true})

	// A completion from an abandoned cycle is still pending.
	m.completion.Raise()

	var req Request
	s.Controller().Observe(func(r Request) { req = r })

	m.delay = 20 * time.Millisecond
	start := time.Now()
	if _, err := s.Capture(context.Background(), make([]byte, tiny.FrameSize())); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < m.delay {
		t.Error("capture returned on the stale completion")
	}
	if !req.StaleCompletion {
		t.Error("request not marked as having cleared a stale completion")
	}
	if m.abort.Pending() {
		t.Error("abort raised with abort disabled")
	}
	if st := s.Controller().Stats(); st.StaleCompletions != 1 {
		t.Errorf("StaleCompletions = %d, want 1", st.StaleCompletions)
	}
}

func TestCapture_Serialized(t *testing.T) {
	m := newMockHAL()
	m.delay = 2 * time.Millisecond
	s := openMock(t, m, Config{Timeout: 5 * time.Second})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, tiny.FrameSize())
			if _, err := s.Capture(context.Background(), buf); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Capture() error = %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overlap {
		t.Error("trigger raised while a cycle was outstanding")
	}
	if m.triggers != 8 {
		t.Errorf("triggers = %d, want 8", m.triggers)
	}
}

func TestCapture_LockHonorsContext(t *testing.T) {
	m := newMockHAL()
	m.delay = 200 * time.Millisecond
	s := openMock(t, m, Config{Timeout: 5 * time.Second})

	go s.Capture(context.Background(), make([]byte, tiny.FrameSize()))
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Capture(ctx, make([]byte, tiny.FrameSize())); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Capture() waiting on lock error = %v, want DeadlineExceeded", err)
	}
}

func TestCapture_AfterClose(t *testing.T) {
	m := newMockHAL()
	s, err := Open(context.Background(), m, Config{Geometry: tiny})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := s.Capture(context.Background(), make([]byte, tiny.FrameSize())); !errors.Is(err, pkg.ErrDeviceNotReady) {
		t.Errorf("Capture() after Close error = %v, want ErrDeviceNotReady", err)
	}
}

type failWriter struct{ err error }

func (w failWriter) Write(p []byte) (int, error) { return 0, w.err }

func TestCaptureTo_Fault(t *testing.T) {
	m := newMockHAL()
	s := openMock(t, m, Config{})

	var req Request
	s.Controller().Observe(func(r Request) { req = r })

	_, err := s.Controller().CaptureTo(context.Background(), failWriter{errors.New("disk full")})
	if !errors.Is(err, pkg.ErrTransferFault) {
		t.Fatalf("CaptureTo() error = %v, want ErrTransferFault", err)
	}
	if req.State != pkg.RequestFaulted {
		t.Errorf("request state = %v, want faulted", req.State)
	}

	var out bytes.Buffer
	if n, err := s.Controller().CaptureTo(context.Background(), &out); err != nil || n != tiny.FrameSize() {
		t.Errorf("CaptureTo() = %d, %v", n, err)
	}
}

func TestExclusive(t *testing.T) {
	m := newMockHAL()
	m.delay = 100 * time.Millisecond
	s := openMock(t, m, Config{Timeout: 5 * time.Second})
	ctrl := s.Controller()

	ran := false
	if err := ctrl.Exclusive(func() error { ran = true; return nil }); err != nil || !ran {
		t.Fatalf("Exclusive() on idle controller = %v, ran %v", err, ran)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Capture(context.Background(), make([]byte, tiny.FrameSize()))
	}()
	time.Sleep(20 * time.Millisecond)

	if err := ctrl.Exclusive(func() error { return nil }); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("Exclusive() during capture error = %v, want ErrBusy", err)
	}
	<-done
}

func TestExclusive_AfterClose(t *testing.T) {
	m := newMockHAL()
	s, err := Open(context.Background(), m, Config{Geometry: tiny})
	if err != nil {
		t.Fatal(err)
	}
	ctrl := s.Controller()
	s.Close()

	ran := false
	if err := ctrl.Exclusive(func() error { ran = true; return nil }); !errors.Is(err, pkg.ErrDeviceNotReady) {
		t.Errorf("Exclusive() after Close error = %v, want ErrDeviceNotReady", err)
	}
	if ran {
		t.Error("Exclusive() ran fn after Close")
	}
}

// =============================================================================
// Simulated Pipeline Tests
// =============================================================================

func TestCapture_SimReferenceFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("full-size frame")
	}
	g := pru.GeometryAR0130
	h := sim.New(sim.WithGeometry(g))
	s, err := Open(context.Background(), h, Config{Geometry: g, Timeout: 30 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	buf := make([]byte, g.FrameSize())
	n, err := s.Device().Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != 1228800 {
		t.Errorf("Read() = %d bytes, want 1228800", n)
	}
	for i, b := range buf {
		if want := pru.GradientPattern(i/g.LineBytes(), i%g.LineBytes()); b != want {
			t.Fatalf("byte %d = %d, want %d", i, b, want)
		}
	}

	f := h.Pipeline().Fabric
	ready := f.ChunkReady.Stats()
	if got := ready.Raised + ready.Lost; got != 38400 {
		t.Errorf("chunk-ready raises = %d, want 38400", got)
	}
	if got := f.Completion.Stats().Raised; got != 1 {
		t.Errorf("completion raises = %d, want 1", got)
	}
}

func TestCapture_SimStalledSensor(t *testing.T) {
	g := pru.Geometry{Rows: 8, Cols: 32, BytesPerPixel: 1, ChunkSize: 8}
	h := sim.New(sim.WithGeometry(g), sim.WithCarveout(0x1000, 4*pru.PageSize))
	s, err := Open(context.Background(), h, Config{Geometry: g, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	h.Sensor().Halt()
	buf := make([]byte, g.FrameSize())
	if _, err := s.Capture(context.Background(), buf); !errors.Is(err, pkg.ErrTimeout) {
		t.Fatalf("Capture() error = %v, want ErrTimeout", err)
	}

	h.Sensor().Resume()
	for i := range 3 {
		if _, err := s.Capture(context.Background(), buf); err != nil {
			t.Fatalf("Capture() %d after recovery error = %v", i, err)
		}
	}
	if got := h.Pipeline().Transfer.Stats().Aborts; got != 1 {
		t.Errorf("transfer aborts = %d, want 1", got)
	}
}

func TestDevice_WriteTo(t *testing.T) {
	m := newMockHAL()
	s := openMock(t, m, Config{})

	var out bytes.Buffer
	n, err := s.Device().WithContext(context.Background()).WriteTo(&out)
	if err != nil {
		t.Fatal(err)
	}
	if int(n) != s.Device().FrameSize() || out.Len() != tiny.FrameSize() {
		t.Errorf("WriteTo() = %d, buffer %d", n, out.Len())
	}
}

func ExampleController_Capture() {
	h := sim.New(sim.WithGeometry(pru.Geometry{Rows: 4, Cols: 16, BytesPerPixel: 1, ChunkSize: 8}),
		sim.WithCarveout(0x1000, pru.PageSize))
	s, err := Open(context.Background(), h, Config{Geometry: pru.Geometry{Rows: 4, Cols: 16, BytesPerPixel: 1, ChunkSize: 8}})
	if err != nil {
		panic(err)
	}
	defer s.Close()

	buf := make([]byte, s.Controller().FrameSize())
	n, err := s.Capture(context.Background(), buf)
	fmt.Println(n, err)
	// Output: 64 <nil>
}
