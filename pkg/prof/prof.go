//go:build profile

package prof

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/ handlers
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Profiling errors.
var (
	// ErrActive indicates a session is already recording.
	ErrActive = errors.New("profile session already active")

	// ErrInvalidProfile indicates an unknown snapshot profile name.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Profile names a pprof snapshot profile.
type Profile string

// Snapshot profiles written by [Session.Stop].
const (
	ProfileHeap      Profile = "heap"
	ProfileGoroutine Profile = "goroutine"
	ProfileMutex     Profile = "mutex"
	ProfileBlock     Profile = "block"
)

// String returns the pprof name of the profile.
func (p Profile) String() string {
	return string(p)
}

var snapshots = []Profile{ProfileHeap, ProfileGoroutine, ProfileMutex, ProfileBlock}

var (
	mu     sync.Mutex
	active *Session
)

// Session is an in-progress profile recording.
type Session struct {
	dir string
	cpu *os.File
}

// Enabled reports whether the binary was built with profiling support.
func Enabled() bool { return true }

// Start creates dir if needed, begins CPU profiling into dir/cpu.prof and
// enables mutex and block sampling.
func Start(dir string) (*Session, error) {
	mu.Lock()
	defer mu.Unlock()

	if active != nil {
		return nil, ErrActive
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	f, err := os.Create(filepath.Join(dir, "cpu.prof"))
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}

	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)

	active = &Session{dir: dir, cpu: f}
	return active, nil
}

// Dir returns the directory profiles are written into.
func (s *Session) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// Stop ends CPU profiling, writes the snapshot profiles and disables
// sampling. Calling Stop on an already stopped session is a no-op.
func (s *Session) Stop() error {
	mu.Lock()
	defer mu.Unlock()

	if s == nil || active != s {
		return nil
	}
	active = nil

	pprof.StopCPUProfile()
	errs := []error{s.cpu.Close()}

	for _, p := range snapshots {
		errs = append(errs, writeFile(p, filepath.Join(s.dir, p.String()+".prof")))
	}

	runtime.SetMutexProfileFraction(0)
	runtime.SetBlockProfileRate(0)

	return errors.Join(errs...)
}

// Snapshot writes a single profile to w. debug follows the convention of
// [pprof.Profile.WriteTo]: 0 for protobuf, 1 or 2 for text.
func Snapshot(p Profile, w io.Writer, debug int) error {
	pp := pprof.Lookup(p.String())
	if pp == nil {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, p)
	}
	return pp.WriteTo(w, debug)
}

// Serve starts the pprof HTTP endpoints on addr in the background.
func Serve(addr string) {
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			fmt.Fprintln(os.Stderr, "prof:", err)
		}
	}()
}

func writeFile(p Profile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Snapshot(p, f, 0)
}
