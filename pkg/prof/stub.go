//go:build !profile

package prof

import "io"

// Profiling errors. Never returned without the "profile" tag.
var (
	ErrActive         error
	ErrInvalidProfile error
)

// Profile names a pprof snapshot profile.
type Profile string

// Snapshot profiles.
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

// Session is a placeholder recording.
type Session struct{}

// Enabled always returns false without the "profile" tag.
func Enabled() bool { return false }

// Start returns an inert session.
func Start(_ string) (*Session, error) { return &Session{}, nil }

// Dir returns the empty string.
func (s *Session) Dir() string { return "" }

// Stop is a no-op.
func (s *Session) Stop() error { return nil }

// Snapshot is a no-op.
func Snapshot(_ Profile, _ io.Writer, _ int) error { return nil }

// Serve is a no-op.
func Serve(_ string) {}
