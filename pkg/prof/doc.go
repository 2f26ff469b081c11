// Package prof records pprof profiles around capture sessions.
//
// The package is compiled in two flavors selected by the "profile" build
// tag. Without the tag every function is a no-op and [Enabled] reports
// false, so call sites can stay in place in production builds:
//
//	go build -tags profile ./examples/read-frame
//
// A [Session] streams a CPU profile into a directory and, when stopped,
// adds snapshots of the heap, goroutine, mutex and block profiles. Mutex
// and block sampling are switched on for the lifetime of the session so
// contention on the capture lock and time spent parked on fabric events
// are visible:
//
//	s, err := prof.Start("profiles")
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// Only one session may be active at a time; a second [Start] returns
// [ErrActive].
//
// [Serve] exposes the same data over HTTP at /debug/pprof/.
package prof
