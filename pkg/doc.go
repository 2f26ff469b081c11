// Package pkg provides shared utilities for the prucam capture subsystem.
//
// This package contains functionality used by the host controller, the
// co-processor models, and the sensor collaborators alike:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for the capture error taxonomy
//   - Capture request states shared by the host and its tests
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentHost, "frame captured", "bytes", n)
//
// # Errors
//
// Capture failures are reported with sentinel values:
//
//	if errors.Is(err, pkg.ErrTimeout) {
//	    // completion was never signaled; dst is untouched
//	}
package pkg
