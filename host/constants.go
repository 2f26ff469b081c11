package host

import "time"

// Capture timing defaults.
const (
	// DefaultTimeout bounds the wait for the completion event.
	DefaultTimeout = 500 * time.Millisecond

	// quiescePoll is the interval between core status reads while waiting
	// for an aborted cycle to wind down.
	quiescePoll = time.Millisecond
)

// DevicePath is the character device the kernel driver exposes. The
// acceptance client uses it when running against a real driver instead of
// an in-process HAL.
const DevicePath = "/dev/prucam"
