package pkg

import "errors"

// Capture errors.
var (
	// ErrTimeout indicates the completion event was not observed before the
	// capture deadline. The destination buffer is left unmodified.
	ErrTimeout = errors.New("capture timeout")

	// ErrTransferFault indicates the final copy from the frame buffer to the
	// caller's buffer failed.
	ErrTransferFault = errors.New("transfer fault")

	// ErrDeviceNotReady indicates a capture was requested before the frame
	// buffer and events were initialized, or after teardown.
	ErrDeviceNotReady = errors.New("device not ready")

	// ErrAllocation indicates the frame buffer could not be allocated.
	// No capture is possible until the subsystem is reopened.
	ErrAllocation = errors.New("frame buffer allocation failed")

	// ErrAborted indicates a co-processor cycle was abandoned on request
	// of the host.
	ErrAborted = errors.New("capture aborted")
)

// Lifecycle and parameter errors.
var (
	// ErrAlreadyRunning indicates the subsystem or a core is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the subsystem or a core is not running.
	ErrNotRunning = errors.New("not running")

	// ErrClosed indicates the subsystem has been torn down.
	ErrClosed = errors.New("subsystem closed")

	// ErrBusy indicates the resource is held by an in-flight capture.
	ErrBusy = errors.New("resource busy")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidAddress indicates a physical address outside any mapped region.
	ErrInvalidAddress = errors.New("invalid physical address")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")
)

// Sensor errors.
var (
	// ErrUnknownSensor indicates the chip version register held an
	// unrecognized value.
	ErrUnknownSensor = errors.New("unknown sensor")

	// ErrUnknownSetting indicates a control-surface name that does not exist.
	ErrUnknownSetting = errors.New("unknown setting")

	// ErrOutOfRange indicates a setting value outside its field width.
	ErrOutOfRange = errors.New("value out of range")

	// ErrShortTransfer indicates the register bus moved fewer bytes than
	// requested.
	ErrShortTransfer = errors.New("short bus transfer")
)

// RequestState represents the lifecycle state of one capture request.
//
//	Idle → HandshakeSent → WaitingCompletion → {Completed, TimedOut} → Idle
type RequestState int

// Request state values.
const (
	RequestIdle              RequestState = iota // No handshake outstanding
	RequestHandshakeSent                         // Address published and trigger raised
	RequestWaitingCompletion                     // Blocked on the completion event
	RequestCompleted                             // Completion observed, frame copied
	RequestTimedOut                              // Deadline expired
	RequestFaulted                               // Copy to caller failed
)

// String returns a string representation of the request state.
func (s RequestState) String() string {
	switch s {
	case RequestIdle:
		return "idle"
	case RequestHandshakeSent:
		return "handshake-sent"
	case RequestWaitingCompletion:
		return "waiting-completion"
	case RequestCompleted:
		return "completed"
	case RequestTimedOut:
		return "timed-out"
	case RequestFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a capture request.
func (s RequestState) Terminal() bool {
	switch s {
	case RequestCompleted, RequestTimedOut, RequestFaulted:
		return true
	default:
		return false
	}
}

// Error returns the corresponding error for a terminal request state.
// Non-terminal states and Completed return nil.
func (s RequestState) Error() error {
	switch s {
	case RequestTimedOut:
		return ErrTimeout
	case RequestFaulted:
		return ErrTransferFault
	default:
		return nil
	}
}
