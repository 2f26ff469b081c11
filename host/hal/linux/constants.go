package linux

import "time"

// =============================================================================
// System Paths
// =============================================================================

// DevMemPath is the physical memory device used to map the PRU-ICSS block
// and the frame carveout.
const DevMemPath = "/dev/mem"

// DefaultUIO is the uio_pruss event device carrying PRU_EVTOUT0.
const DefaultUIO = "/dev/uio0"

// RemoteprocRoot is the sysfs class directory of the remoteproc instances.
const RemoteprocRoot = "/sys/class/remoteproc"

// Default remoteproc instances of the capture and transfer cores on the
// BeagleBone images. remoteproc0 is the M3 wakeup processor.
const (
	DefaultCaptureRemoteproc  = "remoteproc1"
	DefaultTransferRemoteproc = "remoteproc2"
)

// Default firmware images loaded from /lib/firmware.
const (
	DefaultCaptureFirmware  = "am335x-pru0-prucam-fw"
	DefaultTransferFirmware = "am335x-pru1-prucam-fw"
)

// =============================================================================
// Remoteproc States
// =============================================================================

// Values of the remoteproc "state" attribute.
const (
	RprocOffline   = "offline"
	RprocRunning   = "running"
	RprocSuspended = "suspended"
	RprocCrashed   = "crashed"
)

// Values written to the remoteproc "state" attribute.
const (
	rprocStart = "start"
	rprocStop  = "stop"
)

// =============================================================================
// INTC Registers
// =============================================================================

// intcSRSR1 sets the raw status of system events 32-63. The cores only
// use SRSR0.
const intcSRSR1 = 0x204

// =============================================================================
// Polling Constants
// =============================================================================

// Epoll event flags.
const (
	EPOLLIN  = 0x001
	EPOLLERR = 0x008
	EPOLLHUP = 0x010
)

// MaxEpollEvents is the maximum events to retrieve per epoll_wait call.
const MaxEpollEvents = 8

// PollInterval bounds each wait for the completion interrupt. The wait
// re-checks the INTC and the caller's context between intervals, and is
// the busy-poll period when no UIO device is configured.
const PollInterval = time.Millisecond

// Remoteproc state polling during Start and Stop.
const (
	rprocPollInterval = 5 * time.Millisecond
	rprocPollAttempts = 200
)
