// Package linux provides a host HAL for the AM335x PRU-ICSS under Linux.
//
// The cores are loaded and run through the remoteproc sysfs interface
// (/sys/class/remoteproc/). The PRU-ICSS block and the frame carveout are
// mapped from /dev/mem, so the process needs CAP_SYS_RAWIO and the
// carveout must be a reserved-memory region the kernel never hands out.
//
// # Events
//
// The host raises trigger and abort by writing their bits to SRSR0 and
// clears events through SICR. Completion is routed to host interrupt 2,
// which the uio_pruss driver exposes as an event device. WaitCompletion
// sleeps on that device with epoll and re-reads the raw status between
// interrupts. Without an event device it polls the raw status.
//
// # Requirements
//
//   - uio_pruss or an equivalent driver for PRU_EVTOUT0
//   - remoteproc entries for PRU0 and PRU1 with the capture firmware
//     installed under /lib/firmware
//   - a reserved-memory carveout large enough for one frame
package linux
