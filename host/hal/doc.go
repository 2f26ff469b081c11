// Package hal defines the Hardware Abstraction Layer between the prucam
// host controller and a PRU-ICSS.
//
// The HAL owns everything the host needs from the platform: physically
// contiguous frame memory, the handshake address word, the core status
// words, and the three host-facing events (trigger and abort raised by the
// host, completion raised by the transfer core). All protocol logic lives
// in the host package; a HAL only moves words and edges.
//
// # Implementations
//
// Two HALs ship with prucam:
//   - [github.com/ardnew/prucam/host/hal/sim] runs both cores in-process
//     against a simulated sensor. It is used by the tests and the
//     acceptance client when no hardware is present.
//   - [github.com/ardnew/prucam/host/hal/linux] maps the PRU-ICSS through
//     /dev/mem, waits for completion on a UIO device, and loads the core
//     firmware through remoteproc.
//
// # Implementing a HAL
//
// A HAL must guarantee that a frame buffer write performed by the transfer
// core before it raises completion is visible to the host once
// WaitCompletion returns, and that PublishAddress is visible to the
// transfer core before the trigger it precedes.
//
//	type MyHAL struct{ ... }
//
//	var _ hal.HostHAL = (*MyHAL)(nil)
package hal
