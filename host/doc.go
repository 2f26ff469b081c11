// Package host implements the host side of the prucam capture protocol.
//
// A [Subsystem] is the explicit context object for one camera: it owns the
// HAL, the single frame buffer, the bring-up stages (sensor power, register
// tables) and the [Controller]. It is created by [Open] and destroyed by
// [Subsystem.Close]; every resource acquired in Open is released in reverse
// order on Close or on a failed Open.
//
// # Capture Protocol
//
// [Controller.Capture] runs one handshake cycle under an exclusive lock:
//
//	Idle → HandshakeSent → WaitingCompletion → {Completed, TimedOut, Faulted} → Idle
//
// Each cycle proceeds as follows:
//
//  1. Clear any completion left pending by an abandoned cycle.
//  2. Publish the frame buffer address (per-capture address mode).
//  3. Raise the trigger event.
//  4. Wait for the completion event, bounded by the configured timeout.
//  5. Copy exactly rows × cols × bytes-per-pixel bytes to the caller.
//
// On timeout the destination is untouched and, unless disabled, the abort
// event is raised so both cores return to idle. The next capture waits for
// the cores to report idle before clearing abort and triggering again.
// Nothing is retried.
//
// # Device
//
// [Device] adapts the controller to [io.Reader] with the semantics of the
// kernel character device: every Read captures a fresh frame and requires
// a buffer of at least one frame.
package host
