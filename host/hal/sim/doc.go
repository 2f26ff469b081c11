// Package sim provides an in-process [hal.HostHAL] that runs both PRU
// cores as goroutines against a simulated sensor.
//
// The HAL is fully deterministic apart from goroutine scheduling: the
// simulated pixel bus advances only when the capture core reads it, so a
// frame takes as long as the cores take to move it. Halting the sensor
// reproduces a stalled camera, which the host observes as a timeout.
//
//	h := sim.New(sim.WithGeometry(pru.GeometryAR0130))
//	sub, err := host.Open(ctx, h, cfg)
package sim
