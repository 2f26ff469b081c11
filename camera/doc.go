// Package camera assembles a complete capture rig from a [config.Config]:
// the host HAL, the power sequencer, the sensor bring-up, the control
// surface and the event publisher.
//
//	cam, err := camera.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer cam.Close()
//
//	f, err := cam.Capture(ctx)
//	if err != nil {
//		return err
//	}
//	files, err := cam.Save(f)
//
// The simulated backend stands an in-memory GPIO chip and sensor
// register file in for the hardware, so the whole rig runs off target.
package camera
