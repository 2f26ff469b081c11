// Package gpio sequences the camera board's power, clock, reset and bus
// enable lines.
//
// Every line has a safe level, driven while the camera is off, and an
// enabled level. [Camera.Enable] drives the enabled levels in table order,
// which powers the regulator and clock before releasing reset;
// [Camera.Disable] walks the table backwards to the safe levels and
// releases the lines.
//
// Lines are driven through a [Chip]. [Sysfs] uses the legacy
// /sys/class/gpio interface; [Memory] records levels for tests and
// simulation.
package gpio
