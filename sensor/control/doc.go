// Package control exposes the sensor's tunable settings by name.
//
// Each setting is a [Field]: a view of one register, a bit range within a
// register, or a start/end register pair. Fields that the sensor banks per
// context resolve to the context A or context B register depending on the
// context select bit currently programmed in the sensor.
//
// A [Surface] can be bound to a [Guard] such as the capture controller, in
// which case writes are refused with pkg.ErrBusy while a capture is in
// flight.
package control
