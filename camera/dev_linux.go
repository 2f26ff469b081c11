package camera

import "github.com/ardnew/prucam/sensor"

type busDev interface {
	sensor.Conn
	Close() error
}

func openDev(bus int, addr uint16) (busDev, error) {
	return sensor.OpenDev(bus, addr)
}
