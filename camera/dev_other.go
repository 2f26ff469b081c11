//go:build !linux

package camera

import (
	"fmt"

	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/sensor"
)

type busDev interface {
	sensor.Conn
	Close() error
}

func openDev(bus int, addr uint16) (busDev, error) {
	return nil, fmt.Errorf("%w: i2c-%d on this platform", pkg.ErrNotSupported, bus)
}
