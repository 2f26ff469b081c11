//go:build linux

package sensor

import (
	"fmt"
	"os"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/ardnew/prucam/pkg"
)

// i2c-dev ioctl requests.
const (
	i2cSlave = 0x0703
	i2cRdwr  = 0x0707
)

const i2cMsgRead = 0x0001

type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type i2cRdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Dev is a [Conn] over a Linux i2c-dev character device.
type Dev struct {
	f    *os.File
	addr uint16
}

// OpenDev opens /dev/i2c-<bus> and binds it to the device at addr.
func OpenDev(bus int, addr uint16) (*Dev, error) {
	path := fmt.Sprintf("/dev/i2c-%d", bus)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	d := &Dev{f: f, addr: addr}
	if err := d.ioctl(i2cSlave, uintptr(addr)); err != nil {
		f.Close()
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentSensor, "opened i2c device", "path", path, "addr", fmt.Sprintf("0x%02x", addr))
	return d, nil
}

// Close releases the character device.
func (d *Dev) Close() error {
	var err error
	if d.f != nil {
		err = d.f.Close()
		d.f = nil
	}
	return err
}

// Tx performs a plain write when r is empty, otherwise a combined
// write-then-read with a repeated start.
func (d *Dev) Tx(w, r []byte) error {
	if d.f == nil {
		return os.ErrClosed
	}
	if len(w) == 0 {
		return pkg.ErrInvalidParameter
	}
	if len(r) == 0 {
		n, err := d.f.Write(w)
		if err != nil {
			return fmt.Errorf("i2c write: %w", err)
		}
		if n != len(w) {
			return pkg.ErrShortTransfer
		}
		return nil
	}

	msgs := [2]i2cMsg{
		{addr: d.addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))},
		{addr: d.addr, flags: i2cMsgRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))},
	}
	data := i2cRdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}
	err := d.ioctl(i2cRdwr, uintptr(unsafe.Pointer(&data)))
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	runtime.KeepAlive(&msgs)
	return err
}

func (d *Dev) ioctl(op, arg uintptr) error {
	if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, d.f.Fd(), op, arg); errno != 0 {
		return fmt.Errorf("i2c ioctl: %w", errno)
	}
	return nil
}
