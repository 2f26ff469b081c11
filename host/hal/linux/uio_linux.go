package linux

import (
	"encoding/binary"
	"fmt"
	"syscall"
	"time"
)

// uioSource waits for PRU_EVTOUT interrupts on a uio_pruss device.
//
// Reading the device returns the interrupt count and writing a one
// re-enables the interrupt in the kernel handler.
type uioSource struct {
	fd    int
	p     *poller
	count uint32
	fired bool
}

func openUIO(path string) (irqSource, error) {
	fd, err := syscall.Open(path, syscall.O_RDWR|syscall.O_CLOEXEC|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	u, err := newUIOSource(fd)
	if err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return u, nil
}

// newUIOSource takes ownership of fd once it succeeds.
func newUIOSource(fd int) (*uioSource, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	u := &uioSource{fd: fd, p: p}
	if err := p.addFD(fd, EPOLLIN, u.onEvent); err != nil {
		p.close()
		return nil, err
	}
	return u, nil
}

func (u *uioSource) onEvent(events uint32) {
	if events&EPOLLIN == 0 {
		return
	}
	var buf [4]byte
	if n, err := syscall.Read(u.fd, buf[:]); err == nil && n == len(buf) {
		u.count = binary.LittleEndian.Uint32(buf[:])
		u.fired = true
	}
}

// wait re-enables the interrupt and blocks up to timeout. It reports
// whether the interrupt fired.
func (u *uioSource) wait(timeout time.Duration) (bool, error) {
	var one [4]byte
	binary.LittleEndian.PutUint32(one[:], 1)
	if _, err := syscall.Write(u.fd, one[:]); err != nil {
		return false, fmt.Errorf("uio enable: %w", err)
	}

	u.fired = false
	ms := int(timeout / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	if _, err := u.p.pollOnce(ms); err != nil {
		return false, err
	}
	return u.fired, nil
}

func (u *uioSource) interrupt() {
	u.p.wake()
}

func (u *uioSource) close() error {
	u.p.delFD(u.fd)
	err := u.p.close()
	if cerr := syscall.Close(u.fd); err == nil {
		err = cerr
	}
	return err
}
