//go:build linux

package linux

import (
	"sync"
	"syscall"
)

// =============================================================================
// Epoll Types
// =============================================================================

// pollDesc describes a file descriptor being polled.
type pollDesc struct {
	fd       int
	events   uint32
	callback func(uint32)
}

// =============================================================================
// Poller
// =============================================================================

// poller multiplexes interrupt devices with an eventfd used to release a
// blocked wait.
type poller struct {
	epfd   int
	wakefd int
	mu     sync.Mutex
	fds    map[int]*pollDesc
}

func newPoller() (*poller, error) {
	epfd, err := epollCreate1(syscall.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakefd, err := eventfdCreate(0, syscall.O_NONBLOCK|syscall.O_CLOEXEC)
	if err != nil {
		syscall.Close(epfd)
		return nil, err
	}

	p := &poller{
		epfd:   epfd,
		wakefd: wakefd,
		fds:    make(map[int]*pollDesc),
	}
	if err := p.addFD(wakefd, EPOLLIN, nil); err != nil {
		syscall.Close(wakefd)
		syscall.Close(epfd)
		return nil, err
	}
	return p, nil
}

func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.epfd < 0 {
		return nil
	}
	syscall.Close(p.wakefd)
	err := syscall.Close(p.epfd)
	p.wakefd, p.epfd = -1, -1
	p.fds = nil
	return err
}

func (p *poller) addFD(fd int, events uint32, callback func(uint32)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	event := syscall.EpollEvent{Events: events, Fd: int32(fd)}
	if err := epollCtl(p.epfd, syscall.EPOLL_CTL_ADD, fd, &event); err != nil {
		return err
	}
	p.fds[fd] = &pollDesc{fd: fd, events: events, callback: callback}
	return nil
}

func (p *poller) delFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.fds, fd)
	return epollCtl(p.epfd, syscall.EPOLL_CTL_DEL, fd, nil)
}

// wake releases a goroutine blocked in pollOnce.
func (p *poller) wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := syscall.Write(p.wakefd, buf[:])
	return err
}

// pollOnce waits up to timeout milliseconds and dispatches callbacks.
// It returns the number of callbacks run; a wake counts for none.
func (p *poller) pollOnce(timeout int) (int, error) {
	var events [MaxEpollEvents]syscall.EpollEvent

	n, err := epollWait(p.epfd, events[:], timeout)
	if err != nil {
		if err == syscall.EINTR {
			return 0, nil
		}
		return 0, err
	}

	processed := 0
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		evts := events[i].Events

		if fd == p.wakefd {
			var buf [8]byte
			syscall.Read(p.wakefd, buf[:])
			continue
		}

		p.mu.Lock()
		desc, ok := p.fds[fd]
		p.mu.Unlock()

		if ok && desc.callback != nil {
			desc.callback(evts)
			processed++
		}
	}
	return processed, nil
}

// =============================================================================
// Syscall Wrappers
// =============================================================================

func epollCreate1(flags int) (int, error) {
	return syscall.EpollCreate1(flags)
}

// epollCtl accepts a nil event for EPOLL_CTL_DEL.
func epollCtl(epfd, op, fd int, event *syscall.EpollEvent) error {
	if event == nil {
		event = &syscall.EpollEvent{}
	}
	return syscall.EpollCtl(epfd, op, fd, event)
}

func epollWait(epfd int, events []syscall.EpollEvent, timeout int) (int, error) {
	return syscall.EpollWait(epfd, events, timeout)
}

// eventfdCreate has no wrapper in package syscall.
func eventfdCreate(initval uint, flags int) (int, error) {
	fd, _, errno := syscall.Syscall(syscall.SYS_EVENTFD2, uintptr(initval), uintptr(flags), 0)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}
