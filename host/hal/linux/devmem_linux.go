package linux

import (
	"fmt"
	"os"
	"syscall"

	"github.com/ardnew/prucam/pkg"
)

// devMem maps physical ranges through /dev/mem.
type devMem struct {
	path string
}

func sysMapper() mapper {
	return devMem{path: DevMemPath}
}

func (d devMem) Map(phys uint32, size int) ([]byte, error) {
	if size <= 0 || int(phys)%os.Getpagesize() != 0 {
		return nil, fmt.Errorf("%w: map 0x%08x+%d", pkg.ErrInvalidAddress, phys, size)
	}
	fd, err := syscall.Open(d.path, syscall.O_RDWR|syscall.O_SYNC|syscall.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.path, err)
	}
	// The mapping outlives the descriptor.
	defer syscall.Close(fd)

	b, err := syscall.Mmap(fd, int64(phys), size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap 0x%08x+%d: %w", phys, size, err)
	}
	return b, nil
}

func (d devMem) Unmap(b []byte) error {
	if b == nil {
		return nil
	}
	return syscall.Munmap(b)
}
