package gpio

import (
	"fmt"
	"sync"

	"github.com/ardnew/prucam/pkg"
)

// Change is one level change recorded by [Memory].
type Change struct {
	Num   int
	Level bool
}

// Memory is an in-process chip that records every level it drives.
type Memory struct {
	mu      sync.Mutex
	levels  map[int]bool
	owned   map[int]bool
	history []Change
	fail    map[int]error
}

// NewMemory returns an empty chip.
func NewMemory() *Memory {
	return &Memory{levels: map[int]bool{}, owned: map[int]bool{}, fail: map[int]error{}}
}

func (m *Memory) Request(num int, level bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[num]; err != nil {
		return err
	}
	if m.owned[num] {
		return fmt.Errorf("%w: gpio%d", pkg.ErrBusy, num)
	}
	m.owned[num] = true
	m.drive(num, level)
	return nil
}

func (m *Memory) Set(num int, level bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.owned[num] {
		return fmt.Errorf("%w: gpio%d not requested", pkg.ErrNotRunning, num)
	}
	m.drive(num, level)
	return nil
}

func (m *Memory) Get(num int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[num], nil
}

func (m *Memory) Release(num int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.owned, num)
	return nil
}

func (m *Memory) drive(num int, level bool) {
	m.levels[num] = level
	m.history = append(m.history, Change{Num: num, Level: level})
}

// Fail makes Request of num return err.
func (m *Memory) Fail(num int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[num] = err
}

// Owned reports whether num is requested.
func (m *Memory) Owned(num int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owned[num]
}

// History returns every recorded change.
func (m *Memory) History() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Change(nil), m.history...)
}
