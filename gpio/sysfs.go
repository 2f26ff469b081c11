package gpio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ardnew/prucam/pkg"
)

// SysfsPath is the legacy GPIO class directory.
const SysfsPath = "/sys/class/gpio"

// Sysfs drives lines through the sysfs GPIO interface.
type Sysfs struct {
	root string

	// exported tracks lines this Sysfs exported, so Release leaves lines
	// exported by someone else in place.
	exported map[int]bool
}

// NewSysfs returns a sysfs chip rooted at root. An empty root means
// SysfsPath.
func NewSysfs(root string) *Sysfs {
	if root == "" {
		root = SysfsPath
	}
	return &Sysfs{root: root, exported: map[int]bool{}}
}

func (s *Sysfs) line(num int) string {
	return filepath.Join(s.root, "gpio"+strconv.Itoa(num))
}

// Request exports the line if needed and sets it as an output at level.
// Writing "high" or "low" to direction sets the level without a glitch.
func (s *Sysfs) Request(num int, level bool) error {
	dir := s.line(num)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if err := writeSysfs(filepath.Join(s.root, "export"), strconv.Itoa(num)); err != nil {
			return err
		}
		s.exported[num] = true
		if err := waitExist(dir); err != nil {
			return err
		}
	}
	dirn := "low"
	if level {
		dirn = "high"
	}
	return writeSysfs(filepath.Join(dir, "direction"), dirn)
}

// Set writes the line value.
func (s *Sysfs) Set(num int, level bool) error {
	v := "0"
	if level {
		v = "1"
	}
	return writeSysfs(filepath.Join(s.line(num), "value"), v)
}

// Get reads the line value.
func (s *Sysfs) Get(num int) (bool, error) {
	b, err := os.ReadFile(filepath.Join(s.line(num), "value"))
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(string(b)) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: gpio%d value %q", pkg.ErrInvalidParameter, num, b)
	}
}

// Release unexports lines that Request exported.
func (s *Sysfs) Release(num int) error {
	if !s.exported[num] {
		return nil
	}
	delete(s.exported, num)
	return writeSysfs(filepath.Join(s.root, "unexport"), strconv.Itoa(num))
}

func writeSysfs(path, v string) error {
	return os.WriteFile(path, []byte(v), 0)
}

// waitExist waits for udev to finish creating an exported line.
func waitExist(path string) error {
	for range 50 {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		time.Sleep(2 * time.Millisecond)
	}
	return fmt.Errorf("gpio: %s did not appear", path)
}
