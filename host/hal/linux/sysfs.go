package linux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/pru"
)

// =============================================================================
// Remoteproc
// =============================================================================

// ErrRemoteproc indicates a core failed to reach the requested state.
var ErrRemoteproc = errors.New("remoteproc state change failed")

// remoteproc controls one core through /sys/class/remoteproc/<name>.
type remoteproc struct {
	core     pru.Core
	dir      string
	firmware string // empty keeps the image already selected
	interval time.Duration
	attempts int
}

func newRemoteproc(core pru.Core, root, name, firmware string) remoteproc {
	return remoteproc{
		core:     core,
		dir:      filepath.Join(root, name),
		firmware: firmware,
		interval: rprocPollInterval,
		attempts: rprocPollAttempts,
	}
}

func (r remoteproc) state() (string, error) {
	return readSysfsString(filepath.Join(r.dir, "state"))
}

// start loads the firmware and runs the core. A core left running by a
// previous process is stopped first so the image is reloaded.
func (r remoteproc) start(ctx context.Context) error {
	st, err := r.state()
	if err != nil {
		return fmt.Errorf("%s core: %w", r.core, err)
	}
	if st == RprocRunning {
		pkg.LogWarn(pkg.ComponentHAL, "core already running, restarting", "core", r.core)
		if err := r.stop(ctx); err != nil {
			return err
		}
	}
	if r.firmware != "" {
		if err := writeSysfsString(filepath.Join(r.dir, "firmware"), r.firmware); err != nil {
			return fmt.Errorf("%s core firmware: %w", r.core, err)
		}
	}
	if err := writeSysfsString(filepath.Join(r.dir, "state"), rprocStart); err != nil {
		return fmt.Errorf("%s core start: %w", r.core, err)
	}
	return r.await(ctx, RprocRunning)
}

func (r remoteproc) stop(ctx context.Context) error {
	st, err := r.state()
	if err != nil {
		return fmt.Errorf("%s core: %w", r.core, err)
	}
	if st == RprocOffline {
		return nil
	}
	if err := writeSysfsString(filepath.Join(r.dir, "state"), rprocStop); err != nil {
		return fmt.Errorf("%s core stop: %w", r.core, err)
	}
	return r.await(ctx, RprocOffline)
}

// await polls the state attribute until it reads want.
func (r remoteproc) await(ctx context.Context, want string) error {
	var last string
	for i := 0; i < r.attempts; i++ {
		st, err := r.state()
		if err != nil {
			return fmt.Errorf("%s core: %w", r.core, err)
		}
		if st == want {
			return nil
		}
		if st == RprocCrashed {
			return fmt.Errorf("%w: %s core crashed", ErrRemoteproc, r.core)
		}
		last = st

		t := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("%w: %s core is %q, want %q", ErrRemoteproc, r.core, last, want)
}

// =============================================================================
// Sysfs Helpers
// =============================================================================

// readSysfsString reads a string from a sysfs attribute file.
func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// writeSysfsString writes one value to an existing attribute file.
func writeSysfsString(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
