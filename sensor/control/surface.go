package control

import (
	"fmt"
	"slices"
	"sort"

	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/sensor"
)

// Guard runs fn exclusively with respect to frame captures.
// host.Controller satisfies it.
type Guard interface {
	Exclusive(fn func() error) error
}

// Surface is the named settings interface of one sensor.
type Surface struct {
	bus    sensor.Bus
	guard  Guard
	fields map[string]*Field
	names  []string
}

// New returns a settings surface over bus. A nil guard lets writes proceed
// unconditionally.
func New(bus sensor.Bus, guard Guard) *Surface {
	s := &Surface{bus: bus, guard: guard, fields: map[string]*Field{}}
	for _, f := range Fields() {
		s.fields[f.Name] = f
		s.names = append(s.names, f.Name)
	}
	sort.Strings(s.names)
	return s
}

// Names returns every setting name in sorted order.
func (s *Surface) Names() []string { return slices.Clone(s.names) }

// Field returns the named field.
func (s *Surface) Field(name string) (*Field, error) {
	f, ok := s.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", pkg.ErrUnknownSetting, name)
	}
	return f, nil
}

// Context returns the register bank currently selected in the sensor.
func (s *Surface) Context() (Context, error) {
	v, err := s.bus.ReadReg(sensor.RegDigitalTest)
	if err != nil {
		return ContextA, err
	}
	return Context(v >> contextBit & 1), nil
}

// Get reads a setting.
func (s *Surface) Get(name string) (uint16, error) {
	f, err := s.Field(name)
	if err != nil {
		return 0, err
	}
	c, err := s.Context()
	if err != nil {
		return 0, err
	}
	return f.Read(s.bus, c)
}

// Set writes a setting. It fails with pkg.ErrBusy while a capture is in
// flight and with a *RangeError when v does not fit.
func (s *Surface) Set(name string, v int) error {
	f, err := s.Field(name)
	if err != nil {
		return err
	}
	return s.exclusive(func() error { return s.set(f, v) })
}

func (s *Surface) set(f *Field, v int) error {
	c, err := s.Context()
	if err != nil {
		return err
	}
	if err := f.Write(s.bus, c, v); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentControl, "setting written", "name", f.Name, "value", v, "context", c)
	return nil
}

// Apply writes several settings under one exclusive hold. The context
// select is written first so banked settings land in the chosen bank; the
// rest follow in name order. Apply stops at the first failure.
func (s *Surface) Apply(settings map[string]int) error {
	names := make([]string, 0, len(settings))
	for name := range settings {
		if _, err := s.Field(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == "context" || names[j] == "context" {
			return names[i] == "context"
		}
		return names[i] < names[j]
	})

	return s.exclusive(func() error {
		for _, name := range names {
			if err := s.set(s.fields[name], settings[name]); err != nil {
				return err
			}
		}
		pkg.LogInfo(pkg.ComponentControl, "settings applied", "count", len(names))
		return nil
	})
}

// Snapshot reads every setting in the current context.
func (s *Surface) Snapshot() (map[string]uint16, error) {
	c, err := s.Context()
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint16, len(s.names))
	for _, name := range s.names {
		v, err := s.fields[name].Read(s.bus, c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func (s *Surface) exclusive(fn func() error) error {
	if s.guard == nil {
		return fn()
	}
	return s.guard.Exclusive(fn)
}
