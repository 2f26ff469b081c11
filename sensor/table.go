package sensor

import (
	"context"
	"embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/prucam/pkg"
)

//go:embed tables/*.yaml
var tables embed.FS

// Step is one entry of a register table: either a register write or a
// delay.
type Step struct {
	Reg   uint16
	Val   uint16
	Delay time.Duration
}

// IsDelay reports whether the step pauses instead of writing.
func (s Step) IsDelay() bool { return s.Delay > 0 }

type rawStep struct {
	Reg   *uint16 `yaml:"reg"`
	Val   *uint16 `yaml:"val"`
	Delay *uint   `yaml:"delay"`
}

// UnmarshalYAML accepts {reg, val} or {delay} where delay is in
// milliseconds.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var raw rawStep
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch {
	case raw.Delay != nil && raw.Reg == nil && raw.Val == nil:
		if *raw.Delay == 0 {
			return fmt.Errorf("%w: line %d: zero delay", pkg.ErrInvalidParameter, node.Line)
		}
		*s = Step{Delay: time.Duration(*raw.Delay) * time.Millisecond}
	case raw.Delay == nil && raw.Reg != nil && raw.Val != nil:
		if *raw.Reg == 0 {
			return fmt.Errorf("%w: line %d: register 0x0000", pkg.ErrInvalidParameter, node.Line)
		}
		*s = Step{Reg: *raw.Reg, Val: *raw.Val}
	default:
		return fmt.Errorf("%w: line %d: step needs reg and val, or delay", pkg.ErrInvalidParameter, node.Line)
	}
	return nil
}

// MarshalYAML emits the same shape UnmarshalYAML accepts.
func (s Step) MarshalYAML() (any, error) {
	if s.IsDelay() {
		return map[string]int64{"delay": s.Delay.Milliseconds()}, nil
	}
	return map[string]uint16{"reg": s.Reg, "val": s.Val}, nil
}

// Table is an ordered register sequence for one sensor model.
type Table struct {
	Model   string `yaml:"model"`
	Address uint16 `yaml:"address"`
	Steps   []Step `yaml:"steps"`
}

// Writes returns the number of register writes in the table.
func (t *Table) Writes() int {
	n := 0
	for _, s := range t.Steps {
		if !s.IsDelay() {
			n++
		}
	}
	return n
}

// Duration returns the sum of all delays.
func (t *Table) Duration() time.Duration {
	var d time.Duration
	for _, s := range t.Steps {
		d += s.Delay
	}
	return d
}

// ParseTable decodes a YAML register table.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if len(t.Steps) == 0 {
		return nil, fmt.Errorf("%w: empty register table", pkg.ErrInvalidParameter)
	}
	if t.Address == 0 {
		t.Address = DefaultAddress
	}
	return &t, nil
}

// LoadTable reads a YAML register table from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// StartupTable returns the embedded bring-up table for model.
func StartupTable(model Model) (*Table, error) {
	switch model {
	case ModelAR0130, ModelAR0134:
	default:
		return nil, fmt.Errorf("%w: %v", pkg.ErrUnknownSensor, model)
	}
	data, err := tables.ReadFile("tables/" + model.String() + ".yaml")
	if err != nil {
		return nil, err
	}
	return ParseTable(data)
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits on a timer and honors ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PlayOption configures [Play].
type PlayOption func(*player)

type player struct {
	sleep SleepFunc
}

// WithSleep replaces the delay implementation.
func WithSleep(fn SleepFunc) PlayOption {
	return func(p *player) { p.sleep = fn }
}

// Play writes every step of t to bus in order. A failed write is logged
// and skipped; the count of failed writes is returned. Play stops early
// only when ctx is done.
func Play(ctx context.Context, bus Bus, t *Table, opts ...PlayOption) (int, error) {
	p := player{sleep: Sleep}
	for _, opt := range opts {
		opt(&p)
	}

	failed := 0
	for i, s := range t.Steps {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if s.IsDelay() {
			if err := p.sleep(ctx, s.Delay); err != nil {
				return failed, err
			}
			continue
		}
		if err := bus.WriteReg(s.Reg, s.Val); err != nil {
			failed++
			pkg.LogWarn(pkg.ComponentSensor, "register write failed",
				"step", i, "reg", fmt.Sprintf("0x%04x", s.Reg), "error", err)
		}
	}
	pkg.LogInfo(pkg.ComponentSensor, "register table applied",
		"model", t.Model, "writes", t.Writes(), "failed", failed)
	return failed, nil
}

// Init identifies the sensor on bus and applies its startup table.
func Init(ctx context.Context, bus Bus, opts ...PlayOption) (Model, error) {
	model, err := Detect(bus)
	if err != nil {
		return ModelUnknown, err
	}
	t, err := StartupTable(model)
	if err != nil {
		return model, err
	}
	if _, err := Play(ctx, bus, t, opts...); err != nil {
		return model, err
	}
	return model, nil
}
