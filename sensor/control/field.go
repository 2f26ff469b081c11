package control

import (
	"fmt"

	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/sensor"
)

// Context selects one of the sensor's two register banks.
type Context int

// Register banks.
const (
	ContextA Context = 0
	ContextB Context = 1
)

// String returns "A" or "B".
func (c Context) String() string {
	if c == ContextB {
		return "B"
	}
	return "A"
}

// contextBit is the bank select in the digital test register.
const contextBit = 13

// Kind describes how a field maps onto registers.
type Kind int

// Field kinds.
const (
	// KindRegister reads and writes a whole register. Reads are masked to
	// the field width.
	KindRegister Kind = iota

	// KindBits reads and writes a bit range with read-modify-write.
	KindBits

	// KindSpan presents an end register as a size relative to its start
	// register.
	KindSpan
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRegister:
		return "register"
	case KindBits:
		return "bits"
	case KindSpan:
		return "span"
	default:
		return "unknown"
	}
}

// RangeError reports a value rejected by a field.
type RangeError struct {
	Name  string
	Value int
	Min   int
	Max   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("control: %s value %d out of range [%d, %d]", e.Name, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return pkg.ErrOutOfRange }

// Field is a typed view of one setting.
type Field struct {
	Name string
	Kind Kind

	// Reg holds the context A and context B registers. Unbanked fields use
	// the same register for both.
	Reg [2]uint16

	// Start holds the start registers of a span.
	Start [2]uint16

	// Shift holds the bit offset per context for KindBits.
	Shift [2]uint

	// Bits is the field width.
	Bits uint

	// Limit is the exclusive upper bound of a written register value.
	// Zero means the field width is the only bound.
	Limit uint16

	// after runs once a write has succeeded.
	after func(bus sensor.Bus, v uint16) error
}

// Banked reports whether the field resolves differently per context.
func (f *Field) Banked() bool { return f.Reg[0] != f.Reg[1] || f.Shift[0] != f.Shift[1] }

func (f *Field) mask() uint16 {
	if f.Bits >= 16 {
		return 0xFFFF
	}
	return uint16(1)<<f.Bits - 1
}

// Read returns the field value in context c.
func (f *Field) Read(bus sensor.Bus, c Context) (uint16, error) {
	raw, err := bus.ReadReg(f.Reg[c])
	if err != nil {
		return 0, err
	}
	switch f.Kind {
	case KindBits:
		return raw >> f.Shift[c] & f.mask(), nil
	case KindSpan:
		start, err := bus.ReadReg(f.Start[c])
		if err != nil {
			return 0, err
		}
		return raw - start + 1, nil
	default:
		return raw & f.mask(), nil
	}
}

// Write stores v in context c.
func (f *Field) Write(bus sensor.Bus, c Context, v int) error {
	switch f.Kind {
	case KindSpan:
		return f.writeSpan(bus, c, v)
	case KindBits:
		if err := f.check(v, 0, int(f.mask())); err != nil {
			return err
		}
		raw, err := bus.ReadReg(f.Reg[c])
		if err != nil {
			return err
		}
		m := f.mask() << f.Shift[c]
		raw = raw&^m | uint16(v)<<f.Shift[c]&m
		if err := bus.WriteReg(f.Reg[c], raw); err != nil {
			return err
		}
	default:
		hi := int(f.mask())
		if f.Limit > 0 {
			hi = int(f.Limit) - 1
		}
		if err := f.check(v, 0, hi); err != nil {
			return err
		}
		if err := bus.WriteReg(f.Reg[c], uint16(v)); err != nil {
			return err
		}
	}
	if f.after != nil {
		return f.after(bus, uint16(v))
	}
	return nil
}

func (f *Field) writeSpan(bus sensor.Bus, c Context, v int) error {
	start, err := bus.ReadReg(f.Start[c])
	if err != nil {
		return err
	}
	if err := f.check(v, 1, int(f.Limit)-int(start)); err != nil {
		return err
	}
	return bus.WriteReg(f.Reg[c], start+uint16(v)-1)
}

func (f *Field) check(v, lo, hi int) error {
	if v < lo || v > hi {
		return &RangeError{Name: f.Name, Value: v, Min: lo, Max: hi}
	}
	return nil
}
