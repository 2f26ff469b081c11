package sensor

import (
	"fmt"
	"sync"
)

// Access is one register operation observed by a [RegisterFile].
type Access struct {
	Write bool
	Reg   uint16
	Val   uint16
}

// RegisterFile is an in-memory [Bus] that behaves like a sensor on the
// bench. Reads of unwritten registers return zero.
type RegisterFile struct {
	mu     sync.Mutex
	regs   map[uint16]uint16
	log    []Access
	faults map[uint16]error
}

// NewRegisterFile returns a register file reporting the given model in
// its chip version register.
func NewRegisterFile(model Model) *RegisterFile {
	return &RegisterFile{
		regs:   map[uint16]uint16{RegChipVersion: uint16(model)},
		faults: map[uint16]error{},
	}
}

// ReadReg returns the stored value.
func (f *RegisterFile) ReadReg(reg uint16) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.faults[reg]; err != nil {
		return 0, &RegisterError{Op: "read", Reg: reg, Err: err}
	}
	v := f.regs[reg]
	f.log = append(f.log, Access{Reg: reg, Val: v})
	return v, nil
}

// WriteReg stores the value.
func (f *RegisterFile) WriteReg(reg, val uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.faults[reg]; err != nil {
		return &RegisterError{Op: "write", Reg: reg, Err: err}
	}
	f.regs[reg] = val
	f.log = append(f.log, Access{Write: true, Reg: reg, Val: val})
	return nil
}

// Fail makes every access to reg return err. A nil err clears the fault.
func (f *RegisterFile) Fail(reg uint16, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.faults, reg)
		return
	}
	f.faults[reg] = err
}

// Peek returns a register value without logging the access.
func (f *RegisterFile) Peek(reg uint16) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[reg]
}

// Poke sets a register value without logging the access.
func (f *RegisterFile) Poke(reg, val uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[reg] = val
}

// Accesses returns a copy of the access log.
func (f *RegisterFile) Accesses() []Access {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Access(nil), f.log...)
}

// Writes returns only the logged writes.
func (f *RegisterFile) Writes() []Access {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Access
	for _, a := range f.log {
		if a.Write {
			out = append(out, a)
		}
	}
	return out
}

// String returns a short summary.
func (f *RegisterFile) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("regfile(%d regs, %d accesses)", len(f.regs), len(f.log))
}

var _ Bus = (*RegisterFile)(nil)
