package sensor

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ardnew/prucam/pkg"
)

// Bus reads and writes 16-bit sensor registers.
type Bus interface {
	ReadReg(reg uint16) (uint16, error)
	WriteReg(reg, val uint16) error
}

// Conn is a raw connection to one device on an I2C bus.
//
// Tx writes w and, if r is non-empty, reads len(r) bytes back in the same
// transaction without releasing the bus.
type Conn interface {
	Tx(w, r []byte) error
}

// RegisterError records a failed register access.
type RegisterError struct {
	Op  string
	Reg uint16
	Err error
}

func (e *RegisterError) Error() string {
	return fmt.Sprintf("sensor: %s 0x%04x: %v", e.Op, e.Reg, e.Err)
}

func (e *RegisterError) Unwrap() error { return e.Err }

// I2C frames register accesses for an AR013x on a [Conn].
type I2C struct {
	mu   sync.Mutex
	conn Conn
}

// NewI2C returns a register bus over conn.
func NewI2C(conn Conn) *I2C {
	return &I2C{conn: conn}
}

// ReadReg writes the register address and reads the value.
func (b *I2C) ReadReg(reg uint16) (uint16, error) {
	var w [2]byte
	var r [2]byte
	binary.BigEndian.PutUint16(w[:], reg)

	b.mu.Lock()
	err := b.conn.Tx(w[:], r[:])
	b.mu.Unlock()
	if err != nil {
		return 0, &RegisterError{Op: "read", Reg: reg, Err: err}
	}
	val := binary.BigEndian.Uint16(r[:])
	pkg.LogDebug(pkg.ComponentSensor, "read register", "reg", fmt.Sprintf("0x%04x", reg), "val", fmt.Sprintf("0x%04x", val))
	return val, nil
}

// WriteReg writes the register address followed by the value.
func (b *I2C) WriteReg(reg, val uint16) error {
	var w [4]byte
	binary.BigEndian.PutUint16(w[0:], reg)
	binary.BigEndian.PutUint16(w[2:], val)

	b.mu.Lock()
	err := b.conn.Tx(w[:], nil)
	b.mu.Unlock()
	if err != nil {
		return &RegisterError{Op: "write", Reg: reg, Err: err}
	}
	pkg.LogDebug(pkg.ComponentSensor, "wrote register", "reg", fmt.Sprintf("0x%04x", reg), "val", fmt.Sprintf("0x%04x", val))
	return nil
}
