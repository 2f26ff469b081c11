package gpio

import "fmt"

// Line numbers on the AM335x.
const (
	Flash   = 16
	Standby = 82
	SAddr   = 83
	Reset   = 84
	InputEn = 85
	CamOE   = 96
	BusOE   = 97
	Trigger = 98
	VRegEn  = 100
	ClkEn   = 106
)

// Pin is one output line of the camera board.
type Pin struct {
	Name   string
	Num    int
	Safe   bool // level while the camera is off
	Enable bool // level while the camera is on
	Settle bool // wait after driving the enabled level
}

// String returns "name(num)".
func (p Pin) String() string { return fmt.Sprintf("%s(%d)", p.Name, p.Num) }

// CameraPins is the enable order of the camera lines. The output enables
// are active low; reset is active low; standby is active high.
var CameraPins = []Pin{
	{Name: "vreg_en", Num: VRegEn, Safe: false, Enable: true, Settle: true},
	{Name: "clk_en", Num: ClkEn, Safe: false, Enable: true, Settle: true},
	{Name: "saddr", Num: SAddr, Safe: false, Enable: false},
	{Name: "standby", Num: Standby, Safe: true, Enable: false},
	{Name: "reset", Num: Reset, Safe: false, Enable: true, Settle: true},
	{Name: "input_en", Num: InputEn, Safe: false, Enable: true},
	{Name: "cam_oe", Num: CamOE, Safe: true, Enable: false},
	{Name: "bus_oe", Num: BusOE, Safe: true, Enable: false},
	{Name: "trigger", Num: Trigger, Safe: false, Enable: false},
	{Name: "flash", Num: Flash, Safe: false, Enable: false},
}

// Chip drives numbered output lines.
type Chip interface {
	// Request claims a line as an output driven at level.
	Request(num int, level bool) error
	Set(num int, level bool) error
	Get(num int) (bool, error)
	Release(num int) error
}
