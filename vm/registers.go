package vm

import "fmt"

// Register indices, fixed by spec.md §3. RBP and RSP carry dedicated roles
// (frame base / stack top) but are ordinary entries in the register file;
// nothing in this package special-cases their storage.
const (
	RAX = 0
	RBX = 1
	RCX = 2
	RDX = 3
	RSI = 4
	RDI = 5
	RBP = 6
	RSP = 7
	R0  = 8
	R1  = 9
	R2  = 10
	R3  = 11
	R4  = 12
	R5  = 13
	R6  = 14
	R7  = 15
	R8  = 16
	R9  = 17
	R10 = 18
	R11 = 19
	R12 = 20
	R13 = 21
	R14 = 22
	R15 = 23
)

// NumRegisters is the fixed register file width.
const NumRegisters = 24

var registerNames = [NumRegisters]string{
	"RAX", "RBX", "RCX", "RDX", "RSI", "RDI", "RBP", "RSP",
	"R0", "R1", "R2", "R3", "R4", "R5", "R6", "R7",
	"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
}

// RegisterName returns the canonical name for a register index, or a
// placeholder for anything outside 0..23.
func RegisterName(index int) string {
	if index < 0 || index >= NumRegisters {
		return fmt.Sprintf("R?%d", index)
	}
	return registerNames[index]
}

// Registers is the VM's fixed-size signed 32-bit register file.
type Registers [NumRegisters]int32

// ErrBadRegister is returned when a decoded register index falls outside
// 0..23 (spec.md §7 InvalidOperand).
var ErrBadRegister = fmt.Errorf("register index out of range 0..23")

func checkRegister(index int32) error {
	if index < 0 || int(index) >= NumRegisters {
		return fmt.Errorf("%w: got %d", ErrBadRegister, index)
	}
	return nil
}
