package vm

import (
	"fmt"
	"math"

	"github.com/fynite/microasm/operand"
)

// ErrMissingForeign is returned when an MNI call names an unregistered
// handler (spec.md §7 MissingForeign).
var ErrMissingForeign = fmt.Errorf("unregistered foreign function")

// ForeignFunc is one MNI handler: it receives the owning VM and the decoded
// argument list (terminated, but not including, the list's trailing None
// operand) and mutates registers/memory directly.
type ForeignFunc func(v *VM, args []operand.Operand) error

// ForeignRegistry is the process-wide "module.name" -> handler table
// spec.md §4.6 describes. A VM constructs its own instance rather than
// sharing a single global map, per SPEC_FULL.md's resolution of the
// "global foreign-call table" design note.
type ForeignRegistry struct {
	funcs map[string]ForeignFunc
}

// NewForeignRegistry builds a registry seeded with the built-in handlers
// spec.md §4.6 requires: Math.sin, IO.write, and the two self-referential
// recursion test handlers.
func NewForeignRegistry() *ForeignRegistry {
	r := &ForeignRegistry{funcs: make(map[string]ForeignFunc)}
	r.Register("Math", "sin", mniMathSin)
	r.Register("IO", "write", mniIOWrite)
	r.Register("Test", "recursiveCall", mniTestRecursiveCall)
	r.Register("Test", "recursiveCallbreaker", mniTestRecursiveCallbreaker)
	return r
}

// Register adds or replaces the handler for "module.name".
func (r *ForeignRegistry) Register(module, name string, fn ForeignFunc) {
	r.funcs[module+"."+name] = fn
}

// Lookup returns the handler for a fully-qualified "module.name", or
// ErrMissingForeign if none is registered.
func (r *ForeignRegistry) Lookup(fullName string) (ForeignFunc, error) {
	fn, ok := r.funcs[fullName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingForeign, fullName)
	}
	return fn, nil
}

// mniMathSin implements Math.sin(srcReg, destReg): dest <- int(sin(src)).
func mniMathSin(v *VM, args []operand.Operand) error {
	if len(args) != 2 {
		return fmt.Errorf("Math.sin requires 2 arguments (srcReg, destReg), got %d", len(args))
	}
	src, err := v.operandRegisterValue(args[0])
	if err != nil {
		return fmt.Errorf("Math.sin: %w", err)
	}
	destIdx, err := v.registerIndex(args[1])
	if err != nil {
		return fmt.Errorf("Math.sin: %w", err)
	}
	v.Regs[destIdx] = int32(math.Sin(float64(src)))
	return nil
}

// mniIOWrite implements IO.write(port, addr): prints the NUL-terminated
// string at addr to stdout (port 1) or stderr (port 2).
func mniIOWrite(v *VM, args []operand.Operand) error {
	if len(args) != 2 {
		return fmt.Errorf("IO.write requires 2 arguments (port, address), got %d", len(args))
	}
	port, err := v.readOperandValue(args[0], 4)
	if err != nil {
		return fmt.Errorf("IO.write: %w", err)
	}
	if port != 1 && port != 2 {
		return fmt.Errorf("IO.write: invalid port %d", port)
	}
	addr, err := v.effectiveAddress(args[1])
	if err != nil {
		return fmt.Errorf("IO.write: %w", err)
	}
	s, err := v.Mem.ReadCString(addr)
	if err != nil {
		return fmt.Errorf("IO.write: %w", err)
	}
	v.writeOut(int(port), []byte(s))
	return nil
}

// mniTestRecursiveCall is a self-test handler: pushes 42, pops it back, and
// stores it in RAX. Exercises the stack from inside a foreign call.
func mniTestRecursiveCall(v *VM, args []operand.Operand) error {
	newSP, err := v.Mem.Push(int(v.Regs[RSP]), 42)
	if err != nil {
		return err
	}
	v.Regs[RSP] = int32(newSP)
	val, newSP, err := v.Mem.Pop(int(v.Regs[RSP]))
	if err != nil {
		return err
	}
	v.Regs[RSP] = int32(newSP)
	v.Regs[RAX] = val
	return nil
}

// mniTestRecursiveCallbreaker exercises MNI-calling-MNI recursion: it calls
// Test.recursiveCall `count` times, then calls itself with count-1, until
// count reaches zero.
func mniTestRecursiveCallbreaker(v *VM, args []operand.Operand) error {
	if len(args) != 1 {
		return fmt.Errorf("Test.recursiveCallbreaker requires 1 argument (count), got %d", len(args))
	}
	count, err := v.readOperandValue(args[0], 4)
	if err != nil {
		return fmt.Errorf("Test.recursiveCallbreaker: %w", err)
	}
	if count <= 0 {
		return nil
	}
	for i := int32(0); i < count; i++ {
		if err := v.CallForeign("Test.recursiveCall", nil); err != nil {
			return err
		}
	}
	return v.CallForeign("Test.recursiveCallbreaker", []operand.Operand{
		{Kind: operand.Immediate, Value: count - 1},
	})
}
