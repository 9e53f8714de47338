// Package vm implements the MicroASM execution engine: register file,
// flags, the instruction dispatcher, the foreign-call registry, and trap
// reporting, per spec.md §3-§4.8.
package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/fynite/microasm/heap"
	"github.com/fynite/microasm/memory"
	"github.com/fynite/microasm/operand"
)

// InstructionHook is called before every instruction (and once more after
// HLT) when non-nil; it is the debugger's attachment point (spec.md §4.7,
// §9 "Debugger as a policy layer"). Returning an error aborts execution.
type InstructionHook func(v *VM) error

// VM owns everything a single run needs: RAM, registers, flags, heap
// metadata, and the foreign-call table. Nothing external mutates this
// state concurrently (spec.md §5).
type VM struct {
	Mem     *memory.Memory
	Heap    *heap.Allocator
	Foreign *ForeignRegistry

	Regs  Registers
	Flags Flags
	IP    int32
	Code  []byte

	// Labels maps debug-segment symbolic names to code offsets, for the
	// debugger and the trap formatter.
	Labels map[string]int32

	// Args are the program's own argv, visible via ARGC/GETARG.
	Args []string

	Stdout io.Writer
	Stderr io.Writer
	Stdin  *bufio.Reader

	// Trace enables the RBP-walked stack trace in trap reports.
	Trace bool
	Stats *Statistics
	Hook  InstructionHook

	callStack []string
	halted    bool
}

// New constructs a VM ready to run code against a freshly allocated RAM of
// ramSize bytes, with a heap region carved out of [heapStart, heapStart+heapSize).
func New(code []byte, ramSize, heapStart, heapSize int, programArgs []string) *VM {
	v := &VM{
		Mem:     memory.New(ramSize),
		Heap:    heap.New(heapStart, heapSize),
		Foreign: NewForeignRegistry(),
		Code:    code,
		Args:    programArgs,
		Labels:  make(map[string]int32),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Stdin:   bufio.NewReader(os.Stdin),
	}
	v.Regs[RSP] = int32(ramSize)
	v.Regs[RBP] = int32(ramSize)
	return v
}

// RuntimeError wraps a fatal error with the instruction pointer and opcode
// at fault, so the caller (main.go, or a test) can format a trap report
// without re-deriving that context.
type RuntimeError struct {
	IP     int32
	Opcode Opcode
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error at bytecode offset 0x%X (opcode 0x%02X %s): %v", e.IP, byte(e.Opcode), e.Opcode.Name(), e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Run sets IP to entryPoint and executes until HLT or a fatal error. It
// returns a *RuntimeError on any fault (spec.md §7 policy: none of these
// are recovered inside the VM).
func (v *VM) Run(entryPoint int32) error {
	v.IP = entryPoint
	for {
		if v.Hook != nil {
			if err := v.Hook(v); err != nil {
				return err
			}
		}
		if int(v.IP) < 0 || int(v.IP) >= len(v.Code) {
			return &RuntimeError{IP: v.IP, Err: fmt.Errorf("instruction pointer left the code segment")}
		}
		opIP := v.IP
		op := Opcode(v.Code[v.IP])
		v.IP++

		halt, err := v.step(op)
		if v.Stats != nil {
			v.Stats.RecordInstruction(op)
		}
		if err != nil {
			return &RuntimeError{IP: opIP, Opcode: op, Err: err}
		}
		if halt {
			v.halted = true
			if v.Hook != nil {
				_ = v.Hook(v)
			}
			return nil
		}
	}
}

// CallForeign invokes a registered MNI handler by its fully-qualified
// name, tracking it on the logical call stack for diagnostics. The frame
// is only popped on success, so a fatal error leaves the full call chain
// visible to the trap reporter (spec.md §4.6, §4.8).
func (v *VM) CallForeign(fullName string, args []operand.Operand) error {
	v.callStack = append(v.callStack, fullName)
	fn, err := v.Foreign.Lookup(fullName)
	if err != nil {
		return err
	}
	if err := fn(v, args); err != nil {
		return err
	}
	v.callStack = v.callStack[:len(v.callStack)-1]
	return nil
}

// CallStack returns the current MNI call-stack snapshot, most recent call
// last, for trap reporting.
func (v *VM) CallStack() []string {
	return v.callStack
}

// Halted reports whether the VM has executed HLT. The debugger's hook uses
// this to tell an ordinary pre-instruction pause from the final post-HLT
// call it receives (spec.md §4.7).
func (v *VM) Halted() bool {
	return v.halted
}

func (v *VM) writeOut(port int, data []byte) {
	w := v.Stdout
	if port == 2 {
		w = v.Stderr
	}
	_, _ = w.Write(data)
}

// maskToWidth zero-extends the low `width` bytes of val, dropping anything
// above it — the zero-extension policy spec.md's MOVB open question
// resolves for register/immediate sources of width < 4.
func maskToWidth(val int32, width int) int32 {
	if width >= 4 {
		return val
	}
	mask := uint32(1)<<(8*uint(width)) - 1
	return int32(uint32(val) & mask)
}

// decodeOperand reads one operand at the current IP, advancing it.
func (v *VM) decodeOperand() (operand.Operand, error) {
	op, newIP, err := operand.Decode(v.Code, int(v.IP))
	v.IP = int32(newIP)
	if err != nil {
		return operand.Operand{}, err
	}
	return op, nil
}

func (v *VM) registerIndex(op operand.Operand) (int, error) {
	if op.Kind != operand.Register {
		return 0, fmt.Errorf("expected a register operand, got %s", op.Kind)
	}
	if err := checkRegister(op.Value); err != nil {
		return 0, err
	}
	return int(op.Value), nil
}

func (v *VM) operandRegisterValue(op operand.Operand) (int32, error) {
	idx, err := v.registerIndex(op)
	if err != nil {
		return 0, err
	}
	return v.Regs[idx], nil
}

// effectiveAddress resolves an address-like operand to a RAM offset, per
// spec.md §4.2.
func (v *VM) effectiveAddress(op operand.Operand) (int, error) {
	switch op.Kind {
	case operand.RegisterAsAddress:
		if err := checkRegister(op.Value); err != nil {
			return 0, err
		}
		return int(v.Regs[op.Value]), nil
	case operand.DataAddress:
		return int(op.Value), nil
	case operand.MathOperator:
		regA, mop, other := op.MathOperatorFields()
		if err := checkRegister(int32(regA)); err != nil {
			return 0, err
		}
		v1 := v.Regs[regA]
		v2 := other
		if op.OtherIsReg {
			if err := checkRegister(other); err != nil {
				return 0, err
			}
			v2 = v.Regs[other]
		}
		result, err := operand.Eval(v1, v2, mop)
		if err != nil {
			return 0, err
		}
		return int(result), nil
	default:
		return 0, fmt.Errorf("operand kind %s is not address-like", op.Kind)
	}
}

// readOperandValue reads an operand's value as a width-byte integer:
// register contents, an embedded constant, or a RAM load through its
// effective address.
func (v *VM) readOperandValue(op operand.Operand, width int) (int32, error) {
	switch op.Kind {
	case operand.Register:
		if err := checkRegister(op.Value); err != nil {
			return 0, err
		}
		return maskToWidth(v.Regs[op.Value], width), nil
	case operand.Immediate, operand.LabelAddress:
		return maskToWidth(op.Value, width), nil
	case operand.DataAddress, operand.RegisterAsAddress, operand.MathOperator:
		addr, err := v.effectiveAddress(op)
		if err != nil {
			return 0, err
		}
		return v.Mem.ReadInt(addr, width)
	default:
		return 0, fmt.Errorf("cannot read a value from operand kind %s", op.Kind)
	}
}

// writeOperandValue writes val (truncated/zero-extended to width bytes) to
// a writable operand: a register, or RAM at an effective address.
func (v *VM) writeOperandValue(op operand.Operand, val int32, width int) error {
	if !op.Kind.Writable() {
		return fmt.Errorf("operand kind %s is not a writable destination", op.Kind)
	}
	switch op.Kind {
	case operand.Register:
		if err := checkRegister(op.Value); err != nil {
			return err
		}
		if width >= 4 {
			v.Regs[op.Value] = val
		} else {
			mask := uint32(1)<<(8*uint(width)) - 1
			v.Regs[op.Value] = int32(uint32(val) & mask)
		}
		return nil
	default:
		addr, err := v.effectiveAddress(op)
		if err != nil {
			return err
		}
		return v.Mem.WriteInt(addr, val, width)
	}
}
