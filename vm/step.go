package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fynite/microasm/heap"
	"github.com/fynite/microasm/memory"
	"github.com/fynite/microasm/operand"
)

// ErrArgOutOfRange is returned by GETARG when its index operand is outside
// 0..len(Args)-1 (spec.md §7 ArgError).
var ErrArgOutOfRange = fmt.Errorf("program argument index out of range")

// readCodeCString reads a NUL-terminated name directly out of the code
// stream (used by MNI, which embeds its function name inline rather than
// as a RAM reference).
func (v *VM) readCodeCString() (string, error) {
	start := int(v.IP)
	for int(v.IP) < len(v.Code) && v.Code[v.IP] != 0 {
		v.IP++
	}
	if int(v.IP) >= len(v.Code) {
		return "", fmt.Errorf("MNI: function name runs past end of code")
	}
	name := string(v.Code[start:v.IP])
	v.IP++
	return name, nil
}

// step decodes and executes one instruction of the given opcode, returning
// true if it was HLT.
func (v *VM) step(op Opcode) (bool, error) {
	switch op {
	case OpMov:
		return false, v.binaryMove(4)
	case OpMovB:
		return false, v.binaryMove(1)

	case OpAdd, OpSub, OpMul, OpDiv:
		return false, v.arith(op)

	case OpInc:
		d, err := v.decodeOperand()
		if err != nil {
			return false, err
		}
		val, err := v.readOperandValue(d, 4)
		if err != nil {
			return false, err
		}
		return false, v.writeOperandValue(d, val+1, 4)

	case OpAnd, OpOr, OpXor:
		return false, v.bitwise(op)

	case OpNot:
		d, err := v.decodeOperand()
		if err != nil {
			return false, err
		}
		val, err := v.readOperandValue(d, 4)
		if err != nil {
			return false, err
		}
		return false, v.writeOperandValue(d, ^val, 4)

	case OpShl, OpShr:
		return false, v.shift(op)

	case OpCmp:
		a, b, err := v.decodeTwo()
		if err != nil {
			return false, err
		}
		av, err := v.readOperandValue(a, 4)
		if err != nil {
			return false, err
		}
		bv, err := v.readOperandValue(b, 4)
		if err != nil {
			return false, err
		}
		v.Flags.SetCompare(av, bv)
		return false, nil

	case OpJmp:
		t, err := v.decodeOperand()
		if err != nil {
			return false, err
		}
		target, err := v.readOperandValue(t, 4)
		if err != nil {
			return false, err
		}
		v.IP = target
		return false, nil

	case OpJe, OpJne, OpJl, OpJg, OpJle, OpJge:
		t, err := v.decodeOperand()
		if err != nil {
			return false, err
		}
		target, err := v.readOperandValue(t, 4)
		if err != nil {
			return false, err
		}
		if jumpPredicate(op, v.Flags) {
			v.IP = target
		}
		return false, nil

	case OpCall:
		t, err := v.decodeOperand()
		if err != nil {
			return false, err
		}
		target, err := v.readOperandValue(t, 4)
		if err != nil {
			return false, err
		}
		newSP, err := v.Mem.Push(int(v.Regs[RSP]), v.IP)
		if err != nil {
			return false, err
		}
		v.Regs[RSP] = int32(newSP)
		v.IP = target
		return false, nil

	case OpRet:
		retIP, newSP, err := v.Mem.Pop(int(v.Regs[RSP]))
		if err != nil {
			return false, err
		}
		v.Regs[RSP] = int32(newSP)
		v.IP = retIP
		return false, nil

	case OpPush:
		s, err := v.decodeOperand()
		if err != nil {
			return false, err
		}
		val, err := v.readOperandValue(s, 4)
		if err != nil {
			return false, err
		}
		newSP, err := v.Mem.Push(int(v.Regs[RSP]), val)
		if err != nil {
			return false, err
		}
		v.Regs[RSP] = int32(newSP)
		return false, nil

	case OpPop:
		d, err := v.decodeOperand()
		if err != nil {
			return false, err
		}
		val, newSP, err := v.Mem.Pop(int(v.Regs[RSP]))
		if err != nil {
			return false, err
		}
		v.Regs[RSP] = int32(newSP)
		return false, v.writeOperandValue(d, val, 4)

	case OpEnter:
		k, err := v.decodeOperand()
		if err != nil {
			return false, err
		}
		size, err := v.readOperandValue(k, 4)
		if err != nil {
			return false, err
		}
		newSP, err := v.Mem.Push(int(v.Regs[RSP]), v.Regs[RBP])
		if err != nil {
			return false, err
		}
		v.Regs[RSP] = int32(newSP)
		v.Regs[RBP] = v.Regs[RSP]
		v.Regs[RSP] -= size
		if int(v.Regs[RSP]) < 0 {
			return false, fmt.Errorf("%w: ENTER %d underflows the stack", memory.ErrStackOverflow, size)
		}
		return false, nil

	case OpLeave:
		v.Regs[RSP] = v.Regs[RBP]
		val, newSP, err := v.Mem.Pop(int(v.Regs[RSP]))
		if err != nil {
			return false, err
		}
		v.Regs[RSP] = int32(newSP)
		v.Regs[RBP] = val
		return false, nil

	case OpMovAddr:
		return false, v.movAddr()

	case OpMovTo:
		return false, v.movTo()

	case OpCopy:
		return false, v.copyMem()

	case OpFill:
		return false, v.fillMem()

	case OpCmpMem:
		return false, v.cmpMem()

	case OpOut:
		return false, v.out()

	case OpCOut:
		return false, v.cout()

	case OpOutStr:
		return false, v.outStr()

	case OpOutChar:
		return false, v.outChar()

	case OpIn:
		return false, v.in()

	case OpArgc:
		d, err := v.decodeOperand()
		if err != nil {
			return false, err
		}
		return false, v.writeOperandValue(d, int32(len(v.Args)), 4)

	case OpGetArg:
		return false, v.getArg()

	case OpMalloc:
		return false, v.malloc()

	case OpFree:
		return false, v.free()

	case OpHlt:
		return true, nil

	case OpMni:
		return false, v.mni()

	default:
		return false, fmt.Errorf("unknown opcode 0x%02X", byte(op))
	}
}

func (v *VM) decodeTwo() (operand.Operand, operand.Operand, error) {
	a, err := v.decodeOperand()
	if err != nil {
		return operand.Operand{}, operand.Operand{}, err
	}
	b, err := v.decodeOperand()
	if err != nil {
		return operand.Operand{}, operand.Operand{}, err
	}
	return a, b, nil
}

func (v *VM) decodeThree() (operand.Operand, operand.Operand, operand.Operand, error) {
	a, b, err := v.decodeTwo()
	if err != nil {
		return operand.Operand{}, operand.Operand{}, operand.Operand{}, err
	}
	c, err := v.decodeOperand()
	if err != nil {
		return operand.Operand{}, operand.Operand{}, operand.Operand{}, err
	}
	return a, b, c, nil
}

func (v *VM) binaryMove(width int) error {
	d, s, err := v.decodeTwo()
	if err != nil {
		return err
	}
	val, err := v.readOperandValue(s, width)
	if err != nil {
		return err
	}
	return v.writeOperandValue(d, val, width)
}

func (v *VM) arith(op Opcode) error {
	d, s, err := v.decodeTwo()
	if err != nil {
		return err
	}
	dv, err := v.readOperandValue(d, 4)
	if err != nil {
		return err
	}
	sv, err := v.readOperandValue(s, 4)
	if err != nil {
		return err
	}
	var result int32
	switch op {
	case OpAdd:
		result = int32(uint32(dv) + uint32(sv))
	case OpSub:
		result = int32(uint32(dv) - uint32(sv))
	case OpMul:
		result = int32(uint32(dv) * uint32(sv))
	case OpDiv:
		if sv == 0 {
			return fmt.Errorf("%w: DIV by zero", operand.ErrDivideByZero)
		}
		result = dv / sv
	}
	return v.writeOperandValue(d, result, 4)
}

func (v *VM) bitwise(op Opcode) error {
	d, s, err := v.decodeTwo()
	if err != nil {
		return err
	}
	dv, err := v.readOperandValue(d, 4)
	if err != nil {
		return err
	}
	sv, err := v.readOperandValue(s, 4)
	if err != nil {
		return err
	}
	var result int32
	switch op {
	case OpAnd:
		result = dv & sv
	case OpOr:
		result = dv | sv
	case OpXor:
		result = dv ^ sv
	}
	return v.writeOperandValue(d, result, 4)
}

func (v *VM) shift(op Opcode) error {
	d, n, err := v.decodeTwo()
	if err != nil {
		return err
	}
	dv, err := v.readOperandValue(d, 4)
	if err != nil {
		return err
	}
	nv, err := v.readOperandValue(n, 4)
	if err != nil {
		return err
	}
	shiftBy := uint32(nv) & 31
	var result int32
	if op == OpShl {
		result = int32(uint32(dv) << shiftBy)
	} else {
		result = dv >> shiftBy // arithmetic right shift per spec.md §4.5
	}
	return v.writeOperandValue(d, result, 4)
}

// movAddr implements MOVADDR D, Areg, off: D <- i32 at RAM[R[Areg]+off].
func (v *VM) movAddr() error {
	d, areg, off, err := v.decodeThree()
	if err != nil {
		return err
	}
	baseIdx, err := v.registerIndex(areg)
	if err != nil {
		return err
	}
	offset, err := v.readOperandValue(off, 4)
	if err != nil {
		return err
	}
	addr := int(v.Regs[baseIdx]) + int(offset)
	val, err := v.Mem.ReadInt(addr, 4)
	if err != nil {
		return err
	}
	return v.writeOperandValue(d, val, 4)
}

// movTo implements MOVTO Areg, off, S: RAM[R[Areg]+off] <- S.
func (v *VM) movTo() error {
	areg, off, s, err := v.decodeThree()
	if err != nil {
		return err
	}
	baseIdx, err := v.registerIndex(areg)
	if err != nil {
		return err
	}
	offset, err := v.readOperandValue(off, 4)
	if err != nil {
		return err
	}
	val, err := v.readOperandValue(s, 4)
	if err != nil {
		return err
	}
	addr := int(v.Regs[baseIdx]) + int(offset)
	return v.Mem.WriteInt(addr, val, 4)
}

func (v *VM) copyMem() error {
	dst, src, length, err := v.decodeThree()
	if err != nil {
		return err
	}
	dstAddr, err := v.effectiveAddress(dst)
	if err != nil {
		return err
	}
	srcAddr, err := v.effectiveAddress(src)
	if err != nil {
		return err
	}
	l, err := v.readOperandValue(length, 4)
	if err != nil {
		return err
	}
	data, err := v.Mem.ReadBytes(srcAddr, int(l))
	if err != nil {
		return err
	}
	return v.Mem.WriteBytes(dstAddr, data)
}

func (v *VM) fillMem() error {
	dst, val, length, err := v.decodeThree()
	if err != nil {
		return err
	}
	dstAddr, err := v.effectiveAddress(dst)
	if err != nil {
		return err
	}
	vv, err := v.readOperandValue(val, 1)
	if err != nil {
		return err
	}
	l, err := v.readOperandValue(length, 4)
	if err != nil {
		return err
	}
	return v.Mem.Fill(dstAddr, byte(vv), int(l))
}

func (v *VM) cmpMem() error {
	a1, a2, length, err := v.decodeThree()
	if err != nil {
		return err
	}
	addr1, err := v.effectiveAddress(a1)
	if err != nil {
		return err
	}
	addr2, err := v.effectiveAddress(a2)
	if err != nil {
		return err
	}
	l, err := v.readOperandValue(length, 4)
	if err != nil {
		return err
	}
	cmp, err := v.Mem.Compare(addr1, addr2, int(l))
	if err != nil {
		return err
	}
	v.Flags.SetCompare(int32(cmp), 0)
	return nil
}

// out implements OUT P,S: an address-kind S prints a NUL-terminated
// string; anything else prints a decimal integer (spec.md §4.5, §9 open
// question on the OUT discriminator).
func (v *VM) out() error {
	p, s, err := v.decodeTwo()
	if err != nil {
		return err
	}
	port, err := v.readOperandValue(p, 4)
	if err != nil {
		return err
	}
	if port != 1 && port != 2 {
		return fmt.Errorf("invalid OUT port %d", port)
	}
	if s.Kind.IsAddressLike() {
		addr, err := v.effectiveAddress(s)
		if err != nil {
			return err
		}
		str, err := v.Mem.ReadCString(addr)
		if err != nil {
			return err
		}
		v.writeOut(int(port), []byte(str))
		return nil
	}
	val, err := v.readOperandValue(s, 4)
	if err != nil {
		return err
	}
	v.writeOut(int(port), []byte(strconv.Itoa(int(val))))
	return nil
}

func (v *VM) cout() error {
	p, s, err := v.decodeTwo()
	if err != nil {
		return err
	}
	port, err := v.readOperandValue(p, 4)
	if err != nil {
		return err
	}
	val, err := v.readOperandValue(s, 1)
	if err != nil {
		return err
	}
	v.writeOut(int(port), []byte{byte(val)})
	return nil
}

func (v *VM) outStr() error {
	p, a, length, err := v.decodeThree()
	if err != nil {
		return err
	}
	port, err := v.readOperandValue(p, 4)
	if err != nil {
		return err
	}
	addr, err := v.effectiveAddress(a)
	if err != nil {
		return err
	}
	l, err := v.readOperandValue(length, 4)
	if err != nil {
		return err
	}
	data, err := v.Mem.ReadBytes(addr, int(l))
	if err != nil {
		return err
	}
	v.writeOut(int(port), data)
	return nil
}

func (v *VM) outChar() error {
	p, a, err := v.decodeTwo()
	if err != nil {
		return err
	}
	port, err := v.readOperandValue(p, 4)
	if err != nil {
		return err
	}
	addr, err := v.effectiveAddress(a)
	if err != nil {
		return err
	}
	b, err := v.Mem.ReadByte(addr)
	if err != nil {
		return err
	}
	v.writeOut(int(port), []byte{b})
	return nil
}

// in implements IN D: reads one line from stdin and writes it, NUL
// terminated, at D's effective address. D must be an address-kind operand.
func (v *VM) in() error {
	d, err := v.decodeOperand()
	if err != nil {
		return err
	}
	if !d.Kind.IsAddressLike() {
		return fmt.Errorf("IN requires an address-kind destination, got %s", d.Kind)
	}
	addr, err := v.effectiveAddress(d)
	if err != nil {
		return err
	}
	line, err := v.Stdin.ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("IN: reading stdin: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	return v.Mem.WriteCString(addr, line)
}

func (v *VM) getArg() error {
	d, idx, err := v.decodeTwo()
	if err != nil {
		return err
	}
	i, err := v.readOperandValue(idx, 4)
	if err != nil {
		return err
	}
	if i < 0 || int(i) >= len(v.Args) {
		return fmt.Errorf("%w: index %d (have %d args)", ErrArgOutOfRange, i, len(v.Args))
	}
	arg := v.Args[i]
	addr := v.Heap.Alloc(len(arg) + 1)
	if addr == heap.FailedAlloc {
		return fmt.Errorf("GETARG: heap allocation failed for argument %d", i)
	}
	if err := v.Mem.WriteCString(int(addr), arg); err != nil {
		return err
	}
	return v.writeOperandValue(d, addr, 4)
}

func (v *VM) malloc() error {
	d, size, err := v.decodeTwo()
	if err != nil {
		return err
	}
	sz, err := v.readOperandValue(size, 4)
	if err != nil {
		return err
	}
	addr := v.Heap.Alloc(int(sz))
	v.Flags.SetFromHeapResult(addr)
	return v.writeOperandValue(d, addr, 4)
}

func (v *VM) free() error {
	d, ptr, err := v.decodeTwo()
	if err != nil {
		return err
	}
	p, err := v.readOperandValue(ptr, 4)
	if err != nil {
		return err
	}
	var result int32
	if err := v.Heap.Free(int(p)); err != nil {
		result = heap.FailedAlloc
	}
	v.Flags.SetFromHeapResult(result)
	return v.writeOperandValue(d, result, 4)
}

func (v *VM) mni() error {
	name, err := v.readCodeCString()
	if err != nil {
		return err
	}
	var args []operand.Operand
	for {
		a, err := v.decodeOperand()
		if err != nil {
			return err
		}
		if a.Kind == operand.None {
			break
		}
		args = append(args, a)
	}
	return v.CallForeign(name, args)
}
