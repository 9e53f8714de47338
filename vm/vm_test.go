package vm

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/fynite/microasm/operand"
)

// enc encodes a single operand at a fixed width, panicking on error — test
// helper only, never reachable from production code paths.
func enc(kind operand.Kind, value int32, width int) []byte {
	b, err := operand.Encode(nil, kind, value, width, false)
	if err != nil {
		panic(err)
	}
	return b
}

func encMathOperator(regA int, op operand.Op, other int32, otherIsReg bool) []byte {
	value := int32(uint32(regA&0xFF) | uint32(byte(op))<<8 | uint32(uint16(other))<<16)
	width := operand.EncodeWidth(operand.MathOperator, value, otherIsReg)
	b, err := operand.Encode(nil, operand.MathOperator, value, width, otherIsReg)
	if err != nil {
		panic(err)
	}
	return b
}

func none() []byte { return []byte{0} }

func newTestVM(code []byte) *VM {
	v := New(code, 4096, 2048, 1024, nil)
	var out, errOut bytes.Buffer
	v.Stdout = &out
	v.Stderr = &errOut
	return v
}

func TestHelloWorldViaDataSegment(t *testing.T) {
	var code []byte
	code = append(code, byte(OpOut))
	code = append(code, enc(operand.Immediate, 1, 1)...)
	code = append(code, enc(operand.DataAddress, 256, 2)...)
	code = append(code, byte(OpHlt))

	v := newTestVM(code)
	msg := "Hello, World!\n\x00"
	if err := v.Mem.WriteBytes(256, []byte(msg)); err != nil {
		t.Fatalf("seeding data segment: %v", err)
	}

	if err := v.Run(0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := v.Stdout.(*bytes.Buffer).String()
	if got != "Hello, World!\n" {
		t.Errorf("stdout = %q, want %q", got, "Hello, World!\n")
	}
}

func TestArithmeticAndFlags(t *testing.T) {
	var notTaken, taken []byte
	notTaken = append(notTaken, byte(OpOut))
	notTaken = append(notTaken, enc(operand.Immediate, 1, 1)...)
	notTaken = append(notTaken, enc(operand.Immediate, 0, 1)...)
	notTaken = append(notTaken, byte(OpHlt))

	taken = append(taken, byte(OpOut))
	taken = append(taken, enc(operand.Immediate, 1, 1)...)
	taken = append(taken, enc(operand.Immediate, 1, 1)...)
	taken = append(taken, byte(OpHlt))

	var head []byte
	head = append(head, byte(OpMov))
	head = append(head, enc(operand.Register, RAX, 1)...)
	head = append(head, enc(operand.Immediate, 7, 1)...)
	head = append(head, byte(OpMov))
	head = append(head, enc(operand.Register, RBX, 1)...)
	head = append(head, enc(operand.Immediate, 5, 1)...)
	head = append(head, byte(OpCmp))
	head = append(head, enc(operand.Register, RAX, 1)...)
	head = append(head, enc(operand.Register, RBX, 1)...)
	head = append(head, byte(OpJg))
	jmpOperand := enc(operand.Immediate, 0, 4) // patched below
	head = append(head, jmpOperand...)

	target := int32(len(head) + len(notTaken))
	copy(head[len(head)-4:], enc(operand.Immediate, target, 4)[1:])

	code := append(append(head, notTaken...), taken...)

	v := newTestVM(code)
	if err := v.Run(0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := v.Stdout.(*bytes.Buffer).String(); got != "1" {
		t.Errorf("stdout = %q, want %q", got, "1")
	}
	if v.Flags.ZF || v.Flags.SF {
		t.Errorf("flags after HLT: ZF=%v SF=%v, want both false", v.Flags.ZF, v.Flags.SF)
	}
}

func TestCallRetWithFrame(t *testing.T) {
	var fBody []byte
	fBody = append(fBody, byte(OpEnter))
	fBody = append(fBody, enc(operand.Immediate, 8, 1)...)
	fBody = append(fBody, byte(OpMov))
	fBody = append(fBody, encMathOperator(RBP, operand.OpSub, 4, false)...)
	fBody = append(fBody, enc(operand.Immediate, 42, 1)...)
	fBody = append(fBody, byte(OpMovAddr))
	fBody = append(fBody, enc(operand.Register, RAX, 1)...)
	fBody = append(fBody, enc(operand.Register, RBP, 1)...)
	fBody = append(fBody, enc(operand.Immediate, -4, 1)...)
	fBody = append(fBody, byte(OpLeave))
	fBody = append(fBody, byte(OpRet))

	var main []byte
	main = append(main, byte(OpCall))
	callTarget := enc(operand.Immediate, 0, 4) // patched below
	main = append(main, callTarget...)
	main = append(main, byte(OpHlt))

	fOffset := int32(len(main))
	copy(main[1:], enc(operand.Immediate, fOffset, 4))

	code := append(main, fBody...)

	v := newTestVM(code)
	preRBP, preRSP := v.Regs[RBP], v.Regs[RSP]
	if err := v.Run(0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.Regs[RAX] != 42 {
		t.Errorf("RAX = %d, want 42", v.Regs[RAX])
	}
	if v.Regs[RBP] != preRBP || v.Regs[RSP] != preRSP {
		t.Errorf("RBP/RSP after return = %d/%d, want %d/%d", v.Regs[RBP], v.Regs[RSP], preRBP, preRSP)
	}
}

func TestHeapRoundTrip(t *testing.T) {
	var code []byte
	code = append(code, byte(OpMalloc))
	code = append(code, enc(operand.Register, RAX, 1)...)
	code = append(code, enc(operand.Immediate, 16, 1)...)
	code = append(code, byte(OpFill))
	code = append(code, enc(operand.RegisterAsAddress, RAX, 1)...)
	code = append(code, enc(operand.Immediate, 65, 1)...)
	code = append(code, enc(operand.Immediate, 16, 1)...)
	code = append(code, byte(OpOutStr))
	code = append(code, enc(operand.Immediate, 1, 1)...)
	code = append(code, enc(operand.RegisterAsAddress, RAX, 1)...)
	code = append(code, enc(operand.Immediate, 16, 1)...)
	code = append(code, byte(OpFree))
	code = append(code, enc(operand.Register, RBX, 1)...)
	code = append(code, enc(operand.Register, RAX, 1)...)
	code = append(code, byte(OpHlt))

	v := newTestVM(code)
	if err := v.Run(0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "AAAAAAAAAAAAAAAA"
	if got := v.Stdout.(*bytes.Buffer).String(); got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
	if v.Regs[RBX] != 0 {
		t.Errorf("RBX (free result) = %d, want 0", v.Regs[RBX])
	}
	if len(v.Heap.LiveBlocks()) != 0 {
		t.Errorf("unfreed blocks after Free: %v", v.Heap.LiveBlocks())
	}
}

func TestDivisionTrap(t *testing.T) {
	var code []byte
	code = append(code, byte(OpMov))
	code = append(code, enc(operand.Register, RAX, 1)...)
	code = append(code, enc(operand.Immediate, 10, 1)...)
	code = append(code, byte(OpMov))
	code = append(code, enc(operand.Register, RBX, 1)...)
	code = append(code, enc(operand.Immediate, 0, 1)...)
	code = append(code, byte(OpDiv))
	code = append(code, enc(operand.Register, RAX, 1)...)
	code = append(code, enc(operand.Register, RBX, 1)...)

	v := newTestVM(code)
	err := v.Run(0)
	if err == nil {
		t.Fatal("expected a division trap")
	}
	rerr, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %T: %v", err, err)
	}
	if rerr.Opcode != OpDiv {
		t.Errorf("trapped opcode = %s, want DIV", rerr.Opcode.Name())
	}
	if got := v.Stdout.(*bytes.Buffer).String(); got != "" {
		t.Errorf("stdout = %q, want empty", got)
	}
}

func TestForeignCallEcho(t *testing.T) {
	var code []byte
	code = append(code, byte(OpMov))
	code = append(code, enc(operand.Register, RAX, 1)...)
	code = append(code, enc(operand.Immediate, 99, 1)...)
	code = append(code, byte(OpMni))
	code = append(code, []byte("Test.echo\x00")...)
	code = append(code, enc(operand.Register, RAX, 1)...)
	code = append(code, none()...)
	code = append(code, byte(OpHlt))

	v := newTestVM(code)
	v.Foreign.Register("Test", "echo", func(vm *VM, args []operand.Operand) error {
		if len(args) != 1 {
			return fmt.Errorf("Test.echo requires 1 argument, got %d", len(args))
		}
		val, err := vm.readOperandValue(args[0], 4)
		if err != nil {
			return err
		}
		vm.writeOut(1, []byte(fmt.Sprintf("echoed:%d", val)))
		return nil
	})

	if err := v.Run(0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := v.Stdout.(*bytes.Buffer).String()
	if got != "echoed:99" {
		t.Errorf("stdout = %q, want %q", got, "echoed:99")
	}
}

func TestJumpPredicates(t *testing.T) {
	cases := []struct {
		op   Opcode
		zf   bool
		sf   bool
		want bool
	}{
		{OpJe, true, false, true},
		{OpJe, false, false, false},
		{OpJne, false, false, true},
		{OpJl, false, true, true},
		{OpJg, false, false, true},
		{OpJg, true, false, false},
		{OpJle, true, false, true},
		{OpJle, false, true, true},
		{OpJge, true, true, true},
		{OpJge, false, false, true},
		{OpJge, false, true, false},
	}
	for _, c := range cases {
		got := jumpPredicate(c.op, Flags{ZF: c.zf, SF: c.sf})
		if got != c.want {
			t.Errorf("%s(ZF=%v,SF=%v) = %v, want %v", c.op.Name(), c.zf, c.sf, got, c.want)
		}
	}
}

func TestRegisterNames(t *testing.T) {
	if RegisterName(RAX) != "RAX" || RegisterName(RSP) != "RSP" || RegisterName(R15) != "R15" {
		t.Errorf("unexpected register naming: RAX=%s RSP=%s R15=%s", RegisterName(RAX), RegisterName(RSP), RegisterName(R15))
	}
}

func TestDoubleFreeSetsNonZeroAndFlagsButDoesNotAbort(t *testing.T) {
	var code []byte
	code = append(code, byte(OpFree))
	code = append(code, enc(operand.Register, RBX, 1)...)
	code = append(code, enc(operand.Immediate, 999999, 4)...)
	code = append(code, byte(OpHlt))

	v := newTestVM(code)
	if err := v.Run(0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.Regs[RBX] == 0 {
		t.Error("expected non-zero FREE result for an unknown pointer")
	}
	if !v.Flags.SF {
		t.Error("expected SF set for a negative FREE result")
	}
}
