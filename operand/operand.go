// Package operand implements MicroASM's tagged operand model: the sum type
// shared by every instruction, and the variable-width wire codec used to
// read and write it from a code stream.
package operand

import "fmt"

// Kind tags the meaning of an operand's value. The numeric values match the
// low nibble of the wire header byte (see Decode) and the original
// microasm_decoder.cpp OperandType enum.
type Kind uint8

const (
	None Kind = iota
	Register
	Immediate
	LabelAddress
	DataAddress
	RegisterAsAddress
	MathOperator
)

func (k Kind) String() string {
	switch k {
	case None:
		return "None"
	case Register:
		return "Register"
	case Immediate:
		return "Immediate"
	case LabelAddress:
		return "LabelAddress"
	case DataAddress:
		return "DataAddress"
	case RegisterAsAddress:
		return "RegisterAsAddress"
	case MathOperator:
		return "MathOperator"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Op is a MathOperator sub-opcode, packed into bits 8..15 of a MathOperator
// operand's value.
type Op uint8

const (
	OpAdd Op = iota
	OpSub
	OpBSub // reverse SUB: other - reg
	OpMul
	OpDiv
	OpBDiv // reverse DIV: other / reg
	OpLsl
	OpLsr
	OpBLsl // reverse LSL: other << reg
	OpBLsr // reverse LSR: other >> reg
	OpAnd
	OpOr
	OpXor
)

func (o Op) String() string {
	names := [...]string{"ADD", "SUB", "BSUB", "MUL", "DIV", "BDIV", "LSL", "LSR", "BLSL", "BLSR", "AND", "OR", "XOR"}
	if int(o) < len(names) {
		return names[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// kindMathOperatorOtherIsReg is the dedicated header-byte value (not a width
// nibble) that marks a MathOperator operand whose "other" operand is a
// register index rather than an embedded immediate. This mirrors the
// original interpreter's nextRawOperand, which special-cases header byte
// value 6 directly rather than treating it as an orthogonal flag bit — see
// SPEC_FULL.md §4.10 for the resolved Open Question.
const kindMathOperatorOtherIsReg = 6

// Operand is a single decoded instruction operand: a kind tag plus its
// interpreted value. For MathOperator, Value packs (regA, op, other) as
// described by Decode, and OtherIsReg records whether "other" is a register
// index or an embedded immediate.
type Operand struct {
	Kind      Kind
	Value     int32
	OtherIsReg bool
}

// MathOperatorFields unpacks a MathOperator operand's Value into its
// register-A index, sub-opcode, and "other" field (register index or
// immediate per OtherIsReg).
func (op Operand) MathOperatorFields() (regA int, mop Op, other int32) {
	v := uint32(op.Value)
	regA = int(v & 0xFF)
	mop = Op((v >> 8) & 0xFF)
	other = int32(int16(v >> 16))
	return
}

// widthOf returns the wire byte width encoded by a header byte's high
// nibble, honoring the MicroASM special cases: a width nibble of 0 means 4
// bytes in general, except that a MathOperator header (distinguished by the
// dedicated low-nibble value 6) defaults to 3 bytes when its width nibble is
// 0.
func widthOf(header byte) int {
	nibble := int(header >> 4)
	lowNibble := header & 0x0F
	if nibble == 0 {
		if lowNibble == kindMathOperatorOtherIsReg {
			return 3
		}
		return 4
	}
	return nibble
}

// Decode reads one operand starting at code[ip]: a 1-byte header, then
// size little-endian value bytes (zero for Kind None). It returns the
// decoded operand and the advanced ip.
func Decode(code []byte, ip int) (Operand, int, error) {
	if ip >= len(code) {
		return Operand{}, ip, fmt.Errorf("operand: header byte past end of code (ip=%d, len=%d)", ip, len(code))
	}
	header := code[ip]
	ip++

	lowNibble := header & 0x0F
	kind := Kind(lowNibble)
	otherIsReg := header == kindMathOperatorOtherIsReg

	if kind == None {
		return Operand{Kind: None, Value: 0}, ip, nil
	}

	size := widthOf(header)
	if size < 1 || size > 6 {
		return Operand{}, ip, fmt.Errorf("operand: invalid width %d in header 0x%02X", size, header)
	}
	if ip+size > len(code) {
		return Operand{}, ip, fmt.Errorf("operand: value bytes past end of code (ip=%d, size=%d, len=%d)", ip, size, len(code))
	}

	var acc uint64
	for i := 0; i < size; i++ {
		acc |= uint64(code[ip+i]) << (8 * uint(i))
	}
	ip += size

	value := reconstruct(kind, acc, size)

	return Operand{Kind: kind, Value: value, OtherIsReg: otherIsReg}, ip, nil
}

// reconstruct turns a raw little-endian accumulator of `size` bytes into a
// signed 32-bit value, per the sign/zero-extension policy in SPEC_FULL.md:
// address-like operands (DataAddress, RegisterAsAddress, MathOperator,
// Register) zero-extend from the wire; Immediate/LabelAddress sign-extend
// once reconstructed to a full 32 bits from widths below 4.
func reconstruct(kind Kind, acc uint64, size int) int32 {
	switch size {
	case 1:
		b := byte(acc)
		if kind == Immediate || kind == LabelAddress {
			return int32(int8(b))
		}
		return int32(b)
	case 2:
		v := uint16(acc)
		if kind == Immediate || kind == LabelAddress {
			return int32(int16(v))
		}
		return int32(v)
	case 3:
		v := uint32(acc) & 0xFFFFFF
		if kind == Immediate || kind == LabelAddress {
			// sign-extend from bit 23
			if v&0x800000 != 0 {
				v |= 0xFF000000
			}
			return int32(v)
		}
		return int32(v)
	case 4:
		return int32(uint32(acc))
	case 5, 6:
		// No kind needs more than 32 bits of payload; widths above 4 just
		// carry redundant zero/sign-extension padding bytes on the wire.
		return int32(uint32(acc))
	default:
		return int32(uint32(acc))
	}
}

// EncodeWidth returns the byte width Encode will use for the given kind and
// value, i.e. the smallest size in {1,2,3,4} that can represent value.
// MathOperator is special-cased: the otherIsReg form packs regA(8)+op(8)+
// otherReg(8) into 3 bytes, but the immediate-other form needs the full
// regA(8)+op(8)+other(16) = 4 bytes, or a 16-bit "other" silently loses its
// high byte (see Encode).
func EncodeWidth(kind Kind, value int32, otherIsReg bool) int {
	if kind == MathOperator {
		if otherIsReg {
			return 3
		}
		return 4
	}
	if kind == None {
		return 0
	}
	u := uint32(value)
	signed := kind == Immediate || kind == LabelAddress // see reconstruct
	switch {
	case signed && value >= -128 && value <= 127, !signed && u <= 0xFF:
		return 1
	case signed && value >= -32768 && value <= 32767, !signed && u <= 0xFFFF:
		return 2
	case signed && value >= -(1<<23) && value < 1<<23, !signed && u <= 0xFFFFFF:
		return 3
	default:
		return 4
	}
}

// Encode appends the wire encoding of operand (kind, value, otherIsReg) to
// buf using the given width, and returns the extended buffer.
func Encode(buf []byte, kind Kind, value int32, width int, otherIsReg bool) ([]byte, error) {
	if kind == None {
		return append(buf, 0), nil
	}
	if width < 1 || width > 6 {
		return nil, fmt.Errorf("operand: invalid encode width %d", width)
	}

	var header byte
	switch {
	case kind == MathOperator && otherIsReg:
		// other is an 8-bit register index: regA(8)+op(8)+otherReg(8) fits in
		// the dedicated 3-byte sentinel header (see kindMathOperatorOtherIsReg).
		if width != 3 {
			return nil, fmt.Errorf("operand: MathOperator otherIsReg must encode at width 3, got %d", width)
		}
		header = kindMathOperatorOtherIsReg
	case kind == MathOperator:
		// other is a 16-bit immediate: regA(8)+op(8)+other(16) needs the full
		// 4 bytes. The width-4 nibble can't be 0 here (0<<4|6 collides with
		// the otherIsReg sentinel above), so the nibble is the literal width.
		if width != 4 {
			return nil, fmt.Errorf("operand: MathOperator immediate-other must encode at width 4, got %d", width)
		}
		header = byte(width)<<4 | byte(kind)
	default:
		nibble := byte(width)
		if width == 4 {
			nibble = 0
		}
		header = nibble<<4 | byte(kind)
	}
	buf = append(buf, header)

	u := uint64(uint32(value))
	for i := 0; i < width; i++ {
		buf = append(buf, byte(u>>(8*uint(i))))
	}
	return buf, nil
}

// Writable reports whether an operand of this kind may be a destination.
// None, Immediate and LabelAddress are read-only constants.
func (k Kind) Writable() bool {
	switch k {
	case None, Immediate, LabelAddress:
		return false
	default:
		return true
	}
}

// IsAddressLike reports whether the kind resolves to an effective RAM
// address (as opposed to a register or a bare constant).
func (k Kind) IsAddressLike() bool {
	switch k {
	case DataAddress, RegisterAsAddress, MathOperator:
		return true
	default:
		return false
	}
}

// ErrDivideByZero is returned by Eval when a MathOperator's DIV or BDIV
// sub-opcode divides by zero while computing an effective address.
var ErrDivideByZero = fmt.Errorf("division by zero in MathOperator address computation")

// Eval computes a MathOperator's effective address from the two
// already-resolved operand values (v1 = R[regA], v2 = other, per OtherIsReg).
// Arithmetic wraps on overflow per two's-complement semantics.
func Eval(v1, v2 int32, op Op) (int32, error) {
	u1, u2 := uint32(v1), uint32(v2)
	switch op {
	case OpAdd:
		return int32(u1 + u2), nil
	case OpSub:
		return int32(u1 - u2), nil
	case OpBSub:
		return int32(u2 - u1), nil
	case OpMul:
		return int32(u1 * u2), nil
	case OpDiv:
		if v2 == 0 {
			return 0, ErrDivideByZero
		}
		return v1 / v2, nil
	case OpBDiv:
		if v1 == 0 {
			return 0, ErrDivideByZero
		}
		return v2 / v1, nil
	case OpLsl:
		return int32(u1 << (u2 & 31)), nil
	case OpLsr:
		return int32(u1 >> (u2 & 31)), nil
	case OpBLsl:
		return int32(u2 << (u1 & 31)), nil
	case OpBLsr:
		return int32(u2 >> (u1 & 31)), nil
	case OpAnd:
		return int32(u1 & u2), nil
	case OpOr:
		return int32(u1 | u2), nil
	case OpXor:
		return int32(u1 ^ u2), nil
	default:
		return 0, fmt.Errorf("operand: unknown MathOperator op %d", uint8(op))
	}
}
