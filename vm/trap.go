package vm

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// ResolveLabel finds the nearest debug label at or before addr and formats
// it as "label+offset", or a bare hex address if no label precedes it.
// Mirrors the original interpreter's getAddr.
func (v *VM) ResolveLabel(addr int32) string {
	var bestName string
	bestDist := int32(-1)
	for name, labelAddr := range v.Labels {
		d := addr - labelAddr
		if d >= 0 && (bestDist < 0 || d < bestDist) {
			bestDist = d
			bestName = name
		}
	}
	if bestName == "" {
		return fmt.Sprintf("0x%X", addr)
	}
	return fmt.Sprintf("%s+%d", bestName, bestDist)
}

// stackTrace walks the RBP chain: each frame's saved return address lives
// at RBP+4 and the caller's saved RBP at RBP itself (spec.md §4.8).
func (v *VM) stackTrace() []string {
	var frames []string
	rbp := v.Regs[RBP]
	ip := v.IP
	for rbp != 0 {
		frames = append(frames, v.ResolveLabel(ip))
		retIP, err := v.Mem.ReadInt(int(rbp)+4, 4)
		if err != nil {
			break
		}
		savedRBP, err := v.Mem.ReadInt(int(rbp), 4)
		if err != nil {
			break
		}
		ip = retIP
		rbp = savedRBP
	}
	return frames
}

// WriteTrapReport prints the full diagnostic sequence for a fatal runtime
// error: the MNI call stack (if any), the error itself, an optional
// RBP-walked stack trace, the 24-register dump, and the heap's unfreed
// block report — in that order, per spec.md §4.8.
func (v *VM) WriteTrapReport(w io.Writer, rerr *RuntimeError) {
	if stack := v.CallStack(); len(stack) > 0 {
		fmt.Fprintln(w, "MNI Call Stack (most recent call last):")
		for _, name := range stack {
			fmt.Fprintf(w, "  at %s\n", name)
		}
	}

	fmt.Fprintf(w, "\nRuntime Error at bytecode offset 0x%X (Opcode: 0x%02X %s): %v\n", rerr.IP, byte(rerr.Opcode), rerr.Opcode.Name(), rerr.Err)

	if v.Trace {
		fmt.Fprintln(w, "\nStack Trace (most recent call first):")
		for _, frame := range v.stackTrace() {
			fmt.Fprintln(w, frame)
		}
		fmt.Fprintln(w)
	}

	v.writeRegisterDump(w)
	v.writeUnfreedReport(w)
}

const (
	regsPerRow = 8
	colWidth   = 12
)

// writeRegisterDump prints all 24 registers, 8 per row, each cell showing
// decimal then hex, inside an ASCII box — matching the original
// interpreter's trap formatter layout (minus ANSI color, which has no
// portable stdout/stderr equivalent here).
func (v *VM) writeRegisterDump(w io.Writer) {
	fmt.Fprintln(w, "Register dump:")
	rows := (NumRegisters + regsPerRow - 1) / regsPerRow
	border := "+" + strings.Repeat("-", regsPerRow*(colWidth+1)-1) + "+"

	fmt.Fprintln(w, border)
	for row := 0; row < rows; row++ {
		fmt.Fprint(w, "|")
		for col := 0; col < regsPerRow; col++ {
			idx := row*regsPerRow + col
			if idx < NumRegisters {
				fmt.Fprintf(w, "%s|", centered(RegisterName(idx), colWidth))
			} else {
				fmt.Fprintf(w, "%s|", strings.Repeat(" ", colWidth))
			}
		}
		fmt.Fprintln(w)

		fmt.Fprint(w, "|")
		for col := 0; col < regsPerRow; col++ {
			idx := row*regsPerRow + col
			if idx < NumRegisters {
				fmt.Fprintf(w, "%*d |", colWidth-1, v.Regs[idx])
			} else {
				fmt.Fprintf(w, "%s|", strings.Repeat(" ", colWidth))
			}
		}
		fmt.Fprintln(w)

		fmt.Fprint(w, "|")
		for col := 0; col < regsPerRow; col++ {
			idx := row*regsPerRow + col
			if idx < NumRegisters {
				hexVal := fmt.Sprintf("0x%08X", uint32(v.Regs[idx]))
				fmt.Fprintf(w, "%s|", centered(hexVal, colWidth))
			} else {
				fmt.Fprintf(w, "%s|", strings.Repeat(" ", colWidth))
			}
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, border)
	}
	fmt.Fprintf(w, "  ZF=%v, SF=%v\n\n", v.Flags.ZF, v.Flags.SF)
}

func centered(s string, width int) string {
	pad := width - len(s)
	if pad <= 0 {
		return s
	}
	left := pad / 2
	right := pad - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}

// writeUnfreedReport prints every block the heap allocator still considers
// live at shutdown/trap time (spec.md §3 "On halt or fatal error the VM
// reports unfreed heap blocks").
func (v *VM) writeUnfreedReport(w io.Writer) {
	live := v.Heap.LiveBlocks()
	if len(live) == 0 {
		fmt.Fprintln(w, "Heap: no unfreed blocks.")
		return
	}
	sort.Ints(live)
	fmt.Fprintf(w, "Heap: %d unfreed block(s):\n", len(live))
	for _, addr := range live {
		fmt.Fprintf(w, "  at 0x%X\n", addr)
	}
}
