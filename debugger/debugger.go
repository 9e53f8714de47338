// Package debugger implements MicroASM's interactive line-mode debugger:
// a breakpoint/step policy layer that attaches to a *vm.VM via its
// InstructionHook, plus the command loop described in spec.md §4.7.
//
// It deliberately does not reproduce the teacher's full expression
// evaluator, watchpoints, or GUI front ends — spec.md's debugger surface
// is a much smaller command set (step, breakpoint, continue, addr,
// status, stdout, exit, help) over decimal/hex/label addresses.
package debugger

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fynite/microasm/vm"
)

// errExit is returned by the hook once the "exit" command has been
// issued, stopping VM.Run immediately rather than letting the program
// run to completion unsupervised.
var errExit = fmt.Errorf("debugger: session ended by exit command")

// mode selects how the VM hook treats each pre-instruction callback:
// modeStepping counts down a fixed instruction budget before pausing
// again; modeRunning only pauses at a breakpoint.
type mode int

const (
	modeStepping mode = iota
	modeRunning
)

// Debugger wraps a VM with breakpoint tracking, a bounded command history,
// and the line-mode REPL that drives single-stepping and inspection.
type Debugger struct {
	VM          *vm.VM
	Breakpoints *BreakpointManager
	History     *History
	Prompt      string

	out io.Writer
	in  *bufio.Reader

	mode          mode
	stepRemaining int
	quit          bool
}

// New returns a Debugger attached to v, ready to run. prompt is the
// resolved PS1 string (config.DebuggerPrompt); historySize bounds the
// command history (0 = unlimited).
func New(v *vm.VM, prompt string, historySize int, out io.Writer, in io.Reader) *Debugger {
	d := &Debugger{
		VM:          v,
		Breakpoints: NewBreakpointManager(),
		History:     NewHistory(historySize),
		Prompt:      prompt,
		out:         out,
		in:          bufio.NewReader(in),
		mode:        modeStepping,
	}
	v.Hook = d.hook
	return d
}

// hook is the VM's InstructionHook: it runs before every instruction (and
// once more after HLT) and decides whether execution should pause for the
// command loop. In modeStepping it allows exactly stepRemaining
// instructions through before pausing again; in modeRunning it only
// pauses at a breakpoint.
func (d *Debugger) hook(v *vm.VM) error {
	if d.quit {
		return errExit
	}

	if v.Halted() {
		fmt.Fprintln(d.out, "Program halted.")
		return d.repl()
	}

	switch d.mode {
	case modeStepping:
		if d.stepRemaining > 0 {
			d.stepRemaining--
			return nil
		}
		if err := d.repl(); err != nil {
			return err
		}
	default: // modeRunning
		if d.Breakpoints.Has(v.IP) {
			fmt.Fprintf(d.out, "Breakpoint hit at %s\n", v.ResolveLabel(v.IP))
			if err := d.repl(); err != nil {
				return err
			}
		}
	}
	if d.mode == modeStepping && d.stepRemaining > 0 {
		// A step command just issued at this pause: the instruction about
		// to run is the first of its N.
		d.stepRemaining--
	}
	if d.quit {
		return errExit
	}
	return nil
}

// Run starts the VM under debugger control from entryPoint, printing the
// first prompt before any instruction executes.
func (d *Debugger) Run(entryPoint int32) error {
	fmt.Fprintf(d.out, "MicroASM debugger. Type 'help' for commands.\n")
	if err := d.repl(); err != nil {
		return err
	}
	if d.quit {
		return nil
	}
	if err := d.VM.Run(entryPoint); err != nil {
		if err == errExit {
			return nil
		}
		return err
	}
	return nil
}

// repl reads and executes commands until one resumes execution (step,
// continue) or the program exits.
func (d *Debugger) repl() error {
	for {
		fmt.Fprint(d.out, d.Prompt)
		line, err := d.in.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				d.quit = true
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		d.History.Add(line)

		resume, err := d.dispatch(line)
		if err != nil {
			fmt.Fprintf(d.out, "error: %v\n", err)
			continue
		}
		if resume {
			return nil
		}
	}
}

// dispatch runs a single command line. It returns resume=true when the
// command should return control to the VM (step N times, or run free).
func (d *Debugger) dispatch(line string) (resume bool, err error) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "step", "s":
		n := 1
		if len(args) > 0 {
			n, err = strconv.Atoi(args[0])
			if err != nil {
				return false, fmt.Errorf("step: invalid count %q", args[0])
			}
		}
		if n < 1 {
			n = 1
		}
		d.mode = modeStepping
		d.stepRemaining = n
		return true, nil

	case "breakpoint", "b":
		if len(args) != 1 {
			return false, fmt.Errorf("breakpoint: usage: breakpoint ADDR")
		}
		addr, err := d.resolveAddr(args[0])
		if err != nil {
			return false, err
		}
		if d.Breakpoints.Toggle(addr) {
			fmt.Fprintf(d.out, "Breakpoint set at %s\n", d.VM.ResolveLabel(addr))
		} else {
			fmt.Fprintf(d.out, "Breakpoint cleared at %s\n", d.VM.ResolveLabel(addr))
		}
		return false, nil

	case "continue", "c":
		d.mode = modeRunning
		return true, nil

	case "addr":
		fmt.Fprintf(d.out, "IP = %s (0x%X)\n", d.VM.ResolveLabel(d.VM.IP), d.VM.IP)
		return false, nil

	case "status":
		d.printStatus()
		return false, nil

	case "stdout":
		if w, ok := d.VM.Stdout.(fmt.Stringer); ok {
			fmt.Fprintln(d.out, w.String())
		} else {
			fmt.Fprintln(d.out, "(stdout is not inspectable from here)")
		}
		return false, nil

	case "exit", "quit", "q":
		d.quit = true
		return true, nil

	case "help", "h", "?":
		d.printHelp()
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

// resolveAddr parses a decimal integer, a "0x"-prefixed hex integer, or a
// "#label" symbolic reference into a code offset (spec.md §4.7).
func (d *Debugger) resolveAddr(s string) (int32, error) {
	if strings.HasPrefix(s, "#") {
		name := strings.TrimPrefix(s, "#")
		addr, ok := d.VM.Labels[name]
		if !ok {
			return 0, fmt.Errorf("unknown label %q", name)
		}
		return addr, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid hex address %q", s)
		}
		return int32(v), nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return int32(v), nil
}

func (d *Debugger) printStatus() {
	fmt.Fprintf(d.out, "IP=%s RAX=%d RBX=%d RCX=%d RDX=%d RSI=%d RDI=%d RBP=%d RSP=%d\n",
		d.VM.ResolveLabel(d.VM.IP),
		d.VM.Regs[vm.RAX], d.VM.Regs[vm.RBX], d.VM.Regs[vm.RCX], d.VM.Regs[vm.RDX],
		d.VM.Regs[vm.RSI], d.VM.Regs[vm.RDI], d.VM.Regs[vm.RBP], d.VM.Regs[vm.RSP])
	fmt.Fprintf(d.out, "ZF=%v SF=%v\n", d.VM.Flags.ZF, d.VM.Flags.SF)
	if bps := d.Breakpoints.All(); len(bps) > 0 {
		fmt.Fprint(d.out, "Breakpoints:")
		for _, a := range bps {
			fmt.Fprintf(d.out, " %s", d.VM.ResolveLabel(a))
		}
		fmt.Fprintln(d.out)
	}
}

func (d *Debugger) printHelp() {
	fmt.Fprintln(d.out, `Commands:
  step|s [N]       execute N instructions (default 1)
  breakpoint|b ADDR  toggle a breakpoint at ADDR (decimal, 0xHEX, or #label)
  continue|c       resume execution until the next breakpoint or exit
  addr             print the current instruction pointer
  status           print registers and flags
  stdout           print the program's buffered stdout
  exit|quit|q      stop debugging and exit
  help|h|?         show this message`)
}
