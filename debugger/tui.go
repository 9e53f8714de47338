package debugger

import (
	"fmt"
	"io"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/fynite/microasm/vm"
)

// TUI is a minimal full-screen front end over a Debugger: a scrolling
// output pane, a live register/flags pane, and a command input that feeds
// the same command set as the line-mode REPL (spec.md §4.7 is the
// authority on behavior; this is presentation only). Unlike the teacher's
// TUI it has no source/disassembly/memory/stack panes — spec.md's
// debugger surface doesn't expose a source map or a memory-window view.
type TUI struct {
	Debugger *Debugger

	app          *tview.Application
	outputView   *tview.TextView
	registerView *tview.TextView
	cmdInput     *tview.InputField

	pipeWriter *io.PipeWriter
	done       chan struct{}
}

// NewTUI builds a TUI around v, wiring a fresh Debugger whose REPL input
// is driven by the command input field and whose output lands in the
// scrolling output pane.
func NewTUI(v *vm.VM, prompt string, historySize int) *TUI {
	t := &TUI{
		app:  tview.NewApplication(),
		done: make(chan struct{}),
	}

	t.outputView = tview.NewTextView().
		SetDynamicColors(false).
		SetScrollable(true).
		SetChangedFunc(func() { t.app.Draw() })
	t.outputView.SetBorder(true).SetTitle(" Output ")

	t.registerView = tview.NewTextView().
		SetDynamicColors(false).
		SetScrollable(false)
	t.registerView.SetBorder(true).SetTitle(" Registers ")

	t.cmdInput = tview.NewInputField().
		SetLabel(prompt).
		SetFieldWidth(0)
	t.cmdInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		line := t.cmdInput.GetText()
		t.cmdInput.SetText("")
		fmt.Fprintln(t.pipeWriter, line)
	})

	pr, pw := io.Pipe()
	t.pipeWriter = pw
	t.Debugger = New(v, "", historySize, t.outputView, pr)

	top := tview.NewFlex().
		AddItem(t.outputView, 0, 3, false).
		AddItem(t.registerView, 0, 1, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(top, 0, 1, false).
		AddItem(t.cmdInput, 1, 0, true)

	t.app.SetRoot(root, true).SetFocus(t.cmdInput)
	return t
}

// Run starts the VM under the TUI's control from entryPoint and blocks
// until the user exits or the program halts and the user dismisses the
// final screen.
func (t *TUI) Run(entryPoint int32) error {
	go t.refreshRegistersLoop()
	defer close(t.done)

	var runErr error
	go func() {
		runErr = t.Debugger.Run(entryPoint)
		t.app.Stop()
	}()

	if err := t.app.Run(); err != nil {
		return err
	}
	return runErr
}

// refreshRegistersLoop repaints the register pane on a fixed tick; the
// Debugger itself has no "register changed" event to hook, and polling is
// simpler than threading a callback through every instruction.
func (t *TUI) refreshRegistersLoop() {
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.app.QueueUpdateDraw(func() {
				t.registerView.SetText(t.formatRegisters())
			})
		}
	}
}

func (t *TUI) formatRegisters() string {
	v := t.Debugger.VM
	s := ""
	for i := 0; i < vm.NumRegisters; i++ {
		s += fmt.Sprintf("%-4s %d\n", vm.RegisterName(i), v.Regs[i])
	}
	s += fmt.Sprintf("\nZF=%v SF=%v\nIP=%s\n", v.Flags.ZF, v.Flags.SF, v.ResolveLabel(v.IP))
	return s
}
