package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fynite/microasm/config"
	"github.com/fynite/microasm/debugger"
	"github.com/fynite/microasm/loader"
	"github.com/fynite/microasm/vm"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	var (
		debugMode  = flag.Bool("d", false, "Start in debugger mode")
		debugLong  = flag.Bool("debug", false, "Start in debugger mode")
		traceMode  = flag.Bool("t", false, "Enable execution trace on fatal errors")
		traceLong  = flag.Bool("trace", false, "Enable execution trace on fatal errors")
		tuiMode    = flag.Bool("tui", false, "Use the TUI debugger instead of the line-mode one")
		configPath = flag.String("config", "", "Path to a TOML config file (default: platform config dir)")
		enableStat = flag.Bool("stats", false, "Write execution statistics after the run (to the config's statistics output_file, stdout if that is empty)")
		statsFile  = flag.String("stats-file", "", "Write execution statistics to this file instead of the config's output_file")
		showVer    = flag.Bool("version", false, "Show version information")
	)
	// flag.Parse stops recognizing flags at the first positional argument
	// (the image path), matching the teacher's own flag.Parse usage. After
	// image.bin only -d/--debug and -t/--trace are picked out (see below);
	// every other argument there, flag-shaped or not, is a program argument.
	flag.Parse()

	if *showVer {
		fmt.Printf("microasm %s\n", Version)
		os.Exit(0)
	}

	if flag.NArg() == 0 {
		printHelp()
		os.Exit(1)
	}

	debug := *debugMode || *debugLong
	trace := *traceMode || *traceLong

	imagePath := flag.Arg(0)
	var progArgs []string
	for _, arg := range flag.Args()[1:] {
		switch arg {
		case "-d", "-debug", "--debug":
			debug = true
		case "-t", "-trace", "--trace":
			trace = true
		default:
			progArgs = append(progArgs, arg)
		}
	}

	raw, err := os.ReadFile(imagePath) // #nosec G304 -- user-specified image path, the whole point of the CLI
	if err != nil {
		fmt.Fprintf(os.Stderr, "microasm: reading image: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "microasm: loading config: %v\n", err)
		os.Exit(1)
	}

	heapStart := heapStartFor(cfg.Execution.RAMSize, cfg.Execution.HeapSize)
	machine, img, err := loader.LoadFile(raw, cfg.Execution.RAMSize, heapStart, cfg.Execution.HeapSize, progArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "microasm: %v\n", err)
		os.Exit(1)
	}
	machine.Trace = trace || cfg.Execution.EnableTrace
	if *enableStat || cfg.Execution.EnableStats {
		machine.Stats = vm.NewStatistics()
	}

	runErr := run(machine, img.EntryPoint, debug, *tuiMode, cfg)

	if machine.Stats != nil {
		writeStats(machine, *statsFile, cfg)
	}

	if runErr != nil {
		if rerr, ok := runErr.(*vm.RuntimeError); ok {
			machine.WriteTrapReport(os.Stderr, rerr)
		} else {
			fmt.Fprintf(os.Stderr, "microasm: %v\n", runErr)
		}
		os.Exit(1)
	}
	os.Exit(0)
}

func run(machine *vm.VM, entryPoint int32, debug, tui bool, cfg *config.Config) error {
	switch {
	case tui:
		t := debugger.NewTUI(machine, cfg.DebuggerPrompt(), cfg.Debugger.HistorySize)
		return t.Run(entryPoint)
	case debug:
		d := debugger.New(machine, cfg.DebuggerPrompt(), cfg.Debugger.HistorySize, os.Stdout, os.Stdin)
		return d.Run(entryPoint)
	default:
		return machine.Run(entryPoint)
	}
}

// stackReserve is the slice of RAM, below ramSize, left free of the heap
// region for stack growth (RSP starts at ramSize and grows down).
const stackReserve = 4096

// heapStartFor picks a heap region that sits below the stack's headroom,
// so a deeply nested call chain doesn't grow into live heap blocks.
func heapStartFor(ramSize, heapSize int) int {
	start := ramSize - heapSize - stackReserve
	if start < 0 {
		start = 0
	}
	return start
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}

func writeStats(machine *vm.VM, path string, cfg *config.Config) {
	if path == "" {
		path = cfg.Statistics.OutputFile
	}
	if path == "" {
		machine.Stats.WriteSummary(os.Stdout)
		return
	}
	f, err := os.Create(path) // #nosec G304 -- user-specified statistics output path
	if err != nil {
		fmt.Fprintf(os.Stderr, "microasm: writing statistics: %v\n", err)
		return
	}
	defer f.Close()
	machine.Stats.WriteSummary(f)
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `microasm %s — MicroASM bytecode interpreter

Usage: microasm [flags...] <image.bin> [program-args...] [-d|--debug] [-t|--trace]

Flags other than -d/--debug and -t/--trace must precede <image.bin>. After
<image.bin>, -d/--debug and -t/--trace are recognized anywhere; every other
argument there — flag-shaped or not — is a program argument, visible to the
running program via ARGC/GETARG.

Options:
  -d, --debug        Start in line-mode debugger
  --tui              Start in the full-screen TUI debugger
  -t, --trace        Include an RBP-walked stack trace in trap reports
  -config PATH       Load configuration from PATH instead of the default location
  -stats             Write execution statistics after the run, to the config's
                     statistics output_file (stats.txt by default; stdout if empty)
  -stats-file PATH   Write execution statistics to PATH instead
  -version           Show version information

Environment:
  MasmDebuggerPS1    Overrides the debugger prompt string.
`, Version)
}
