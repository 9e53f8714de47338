package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config represents the interpreter's persisted configuration.
type Config struct {
	// Execution settings
	Execution struct {
		RAMSize    int  `toml:"ram_size"`
		HeapSize   int  `toml:"heap_size"`
		EnableTrace bool `toml:"enable_trace"`
		EnableStats bool `toml:"enable_stats"`
	} `toml:"execution"`

	// Debugger settings
	Debugger struct {
		HistorySize    int    `toml:"history_size"`
		AutoSaveBreaks bool   `toml:"auto_save_breakpoints"`
		DefaultPrompt  string `toml:"default_prompt"`
	} `toml:"debugger"`

	// Display settings
	Display struct {
		ColorOutput  bool   `toml:"color_output"`
		NumberFormat string `toml:"number_format"` // hex, dec, both
	} `toml:"display"`

	// Statistics settings
	Statistics struct {
		OutputFile string `toml:"output_file"`
	} `toml:"statistics"`
}

// DefaultConfig returns a configuration with default values, matching
// spec.md §3's default RAM size (65,536 bytes).
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Execution.RAMSize = 65536
	cfg.Execution.HeapSize = 16384
	cfg.Execution.EnableTrace = false
	cfg.Execution.EnableStats = false

	cfg.Debugger.HistorySize = 1000
	cfg.Debugger.AutoSaveBreaks = true
	cfg.Debugger.DefaultPrompt = "> "

	cfg.Display.ColorOutput = false
	cfg.Display.NumberFormat = "hex"

	cfg.Statistics.OutputFile = "stats.txt"

	return cfg
}

// GetConfigPath returns the platform-specific config file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "microasm")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "microasm")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the default config file, or defaults if
// no file exists.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// DebuggerPrompt resolves the debugger prompt string: the MasmDebuggerPS1
// environment variable overrides the config file's default, which
// overrides the built-in default (spec.md §4.7, §6).
func (c *Config) DebuggerPrompt() string {
	if ps1 := os.Getenv("MasmDebuggerPS1"); ps1 != "" {
		return ps1
	}
	if c.Debugger.DefaultPrompt != "" {
		return c.Debugger.DefaultPrompt
	}
	return "> "
}
