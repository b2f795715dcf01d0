// Package config loads and saves the ZPLC runtime's TOML configuration
// file: scheduler timing bounds, Memory Plane sizing overrides, debug
// channel defaults, I/O channel address assignments (spec §9, "policy
// set by the source compiler, not by the core"), and the API server's
// bind address.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config is the ZPLC runtime configuration.
type Config struct {
	Scheduler struct {
		MinIntervalUS uint32 `toml:"min_interval_us"`
		MaxIntervalUS uint32 `toml:"max_interval_us"`
		MaxTasks      int    `toml:"max_tasks"`
		LockTimeoutMS int    `toml:"lock_timeout_ms"`
	} `toml:"scheduler"`

	Memory struct {
		RetainPersistPath string `toml:"retain_persist_path"`
	} `toml:"memory"`

	Debug struct {
		Mode         string `toml:"mode"` // off, summary, verbose
		LogToFile    bool   `toml:"log_to_file"`
		BufferFrames int    `toml:"buffer_frames"`
		// Diagnostics enables per-task code coverage and instruction-mix
		// tracking (SPEC_FULL §4 supplement), surfaced through
		// SchedulerStats and the debug status command. Off by default:
		// it costs a map write per executed instruction.
		Diagnostics bool `toml:"diagnostics"`
		// HotPCLimit bounds the per-task hot-PC histogram's distinct-
		// address count; 0 means unbounded. Only meaningful when
		// Diagnostics is true.
		HotPCLimit int `toml:"hot_pc_limit"`
	} `toml:"debug"`

	IO struct {
		// InputChannels/OutputChannels map a HAL GPIO channel number to
		// a byte offset within the Input/Output bank. This assignment
		// is program-compiler policy, not core policy (spec §9); the
		// core only enforces bank bounds.
		InputChannels  map[string]uint32 `toml:"input_channels"`
		OutputChannels map[string]uint32 `toml:"output_channels"`
	} `toml:"io"`

	API struct {
		Enabled    bool   `toml:"enabled"`
		ListenAddr string `toml:"listen_addr"`
	} `toml:"api"`
}

// DefaultConfig returns a Config with safe, conservative defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Scheduler.MinIntervalUS = 1000    // 1 ms
	cfg.Scheduler.MaxIntervalUS = 3600_000_000 // 1 hour
	cfg.Scheduler.MaxTasks = 32
	cfg.Scheduler.LockTimeoutMS = 100

	cfg.Memory.RetainPersistPath = ""

	cfg.Debug.Mode = "off"
	cfg.Debug.LogToFile = false
	cfg.Debug.BufferFrames = 256
	cfg.Debug.Diagnostics = false
	cfg.Debug.HotPCLimit = 256

	cfg.IO.InputChannels = map[string]uint32{}
	cfg.IO.OutputChannels = map[string]uint32{}

	cfg.API.Enabled = false
	cfg.API.ListenAddr = "127.0.0.1:7780"

	return cfg
}

// GetConfigPath returns the platform-specific config file path,
// creating its directory if necessary.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "zplc")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "zplc")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// GetLogPath returns the platform-specific log directory path,
// creating it if necessary.
func GetLogPath() string {
	var logDir string

	switch runtime.GOOS {
	case "windows":
		logDir = os.Getenv("APPDATA")
		if logDir == "" {
			logDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		logDir = filepath.Join(logDir, "zplc", "logs")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "logs"
		}
		logDir = filepath.Join(homeDir, ".local", "share", "zplc", "logs")

	default:
		return "logs"
	}

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return "logs"
	}

	return logDir
}

// Load loads configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from path, falling back to
// DefaultConfig if the file does not exist.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to path, creating its directory if
// necessary.
func (c *Config) SaveTo(path string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("config: create directory %s: %w", dir, err)
	}

	f, err := os.Create(path) // #nosec G304 -- user-supplied config path
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("config: close %s: %w", path, closeErr)
		}
	}()

	if encErr := toml.NewEncoder(f).Encode(c); encErr != nil {
		return fmt.Errorf("config: encode %s: %w", path, encErr)
	}

	return nil
}
