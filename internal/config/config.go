package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where fidsweep looks for its config when --config is not given.
const DefaultPath = ".fidsweep/config.yaml"

// Config holds all fidsweep configuration.
type Config struct {
	Name string `yaml:"name"`

	// Sweep describes the parameter space and the external program.
	Sweep SweepConfig `yaml:"sweep"`

	// Execution settings for the tactile executor
	Execution ExecutionConfig `yaml:"execution"`

	// Store configures the run ledger
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// SweepConfig configures the fiducial and comparison sweeps.
type SweepConfig struct {
	// Program is the analysis script invoked once per combination.
	Program string `yaml:"program"`

	// Interpreter runs Program when set (e.g. "python"); empty executes Program directly.
	Interpreter string `yaml:"interpreter"`

	// BaseDir is the directory the process returns to after every invocation.
	BaseDir string `yaml:"base_dir"`

	Fiducials       int  `yaml:"fiducials"`
	Faces           int  `yaml:"faces"`
	ComparisonCount int  `yaml:"comparison_count"`
	Comparisons     bool `yaml:"comparisons"`

	// FailFast aborts the sweep on the first failed invocation.
	FailFast bool `yaml:"fail_fast"`
}

// StoreConfig configures the SQLite run ledger.
type StoreConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "fidsweep",

		Sweep: SweepConfig{
			Program:         "output.py",
			Interpreter:     "python",
			Fiducials:       5,
			Faces:           3,
			ComparisonCount: 10,
			Comparisons:     true,
			FailFast:        true,
		},

		Execution: ExecutionConfig{
			DefaultTimeout: "",
			MaxOutputBytes: 10 * 1024 * 1024,
		},

		Store: StoreConfig{
			Enabled:      true,
			DatabasePath: ".fidsweep/runs.db",
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			Dir:       ".fidsweep/logs",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults if config file doesn't exist
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("FIDSWEEP_BASE_DIR"); dir != "" {
		c.Sweep.BaseDir = dir
	}
	if program := os.Getenv("FIDSWEEP_PROGRAM"); program != "" {
		c.Sweep.Program = program
	}
	// An explicitly empty FIDSWEEP_INTERPRETER runs the program directly.
	if interp, ok := os.LookupEnv("FIDSWEEP_INTERPRETER"); ok {
		c.Sweep.Interpreter = interp
	}
	if path := os.Getenv("FIDSWEEP_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// GetExecutionTimeout returns the per-invocation timeout as a duration.
// Zero means the invocation may run until it exits or the sweep is canceled.
func (c *Config) GetExecutionTimeout() time.Duration {
	if strings.TrimSpace(c.Execution.DefaultTimeout) == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Execution.DefaultTimeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Sweep.Program == "" {
		return fmt.Errorf("sweep program not configured")
	}
	if c.Sweep.BaseDir == "" {
		return fmt.Errorf("sweep base directory not configured (set sweep.base_dir, --base-dir, or FIDSWEEP_BASE_DIR)")
	}
	if c.Sweep.Fiducials < 0 || c.Sweep.Faces <= 0 {
		return fmt.Errorf("invalid sweep dimensions: fiducials=%d faces=%d", c.Sweep.Fiducials, c.Sweep.Faces)
	}
	if c.Sweep.Comparisons && c.Sweep.ComparisonCount <= 0 {
		return fmt.Errorf("invalid comparison_count: %d", c.Sweep.ComparisonCount)
	}
	if t := strings.TrimSpace(c.Execution.DefaultTimeout); t != "" {
		if _, err := time.ParseDuration(t); err != nil {
			return fmt.Errorf("invalid execution.default_timeout %q: %w", t, err)
		}
	}
	if c.Store.Enabled && c.Store.DatabasePath == "" {
		return fmt.Errorf("store enabled without database_path")
	}
	return nil
}
