// Package config handles configuration for uxflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Driver names.
const (
	DriverBrowser = "browser" // Chromium through the DevTools protocol
	DriverStatic  = "static"  // HTTP fetch + HTML parsing, no scripts
)

// Defaults applied by the getters below.
const (
	DefaultStepDelayMs = 1000
	DefaultTimeoutMs   = 10000
	DefaultHTTPAddr    = ":8080"
)

// Config represents the workspace configuration (uxflow.yaml).
type Config struct {
	// Flow selection
	Flows       []string `yaml:"flows"`       // Files or directories
	IncludeTags []string `yaml:"includeTags"` // Tags to include
	ExcludeTags []string `yaml:"excludeTags"` // Tags to exclude

	// Execution settings
	Output      string `yaml:"output"`      // Artifact root; <output>/flow-N/...
	StepDelayMs *int   `yaml:"stepDelayMs"` // Pause after every step (nil = default)
	TimeoutMs   int    `yaml:"timeoutMs"`   // Element wait timeout
	Parallelism int    `yaml:"parallelism"` // Concurrent flows
	Driver      string `yaml:"driver"`      // browser | static
	LogFile     string `yaml:"logFile"`

	Browser Browser `yaml:"browser"`
	Sinks   Sinks   `yaml:"sinks"`
	AMQP    AMQP    `yaml:"amqp"`
	HTTP    HTTP    `yaml:"http"`
}

// Browser configures the browser driver.
type Browser struct {
	ControlURL   string   `yaml:"controlURL"` // Attach instead of launching
	Bin          string   `yaml:"bin"`
	Headless     *bool    `yaml:"headless"` // nil = true
	UserAgent    string   `yaml:"userAgent"`
	Viewport     Viewport `yaml:"viewport"`
	DisableCache bool     `yaml:"disableCache"`
}

// Viewport is the emulated window size.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Sinks lists where finished flow results are written.
type Sinks struct {
	PostgresDSN string `yaml:"postgresDSN"`
	SQLitePath  string `yaml:"sqlitePath"`
	XLSXPath    string `yaml:"xlsxPath"`
	Queue       bool   `yaml:"queue"` // Publish flow.completed via AMQP
}

// AMQP configures the job queue.
type AMQP struct {
	URL      string `yaml:"url"`
	Prefetch int    `yaml:"prefetch"`
}

// HTTP configures the HTTP trigger.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Load loads configuration from a file. ${VAR} references are expanded
// from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &cfg, nil
}

// LoadFromDir looks for uxflow.yaml or uxflow.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try uxflow.yaml first
	configPath := filepath.Join(dir, "uxflow.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try uxflow.yml
	configPath = filepath.Join(dir, "uxflow.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return empty config
	return &Config{}, nil
}

// Validate checks value ranges and enums.
func (c *Config) Validate() error {
	switch c.Driver {
	case "", DriverBrowser, DriverStatic:
	default:
		return fmt.Errorf("unknown driver %q (want %s or %s)", c.Driver, DriverBrowser, DriverStatic)
	}
	if c.StepDelayMs != nil && *c.StepDelayMs < 0 {
		return fmt.Errorf("stepDelayMs must not be negative")
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("timeoutMs must not be negative")
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative")
	}
	if c.Browser.Viewport.Width < 0 || c.Browser.Viewport.Height < 0 {
		return fmt.Errorf("viewport must not be negative")
	}
	return nil
}

// DriverName returns the configured driver, defaulting to the browser.
func (c *Config) DriverName() string {
	if c.Driver == "" {
		return DriverBrowser
	}
	return c.Driver
}

// StepDelay returns the pause after every step.
func (c *Config) StepDelay() time.Duration {
	ms := DefaultStepDelayMs
	if c.StepDelayMs != nil {
		ms = *c.StepDelayMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Timeout returns the default element wait.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutMs == 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// OutputDir returns the artifact root, defaulting to <home>/output.
func (c *Config) OutputDir() string {
	if c.Output != "" {
		return c.Output
	}
	return DefaultOutputDir()
}

// HTTPAddr returns the HTTP listen address.
func (c *Config) HTTPAddr() string {
	if c.HTTP.Addr == "" {
		return DefaultHTTPAddr
	}
	return c.HTTP.Addr
}

// IsHeadless reports whether the browser runs headless.
func (b Browser) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}
