package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// DeviceConfig describes the acquisition device and its pin assignment.
type DeviceConfig struct {
	Mock       bool     `yaml:"mock"`        // use mock device (true=dev/test, false=real hardware)
	MockNoise  bool     `yaml:"mock_noise"`  // mock only: sporadic High reads so bench runs record edges
	TriggerPin int      `yaml:"trigger_pin"` // output line driven as the camera trigger
	InputPins  []int    `yaml:"input_pins"`  // TTL lines sampled for edges
	InputNames []string `yaml:"input_names"` // labels, parallel to input_pins
}

// TriggerConfig holds the square-wave parameters.
type TriggerConfig struct {
	RateHz      float64 `yaml:"rate_hz"`      // pulses per second (> 0)
	MaxTriggers int     `yaml:"max_triggers"` // pulse budget; 0 = unlimited
}

// SessionConfig holds per-run labeling and output location.
type SessionConfig struct {
	Label     string `yaml:"label"`      // subject or session label for file naming
	OutputDir string `yaml:"output_dir"` // directory for saved bundles
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Trigger  TriggerConfig  `yaml:"trigger"`
	Session  SessionConfig  `yaml:"session"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks ranges and fills defaults. Exposed through Load and
// reused for in-memory configs in tests.
func (c *Config) validate() error {
	// Default pin map matches the reference bench setup: trigger on
	// line 0, one 'sound' TTL input on line 6.
	if len(c.Device.InputPins) == 0 && len(c.Device.InputNames) == 0 {
		c.Device.InputPins = []int{6}
		c.Device.InputNames = []string{"sound"}
	}
	if len(c.Device.InputPins) != len(c.Device.InputNames) {
		return fmt.Errorf("input_pins (%d) and input_names (%d) must be the same length",
			len(c.Device.InputPins), len(c.Device.InputNames))
	}
	if c.Device.TriggerPin < 0 {
		return fmt.Errorf("trigger_pin must be >= 0, got %d", c.Device.TriggerPin)
	}
	seen := make(map[int]bool, len(c.Device.InputPins))
	for i, pin := range c.Device.InputPins {
		if pin < 0 {
			return fmt.Errorf("input_pins[%d] must be >= 0, got %d", i, pin)
		}
		if pin == c.Device.TriggerPin {
			return fmt.Errorf("input_pins[%d] collides with trigger_pin %d", i, pin)
		}
		if seen[pin] {
			return fmt.Errorf("input_pins contains pin %d twice", pin)
		}
		seen[pin] = true
		if c.Device.InputNames[i] == "" {
			return fmt.Errorf("input_names[%d] must not be empty", i)
		}
	}

	if math.IsNaN(c.Trigger.RateHz) || math.IsInf(c.Trigger.RateHz, 0) {
		return fmt.Errorf("rate_hz must be a finite number, got %g", c.Trigger.RateHz)
	}
	if c.Trigger.RateHz == 0 {
		c.Trigger.RateHz = 20 // reference default
	}
	if c.Trigger.RateHz < 0 {
		return fmt.Errorf("rate_hz must be > 0, got %g", c.Trigger.RateHz)
	}
	if c.Trigger.RateHz > 500 {
		return fmt.Errorf("rate_hz must be <= 500 (sampling runs at 1 kHz), got %g", c.Trigger.RateHz)
	}
	if c.Trigger.MaxTriggers < 0 {
		c.Trigger.MaxTriggers = 0 // no limit
	}

	if c.Session.Label == "" {
		c.Session.Label = "session"
	}
	if c.Session.OutputDir == "" {
		c.Session.OutputDir = "."
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}

	return nil
}
