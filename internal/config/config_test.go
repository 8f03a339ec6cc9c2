package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
device:
  mock: true
  mock_noise: true
  trigger_pin: 0
  input_pins: [6, 7]
  input_names: [camera, sound]
trigger:
  rate_hz: 30
  max_triggers: 100
session:
  label: mouse042
  output_dir: /data
defaults:
  debug_level: 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.Device.Mock {
		t.Error("Mock = false, want true")
	}
	if !cfg.Device.MockNoise {
		t.Error("MockNoise = false, want true")
	}
	if !reflect.DeepEqual(cfg.Device.InputPins, []int{6, 7}) {
		t.Errorf("InputPins = %v", cfg.Device.InputPins)
	}
	if !reflect.DeepEqual(cfg.Device.InputNames, []string{"camera", "sound"}) {
		t.Errorf("InputNames = %v", cfg.Device.InputNames)
	}
	if cfg.Trigger.RateHz != 30 {
		t.Errorf("RateHz = %g, want 30", cfg.Trigger.RateHz)
	}
	if cfg.Trigger.MaxTriggers != 100 {
		t.Errorf("MaxTriggers = %d, want 100", cfg.Trigger.MaxTriggers)
	}
	if cfg.Session.Label != "mouse042" || cfg.Session.OutputDir != "/data" {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Defaults.DebugLevel != 2 {
		t.Errorf("DebugLevel = %d, want 2", cfg.Defaults.DebugLevel)
	}
}

func TestLoad_DefaultsFilled(t *testing.T) {
	path := writeConfig(t, `
device:
  mock: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !reflect.DeepEqual(cfg.Device.InputPins, []int{6}) {
		t.Errorf("default InputPins = %v, want [6]", cfg.Device.InputPins)
	}
	if !reflect.DeepEqual(cfg.Device.InputNames, []string{"sound"}) {
		t.Errorf("default InputNames = %v, want [sound]", cfg.Device.InputNames)
	}
	if cfg.Trigger.RateHz != 20 {
		t.Errorf("default RateHz = %g, want 20", cfg.Trigger.RateHz)
	}
	if cfg.Trigger.MaxTriggers != 0 {
		t.Errorf("default MaxTriggers = %d, want 0", cfg.Trigger.MaxTriggers)
	}
	if cfg.Session.Label != "session" {
		t.Errorf("default Label = %q, want session", cfg.Session.Label)
	}
	if cfg.Session.OutputDir != "." {
		t.Errorf("default OutputDir = %q, want .", cfg.Session.OutputDir)
	}
}

func TestLoad_NegativeMaxTriggersMeansUnlimited(t *testing.T) {
	path := writeConfig(t, `
trigger:
  max_triggers: -5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trigger.MaxTriggers != 0 {
		t.Errorf("MaxTriggers = %d, want 0 (unlimited)", cfg.Trigger.MaxTriggers)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"mismatched_inputs",
			"device:\n  input_pins: [6, 7]\n  input_names: [sound]\n",
			"same length",
		},
		{
			"negative_rate",
			"trigger:\n  rate_hz: -1\n",
			"rate_hz",
		},
		{
			"rate_above_sampling",
			"trigger:\n  rate_hz: 600\n",
			"rate_hz",
		},
		{
			"nan_rate",
			"trigger:\n  rate_hz: .nan\n",
			"finite",
		},
		{
			"infinite_rate",
			"trigger:\n  rate_hz: .inf\n",
			"finite",
		},
		{
			"input_collides_with_trigger",
			"device:\n  trigger_pin: 6\n  input_pins: [6]\n  input_names: [sound]\n",
			"collides",
		},
		{
			"duplicate_input_pin",
			"device:\n  input_pins: [6, 6]\n  input_names: [a, b]\n",
			"twice",
		},
		{
			"empty_input_name",
			"device:\n  input_pins: [6]\n  input_names: ['']\n",
			"must not be empty",
		},
		{
			"negative_trigger_pin",
			"device:\n  trigger_pin: -1\n",
			"trigger_pin",
		},
		{
			"debug_level_out_of_range",
			"defaults:\n  debug_level: 9\n",
			"debug_level",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "device: [not a map\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
