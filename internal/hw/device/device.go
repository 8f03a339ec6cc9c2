package device

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/jaralab/timestamper/internal/debug"
)

// Level represents the logical state of a digital line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a line is sampled or driven.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Device defines the abstract capability for digital I/O.
// This allows plugging in a real acquisition device
// or a mock for development on PC.
type Device interface {
	ConfigureDirection(pin int, mode PinMode) error
	ReadDigital(pin int) (Level, error)
	WriteDigital(pin int, value Level) error
	Close() error
}

// InitError indicates the device could not be opened or configured.
// Fatal to session start: no timers may run without a working device.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("device init: %v", e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// IOError indicates a single read or write failed during an active
// session. Callers must halt the affected cadence rather than skip the
// sample, since skipped samples corrupt timing silently.
type IOError struct {
	Op  string
	Pin int
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("device %s pin %d: %v", e.Op, e.Pin, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// New creates a device based on the chosen mode.
// If mock is true, returns a MockDevice (for dev/test); noise then
// enables its sporadic-High reads so a bench run records edges.
// If mock is false, returns a real RPiDevice and noise is ignored.
func New(mock, noise bool) (Device, error) {
	if mock {
		debug.Info("Using MOCK device (development mode)")
		d := NewMockDevice()
		d.Noise = noise
		return d, nil
	}
	return NewRPiDevice()
}

// MockDevice emulates the acquisition hardware in memory. Input levels
// can be set explicitly with SetInput; with Noise enabled, reads of
// input pins occasionally return High to emulate a live TTL source.
type MockDevice struct {
	mu     sync.Mutex
	levels map[int]Level
	modes  map[int]PinMode

	// Noise makes roughly one read in a thousand return High,
	// mimicking sporadic TTL activity on the bench.
	Noise bool
}

// NewMockDevice creates a mock with all lines low.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		levels: make(map[int]Level),
		modes:  make(map[int]PinMode),
	}
}

// SetInput forces the level seen by subsequent reads of pin.
func (m *MockDevice) SetInput(pin int, value Level) {
	m.mu.Lock()
	m.levels[pin] = value
	m.mu.Unlock()
}

func (m *MockDevice) ConfigureDirection(pin int, mode PinMode) error {
	debug.Device("ConfigureDirection", pin, mode)
	m.mu.Lock()
	m.modes[pin] = mode
	m.mu.Unlock()
	return nil
}

func (m *MockDevice) ReadDigital(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Noise && rand.Float64() < 0.001 {
		return High, nil
	}
	return m.levels[pin], nil
}

func (m *MockDevice) WriteDigital(pin int, value Level) error {
	debug.Device("WriteDigital", pin, value)
	m.mu.Lock()
	m.levels[pin] = value
	m.mu.Unlock()
	return nil
}

func (m *MockDevice) Close() error {
	debug.Trace("Device Close (mock)")
	return nil
}
