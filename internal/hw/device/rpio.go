package device

import (
	"fmt"

	"github.com/jaralab/timestamper/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDevice is the real implementation for Raspberry Pi using go-rpio.
// Trigger output and TTL inputs are wired to GPIO header pins.
type RPiDevice struct {
	pins map[int]rpio.Pin
}

// NewRPiDevice opens the GPIO memory map and returns a real device.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiDevice() (*RPiDevice, error) {
	debug.Info("Initializing real device (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, &InitError{Err: fmt.Errorf("open GPIO: %w (are you running on a Raspberry Pi?)", err)}
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDevice{
		pins: make(map[int]rpio.Pin),
	}, nil
}

func (r *RPiDevice) ConfigureDirection(pin int, mode PinMode) error {
	debug.Device("ConfigureDirection", pin, mode)

	p := rpio.Pin(pin)
	r.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return &InitError{Err: fmt.Errorf("unknown pin mode: %d", mode)}
	}

	return nil
}

func (r *RPiDevice) ReadDigital(pin int) (Level, error) {
	p, ok := r.pins[pin]
	if !ok {
		// Pin not configured yet, configure as input
		if err := r.ConfigureDirection(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

func (r *RPiDevice) WriteDigital(pin int, value Level) error {
	debug.Device("WriteDigital", pin, value)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not configured yet, configure as output
		if err := r.ConfigureDirection(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if value == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDevice) Close() error {
	debug.Trace("Device Close (real)")

	// Reset all pins to input (safe state)
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}

	return rpio.Close()
}
