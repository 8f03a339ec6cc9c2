package timing

import (
	"fmt"
	"sync"
	"time"

	"github.com/jaralab/timestamper/internal/debug"
	"github.com/jaralab/timestamper/internal/hw/device"
)

// Recorder owns the start epoch, the digital-input state vector and all
// edge logs. It translates device reads into timestamped edge events and
// stamps every trigger command. All mutation goes through one mutex so
// the poll and trigger cadences never interleave inside a transaction.
type Recorder struct {
	mu sync.Mutex

	dev        device.Device
	triggerPin int
	inputPins  []int
	inputNames []string

	startTime time.Time
	closed    bool

	state   []device.Level
	scratch []device.Level // reused every Sample to avoid heap churn at 1 kHz

	rising  [][]float64
	falling [][]float64

	triggerRising  []float64
	triggerFalling []float64
	triggerCount   int
}

// Snapshot is a point-in-time copy of all logs, safe to use after the
// session has moved on or ended.
type Snapshot struct {
	StartTime      time.Time
	InputNames     []string
	Rising         [][]float64
	Falling        [][]float64
	TriggerRising  []float64
	TriggerFalling []float64
	TriggerCount   int
}

// NewRecorder configures the device (trigger pin as output, every input
// pin as input), seeds the state vector with one baseline read of each
// input, and fixes the session start epoch. A device that cannot be
// configured yields a *device.InitError.
func NewRecorder(dev device.Device, triggerPin int, inputPins []int, inputNames []string) (*Recorder, error) {
	if len(inputPins) == 0 || len(inputPins) != len(inputNames) {
		return nil, ErrMismatchedInputs
	}

	if err := dev.ConfigureDirection(triggerPin, device.Output); err != nil {
		return nil, &device.InitError{Err: fmt.Errorf("trigger pin %d: %w", triggerPin, err)}
	}

	state := make([]device.Level, len(inputPins))
	for i, pin := range inputPins {
		if err := dev.ConfigureDirection(pin, device.Input); err != nil {
			return nil, &device.InitError{Err: fmt.Errorf("input pin %d: %w", pin, err)}
		}
		lvl, err := dev.ReadDigital(pin)
		if err != nil {
			return nil, &device.InitError{Err: fmt.Errorf("baseline read pin %d: %w", pin, err)}
		}
		state[i] = lvl
	}

	r := &Recorder{
		dev:        dev,
		triggerPin: triggerPin,
		inputPins:  append([]int(nil), inputPins...),
		inputNames: append([]string(nil), inputNames...),
		startTime:  time.Now(),
		state:      state,
		scratch:    make([]device.Level, len(inputPins)),
		rising:     make([][]float64, len(inputPins)),
		falling:    make([][]float64, len(inputPins)),
	}

	debug.Info("Recorder ready: trigger pin %d, %d input(s), start %s",
		triggerPin, len(inputPins), r.startTime.Format(time.RFC3339Nano))
	return r, nil
}

// StartTime returns the session start epoch.
func (r *Recorder) StartTime() time.Time {
	return r.startTime
}

// InputNames returns the configured input labels, in pin order.
func (r *Recorder) InputNames() []string {
	return append([]string(nil), r.inputNames...)
}

// Sample reads every input line once and records an edge for each index
// whose level changed since the previous sample. All edges detected in
// one call share a single elapsed value and are logged in input-index
// order. Returns true iff at least one index changed.
func (r *Recorder) Sample() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, pin := range r.inputPins {
		lvl, err := r.dev.ReadDigital(pin)
		if err != nil {
			return false, &device.IOError{Op: "read", Pin: pin, Err: err}
		}
		r.scratch[i] = lvl
	}

	changed := false
	var elapsed float64
	for i := range r.scratch {
		if r.scratch[i] == r.state[i] {
			continue
		}
		if !changed {
			// One timestamp per tick, taken at first detected change.
			elapsed = time.Since(r.startTime).Seconds()
			changed = true
		}
		if r.scratch[i] == device.High {
			r.rising[i] = append(r.rising[i], elapsed)
		} else {
			r.falling[i] = append(r.falling[i], elapsed)
		}
		r.state[i] = r.scratch[i]
		debug.Edge(r.inputNames[i], bool(r.scratch[i]), elapsed)
	}

	return changed, nil
}

// RecordTrigger commands the trigger output to state and stamps the
// command unconditionally: every call produces exactly one log entry and
// no comparison against a previous trigger state is made. Alternation is
// the caller's job; a double call is a duplicate-edge bug downstream
// consumers must tolerate. Rising commands increment the trigger counter.
func (r *Recorder) RecordTrigger(state bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.dev.WriteDigital(r.triggerPin, device.Level(state)); err != nil {
		return &device.IOError{Op: "write", Pin: r.triggerPin, Err: err}
	}
	elapsed := time.Since(r.startTime).Seconds()
	if state {
		r.triggerRising = append(r.triggerRising, elapsed)
		r.triggerCount++
	} else {
		r.triggerFalling = append(r.triggerFalling, elapsed)
	}
	debug.Trigger(state, r.triggerCount, elapsed)
	return nil
}

// TriggerCount returns the number of rising trigger commands so far.
func (r *Recorder) TriggerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggerCount
}

// TriggerEdgeCounts returns the trigger rising and falling log lengths.
func (r *Recorder) TriggerEdgeCounts() (rising, falling int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.triggerRising), len(r.triggerFalling)
}

// Counts returns per-input rising and falling edge counts, in pin order.
func (r *Recorder) Counts() (rising, falling []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rising = make([]int, len(r.rising))
	falling = make([]int, len(r.falling))
	for i := range r.rising {
		rising[i] = len(r.rising[i])
		falling[i] = len(r.falling[i])
	}
	return rising, falling
}

// Snapshot copies all logs under the lock. The critical section is a
// straight copy, so concurrent Sample/RecordTrigger calls are delayed
// only briefly.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		StartTime:      r.startTime,
		InputNames:     append([]string(nil), r.inputNames...),
		Rising:         make([][]float64, len(r.rising)),
		Falling:        make([][]float64, len(r.falling)),
		TriggerRising:  append([]float64(nil), r.triggerRising...),
		TriggerFalling: append([]float64(nil), r.triggerFalling...),
		TriggerCount:   r.triggerCount,
	}
	for i := range r.rising {
		s.Rising[i] = append([]float64(nil), r.rising[i]...)
		s.Falling[i] = append([]float64(nil), r.falling[i]...)
	}
	return s
}

// Shutdown releases the borrowed device. Idempotent; logs survive.
func (r *Recorder) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.dev.Close()
}
