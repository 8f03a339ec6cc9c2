package timing

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaralab/timestamper/internal/debug"
	"github.com/jaralab/timestamper/internal/hw/device"
)

// Config describes one recording run. Pins and names are fixed for the
// session's life; rate and budget may be edited between runs.
type Config struct {
	TriggerPin  int
	InputPins   []int
	InputNames  []string
	RateHz      float64
	MaxTriggers int
	Label       string
}

// Session binds one Recorder, one Generator and one Poller around a
// borrowed device for a single recording run. It owns lifecycle state
// and propagates auto-stop between the two cadences: a generator limit
// or a device failure on either cadence halts both.
type Session struct {
	id    uuid.UUID
	label string

	rec  *Recorder
	gen  *Generator
	poll *Poller

	mu      sync.Mutex
	state   State
	lastErr error
	closed  bool

	done       chan struct{}
	doneClosed bool
}

// NewSession creates the recorder (fixing the start epoch with a
// baseline read of every input) and wires the two schedulers. The
// device is borrowed; Close releases it.
func NewSession(dev device.Device, cfg Config) (*Session, error) {
	rec, err := NewRecorder(dev, cfg.TriggerPin, cfg.InputPins, cfg.InputNames)
	if err != nil {
		return nil, err
	}

	label := cfg.Label
	if label == "" {
		label = "session"
	}

	s := &Session{
		id:    uuid.New(),
		label: label,
		rec:   rec,
		gen:   NewGenerator(rec, cfg.RateHz, cfg.MaxTriggers),
		poll:  NewPoller(rec),
		state: StateIdle,
		done:  make(chan struct{}),
	}
	s.gen.SetOnHalt(s.onGeneratorHalt)
	s.poll.SetOnError(s.onPollError)

	debug.Session(s.ShortID(), "created")
	return s, nil
}

// ID returns the session identity.
func (s *Session) ID() uuid.UUID { return s.id }

// ShortID returns the first 8 hex digits of the session identity, used
// in export file names and status lines.
func (s *Session) ShortID() string { return s.id.String()[:8] }

// Label returns the subject/session label.
func (s *Session) Label() string { return s.label }

// StartTime returns the session start epoch.
func (s *Session) StartTime() time.Time { return s.rec.StartTime() }

// SetRate changes the trigger rate; rejected while running.
func (s *Session) SetRate(rateHz float64) error { return s.gen.SetRate(rateHz) }

// Rate returns the configured trigger rate.
func (s *Session) Rate() float64 { return s.gen.Rate() }

// SetMaxTriggers changes the pulse budget; rejected while running.
func (s *Session) SetMaxTriggers(n int) error { return s.gen.SetMaxTriggers(n) }

// State returns the session lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the fatal error that moved the session to StateError.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Done is closed once the session reaches a terminal state (user stop,
// pulse budget, or device failure). Restarting replaces the channel, so
// waiters should re-fetch it after calling Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Start launches the poll cadence, then the trigger cadence. A bad rate
// leaves the session in Idle with nothing running. The Running
// transition happens before the schedulers launch, so a halt callback
// firing during startup always finds the state it expects.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return ErrRunning
	}
	prev := s.state
	s.state = StateRunning
	s.lastErr = nil
	if s.doneClosed {
		s.done = make(chan struct{})
		s.doneClosed = false
	}
	s.mu.Unlock()

	if err := s.poll.Start(); err != nil {
		s.rollbackStart(prev)
		return err
	}
	if err := s.gen.Start(); err != nil {
		s.poll.Stop()
		s.rollbackStart(prev)
		return err
	}

	// A cadence may have already halted the session while the other
	// was still launching; make sure nothing is left ticking.
	s.mu.Lock()
	interrupted := s.state != StateRunning
	s.mu.Unlock()
	if interrupted {
		s.gen.Stop()
		s.poll.Stop()
		return s.Err()
	}

	debug.Session(s.ShortID(), "running")
	return nil
}

// rollbackStart undoes the optimistic Running transition after a
// scheduler failed to launch. If a halt callback fired in between it
// already owns the state; its result stands.
func (s *Session) rollbackStart(prev State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.state = prev
	if prev != StateIdle && !s.doneClosed {
		close(s.done)
		s.doneClosed = true
	}
}

// Stop is the user stop: the generator halts first (forcing the final
// falling command), then the poll cadence. Idempotent; a second call
// changes nothing and records nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStoppedByUser
	s.mu.Unlock()

	s.gen.Stop()
	s.poll.Stop()
	s.signalDone()
	debug.Session(s.ShortID(), "stopped by user")
}

// onGeneratorHalt runs on the generator's tick goroutine after it
// stopped itself (budget reached or trigger write failed).
func (s *Session) onGeneratorHalt(genState State, err error) {
	s.poll.Stop()

	s.mu.Lock()
	if s.state == StateRunning {
		s.state = genState
		s.lastErr = err
	}
	s.mu.Unlock()

	s.signalDone()
	debug.Session(s.ShortID(), genState.String())
}

// onPollError runs on the poll goroutine after a failed sample halted
// the cadence. The generator is stopped too; logs collected so far stay
// exportable.
func (s *Session) onPollError(err error) {
	s.gen.Stop()

	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateError
		s.lastErr = err
	}
	s.mu.Unlock()

	s.signalDone()
	debug.Session(s.ShortID(), "error: "+err.Error())
}

func (s *Session) signalDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.doneClosed {
		close(s.done)
		s.doneClosed = true
	}
}

// InputCounts is a live edge tally for one input line.
type InputCounts struct {
	Name    string
	Rising  int
	Falling int
}

// Counts is the live tally shown by status surfaces.
type Counts struct {
	Inputs         []InputCounts
	TriggerRising  int
	TriggerFalling int
}

// Counts returns the current edge tallies.
func (s *Session) Counts() Counts {
	rising, falling := s.rec.Counts()
	names := s.rec.InputNames()

	c := Counts{Inputs: make([]InputCounts, len(names))}
	for i, name := range names {
		c.Inputs[i] = InputCounts{Name: name, Rising: rising[i], Falling: falling[i]}
	}
	c.TriggerRising, c.TriggerFalling = s.rec.TriggerEdgeCounts()
	return c
}

// Snapshot returns a point-in-time copy of all logs.
func (s *Session) Snapshot() Snapshot {
	return s.rec.Snapshot()
}

// Close stops any active cadence and releases the device. Idempotent.
func (s *Session) Close() error {
	s.Stop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.signalDone()
	debug.Session(s.ShortID(), "closed")
	return s.rec.Shutdown()
}
