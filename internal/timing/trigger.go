package timing

import (
	"math"
	"sync"
	"time"

	"github.com/jaralab/timestamper/internal/debug"
)

// DefaultRateHz is the trigger rate used when none is configured.
const DefaultRateHz = 20

// Generator drives a fixed-duty-cycle square wave onto the trigger
// output. Every tick of the half-period cadence flips the trigger level
// and stamps the command through the Recorder, so one full on+off cycle
// equals 1/rate seconds. An optional pulse budget stops the generator
// after the falling command that completes the budgeted pulse.
type Generator struct {
	rec *Recorder

	mu          sync.Mutex
	rateHz      float64
	maxTriggers int
	state       State
	level       bool
	lastErr     error
	stop        chan struct{}
	done        chan struct{}

	// onHalt is invoked (from the tick goroutine) when the generator
	// stops itself, so the session can halt the poll cadence too.
	onHalt func(State, error)
}

// NewGenerator creates a generator in Idle. maxTriggers <= 0 means no
// pulse limit.
func NewGenerator(rec *Recorder, rateHz float64, maxTriggers int) *Generator {
	return &Generator{
		rec:         rec,
		rateHz:      rateHz,
		maxTriggers: maxTriggers,
		state:       StateIdle,
	}
}

// SetOnHalt registers the self-stop notification hook. Must be called
// before Start.
func (g *Generator) SetOnHalt(fn func(State, error)) {
	g.onHalt = fn
}

// SetRate changes the trigger rate. Rejected while running so the
// cadence cannot change mid-run.
func (g *Generator) SetRate(rateHz float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateRunning {
		return ErrRunning
	}
	if !tickableRate(rateHz) {
		return ErrInvalidRate
	}
	g.rateHz = rateHz
	return nil
}

// Rate returns the configured trigger rate in Hz.
func (g *Generator) Rate() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rateHz
}

// SetMaxTriggers changes the pulse budget (<= 0 disables it). Rejected
// while running.
func (g *Generator) SetMaxTriggers(n int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateRunning {
		return ErrRunning
	}
	g.maxTriggers = n
	return nil
}

// State returns the generator lifecycle state.
func (g *Generator) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Err returns the error that moved the generator to StateError, if any.
func (g *Generator) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// HalfPeriod returns the tick interval derived from the current rate.
func (g *Generator) HalfPeriod() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return halfPeriod(g.rateHz)
}

func halfPeriod(rateHz float64) time.Duration {
	return time.Duration(0.5 / rateHz * float64(time.Second))
}

// tickableRate reports whether rateHz yields a cadence the ticker can
// run: finite, positive and with a non-zero half period. Rates so high
// that the half period truncates to 0ns would crash time.NewTicker.
func tickableRate(rateHz float64) bool {
	if math.IsNaN(rateHz) || math.IsInf(rateHz, 0) || rateHz <= 0 {
		return false
	}
	return halfPeriod(rateHz) > 0
}

// Start moves Idle/Stopped* to Running. The level is reset so the first
// tick always commands a rising edge, and the cadence is derived from
// the rate as configured at start time.
func (g *Generator) Start() error {
	g.mu.Lock()
	if g.state == StateRunning {
		g.mu.Unlock()
		return ErrRunning
	}
	if !tickableRate(g.rateHz) {
		g.mu.Unlock()
		return ErrInvalidRate
	}

	g.level = false
	g.lastErr = nil
	g.state = StateRunning
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	interval := halfPeriod(g.rateHz)
	stop, done := g.stop, g.done
	g.mu.Unlock()

	debug.Verbose("Trigger cadence: %.3f Hz, half period %v", g.Rate(), interval)

	go g.run(interval, stop, done)
	return nil
}

func (g *Generator) run(interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if halted := g.tick(); halted {
				return
			}
		}
	}
}

// tick flips the trigger level and stamps the command. Returns true
// when the generator stopped itself (limit reached or device failure).
func (g *Generator) tick() bool {
	g.mu.Lock()
	if g.state != StateRunning {
		g.mu.Unlock()
		return true
	}
	g.level = !g.level
	level := g.level
	max := g.maxTriggers
	g.mu.Unlock()

	if err := g.rec.RecordTrigger(level); err != nil {
		g.mu.Lock()
		g.state = StateError
		g.lastErr = err
		g.mu.Unlock()
		debug.Error(err)
		if g.onHalt != nil {
			g.onHalt(StateError, err)
		}
		return true
	}

	// The budget is checked after falling commands only, so a limited
	// run always ends with the output low and complete pulses.
	if !level && max > 0 && g.rec.TriggerCount() >= max {
		g.mu.Lock()
		g.state = StateStoppedByLimit
		g.mu.Unlock()
		debug.Info("Trigger budget reached (%d pulses), stopping", max)
		if g.onHalt != nil {
			g.onHalt(StateStoppedByLimit, nil)
		}
		return true
	}

	return false
}

// Stop moves Running to StoppedByUser. It waits until no further tick
// can fire, then forces exactly one final falling command so the output
// is guaranteed to end low. Calling Stop when not running is a no-op;
// in particular it never appends a second forced falling record.
func (g *Generator) Stop() {
	g.mu.Lock()
	if g.state != StateRunning {
		g.mu.Unlock()
		return
	}
	g.state = StateStoppedByUser
	stop, done := g.stop, g.done
	g.mu.Unlock()

	close(stop)
	<-done

	// Forced final low. May duplicate a falling entry when the last
	// tick was already falling; downstream consumers compensate for
	// this boundary asymmetry.
	if err := g.rec.RecordTrigger(false); err != nil {
		g.mu.Lock()
		g.lastErr = err
		g.mu.Unlock()
		debug.Error(err)
	}

	g.mu.Lock()
	g.level = false
	g.mu.Unlock()
}
