package timing

import (
	"sync"
	"time"

	"github.com/jaralab/timestamper/internal/debug"
)

// SamplingPeriod is the fixed cadence of the poll scheduler. It is a
// build-time constant, not a runtime knob.
const SamplingPeriod = time.Millisecond

// Poller invokes Recorder.Sample on a fixed fast cadence while the
// session is active. There is no tick coalescing: a delayed tick still
// samples only the instantaneous line state, so a pulse that rises and
// falls entirely between two ticks is missed. That is an accepted
// limitation of level polling.
type Poller struct {
	rec    *Recorder
	period time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	// onError is invoked (from the poll goroutine) after a sample
	// failure halted the cadence. A failed read is fatal to the
	// session's timing, never silently skipped.
	onError func(error)
}

// NewPoller creates a poller for rec at the fixed SamplingPeriod.
func NewPoller(rec *Recorder) *Poller {
	return &Poller{
		rec:    rec,
		period: SamplingPeriod,
	}
}

// SetOnError registers the sample-failure hook. Must be called before
// Start.
func (p *Poller) SetOnError(fn func(error)) {
	p.onError = fn
}

// Running reports whether the cadence is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start begins the sampling cadence.
func (p *Poller) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrRunning
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stop, p.done
	p.mu.Unlock()

	debug.Verbose("Polling inputs every %v", p.period)

	go p.run(stop, done)
	return nil
}

func (p *Poller) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := p.rec.Sample(); err != nil {
				p.mu.Lock()
				p.running = false
				p.mu.Unlock()
				debug.Error(err)
				if p.onError != nil {
					p.onError(err)
				}
				return
			}
		}
	}
}

// Stop halts the cadence and returns only once no further tick can
// fire. Safe to call when already stopped.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stop, done := p.stop, p.done
	p.mu.Unlock()

	close(stop)
	<-done
}
