package timing

import (
	"errors"
	"testing"
	"time"

	"github.com/jaralab/timestamper/internal/hw/device"
)

func newTestSession(t *testing.T, dev device.Device, rateHz float64, maxTriggers int) *Session {
	t.Helper()
	s, err := NewSession(dev, Config{
		TriggerPin:  0,
		InputPins:   []int{6},
		InputNames:  []string{"sound"},
		RateHz:      rateHz,
		MaxTriggers: maxTriggers,
		Label:       "testsubject",
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestSession_InvalidRateStaysIdle(t *testing.T) {
	s := newTestSession(t, device.NewMockDevice(), 0, 0)
	defer s.Close()

	if err := s.Start(); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("Start: want ErrInvalidRate, got %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %v, want idle", s.State())
	}

	// Recoverable: fix the rate and start.
	if err := s.SetRate(100); err != nil {
		t.Fatalf("SetRate: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start after fix: %v", err)
	}
	s.Stop()
}

func TestSession_NeverStuckRunningOnImmediateLimit(t *testing.T) {
	// At 500 Hz with a budget of 1 the generator can reach its limit
	// while Start is still returning. Whatever the interleaving, the
	// session must land in stopped_by_limit with Done closed, never
	// report running forever. Repeated restarts shake the window.
	s := newTestSession(t, device.NewMockDevice(), 500, 1)
	defer s.Close()

	for i := 0; i < 25; i++ {
		if err := s.Start(); err != nil {
			t.Fatalf("restart %d: %v", i, err)
		}
		select {
		case <-s.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("restart %d: session stuck in state %v", i, s.State())
		}
		if st := s.State(); st != StateStoppedByLimit {
			t.Fatalf("restart %d: state = %v, want stopped_by_limit", i, st)
		}
	}
}

func TestSession_AutoStopAtBudget(t *testing.T) {
	// Concrete scenario: 20 Hz, budget 3 => half period 25 ms, the run
	// ends on the 3rd falling command after roughly 150 ms.
	s := newTestSession(t, device.NewMockDevice(), 20, 3)
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session never auto-stopped")
	}

	if s.State() != StateStoppedByLimit {
		t.Errorf("state = %v, want stopped_by_limit", s.State())
	}
	counts := s.Counts()
	if counts.TriggerRising != 3 || counts.TriggerFalling != 3 {
		t.Errorf("trigger counts = %d/%d, want 3/3",
			counts.TriggerRising, counts.TriggerFalling)
	}

	snap := s.Snapshot()
	for i := 1; i < len(snap.TriggerRising); i++ {
		if snap.TriggerRising[i] <= snap.TriggerRising[i-1] {
			t.Errorf("trigger rising log not increasing at %d: %v", i, snap.TriggerRising)
		}
	}
}

func TestSession_LimitStopHaltsPolling(t *testing.T) {
	dev := device.NewMockDevice()
	s := newTestSession(t, dev, 200, 2)
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session never auto-stopped")
	}

	// An input change after auto-stop must not be logged.
	dev.SetInput(6, device.High)
	time.Sleep(10 * time.Millisecond)
	counts := s.Counts()
	if counts.Inputs[0].Rising != 0 {
		t.Errorf("edge logged after auto-stop: %d", counts.Inputs[0].Rising)
	}
}

func TestSession_StopIsIdempotent(t *testing.T) {
	s := newTestSession(t, device.NewMockDevice(), 100, 0)
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	if s.State() != StateStoppedByUser {
		t.Fatalf("state = %v, want stopped_by_user", s.State())
	}
	c1 := s.Counts()
	if d := c1.TriggerFalling - c1.TriggerRising; d < 0 || d > 1 {
		t.Errorf("after stop: %d/%d, want falling-rising in {0,1}",
			c1.TriggerRising, c1.TriggerFalling)
	}

	s.Stop()
	c2 := s.Counts()
	if c2.TriggerRising != c1.TriggerRising || c2.TriggerFalling != c1.TriggerFalling {
		t.Errorf("second Stop changed counts: %+v -> %+v", c1, c2)
	}
}

func TestSession_PollErrorIsFatalButExportable(t *testing.T) {
	dev := newScriptDevice()
	s, err := NewSession(dev, Config{
		TriggerPin: 0,
		InputPins:  []int{6},
		InputNames: []string{"sound"},
		RateHz:     100,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let some triggers land, then break the device reads.
	time.Sleep(15 * time.Millisecond)
	dev.mu.Lock()
	dev.failReadAt = dev.reads + 1
	dev.mu.Unlock()

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session never halted on read error")
	}

	if s.State() != StateError {
		t.Errorf("state = %v, want error", s.State())
	}
	var ioErr *device.IOError
	if !errors.As(s.Err(), &ioErr) {
		t.Errorf("Err() = %v, want *device.IOError", s.Err())
	}

	// Logs collected before the failure stay exportable.
	snap := s.Snapshot()
	if len(snap.TriggerRising) == 0 {
		t.Error("no trigger log preserved from before the failure")
	}
}

func TestSession_CloseReleasesDevice(t *testing.T) {
	dev := newScriptDevice()
	s, err := NewSession(dev, Config{
		TriggerPin: 0,
		InputPins:  []int{6},
		InputNames: []string{"sound"},
		RateHz:     100,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if dev.closeCount() != 1 {
		t.Errorf("device closed %d times, want 1", dev.closeCount())
	}

	select {
	case <-s.Done():
	default:
		t.Error("Done not signalled after Close")
	}
}

func TestSession_IdentityAndLabel(t *testing.T) {
	s := newTestSession(t, device.NewMockDevice(), 20, 0)
	defer s.Close()

	if s.Label() != "testsubject" {
		t.Errorf("Label = %q, want testsubject", s.Label())
	}
	if len(s.ShortID()) != 8 {
		t.Errorf("ShortID = %q, want 8 characters", s.ShortID())
	}
	if s.StartTime().IsZero() {
		t.Error("StartTime is zero")
	}
}
