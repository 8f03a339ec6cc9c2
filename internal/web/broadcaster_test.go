package web

import (
	"encoding/json"
	"testing"
	"time"
)

func recvEvent(t *testing.T, ch <-chan string) Event {
	t.Helper()
	select {
	case payload := <-ch:
		var evt Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			t.Fatalf("bad payload %q: %v", payload, err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestLog_ReachesSubscriber(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Log("info", "hello")

	evt := recvEvent(t, ch)
	if evt.Kind != EventLog || evt.Msg != "hello" || evt.Level != "info" {
		t.Errorf("event = %+v", evt)
	}
	if evt.Time == "" {
		t.Error("event has no timestamp")
	}
}

func TestStateChange_CarriesStateAndCause(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.StateChange("stopped_by_user", "recording stopped")

	evt := recvEvent(t, ch)
	if evt.Kind != EventState || evt.State != "stopped_by_user" || evt.Msg != "recording stopped" {
		t.Errorf("event = %+v", evt)
	}
	if evt.Counts != nil {
		t.Errorf("state event carries counts: %+v", evt.Counts)
	}
}

func TestCountsUpdate_CarriesTallies(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.CountsUpdate(CountSnapshot{
		TriggerRising:  5,
		TriggerFalling: 5,
		Inputs:         []InputStatus{{Name: "sound", Rising: 2, Falling: 1}},
	})

	evt := recvEvent(t, ch)
	if evt.Kind != EventCounts || evt.Counts == nil {
		t.Fatalf("event = %+v", evt)
	}
	if evt.Counts.TriggerRising != 5 || evt.Counts.TriggerFalling != 5 {
		t.Errorf("trigger tallies = %+v", evt.Counts)
	}
	if len(evt.Counts.Inputs) != 1 || evt.Counts.Inputs[0].Name != "sound" || evt.Counts.Inputs[0].Rising != 2 {
		t.Errorf("input tallies = %+v", evt.Counts.Inputs)
	}
}

func TestPublish_MultipleSubscribers(t *testing.T) {
	b := NewStatusBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Log("info", "fan out")

	if evt := recvEvent(t, ch1); evt.Msg != "fan out" {
		t.Errorf("subscriber 1 got %+v", evt)
	}
	if evt := recvEvent(t, ch2); evt.Msg != "fan out" {
		t.Errorf("subscriber 2 got %+v", evt)
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()

	b.Log("info", "after unsub")

	// The channel is closed on unsubscribe; nothing may arrive.
	if payload, ok := <-ch; ok {
		t.Errorf("received %q after unsubscribe", payload)
	}
}

func TestPublish_SlowClientDoesNotBlock(t *testing.T) {
	b := NewStatusBroadcaster()
	_, unsub := b.Subscribe() // never drained
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Log("info", "flood")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow client")
	}
}

func TestBroadcastWriter(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := BroadcastWriter(b)
	n, err := w.Write([]byte("  log line\n"))
	if err != nil || n != len("  log line\n") {
		t.Fatalf("Write = %d, %v", n, err)
	}

	evt := recvEvent(t, ch)
	if evt.Kind != EventLog || evt.Msg != "log line" {
		t.Errorf("writer event = %+v, want trimmed log event", evt)
	}
}

func TestBroadcastWriter_SkipsEmptyLines(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := BroadcastWriter(b)
	if _, err := w.Write([]byte("   \n")); err != nil {
		t.Fatal(err)
	}

	select {
	case payload := <-ch:
		t.Errorf("blank write broadcast %q", payload)
	case <-time.After(50 * time.Millisecond):
	}
}
