package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event kinds carried on /status/stream.
const (
	EventLog    = "log"    // mirrored debug output
	EventState  = "state"  // session lifecycle transition
	EventCounts = "counts" // edge tallies after a stop or save
)

// CountSnapshot is the payload of a counts event.
type CountSnapshot struct {
	TriggerRising  int           `json:"trigger_rising"`
	TriggerFalling int           `json:"trigger_falling"`
	Inputs         []InputStatus `json:"inputs"`
}

// Event is a single status-stream message. Kind selects which of the
// optional fields are set: log events carry Level/Msg, state events
// carry State (and Msg for the cause), counts events carry Counts.
type Event struct {
	Time   string         `json:"t"`
	Kind   string         `json:"kind"`
	Level  string         `json:"l,omitempty"`
	Msg    string         `json:"msg,omitempty"`
	State  string         `json:"state,omitempty"`
	Counts *CountSnapshot `json:"counts,omitempty"`
}

// StatusBroadcaster distributes session events to multiple SSE clients:
// lifecycle transitions, edge tallies and the mirrored log stream.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives event payloads and a
// cleanup function. The caller must call the returned cleanup when done
// (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// Publish stamps the event and fans it out to all subscribed clients
// as JSON. Slow clients may miss events (non-blocking, buffered).
func (b *StatusBroadcaster) Publish(evt Event) {
	evt.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// Log publishes a mirrored log line.
func (b *StatusBroadcaster) Log(level, msg string) {
	b.Publish(Event{Kind: EventLog, Level: level, Msg: msg})
}

// StateChange publishes a lifecycle transition. msg names the cause
// ("started", "stopped by user", ...).
func (b *StatusBroadcaster) StateChange(state, msg string) {
	b.Publish(Event{Kind: EventState, State: state, Msg: msg})
}

// CountsUpdate publishes the current edge tallies.
func (b *StatusBroadcaster) CountsUpdate(c CountSnapshot) {
	b.Publish(Event{Kind: EventCounts, Counts: &c})
}

// BroadcastWriter implements io.Writer; each Write is published as a
// log event. Hand it to debug.SetOutput to mirror the log stream.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.Log("info", msg)
	}
	return len(p), nil
}
