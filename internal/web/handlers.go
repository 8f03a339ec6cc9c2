package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jaralab/timestamper/internal/timing"
)

// Controller is the slice of the session the web layer drives. The
// concrete implementation lives in the main package.
type Controller interface {
	// Start begins recording. rateHz 0 and a nil maxTriggers mean
	// "use the configured defaults".
	Start(rateHz float64, maxTriggers *int) error
	// Stop is the user stop; safe to call when already stopped.
	Stop()
	// Status reports the current lifecycle state and edge tallies.
	Status() Status
	// Save exports the current logs, returning the written path.
	// filename "" means "derive from label and session id".
	Save(filename string) (string, error)
}

// InputStatus is the live edge tally for one input line.
type InputStatus struct {
	Name    string `json:"name"`
	Rising  int    `json:"rising"`
	Falling int    `json:"falling"`
}

// Status is the JSON shape of GET /status.
type Status struct {
	State          string        `json:"state"`
	SessionID      string        `json:"session_id"`
	Label          string        `json:"label"`
	StartTime      string        `json:"start_time"`
	TriggerRising  int           `json:"trigger_rising"`
	TriggerFalling int           `json:"trigger_falling"`
	Inputs         []InputStatus `json:"inputs"`
	LastError      string        `json:"last_error,omitempty"`
}

// FormConfig holds default values for the control form (from config).
type FormConfig struct {
	RateHz      float64  `json:"rate_hz"`
	MaxTriggers int      `json:"max_triggers"`
	InputNames  []string `json:"input_names"`
	Label       string   `json:"label"`
}

// startRequest is the optional body of POST /start.
type startRequest struct {
	RateHz      float64 `json:"rate_hz"`      // 0 = use configured default
	MaxTriggers *int    `json:"max_triggers"` // nil = use configured default
}

// saveRequest is the optional body of POST /save.
type saveRequest struct {
	Filename string `json:"filename"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	Controller   Controller
	FormDefaults FormConfig
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, ctrl Controller, formDefaults FormConfig) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		Controller:   ctrl,
		FormDefaults: formDefaults,
	}
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// HandleStatus returns the current session state and edge tallies.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Controller.Status())
}

// HandleStart handles POST /start. The body is optional; an empty body
// starts with the configured defaults.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if req.RateHz < 0 || req.RateHz > 500 {
		http.Error(w, "rate_hz must be between 0 and 500", http.StatusBadRequest)
		return
	}
	if req.MaxTriggers != nil && *req.MaxTriggers < 0 {
		http.Error(w, "max_triggers must be >= 0", http.StatusBadRequest)
		return
	}

	if err := h.Controller.Start(req.RateHz, req.MaxTriggers); err != nil {
		switch {
		case errors.Is(err, timing.ErrRunning):
			http.Error(w, "recording already in progress", http.StatusConflict)
		case errors.Is(err, timing.ErrInvalidRate):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.Broadcaster.StateChange(h.Controller.Status().State, "recording started")
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// HandleStop handles POST /stop. Idempotent.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.Controller.Stop()
	st := h.Controller.Status()
	h.Broadcaster.StateChange(st.State, "recording stopped")
	h.Broadcaster.CountsUpdate(CountSnapshot{
		TriggerRising:  st.TriggerRising,
		TriggerFalling: st.TriggerFalling,
		Inputs:         st.Inputs,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandleSave handles POST /save: exports the logs collected so far.
// Works in any state, including after a device error (partial data must
// remain exportable).
func (h *Handlers) HandleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	path, err := h.Controller.Save(req.Filename)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.Broadcaster.Log("info", "Saved to "+path)
	writeJSON(w, http.StatusOK, map[string]string{"saved": path})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
