package acquire

import (
	"sync"
	"time"
)

// Status is a snapshot of a running acquisition, served by the status
// endpoint.
type Status struct {
	Running      bool              `json:"running"`
	EventsDone   int               `json:"events_done"`
	EventsTotal  int               `json:"events_total"`
	Channels     []int             `json:"channels,omitempty"`
	ChannelBytes map[int]int64     `json:"channel_bytes,omitempty"`
	ElapsedSec   float64           `json:"elapsed_seconds"`
	LastError    string            `json:"last_error,omitempty"`
	Settings     map[string]string `json:"-"`
}

// Tracker publishes acquisition progress to concurrent readers.
type Tracker struct {
	mu      sync.RWMutex
	started time.Time
	status  Status
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) begin(total int, channels []int, settings map[string]string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.started = time.Now()
	t.status = Status{
		Running:      true,
		EventsTotal:  total,
		Channels:     channels,
		ChannelBytes: make(map[int]int64, len(channels)),
		Settings:     settings,
	}
	t.mu.Unlock()
}

func (t *Tracker) progress(done int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.status.EventsDone = done
	t.mu.Unlock()
}

func (t *Tracker) addBytes(ch int, n int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.status.ChannelBytes != nil {
		t.status.ChannelBytes[ch] += n
	}
	t.mu.Unlock()
}

func (t *Tracker) fail(err error) {
	if t == nil || err == nil {
		return
	}
	t.mu.Lock()
	t.status.LastError = err.Error()
	t.mu.Unlock()
}

func (t *Tracker) end() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.status.Running = false
	t.mu.Unlock()
}

// Snapshot returns the current status.
func (t *Tracker) Snapshot() Status {
	if t == nil {
		return Status{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := t.status
	if !t.started.IsZero() {
		st.ElapsedSec = time.Since(t.started).Seconds()
	}
	cb := make(map[int]int64, len(st.ChannelBytes))
	for k, v := range st.ChannelBytes {
		cb[k] = v
	}
	st.ChannelBytes = cb
	return st
}

// ScopeSettings returns the settings snapshot taken at run start.
func (t *Tracker) ScopeSettings() map[string]string {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.Settings
}
