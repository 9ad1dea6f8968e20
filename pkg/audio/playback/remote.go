package playback

import (
	"strings"
	"sync"
	"time"
)

// Compile-time interface assertion.
var _ Handle = (*Remote)(nil)

// Mark is a playback progress report from a remote client.
type Mark struct {
	// ID identifies the handle the mark refers to.
	ID string `json:"id"`

	// PlayedMS is the client-side playback position in milliseconds.
	PlayedMS int64 `json:"played_ms"`

	// State is one of "loading", "playing", "paused", "finished" or "stopped".
	State string `json:"state"`

	// ReadyState is the client media element's readiness (0–4).
	ReadyState int `json:"ready_state"`
}

// Remote is a Handle for audio that plays on a remote client. Start and Stop
// are forwarded to the client through the supplied functions; Status is
// derived from the most recent [Mark].
type Remote struct {
	id    string
	start func() error
	stop  func() error

	mu      sync.Mutex
	status  Status
	stopped bool
}

// NewRemote returns a Remote handle. start is called once by Start; stop is
// called once by Stop unless the client already reported the clip as ended.
func NewRemote(id string, start, stop func() error) *Remote {
	return &Remote{id: id, start: start, stop: stop}
}

// ID returns the handle identifier used in marks.
func (r *Remote) ID() string { return r.id }

func (r *Remote) Start() error {
	if r.start == nil {
		return nil
	}
	return r.start()
}

func (r *Remote) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	ended := r.status.Ended
	r.status.Ended = true
	r.mu.Unlock()

	if ended || r.stop == nil {
		return nil
	}
	return r.stop()
}

func (r *Remote) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Mark applies a progress report. Marks for other handles are ignored and
// false is returned.
func (r *Remote) Mark(m Mark) bool {
	if m.ID != r.id {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return true
	}

	played := m.PlayedMS
	if played < 0 {
		played = 0
	}
	r.status.Position = time.Duration(played) * time.Millisecond
	r.status.Ready = ReadyState(min(max(m.ReadyState, int(HaveNothing)), int(HaveEnoughData)))

	switch strings.ToLower(strings.TrimSpace(m.State)) {
	case "paused":
		r.status.Paused = true
	case "finished", "stopped", "ended":
		r.status.Ended = true
		r.status.Paused = false
	default:
		r.status.Paused = false
	}
	return true
}
