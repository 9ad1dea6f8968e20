// Package mock provides in-memory mock implementations of [audio.Capture],
// [playback.Handle], [playback.Player] and [speech.Speaker] for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	capture := mock.NewCapture()
//	capture.StartErr = audio.ErrPermissionDenied
//	err := capture.Start(ctx) // returns audio.ErrPermissionDenied
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/sesli-ai/sesli/pkg/audio"
	"github.com/sesli-ai/sesli/pkg/audio/playback"
	"github.com/sesli-ai/sesli/pkg/audio/speech"
	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

// Compile-time interface assertions.
var (
	_ audio.Capture   = (*Capture)(nil)
	_ playback.Handle = (*Handle)(nil)
	_ playback.Player = (*Player)(nil)
	_ speech.Speaker  = (*Speaker)(nil)
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture]. Chunks are injected with
// [Capture.Emit]; the channel stays open across Start/Stop cycles.
type Capture struct {
	mu sync.Mutex

	// StartErr is returned by [Capture.Start]. When set the capture stays
	// stopped.
	StartErr error

	// StopErr is returned by [Capture.Stop].
	StopErr error

	// StartCalls records how many times Start was called.
	StartCalls int

	// StopCalls records how many times Stop was called.
	StopCalls int

	ch      chan audio.Chunk
	running bool
	seq     uint64
}

// NewCapture returns a Capture with a buffered chunk channel.
func NewCapture() *Capture {
	return &Capture{ch: make(chan audio.Chunk, 256)}
}

// Start implements [audio.Capture].
func (c *Capture) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StartCalls++
	if c.StartErr != nil {
		return c.StartErr
	}
	c.running = true
	return nil
}

// Stop implements [audio.Capture].
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StopCalls++
	c.running = false
	return c.StopErr
}

// Chunks implements [audio.Capture].
func (c *Capture) Chunks() <-chan audio.Chunk {
	return c.ch
}

// MicOpen implements [audio.Capture].
func (c *Capture) MicOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Emit delivers a chunk carrying data with the next sequence number. It is a
// no-op returning false while the capture is stopped.
func (c *Capture) Emit(data []byte) bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return false
	}
	c.seq++
	chunk := audio.Chunk{Data: data, Seq: c.seq, Captured: time.Now()}
	c.mu.Unlock()
	c.ch <- chunk
	return true
}

// Late delivers a chunk regardless of the running state, like a frame the
// device produced just before it was released.
func (c *Capture) Late(data []byte) {
	c.mu.Lock()
	c.seq++
	chunk := audio.Chunk{Data: data, Seq: c.seq, Captured: time.Now()}
	c.mu.Unlock()
	c.ch <- chunk
}

// ─── Handle ───────────────────────────────────────────────────────────────────

// Handle is a mock implementation of [playback.Handle].
type Handle struct {
	mu sync.Mutex

	// Name identifies the handle in tests.
	Name string

	// StartErr is returned by [Handle.Start].
	StartErr error

	// StopErr is returned by [Handle.Stop].
	StopErr error

	// StatusResult is returned by [Handle.Status].
	StatusResult playback.Status

	// StartCalls records how many times Start was called.
	StartCalls int

	// StopCalls records how many times Stop was called.
	StopCalls int
}

// Start implements [playback.Handle].
func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.StartCalls++
	return h.StartErr
}

// Stop implements [playback.Handle].
func (h *Handle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.StopCalls++
	h.StatusResult.Ended = true
	return h.StopErr
}

// Status implements [playback.Handle].
func (h *Handle) Status() playback.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.StatusResult
}

// SetStatus replaces the reported status.
func (h *Handle) SetStatus(s playback.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.StatusResult = s
}

// Counts returns the Start and Stop call counts.
func (h *Handle) Counts() (starts, stops int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.StartCalls, h.StopCalls
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [playback.Player].
type Player struct {
	mu sync.Mutex

	// LoadResult is returned by [Player.Load]. When nil a fresh [Handle] is
	// created per call.
	LoadResult playback.Handle

	// LoadErr is returned by [Player.Load].
	LoadErr error

	// LoadCalls records the audio passed to each Load call.
	LoadCalls []tts.Audio

	// Handles records every handle returned by Load.
	Handles []playback.Handle
}

// Load implements [playback.Player].
func (p *Player) Load(_ context.Context, a tts.Audio) (playback.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LoadCalls = append(p.LoadCalls, a)
	if p.LoadErr != nil {
		return nil, p.LoadErr
	}
	h := p.LoadResult
	if h == nil {
		h = &Handle{}
	}
	p.Handles = append(p.Handles, h)
	return h, nil
}

// Calls returns a copy of the recorded Load calls.
func (p *Player) Calls() []tts.Audio {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tts.Audio, len(p.LoadCalls))
	copy(out, p.LoadCalls)
	return out
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [speech.Speaker].
type Speaker struct {
	mu sync.Mutex

	// VoicesResult is returned by [Speaker.Voices].
	VoicesResult []tts.VoiceProfile

	// VoicesErr is returned by [Speaker.Voices].
	VoicesErr error

	// SpeakErr is returned by [Speaker.Speak].
	SpeakErr error

	// SpeakCalls records every utterance passed to Speak.
	SpeakCalls []speech.Utterance

	// VoicesCalls records how many times Voices was called.
	VoicesCalls int
}

// Voices implements [speech.Speaker].
func (s *Speaker) Voices(_ context.Context) ([]tts.VoiceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VoicesCalls++
	if s.VoicesErr != nil {
		return nil, s.VoicesErr
	}
	return s.VoicesResult, nil
}

// Speak implements [speech.Speaker].
func (s *Speaker) Speak(_ context.Context, u speech.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SpeakCalls = append(s.SpeakCalls, u)
	return s.SpeakErr
}

// Utterances returns a copy of the recorded Speak calls.
func (s *Speaker) Utterances() []speech.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]speech.Utterance, len(s.SpeakCalls))
	copy(out, s.SpeakCalls)
	return out
}
