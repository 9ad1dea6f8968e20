// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to drive the event stream from the test (Open,
// Transcript, Fail, CloseRemote) and inspect which audio chunks were delivered.
//
// Example:
//
//	p := &mock.Provider{AutoOpen: true}
//	handle, _ := p.StartStream(ctx, cfg)
//	p.LastSession().Transcript("merhaba", true)
package mock

import (
	"context"
	"sync"

	"github.com/sesli-ai/sesli/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil, StartStream
	// returns a new Session and appends it to Sessions.
	Session stt.SessionHandle

	// AutoOpen opens every Session created by StartStream immediately.
	AutoOpen bool

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Sessions records every Session created by StartStream, in order.
	Sessions []*Session
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	if p.AutoOpen {
		s.Open()
	}
	return s, nil
}

// Calls returns a snapshot of the recorded StartStream calls. Thread-safe.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StartStreamCall, len(p.StartStreamCalls))
	copy(out, p.StartStreamCalls)
	return out
}

// LastSession returns the most recently created Session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
	p.Sessions = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle driven by the test.
type Session struct {
	mu     sync.Mutex
	state  stt.State
	events chan stt.Event
	ended  bool

	// SendAudioErr, if non-nil, is returned by SendAudio while open.
	SendAudioErr error

	// Chunks records every audio chunk accepted by SendAudio, in order.
	Chunks [][]byte

	// CloseCalls counts calls to Close.
	CloseCalls int
}

// NewSession returns a Session in the connecting state.
func NewSession() *Session {
	return &Session{events: make(chan stt.Event, 64)}
}

// SendAudio records the chunk when the session is open.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stt.StateOpen {
		return stt.ErrNotOpen
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.Chunks = append(s.Chunks, append([]byte(nil), chunk...))
	return nil
}

// Events implements stt.SessionHandle.
func (s *Session) Events() <-chan stt.Event { return s.events }

// State implements stt.SessionHandle.
func (s *Session) State() stt.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close marks the session closed and closes the event channel without emitting
// EventClose, as a real provider does for caller-initiated closes.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.state = stt.StateClosed
	s.end()
	return nil
}

// Open moves the session to open and emits EventOpen.
func (s *Session) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stt.StateConnecting {
		return
	}
	s.state = stt.StateOpen
	s.emit(stt.Event{Kind: stt.EventOpen})
}

// Transcript emits a transcript event.
func (s *Session) Transcript(text string, final bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(stt.Event{Kind: stt.EventTranscript, Transcript: stt.Transcript{Text: text, IsFinal: final}})
}

// Fail emits EventError followed by EventClose and ends the stream.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stt.StateClosed
	s.emit(stt.Event{Kind: stt.EventError, Err: err})
	s.emit(stt.Event{Kind: stt.EventClose})
	s.end()
}

// CloseRemote simulates a provider-initiated close.
func (s *Session) CloseRemote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stt.StateClosed
	s.emit(stt.Event{Kind: stt.EventClose})
	s.end()
}

// SentChunks returns a snapshot of the chunks accepted by SendAudio.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Chunks))
	copy(out, s.Chunks)
	return out
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls > 0
}

// emit must be called with s.mu held.
func (s *Session) emit(ev stt.Event) {
	if s.ended {
		return
	}
	s.events <- ev
}

// end must be called with s.mu held.
func (s *Session) end() {
	if s.ended {
		return
	}
	s.ended = true
	close(s.events)
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
