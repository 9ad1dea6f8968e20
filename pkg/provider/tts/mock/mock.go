// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio and to verify the requests passed to
// the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeResult: tts.Audio{Data: []byte("mp3"), ContentType: "audio/mpeg"},
//	}
//	audio, _ := p.Synthesize(ctx, tts.Request{Text: "Merhaba", Voice: "shimmer"})
package mock

import (
	"context"
	"sync"

	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeResult is returned by Synthesize when SynthesizeErr is nil.
	SynthesizeResult tts.Audio

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls counts calls to ListVoices.
	ListVoicesCalls int
}

// Synthesize records the call and returns SynthesizeResult, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	if p.SynthesizeErr != nil {
		return tts.Audio{}, p.SynthesizeErr
	}
	return p.SynthesizeResult, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a snapshot of the recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
