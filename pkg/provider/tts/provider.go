// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a hosted speech synthesis service (e.g., OpenAI speech or
// ElevenLabs) and turns one reply into one playable audio resource. Replies in
// this pipeline are one or two sentences long, so synthesis is request/response:
// the whole utterance is produced before playback starts.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrUnknownVoice is returned when a request names a voice the provider does
// not offer.
var ErrUnknownVoice = errors.New("tts: unknown voice")

// Provider is the abstraction over any hosted TTS backend.
type Provider interface {
	// Synthesize converts req.Text into encoded audio using req.Voice.
	//
	// Any transport failure or non-success response from the service is
	// returned as an error; the caller decides whether to fall back. Synthesize
	// never retries.
	Synthesize(ctx context.Context, req Request) (Audio, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
