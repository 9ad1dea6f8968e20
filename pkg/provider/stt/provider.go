// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform streaming interface. The central abstraction is
// SessionHandle: StartStream returns immediately with a handle in the
// connecting state, and the handle reports everything that happens afterwards
// (open, transcripts, errors, close) on a single ordered event channel.
//
// A session is single-use. Once it reaches the closed state it can never be
// reopened; callers must start a new session, usually with a freshly issued
// credential.
package stt

import (
	"context"
	"errors"
)

// ErrNotOpen is returned by SendAudio when the session is not in the open state.
var ErrNotOpen = errors.New("stt: session is not open")

// StreamConfig describes the audio format and recognition options for a new
// STT session.
type StreamConfig struct {
	// Language is the recognition language (e.g., "tr"). Empty lets the
	// provider default apply.
	Language string

	// Model is the provider model name (e.g., "nova-2"). Empty lets the provider
	// default apply.
	Model string

	// SmartFormat enables punctuation and formatting of numbers, dates, etc.
	SmartFormat bool

	// InterimResults requests non-final transcripts while the user is still
	// speaking.
	InterimResults bool

	// Encoding names the raw audio encoding (e.g., "linear16"). Leave empty for
	// containerised audio such as WebM/Opus blobs, which the provider detects.
	Encoding string

	// SampleRate is the audio sample rate in Hz. Only meaningful with Encoding.
	SampleRate int

	// Channels is the number of audio channels. Only meaningful with Encoding.
	Channels int
}

// SessionHandle represents one streaming recognition session.
//
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers one audio chunk to the provider. It returns
	// [ErrNotOpen] unless the session is open.
	SendAudio(chunk []byte) error

	// Events returns the ordered event channel. The first event is EventOpen or
	// EventError; the last one is EventClose. The channel is closed after the
	// final event, or after Close when the caller ended the session.
	Events() <-chan Event

	// State reports the current connection state.
	State() State

	// Close terminates the session and releases its resources. It is
	// idempotent. After Close the session is permanently closed.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream begins opening a new session and returns its handle in the
	// connecting state without waiting for the transport. Connection failures
	// are reported on the handle's event channel, not as a return error; a
	// non-nil error means the request itself was invalid.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
