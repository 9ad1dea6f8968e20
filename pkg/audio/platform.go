// Package audio defines the microphone capture contract and the audio chunk
// type that flows through the conversation pipeline.
//
// The central abstraction is [Capture]: once started it owns the input device
// and emits [Chunk] values at a fixed cadence until stopped. Implementations
// live in sub-packages (audio/ffmpeg for a local microphone) or in transports
// that receive audio from a remote client (the browser WebSocket).
//
// This package lives under pkg/ because external transports are expected to
// implement [Capture].
package audio

import (
	"context"
	"errors"
	"time"
)

// DefaultChunkInterval is the cadence at which capture implementations emit
// chunks unless configured otherwise.
const DefaultChunkInterval = 500 * time.Millisecond

var (
	// ErrPermissionDenied is returned by [Capture.Start] when the user or the
	// operating system refuses access to the microphone. It is terminal for
	// the current attempt and must be surfaced to the user, never retried.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable is returned by [Capture.Start] when no input device
	// exists or it cannot be opened.
	ErrDeviceUnavailable = errors.New("audio: no microphone device available")
)

// Capture owns a microphone device handle and produces [Chunk] values while
// active.
//
// Implementations must be safe for concurrent use: Start and Stop may be called
// from a different goroutine than the one draining Chunks.
type Capture interface {
	// Start requests microphone access and begins emitting chunks on the
	// channel returned by Chunks. It returns [ErrPermissionDenied] or
	// [ErrDeviceUnavailable] (possibly wrapped) when access cannot be granted.
	// Calling Start on an already started capture returns nil.
	Start(ctx context.Context) error

	// Stop releases the device handle. It is idempotent and a no-op when the
	// capture was never started.
	Stop() error

	// Chunks returns the channel on which captured chunks are delivered. The
	// channel stays valid across Start/Stop cycles and is never closed while the
	// capture is reusable.
	Chunks() <-chan Chunk

	// MicOpen reports whether the microphone is currently open.
	MicOpen() bool
}

// IsCaptureError reports whether err is one of the terminal capture errors
// that must be shown to the user.
func IsCaptureError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable)
}
