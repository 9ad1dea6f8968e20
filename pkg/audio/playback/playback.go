// Package playback controls playback of synthesised narration audio.
//
// A [Handle] is one playable audio resource. The [Controller] owns at most one
// active handle per conversation: playing a new handle first stops and
// releases the previous one. Handles are produced by a [Player], either a local
// ffplay process or a remote browser whose progress arrives as playback marks.
package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

// ReadyState mirrors the media element readiness levels reported by browsers.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

// String implements fmt.Stringer.
func (r ReadyState) String() string {
	switch r {
	case HaveNothing:
		return "have_nothing"
	case HaveMetadata:
		return "have_metadata"
	case HaveCurrentData:
		return "have_current_data"
	case HaveFutureData:
		return "have_future_data"
	case HaveEnoughData:
		return "have_enough_data"
	default:
		return fmt.Sprintf("ReadyState(%d)", int(r))
	}
}

// Status is a snapshot of a handle's playback progress.
type Status struct {
	Position time.Duration
	Paused   bool
	Ended    bool
	Ready    ReadyState
}

// Speaking reports whether audio is audibly playing: the position has moved,
// playback is neither paused nor ended, and more than the current frame is
// buffered.
func (s Status) Speaking() bool {
	return s.Position > 0 && !s.Paused && !s.Ended && s.Ready > HaveCurrentData
}

// Handle is one playable audio resource.
//
// Implementations must be safe for concurrent use.
type Handle interface {
	// Start begins playback.
	Start() error

	// Stop halts playback and releases the resource. It is idempotent.
	Stop() error

	// Status returns the current playback progress.
	Status() Status
}

// Player turns synthesised audio into a playable [Handle]. The handle is not
// started; the [Controller] starts it.
type Player interface {
	Load(ctx context.Context, audio tts.Audio) (Handle, error)
}
