package stt

import "fmt"

// State is the connection state of a SessionHandle.
type State int

const (
	// StateConnecting is the initial state returned by StartStream.
	StateConnecting State = iota
	// StateOpen means the transport is up and audio may be sent.
	StateOpen
	// StateClosed is terminal. Errors also end in this state.
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventOpen is emitted once when the transport becomes ready.
	EventOpen EventKind = iota
	// EventTranscript carries a recognition result.
	EventTranscript
	// EventError carries a transport or provider error. It is always followed
	// by EventClose.
	EventError
	// EventClose is the last event of a session.
	EventClose
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventTranscript:
		return "transcript"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one entry in a session's ordered event stream.
type Event struct {
	Kind EventKind

	// Transcript is set for EventTranscript.
	Transcript Transcript

	// Err is set for EventError.
	Err error
}

// Transcript is a recognition result.
type Transcript struct {
	// Text is the caption text. Never empty: providers drop empty results.
	Text string

	// IsFinal marks an authoritative result that will not be revised.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0), zero if unknown.
	Confidence float64
}
