package conversation

import "fmt"

// State is the lifecycle state of an [Orchestrator].
type State int

const (
	// StateIdle holds no resources.
	StateIdle State = iota
	// StateAcquiringCredentials fetches provider keys from the broker.
	StateAcquiringCredentials
	// StateConnecting waits for the recognition session to open.
	StateConnecting
	// StateListening forwards captured audio to the open session.
	StateListening
	// StateAwaitingReply has a turn generator call in flight.
	StateAwaitingReply
	// StateSpeaking has just dispatched a narration.
	StateSpeaking
	// StateClosed has released the session and the microphone.
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringCredentials:
		return "acquiring_credentials"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateSpeaking:
		return "speaking"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Active reports whether the state holds a recognition session.
func (s State) Active() bool {
	switch s {
	case StateAcquiringCredentials, StateConnecting, StateListening, StateAwaitingReply, StateSpeaking:
		return true
	default:
		return false
	}
}
