package conversation

// Sink receives the signals a user interface renders for a conversation.
//
// Methods are called from the orchestrator's goroutines and must not block.
type Sink interface {
	// StateChanged reports a lifecycle transition.
	StateChanged(s State)

	// Caption reports the text to show: an interim or final transcript, or
	// the agent's reply (final).
	Caption(text string, final bool)

	// MicOpen reports whether the microphone is capturing.
	MicOpen(open bool)

	// Speaking reports changes of the playback "is speaking" predicate.
	Speaking(speaking bool)

	// Error reports a user-visible failure.
	Error(err error)
}

// NopSink discards every signal.
type NopSink struct{}

var _ Sink = NopSink{}

func (NopSink) StateChanged(State)   {}
func (NopSink) Caption(string, bool) {}
func (NopSink) MicOpen(bool)         {}
func (NopSink) Speaking(bool)        {}
func (NopSink) Error(error)          {}
