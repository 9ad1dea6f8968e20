package tts

// Request is a single synthesis request.
type Request struct {
	// Text is the utterance to speak. Must be non-empty.
	Text string

	// Voice is the provider-specific voice identifier (e.g. "shimmer").
	Voice string

	// Speed adjusts speaking rate; 0 means the provider default (1.0).
	Speed float64

	// Language is an optional BCP-47 hint (e.g. "tr-TR") for providers that
	// accept one.
	Language string
}

// Audio is one complete synthesised utterance.
type Audio struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// ContentType is the MIME type of Data (e.g. "audio/mpeg").
	ContentType string
}

// VoiceProfile describes a voice offered by a hosted provider or a local
// speech engine.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the BCP-47 language tag of the voice (e.g. "tr-TR"). Empty for
	// multilingual voices.
	Language string

	// Default marks the engine's default voice.
	Default bool

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}
