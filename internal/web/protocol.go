package web

import (
	"errors"
	"fmt"

	"github.com/sesli-ai/sesli/internal/conversation"
	"github.com/sesli-ai/sesli/pkg/audio"
	"github.com/sesli-ai/sesli/pkg/audio/playback"
	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

// Message types sent by the server.
const (
	msgReady        = "ready"
	msgState        = "state"
	msgCaption      = "caption"
	msgMic          = "mic"
	msgSpeaking     = "speaking"
	msgError        = "error"
	msgCaptureStart = "capture.start"
	msgCaptureStop  = "capture.stop"
	msgPlay         = "play"
	msgPlaybackStop = "playback.stop"
	msgVoices       = "voices"
	msgSpeak        = "speak"
)

// Message types sent by the browser. Binary frames carry captured audio.
const (
	msgStart          = "start"
	msgStop           = "stop"
	msgCaptureStarted = "capture.started"
	msgCaptureError   = "capture.error"
	msgPlaybackMark   = "playback.mark"
	msgVoicesResult   = "voices.result"
	msgSpeakError     = "speak.error"
)

// Capture failure reasons reported by the browser.
const (
	reasonPermission = "permission"
	reasonDevice     = "device"
)

// Error codes sent with msgError.
const (
	codePermissionDenied       = "permission_denied"
	codeDeviceUnavailable      = "device_unavailable"
	codeRecognitionUnavailable = "recognition_unavailable"
	codeGenerationUnavailable  = "generation_unavailable"
	codeInternal               = "internal"
)

// inbound is the union of every browser message.
type inbound struct {
	Type string `json:"type"`

	// RequestID correlates replies with server requests.
	RequestID string `json:"request_id,omitempty"`

	// Reason and Message describe capture or speech failures.
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`

	// Mark is set for msgPlaybackMark.
	Mark *playback.Mark `json:"mark,omitempty"`

	// Voices is set for msgVoicesResult.
	Voices []voice `json:"voices,omitempty"`
}

type voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"lang"`
	Default  bool   `json:"default,omitempty"`
}

func (v voice) profile() tts.VoiceProfile {
	return tts.VoiceProfile{ID: v.ID, Name: v.Name, Provider: "browser", Language: v.Language, Default: v.Default}
}

type readyMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	PersonaID      string `json:"persona_id,omitempty"`
}

type stateMsg struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type captionMsg struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type flagMsg struct {
	Type string `json:"type"`
	On   bool   `json:"on"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type requestMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

type playMsg struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	ContentType string `json:"content_type"`

	// Audio is base64-encoded by encoding/json.
	Audio []byte `json:"audio"`
}

type playbackStopMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type speakMsg struct {
	Type     string  `json:"type"`
	Text     string  `json:"text"`
	Language string  `json:"lang"`
	VoiceID  string  `json:"voice,omitempty"`
	Rate     float64 `json:"rate,omitempty"`
}

// errorCode maps pipeline errors to the codes the browser UI understands.
func errorCode(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return codePermissionDenied
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return codeDeviceUnavailable
	case errors.Is(err, conversation.ErrRecognitionUnavailable):
		return codeRecognitionUnavailable
	case errors.Is(err, conversation.ErrGenerationUnavailable):
		return codeGenerationUnavailable
	default:
		return codeInternal
	}
}

// captureError maps a browser capture failure to a capture error. Reasons
// other than reasonPermission count as a missing device.
func captureError(reason, message string) error {
	base := audio.ErrDeviceUnavailable
	if reason == reasonPermission {
		base = audio.ErrPermissionDenied
	}
	if message == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, message)
}
