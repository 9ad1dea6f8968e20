// Package speech defines the local speech-synthesis contract used when hosted
// narration is unavailable.
//
// A [Speaker] synthesises and plays text directly. It produces no playback
// handle: the utterance is fire-and-forget. Voice choice is made by the caller
// with [SelectVoice] from the list the speaker reports.
package speech

import (
	"context"
	"strings"

	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

// Utterance is one request to speak text locally.
type Utterance struct {
	Text string

	// Language is the BCP-47 tag requested for synthesis (e.g. "tr-TR").
	Language string

	// Voice is the selected voice. The zero value means the engine default.
	Voice tts.VoiceProfile

	// Rate adjusts speaking rate; 0 or 1 means normal speed.
	Rate float64
}

// Speaker is a local speech-synthesis engine.
type Speaker interface {
	// Voices lists the voices installed on the engine.
	Voices(ctx context.Context) ([]tts.VoiceProfile, error)

	// Speak synthesises u and plays it. Implementations may return before
	// playback finishes.
	Speak(ctx context.Context, u Utterance) error
}

// SelectVoice picks a voice for the language tag lang.
//
// The first voice whose language matches lang by prefix, ignoring case and in
// either direction ("tr" matches "tr-TR" and vice versa), wins. Otherwise the
// default voice is returned: the first voice flagged Default, else the first
// voice, else the zero value. matched reports whether a language match was
// found.
func SelectVoice(available []tts.VoiceProfile, lang string) (voice tts.VoiceProfile, matched bool) {
	want := normalizeTag(lang)
	if want != "" {
		for _, v := range available {
			have := normalizeTag(v.Language)
			if have == "" {
				continue
			}
			if strings.HasPrefix(have, want) || strings.HasPrefix(want, have) {
				return v, true
			}
		}
	}
	for _, v := range available {
		if v.Default {
			return v, false
		}
	}
	if len(available) > 0 {
		return available[0], false
	}
	return tts.VoiceProfile{}, false
}

// normalizeTag lower-cases a language tag and unifies "_" separators.
func normalizeTag(tag string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
}
