package speech_test

import (
	"testing"

	"github.com/sesli-ai/sesli/pkg/audio/speech"
	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

func TestSelectVoice(t *testing.T) {
	t.Parallel()

	en := tts.VoiceProfile{ID: "en", Language: "en-US", Default: true}
	de := tts.VoiceProfile{ID: "de", Language: "de-DE"}
	tr := tts.VoiceProfile{ID: "tr", Language: "tr-TR"}
	trShort := tts.VoiceProfile{ID: "tr-short", Language: "tr"}
	trUnderscore := tts.VoiceProfile{ID: "tr-u", Language: "TR_tr"}

	tests := []struct {
		name        string
		available   []tts.VoiceProfile
		lang        string
		wantID      string
		wantMatched bool
	}{
		{"exact match", []tts.VoiceProfile{en, tr}, "tr-TR", "tr", true},
		{"short tag matches regional request", []tts.VoiceProfile{en, trShort}, "tr-TR", "tr-short", true},
		{"regional voice matches short request", []tts.VoiceProfile{en, tr}, "tr", "tr", true},
		{"case insensitive with underscore", []tts.VoiceProfile{trUnderscore}, "tr-TR", "tr-u", true},
		{"first match wins", []tts.VoiceProfile{trShort, tr}, "tr-TR", "tr-short", true},
		{"no match falls back to flagged default", []tts.VoiceProfile{de, en}, "tr-TR", "en", false},
		{"no default falls back to first", []tts.VoiceProfile{de, tr}, "fr-FR", "de", false},
		{"empty list yields zero value", nil, "tr-TR", "", false},
		{"empty request yields default", []tts.VoiceProfile{tr, en}, "", "en", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, matched := speech.SelectVoice(tt.available, tt.lang)
			if got.ID != tt.wantID {
				t.Errorf("want voice %q, got %q", tt.wantID, got.ID)
			}
			if matched != tt.wantMatched {
				t.Errorf("want matched %v, got %v", tt.wantMatched, matched)
			}
		})
	}
}
