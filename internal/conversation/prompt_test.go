package conversation

import (
	"strings"
	"testing"

	"github.com/sesli-ai/sesli/internal/persona"
)

func TestBuildPrompt_Generic(t *testing.T) {
	t.Parallel()

	got := BuildPrompt("  bugün hava nasıl  ", nil)
	want := assistantPrompt + ` Kullanıcının söylediği: "bugün hava nasıl"`
	if got != want {
		t.Errorf("want %q, got %q", want, got)
	}
}

func TestBuildPrompt_Persona(t *testing.T) {
	t.Parallel()

	p := &persona.Persona{
		ID:           "2",
		DisplayName:  "Müzik Uzmanı",
		SystemPrompt: "Sen bir müzik uzmanısın. ",
		VoiceID:      "nova",
	}
	got := BuildPrompt("bir şarkı öner", p)

	if !strings.HasPrefix(got, "Sen bir müzik uzmanısın. Kullanıcının söylediği:") {
		t.Errorf("want persona prompt first, got %q", got)
	}
	if !strings.Contains(got, `"bir şarkı öner"`) {
		t.Errorf("want quoted transcript, got %q", got)
	}
	if !strings.HasSuffix(got, "\n\n"+brevityInstruction) {
		t.Errorf("want brevity instruction suffix, got %q", got)
	}
	if strings.Contains(got, assistantPrompt) {
		t.Error("persona prompt must not include the generic assistant prompt")
	}
}
