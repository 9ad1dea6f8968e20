package conversation

import (
	"strings"

	"github.com/sesli-ai/sesli/internal/persona"
)

// Prompt fragments sent to the language model.
const (
	// assistantPrompt instructs the generic assistant used when no persona is
	// selected.
	assistantPrompt = "Sen Türkçe konuşan bir sesli asistansın. Kullanıcı Türkçe konuşuyor ve sen de SADECE Türkçe yanıt vermelisin. Yanıtların kısa ve öz olmalı, maksimum 1-2 cümle kullan."

	// brevityInstruction is appended to persona prompts.
	brevityInstruction = "ÖNEMLİ: Lütfen kısa ve öz cevaplar ver. Maksimum 1-2 cümle kullan. Uzun açıklamalardan kaçın."
)

// BuildPrompt returns the model input for transcript. A nil persona selects
// the generic Turkish assistant.
func BuildPrompt(transcript string, p *persona.Persona) string {
	said := `Kullanıcının söylediği: "` + strings.TrimSpace(transcript) + `"`
	if p == nil {
		return assistantPrompt + " " + said
	}
	return strings.TrimSpace(p.SystemPrompt) + " " + said + "\n\n" + brevityInstruction
}
