// Package persona provides read-only access to agent personas.
//
// A [Persona] bundles the instructions and narration voice that shape one kind
// of conversation. Personas are authored elsewhere; this package only reads
// them from YAML configuration ([MemStore]) or from PostgreSQL
// ([PostgresStore]). When no source yields any persona, [WithDemos] serves the
// built-in demo set.
package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Field limits enforced by [Persona.Validate].
const (
	MaxNameLength        = 100
	MaxDescriptionLength = 500
	MaxPromptLength      = 2000
)

// ErrNotFound is returned by [Store.Get] when no persona has the requested ID.
var ErrNotFound = errors.New("persona: not found")

// Persona is a configured agent persona.
type Persona struct {
	// ID uniquely identifies the persona.
	ID string `yaml:"id" json:"id"`

	// DisplayName is shown to the user.
	DisplayName string `yaml:"name" json:"name"`

	// Description is a short summary shown next to the name.
	Description string `yaml:"description" json:"description"`

	// SystemPrompt is prepended to every transcript sent to the language model.
	SystemPrompt string `yaml:"prompt" json:"prompt"`

	// VoiceID selects the narration voice (e.g. "nova").
	VoiceID string `yaml:"voice" json:"voice"`
}

// Validate checks the persona against the field limits. It returns a joined
// error describing every violation found, or nil if the persona is valid.
func (p *Persona) Validate() error {
	var errs []error

	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, errors.New("persona: id must not be empty"))
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		errs = append(errs, errors.New("persona: name must not be empty"))
	} else if n := utf8.RuneCountInString(p.DisplayName); n > MaxNameLength {
		errs = append(errs, fmt.Errorf("persona: name must be at most %d characters, got %d", MaxNameLength, n))
	}
	if n := utf8.RuneCountInString(p.Description); n > MaxDescriptionLength {
		errs = append(errs, fmt.Errorf("persona: description must be at most %d characters, got %d", MaxDescriptionLength, n))
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		errs = append(errs, errors.New("persona: prompt must not be empty"))
	} else if n := utf8.RuneCountInString(p.SystemPrompt); n > MaxPromptLength {
		errs = append(errs, fmt.Errorf("persona: prompt must be at most %d characters, got %d", MaxPromptLength, n))
	}
	if strings.TrimSpace(p.VoiceID) == "" {
		errs = append(errs, errors.New("persona: voice must not be empty"))
	}

	return errors.Join(errs...)
}

// Store is a read-only source of personas.
// Implementations must be safe for concurrent use.
type Store interface {
	// List returns every available persona.
	List(ctx context.Context) ([]Persona, error)

	// Get returns the persona with the given ID, or [ErrNotFound].
	Get(ctx context.Context, id string) (Persona, error)
}

// Demos returns the built-in demo personas.
func Demos() []Persona {
	return []Persona{
		{
			ID:           "1",
			DisplayName:  "Türkçe Asistan",
			Description:  "Türkçe konuşan ve yanıt veren bir asistan",
			SystemPrompt: "Sen Türkçe konuşan yardımcı bir asistansın. Kullanıcının sorularına nazik ve bilgilendirici bir şekilde cevap ver.",
			VoiceID:      "shimmer",
		},
		{
			ID:           "2",
			DisplayName:  "Müzik Uzmanı",
			Description:  "Müzik hakkında bilgi veren bir agent",
			SystemPrompt: "Sen bir müzik uzmanısın. Müzik türleri, sanatçılar ve albümler hakkında detaylı bilgi verebilirsin.",
			VoiceID:      "nova",
		},
	}
}
