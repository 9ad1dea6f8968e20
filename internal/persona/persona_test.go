package persona

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func validPersona() Persona {
	return Persona{
		ID:           "chef",
		DisplayName:  "Şef",
		Description:  "Yemek tarifleri veren bir agent",
		SystemPrompt: "Sen deneyimli bir aşçısın.",
		VoiceID:      "onyx",
	}
}

func TestPersona_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(p *Persona)
		wantErr string
	}{
		{"valid", func(*Persona) {}, ""},
		{"missing id", func(p *Persona) { p.ID = "" }, "id must not be empty"},
		{"missing name", func(p *Persona) { p.DisplayName = "  " }, "name must not be empty"},
		{"name too long", func(p *Persona) { p.DisplayName = strings.Repeat("ş", MaxNameLength+1) }, "name must be at most 100"},
		{"name at limit counts runes", func(p *Persona) { p.DisplayName = strings.Repeat("ş", MaxNameLength) }, ""},
		{"description too long", func(p *Persona) { p.Description = strings.Repeat("a", MaxDescriptionLength+1) }, "description must be at most 500"},
		{"missing prompt", func(p *Persona) { p.SystemPrompt = "" }, "prompt must not be empty"},
		{"prompt too long", func(p *Persona) { p.SystemPrompt = strings.Repeat("a", MaxPromptLength+1) }, "prompt must be at most 2000"},
		{"missing voice", func(p *Persona) { p.VoiceID = "" }, "voice must not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validPersona()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("want error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPersona_ValidateJoinsErrors(t *testing.T) {
	t.Parallel()

	err := (&Persona{}).Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"id", "name", "prompt", "voice"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("want error mentioning %q, got %v", want, err)
		}
	}
}

func TestDemos(t *testing.T) {
	t.Parallel()

	demos := Demos()
	if len(demos) != 2 {
		t.Fatalf("want 2 demos, got %d", len(demos))
	}
	if demos[0].VoiceID != "shimmer" || demos[1].VoiceID != "nova" {
		t.Errorf("unexpected demo voices: %q, %q", demos[0].VoiceID, demos[1].VoiceID)
	}
	for _, p := range demos {
		if err := p.Validate(); err != nil {
			t.Errorf("demo %q invalid: %v", p.ID, err)
		}
	}
}

// ─── MemStore ─────────────────────────────────────────────────────────────────

func TestMemStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := validPersona()
	b := validPersona()
	b.ID, b.DisplayName = "dj", "DJ"

	s := NewMemStore([]Persona{a, b})
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "chef" || list[1].ID != "dj" {
		t.Fatalf("unexpected list: %+v", list)
	}

	got, err := s.Get(ctx, "dj")
	if err != nil || got.DisplayName != "DJ" {
		t.Fatalf("want DJ, got %+v (err=%v)", got, err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}

	// Mutating the returned slice does not affect the store.
	list[0].DisplayName = "changed"
	if p, _ := s.Get(ctx, "chef"); p.DisplayName != "Şef" {
		t.Errorf("store mutated through List result: %q", p.DisplayName)
	}

	b.DisplayName = "DJ 2"
	s.Replace([]Persona{b, b})
	list, _ = s.List(ctx)
	if len(list) != 1 || list[0].DisplayName != "DJ 2" {
		t.Errorf("want single replaced persona, got %+v", list)
	}
	if _, err := s.Get(ctx, "chef"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want chef removed after Replace, got %v", err)
	}
}

func TestLoadFromReader(t *testing.T) {
	t.Parallel()

	const doc = `
personas:
  - id: chef
    name: "Şef"
    description: "Yemek tarifleri veren bir agent"
    prompt: "Sen deneyimli bir aşçısın."
    voice: onyx
`
	personas, err := LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(personas) != 1 || personas[0].VoiceID != "onyx" {
		t.Fatalf("unexpected personas: %+v", personas)
	}

	if _, err := LoadFromReader(strings.NewReader("personas:\n  - id: x\n    colour: red\n")); err == nil {
		t.Error("expected error for unknown field")
	}
	if _, err := LoadFromReader(strings.NewReader("personas:\n  - id: x\n    name: X\n")); err == nil {
		t.Error("expected validation error")
	}
	if got, err := LoadFromReader(strings.NewReader("")); err != nil || got != nil {
		t.Errorf("want nil for empty document, got %+v (err=%v)", got, err)
	}
}

// ─── WithDemos ────────────────────────────────────────────────────────────────

func TestWithDemos(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty source serves demos", func(t *testing.T) {
		t.Parallel()
		s := WithDemos(NewMemStore(nil))
		list, err := s.List(ctx)
		if err != nil || len(list) != 2 {
			t.Fatalf("want demos, got %+v (err=%v)", list, err)
		}
		p, err := s.Get(ctx, "2")
		if err != nil || p.DisplayName != "Müzik Uzmanı" {
			t.Fatalf("want demo persona 2, got %+v (err=%v)", p, err)
		}
	})

	t.Run("failing source serves demos", func(t *testing.T) {
		t.Parallel()
		s := WithDemos(failingStore{})
		list, err := s.List(ctx)
		if err != nil || len(list) != 2 {
			t.Fatalf("want demos, got %+v (err=%v)", list, err)
		}
		if _, err := s.Get(ctx, "1"); err != nil {
			t.Fatalf("want demo persona 1, got %v", err)
		}
	})

	t.Run("populated source is authoritative", func(t *testing.T) {
		t.Parallel()
		s := WithDemos(NewMemStore([]Persona{validPersona()}))
		list, _ := s.List(ctx)
		if len(list) != 1 || list[0].ID != "chef" {
			t.Fatalf("want source personas, got %+v", list)
		}
		if _, err := s.Get(ctx, "1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("want ErrNotFound for demo ID, got %v", err)
		}
	})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

type failingStore struct{}

func (failingStore) List(context.Context) ([]Persona, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Get(context.Context, string) (Persona, error) {
	return Persona{}, errors.New("connection refused")
}
