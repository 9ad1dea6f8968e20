package anyllm

import (
	"errors"
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/sesli-ai/sesli/pkg/provider/llm"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		backend string
		model   string
		opts    []Option
		wantErr error
		fails   bool
	}{
		{name: "hosted with key", backend: "anthropic", model: "claude-3-5-haiku-latest", opts: []Option{WithAPIKey("sk-ant-test")}},
		{name: "case insensitive", backend: "Mistral", model: "mistral-small-latest", opts: []Option{WithAPIKey("m-test")}},
		{name: "local without key", backend: "ollama", model: "llama3.2"},
		{name: "local ignores key", backend: "llamafile", model: "local", opts: []Option{WithAPIKey("unused"), WithBaseURL("http://127.0.0.1:8080/v1")}},
		{name: "hosted without key", backend: "groq", model: "llama-3.1-8b-instant", wantErr: ErrMissingKey},
		{name: "unknown backend", backend: "fakecloud", model: "m", opts: []Option{WithAPIKey("k")}, fails: true},
		{name: "empty model", backend: "ollama", fails: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := New(tt.backend, tt.model, tt.opts...)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("want %v, got %v", tt.wantErr, err)
				}
			case tt.fails:
				if err == nil {
					t.Error("want error, got nil")
				}
			default:
				if err != nil || p == nil {
					t.Fatalf("want provider, got %v", err)
				}
			}
		})
	}
}

func TestBackends(t *testing.T) {
	t.Parallel()

	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends not sorted: %v", got)
	}
	for _, want := range []string{"anthropic", "ollama", "groq"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends: missing %q in %v", want, got)
		}
	}
}

func TestParams(t *testing.T) {
	t.Parallel()

	p, err := New("ollama", "llama3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := p.params(llm.CompletionRequest{
		SystemPrompt: "Kısa cevap ver.",
		Messages: []llm.Message{
			{Role: "user", Content: "Merhaba"},
			{Role: "assistant", Content: "Selam!"},
			{Role: "user", Content: "Nasılsın?"},
		},
		Temperature: 0.7,
		TopP:        0.9,
		MaxTokens:   100,
	})

	if params.Model != "llama3" {
		t.Errorf("model: want llama3, got %q", params.Model)
	}
	wantRoles := []string{anyllmlib.RoleSystem, "user", "assistant", "user"}
	if len(params.Messages) != len(wantRoles) {
		t.Fatalf("messages: want %d, got %d", len(wantRoles), len(params.Messages))
	}
	for i, role := range wantRoles {
		if params.Messages[i].Role != role {
			t.Errorf("message %d role: want %q, got %q", i, role, params.Messages[i].Role)
		}
	}
	if got := params.Messages[2].ContentString(); got != "Selam!" {
		t.Errorf("assistant content: want Selam!, got %q", got)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature: want 0.7, got %v", params.Temperature)
	}
	if params.TopP == nil || *params.TopP != 0.9 {
		t.Errorf("top_p: want 0.9, got %v", params.TopP)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 100 {
		t.Errorf("max tokens: want 100, got %v", params.MaxTokens)
	}

	bare := p.params(llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "Merhaba"}}})
	if bare.Temperature != nil || bare.TopP != nil || bare.MaxTokens != nil {
		t.Errorf("zero sampling values: want unset, got %+v", bare)
	}
	if len(bare.Messages) != 1 {
		t.Errorf("no system prompt: want 1 message, got %d", len(bare.Messages))
	}
}
