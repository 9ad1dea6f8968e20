package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/sesli-ai/sesli/internal/persona"
	"github.com/sesli-ai/sesli/pkg/provider/llm"
	llmmock "github.com/sesli-ai/sesli/pkg/provider/llm/mock"
)

func TestTurnGenerator_Generate(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  Merhaba, nasılsın?  "}}
	gen := NewTurnGenerator(p, "gemini", GenerationConfig{}, nil)

	reply, err := gen.Generate(context.Background(), "selam", nil)
	if err != nil {
		t.Fatalf("Generate: unexpected error: %v", err)
	}
	if reply != "Merhaba, nasılsın?" {
		t.Errorf("reply: want trimmed text, got %q", reply)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("want exactly 1 Complete call, got %d", len(calls))
	}
	req := calls[0].Req
	if req.MaxTokens != DefaultMaxTokens || req.Temperature != DefaultTemperature || req.TopP != DefaultTopP {
		t.Errorf("sampling: want %d/%v/%v, got %d/%v/%v",
			DefaultMaxTokens, DefaultTemperature, DefaultTopP, req.MaxTokens, req.Temperature, req.TopP)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("want one user message, got %+v", req.Messages)
	}
	if req.Messages[0].Content != BuildPrompt("selam", nil) {
		t.Errorf("content: want generic prompt, got %q", req.Messages[0].Content)
	}
}

func TestTurnGenerator_Persona(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Tamam."}}
	gen := NewTurnGenerator(p, "", GenerationConfig{MaxTokens: 50, Temperature: 0.2, TopP: 0.5}, nil)
	per := persona.Demos()[1]

	if _, err := gen.Generate(context.Background(), "çal", &per); err != nil {
		t.Fatalf("Generate: unexpected error: %v", err)
	}
	req := p.Calls()[0].Req
	if req.MaxTokens != 50 || req.Temperature != 0.2 || req.TopP != 0.5 {
		t.Errorf("sampling: want 50/0.2/0.5, got %d/%v/%v", req.MaxTokens, req.Temperature, req.TopP)
	}
	if req.Messages[0].Content != BuildPrompt("çal", &per) {
		t.Errorf("content: want persona prompt, got %q", req.Messages[0].Content)
	}
}

func TestTurnGenerator_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota exceeded")
	tests := []struct {
		name    string
		mock    *llmmock.Provider
		wantErr error
	}{
		{name: "provider error", mock: &llmmock.Provider{CompleteErr: boom}, wantErr: boom},
		{name: "blank reply", mock: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " \n "}}, wantErr: ErrEmptyReply},
		{name: "nil response", mock: &llmmock.Provider{}, wantErr: ErrEmptyReply},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gen := NewTurnGenerator(tc.mock, "test", GenerationConfig{}, nil)
			reply, err := gen.Generate(context.Background(), "selam", nil)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("want error %v, got %v", tc.wantErr, err)
			}
			if reply != "" {
				t.Errorf("want empty reply, got %q", reply)
			}
			if n := len(tc.mock.Calls()); n != 1 {
				t.Errorf("want exactly 1 call, got %d", n)
			}
		})
	}
}
