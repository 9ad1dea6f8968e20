// Package gemini provides an LLM provider backed by the Google Gemini API via
// google.golang.org/genai.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/sesli-ai/sesli/pkg/provider/llm"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gemini-2.0-flash"

// Provider implements llm.Provider using the Gemini generateContent endpoint.
type Provider struct {
	client *genai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the Gemini API base URL. Intended for tests and
// gateways.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Gemini Provider. An empty model selects [DefaultModel].
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	if cfg.timeout > 0 {
		cc.HTTPOptions.Timeout = genai.Ptr(cfg.timeout)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	contents, err := buildContents(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, buildConfig(req))
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errors.New("gemini: empty candidates in response")
	}

	out := &llm.CompletionResponse{
		Content:      resp.Text(),
		FinishReason: strings.ToLower(string(resp.Candidates[0].FinishReason)),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// buildConfig maps sampling options onto a GenerateContentConfig.
func buildConfig(req llm.CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature != 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.TopP != 0 {
		cfg.TopP = genai.Ptr(float32(req.TopP))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}

// buildContents converts messages into Gemini contents. System messages are
// folded into the user turn that follows them because the contents list only
// carries user and model roles.
func buildContents(msgs []llm.Message) ([]*genai.Content, error) {
	var (
		contents []*genai.Content
		pending  []string
	)
	for _, m := range msgs {
		switch m.Role {
		case "system":
			pending = append(pending, m.Content)
		case "user":
			text := m.Content
			if len(pending) > 0 {
				text = strings.Join(append(pending, text), "\n\n")
				pending = nil
			}
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			return nil, fmt.Errorf("unknown message role %q", m.Role)
		}
	}
	if len(pending) > 0 {
		contents = append(contents, genai.NewContentFromText(strings.Join(pending, "\n\n"), genai.RoleUser))
	}
	if len(contents) == 0 {
		return nil, errors.New("no messages")
	}
	return contents, nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
