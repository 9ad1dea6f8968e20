// Package anyllm serves turn generation from any backend supported by
// github.com/mozilla-ai/any-llm-go (Anthropic, Mistral, Groq, DeepSeek, and
// local Ollama, llama.cpp or llamafile servers).
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllm.WithAPIKey(key))
//	p, err := anyllm.New("ollama", "llama3.2", anyllm.WithBaseURL("http://gpu-box:11434"))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/sesli-ai/sesli/pkg/provider/llm"
)

// ErrMissingKey is returned by [New] for a hosted backend without an API key.
var ErrMissingKey = errors.New("anyllm: API key required")

type backend struct {
	build func(...anyllmlib.Option) (anyllmlib.Provider, error)
	// local backends run on the operator's own server and take no key.
	local bool
}

var backends = map[string]backend{
	"openai":    {build: wrap(anyllmoai.New)},
	"anthropic": {build: wrap(anthropic.New)},
	"gemini":    {build: wrap(gemini.New)},
	"deepseek":  {build: wrap(deepseek.New)},
	"mistral":   {build: wrap(mistral.New)},
	"groq":      {build: wrap(groq.New)},
	"ollama":    {build: wrap(ollama.New), local: true},
	"llamacpp":  {build: wrap(llamacpp.New), local: true},
	"llamafile": {build: wrap(llamafile.New), local: true},
}

// wrap adapts a backend constructor returning its concrete type.
func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) func(...anyllmlib.Option) (anyllmlib.Provider, error) {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := fn(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Backends returns the backend names accepted by [New], sorted.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Option configures [New].
type Option func(*options)

type options struct {
	apiKey  string
	baseURL string
}

// WithAPIKey sets the key for hosted backends. Local backends ignore it.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL points the backend at another endpoint, e.g. a local server.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// Provider implements [llm.Provider] over one any-llm-go backend.
type Provider struct {
	name    string
	model   string
	backend anyllmlib.Provider
}

var _ llm.Provider = (*Provider)(nil)

// New builds a Provider for the named backend (see [Backends]).
func New(name, model string, opts ...Option) (*Provider, error) {
	name = strings.ToLower(name)
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q (supported: %s)", name, strings.Join(Backends(), ", "))
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var libOpts []anyllmlib.Option
	switch {
	case b.local:
	case o.apiKey == "":
		return nil, fmt.Errorf("%w for %s", ErrMissingKey, name)
	default:
		libOpts = append(libOpts, anyllmlib.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		libOpts = append(libOpts, anyllmlib.WithBaseURL(o.baseURL))
	}

	client, err := b.build(libOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", name, err)
	}
	return &Provider{name: name, model: model, backend: client}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anyllm: no messages")
	}

	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.name)
	}

	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		Content:      choice.Message.ContentString(),
		FinishReason: choice.FinishReason,
	}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// params maps req onto any-llm-go parameters. Zero sampling values are left
// unset so the backend default applies.
func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = ptr(req.Temperature)
	}
	if req.TopP != 0 {
		params.TopP = ptr(req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = ptr(req.MaxTokens)
	}
	return params
}

func ptr[T any](v T) *T { return &v }
