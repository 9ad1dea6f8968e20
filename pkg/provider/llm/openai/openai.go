// Package openai generates conversation turns with the OpenAI chat
// completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/sesli-ai/sesli/pkg/provider/llm"
)

// DefaultModel is used when New is given an empty model.
const DefaultModel = "gpt-4o-mini"

// ErrRefused is returned when the model declines to answer.
var ErrRefused = errors.New("openai: model refused")

// Option configures [New].
type Option func(*settings)

type settings struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// WithBaseURL targets an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.organization = org }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// Provider implements [llm.Provider].
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// New returns a Provider for apiKey. The SDK's own retries are disabled: one
// Complete call is one HTTP request.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	var s settings
	for _, o := range opts {
		o(&s)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(s.organization))
	}
	if s.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Model returns the chat model requests are sent to.
func (p *Provider) Model() string { return p.model }

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	msgs, err := messages(req)
	if err != nil {
		return nil, err
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.TopP != 0 {
		params.TopP = param.NewOpt(req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai: chat completion: status %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("%w: %s", ErrRefused, choice.Message.Refusal)
	}
	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// messages maps the request onto chat messages, system prompt first.
func messages(req llm.CompletionRequest) ([]oai.ChatCompletionMessageParamUnion, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: no messages")
	}
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			out = append(out, oai.SystemMessage(m.Content))
		case "user":
			out = append(out, oai.UserMessage(m.Content))
		case "assistant":
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("openai: unknown message role %q", m.Role)
		}
	}
	return out, nil
}
