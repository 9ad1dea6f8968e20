package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sesli-ai/sesli/internal/observe"
	"github.com/sesli-ai/sesli/internal/persona"
	"github.com/sesli-ai/sesli/pkg/provider/llm"
)

// ErrEmptyReply is returned when the language model answers with blank text.
var ErrEmptyReply = errors.New("conversation: empty reply")

// Generation defaults.
const (
	DefaultMaxTokens   = 100
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
)

// GenerationConfig holds the sampling parameters of a turn.
type GenerationConfig struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

func (c GenerationConfig) withDefaults() GenerationConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.TopP <= 0 {
		c.TopP = DefaultTopP
	}
	return c
}

// TurnGenerator turns a final transcript into a short reply with one language
// model call.
type TurnGenerator struct {
	provider     llm.Provider
	providerName string
	cfg          GenerationConfig
	metrics      *observe.Metrics
}

// NewTurnGenerator returns a TurnGenerator. A nil metrics uses
// [observe.DefaultMetrics].
func NewTurnGenerator(provider llm.Provider, providerName string, cfg GenerationConfig, metrics *observe.Metrics) *TurnGenerator {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if providerName == "" {
		providerName = "llm"
	}
	return &TurnGenerator{
		provider:     provider,
		providerName: providerName,
		cfg:          cfg.withDefaults(),
		metrics:      metrics,
	}
}

// Generate asks the language model for a reply to transcript in the voice of
// p. A nil persona selects the generic assistant. The call is made exactly
// once; a blank reply yields [ErrEmptyReply].
func (g *TurnGenerator) Generate(ctx context.Context, transcript string, p *persona.Persona) (string, error) {
	ctx, span := observe.StartSpan(ctx, "turn.generate")
	defer span.End()

	req := llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: BuildPrompt(transcript, p)}},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		TopP:        g.cfg.TopP,
	}

	start := time.Now()
	resp, err := g.provider.Complete(ctx, req)
	g.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	g.metrics.RecordProviderRequest(ctx, g.providerName, "llm", observe.StatusOf(err))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("conversation: generate: %w", err)
	}

	reply := ""
	if resp != nil {
		reply = strings.TrimSpace(resp.Content)
	}
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}
