// Package openai provides a TTS provider backed by the OpenAI speech endpoint
// (POST /v1/audio/speech). It implements the tts.Provider interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

const (
	// DefaultModel is the speech model used when none is configured.
	DefaultModel = "tts-1-hd"

	// DefaultVoice is the voice used by the generic assistant.
	DefaultVoice = "shimmer"
)

// Voices lists the voice identifiers accepted by the speech endpoint.
var Voices = []string{"alloy", "ash", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer"}

// IsVoice reports whether id names a known OpenAI speech voice.
func IsVoice(id string) bool {
	return slices.Contains(Voices, id)
}

// Provider implements tts.Provider using the OpenAI speech API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the speech model (e.g. "tts-1", "tts-1-hd").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
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

// New constructs a new OpenAI TTS Provider.
//
// The SDK's automatic retries are disabled: a failed narration request goes to
// the local fallback instead of being repeated.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}

	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.model == "" {
		cfg.model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Synthesize implements tts.Provider. The reply is rendered as MP3.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return tts.Audio{}, errors.New("openai tts: text must not be empty")
	}
	voice := req.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	if !IsVoice(voice) {
		return tts.Audio{}, fmt.Errorf("openai tts: %w: %q", tts.ErrUnknownVoice, voice)
	}

	resp, err := p.client.Audio.Speech.New(ctx, buildParams(p.model, voice, req))
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tts.Audio{}, fmt.Errorf("openai tts: speech: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(data) == 0 {
		return tts.Audio{}, errors.New("openai tts: empty audio")
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return tts.Audio{Data: data, ContentType: ct}, nil
}

// ListVoices implements tts.Provider. The speech endpoint has no catalogue
// API, so the static voice list is returned.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, 0, len(Voices))
	for _, v := range Voices {
		out = append(out, tts.VoiceProfile{
			ID:       v,
			Name:     v,
			Provider: "openai",
			Default:  v == DefaultVoice,
		})
	}
	return out, nil
}

func buildParams(model, voice string, req tts.Request) oai.AudioSpeechNewParams {
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}
	return oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          oai.SpeechModel(model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          oai.Float(speed),
	}
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
