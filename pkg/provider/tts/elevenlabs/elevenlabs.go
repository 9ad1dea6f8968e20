// Package elevenlabs narrates replies with the ElevenLabs text-to-speech
// HTTP API.
//
// Personas name their voice with the short OpenAI-style identifiers
// (shimmer, nova, ...). [WithVoiceAliases] maps those onto ElevenLabs voice
// IDs; identifiers without an alias are sent unchanged.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

const (
	DefaultModel        = "eleven_multilingual_v2"
	DefaultOutputFormat = "mp3_44100_128"

	apiBase = "https://api.elevenlabs.io"
	// errorBodyLimit bounds the response text kept in an APIError.
	errorBodyLimit = 512
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("elevenlabs: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("elevenlabs: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the synthesis model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat selects the encoding, e.g. "mp3_44100_128" or "pcm_16000".
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.format = format }
}

func WithBaseURL(u string) Option {
	return func(p *Provider) { p.base = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithVoiceAliases maps persona voice names onto ElevenLabs voice IDs.
func WithVoiceAliases(aliases map[string]string) Option {
	return func(p *Provider) { p.aliases = maps.Clone(aliases) }
}

// Provider implements [tts.Provider].
type Provider struct {
	key     string
	model   string
	format  string
	base    string
	client  *http.Client
	aliases map[string]string
}

var _ tts.Provider = (*Provider)(nil)

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		key:    apiKey,
		model:  DefaultModel,
		format: DefaultOutputFormat,
		base:   apiBase,
		client: http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type ttsBody struct {
	Text          string   `json:"text"`
	ModelID       string   `json:"model_id"`
	LanguageCode  string   `json:"language_code,omitempty"`
	VoiceSettings settings `json:"voice_settings"`
}

type settings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// Synthesize implements [tts.Provider]. The whole utterance is buffered.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return tts.Audio{}, errors.New("elevenlabs: text must not be empty")
	}
	voice := p.voiceID(req.Voice)
	if voice == "" {
		return tts.Audio{}, errors.New("elevenlabs: voice must not be empty")
	}

	payload, err := json.Marshal(ttsBody{
		Text:          req.Text,
		ModelID:       p.model,
		LanguageCode:  languageCode(req.Language),
		VoiceSettings: settings{Stability: 0.5, SimilarityBoost: 0.75, Speed: req.Speed},
	})
	if err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	path := "/v1/text-to-speech/" + url.PathEscape(voice) + "?output_format=" + url.QueryEscape(p.format)
	data, err := p.call(ctx, "synthesize", http.MethodPost, path, payload)
	if err != nil {
		return tts.Audio{}, err
	}
	if len(data) == 0 {
		return tts.Audio{}, errors.New("elevenlabs: synthesize: empty audio")
	}
	return tts.Audio{Data: data, ContentType: mimeType(p.format)}, nil
}

// ListVoices implements [tts.Provider].
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	data, err := p.call(ctx, "list voices", http.MethodGet, "/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Voices []struct {
			ID       string            `json:"voice_id"`
			Name     string            `json:"name"`
			Category string            `json:"category"`
			Labels   map[string]string `json:"labels"`
		} `json:"voices"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}

	out := make([]tts.VoiceProfile, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = map[string]string{}
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out = append(out, tts.VoiceProfile{
			ID:       v.ID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Language: v.Labels["language"],
			Metadata: meta,
		})
	}
	return out, nil
}

// call performs one request and returns the response body. Non-2xx answers
// become an *APIError.
func (p *Provider) call(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %s: %w", op, err)
	}
	req.Header.Set("xi-api-key", p.key)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %s: read body: %w", op, err)
	}
	return data, nil
}

func (p *Provider) voiceID(name string) string {
	if id, ok := p.aliases[name]; ok {
		return id
	}
	return name
}

// languageCode reduces a BCP-47 tag to the ISO 639-1 code the API takes.
func languageCode(tag string) string {
	lang, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(lang)
}

func mimeType(format string) string {
	codec, _, _ := strings.Cut(format, "_")
	switch codec {
	case "mp3":
		return "audio/mpeg"
	case "pcm":
		return "audio/pcm"
	case "ulaw":
		return "audio/basic"
	case "opus":
		return "audio/ogg"
	}
	return "application/octet-stream"
}
