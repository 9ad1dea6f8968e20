package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/sesli-ai/sesli/internal/credential"
	oaitts "github.com/sesli-ai/sesli/pkg/provider/tts/openai"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":      {"deepgram"},
	"llm":      {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":      {"openai", "elevenlabs"},
	"fallback": {"espeak"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultSTT              = "deepgram"
	DefaultSTTModel         = "nova-2"
	DefaultLLM              = "gemini"
	DefaultLLMModel         = "gemini-2.0-flash"
	DefaultTTS              = "openai"
	DefaultTTSModel         = "tts-1-hd"
	DefaultFallback         = "espeak"
	DefaultLanguage         = "tr"
	DefaultFallbackLanguage = "tr-TR"
	DefaultVoice            = "shimmer"
	DefaultEnvFile          = ".env"
	DefaultDrainInterval    = 250 * time.Millisecond
	DefaultBrokerTimeout    = 10 * time.Second
	DefaultSampleRate       = 16000
	DefaultChannels         = 1
	DefaultChunkInterval    = 500 * time.Millisecond
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields: Deepgram nova-2 in Turkish, Gemini 2.0
// Flash and OpenAI tts-1-hd with the shimmer voice.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.LogFormat, LogFormatText)

	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = DefaultSTT
		setDefault(&cfg.Providers.STT.Model, DefaultSTTModel)
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = DefaultLLM
		setDefault(&cfg.Providers.LLM.Model, DefaultLLMModel)
	}
	if cfg.Providers.TTS.Name == "" {
		cfg.Providers.TTS.Name = DefaultTTS
		setDefault(&cfg.Providers.TTS.Model, DefaultTTSModel)
	}
	setDefault(&cfg.Providers.Fallback.Name, DefaultFallback)

	setDefault(&cfg.Credentials.Mode, CredentialsStatic)
	setDefault(&cfg.Credentials.EnvFile, DefaultEnvFile)
	if cfg.Credentials.Broker.Timeout <= 0 {
		cfg.Credentials.Broker.Timeout = DefaultBrokerTimeout
	}

	setDefault(&cfg.Capture.SampleRate, DefaultSampleRate)
	setDefault(&cfg.Capture.Channels, DefaultChannels)
	setDefault(&cfg.Capture.ChunkInterval, DefaultChunkInterval)

	setDefault(&cfg.Pipeline.Language, DefaultLanguage)
	setDefault(&cfg.Pipeline.FallbackLanguage, DefaultFallbackLanguage)
	setDefault(&cfg.Pipeline.DefaultVoice, DefaultVoice)
	if cfg.Pipeline.DrainInterval == 0 {
		cfg.Pipeline.DrainInterval = DefaultDrainInterval
	}
	if cfg.Pipeline.SpeechSpeed == 0 {
		cfg.Pipeline.SpeechSpeed = 1.0
	}
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("fallback", cfg.Providers.Fallback.Name)

	// Credentials
	creds := cfg.Credentials
	if creds.Mode != "" && !creds.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("credentials.mode %q is invalid; valid values: static, broker", creds.Mode))
	}
	if creds.Mode == CredentialsBroker && creds.Broker.BaseURL == "" {
		errs = append(errs, errors.New("credentials.broker.base_url is required when mode is broker"))
	}
	for kind := range creds.Broker.Paths {
		if !slices.Contains(credential.Kinds, credential.Kind(kind)) {
			errs = append(errs, fmt.Errorf("credentials.broker.paths: unknown credential kind %q", kind))
		}
	}

	// Capture
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels < 0 || cfg.Capture.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [0, 2]", cfg.Capture.Channels))
	}
	if cfg.Capture.ChunkInterval < 0 {
		errs = append(errs, fmt.Errorf("capture.chunk_interval %s must not be negative", cfg.Capture.ChunkInterval))
	}

	// Pipeline
	p := cfg.Pipeline
	if p.DrainInterval < 0 {
		errs = append(errs, fmt.Errorf("pipeline.drain_interval %s must not be negative", p.DrainInterval))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_tokens %d must not be negative", p.MaxTokens))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", p.Temperature))
	}
	if p.TopP < 0 || p.TopP > 1 {
		errs = append(errs, fmt.Errorf("pipeline.top_p %.2f is out of range [0, 1]", p.TopP))
	}
	if p.SpeechSpeed != 0 && (p.SpeechSpeed < 0.25 || p.SpeechSpeed > 4.0) {
		errs = append(errs, fmt.Errorf("pipeline.speech_speed %.2f is out of range [0.25, 4.0]", p.SpeechSpeed))
	}
	openAIVoices := cfg.Providers.TTS.Name == "openai"
	if openAIVoices && p.DefaultVoice != "" && !oaitts.IsVoice(p.DefaultVoice) {
		errs = append(errs, fmt.Errorf("pipeline.default_voice %q is not an OpenAI voice", p.DefaultVoice))
	}

	// Personas
	idsSeen := make(map[string]int, len(cfg.Personas))
	for i := range cfg.Personas {
		per := &cfg.Personas[i]
		prefix := fmt.Sprintf("personas[%d]", i)
		if err := per.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if per.ID != "" {
			if prev, ok := idsSeen[per.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of personas[%d]", prefix, per.ID, prev))
			}
			idsSeen[per.ID] = i
		}
		if openAIVoices && per.VoiceID != "" && !oaitts.IsVoice(per.VoiceID) {
			errs = append(errs, fmt.Errorf("%s.voice %q is not an OpenAI voice", prefix, per.VoiceID))
		}
	}
	if len(cfg.Personas) == 0 && cfg.PersonaStore.PostgresDSN == "" {
		slog.Debug("no personas configured; serving the built-in demo personas")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
