package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/sesli-ai/sesli/internal/credential"
)

// envKeys maps provider names to the environment variable holding their key
// when it differs from the NAME_API_KEY convention.
var envKeys = map[string]string{
	"gemini": "GEMINI_API_KEY",
	"openai": "OPENAI_API_KEY",
}

// EnvKey returns the environment variable that holds the API key for the
// named provider, e.g. "DEEPGRAM_API_KEY" for "deepgram".
func EnvKey(provider string) string {
	if k, ok := envKeys[provider]; ok {
		return k
	}
	name := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(provider))
	return name + "_API_KEY"
}

// LoadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env file %q: %w", path, err)
	}
	return nil
}

// StaticCredentials resolves the static key of every credential kind. Keys
// set in the config win; blank keys are read from the environment variable of
// the provider serving that kind. Kinds without a key are left out, which
// makes them unavailable.
func StaticCredentials(cfg *Config) credential.Static {
	lookup := func(configured, provider string) string {
		if configured != "" {
			return configured
		}
		if provider == "" {
			return ""
		}
		return os.Getenv(EnvKey(provider))
	}

	out := credential.Static{}
	set := func(kind credential.Kind, key string) {
		if key != "" {
			out[kind] = key
		}
	}
	s := cfg.Credentials.Static
	set(credential.Recognition, lookup(s.Recognition, cfg.Providers.STT.Name))
	set(credential.Generation, lookup(s.Generation, cfg.Providers.LLM.Name))
	set(credential.Narration, lookup(s.Narration, cfg.Providers.TTS.Name))
	return out
}
