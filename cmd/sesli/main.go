// Command sesli is the entry point for the sesli Turkish voice assistant.
//
// In serve mode (the default) it serves browser conversations over HTTP and
// WebSocket. In talk mode it runs a single conversation on the local
// microphone and speakers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sesli-ai/sesli/internal/app"
	"github.com/sesli-ai/sesli/internal/config"
	"github.com/sesli-ai/sesli/internal/observe"
	"github.com/sesli-ai/sesli/pkg/audio/speech"
	"github.com/sesli-ai/sesli/pkg/audio/speech/espeak"
	"github.com/sesli-ai/sesli/pkg/provider/llm"
	"github.com/sesli-ai/sesli/pkg/provider/llm/anyllm"
	"github.com/sesli-ai/sesli/pkg/provider/llm/gemini"
	oallm "github.com/sesli-ai/sesli/pkg/provider/llm/openai"
	"github.com/sesli-ai/sesli/pkg/provider/stt"
	"github.com/sesli-ai/sesli/pkg/provider/stt/deepgram"
	"github.com/sesli-ai/sesli/pkg/provider/tts"
	"github.com/sesli-ai/sesli/pkg/provider/tts/elevenlabs"
	oatts "github.com/sesli-ai/sesli/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mode := flag.String("mode", "serve", `"serve" for browser conversations, "talk" for the local microphone`)
	personaID := flag.String("persona", "", "persona ID for talk mode (empty for the generic assistant)")
	flag.Parse()

	if *mode != "serve" && *mode != "talk" {
		fmt.Fprintf(os.Stderr, "sesli: unknown mode %q (want serve or talk)\n", *mode)
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sesli: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sesli: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(cfg.Server.LogFormat, level))

	slog.Info("sesli starting",
		"version", version,
		"mode", *mode,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version, Mode: *mode})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, *mode)

	application, err := app.New(ctx, cfg, reg,
		app.WithLogLevel(level),
		app.WithMetrics(observe.DefaultMetrics()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.Reload)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		application.AddCloser(func() error { watcher.Stop(); return nil })
	}
	application.AddCloser(func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTelemetry(flushCtx)
	})

	var runErr error
	if *mode == "talk" {
		slog.Info("listening on the local microphone, press Ctrl+C to stop")
		runErr = application.Talk(ctx, *personaID, os.Stdout, app.LocalDevices{})
	} else {
		slog.Info("server ready, press Ctrl+C to shut down")
		runErr = application.Run(ctx)
	}

	code := 0
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("hoşça kal")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry whose APIKey holds the
// conversation's credential.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if secs := config.OptInt(entry.Options, "keepalive_seconds"); secs > 0 {
			opts = append(opts, deepgram.WithKeepAlive(time.Duration(secs)*time.Second))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// gemini and openai have native clients; every other any-llm backend is
	// registered under its own name.
	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []gemini.Option
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		if secs := config.OptInt(entry.Options, "timeout_seconds"); secs > 0 {
			opts = append(opts, gemini.WithTimeout(time.Duration(secs)*time.Second))
		}
		return gemini.New(context.Background(), entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := config.OptString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if secs := config.OptInt(entry.Options, "timeout_seconds"); secs > 0 {
			opts = append(opts, oallm.WithTimeout(time.Duration(secs)*time.Second))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, backend := range anyllm.Backends() {
		if backend == "gemini" || backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(backend, entry.Model,
				anyllm.WithAPIKey(entry.APIKey),
				anyllm.WithBaseURL(entry.BaseURL),
			)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if secs := config.OptInt(entry.Options, "timeout_seconds"); secs > 0 {
			opts = append(opts, oatts.WithTimeout(time.Duration(secs)*time.Second))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := config.OptString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if voices := config.OptStringMap(entry.Options, "voices"); len(voices) > 0 {
			opts = append(opts, elevenlabs.WithVoiceAliases(voices))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── Local speech ──────────────────────────────────────────────────────────

	reg.RegisterSpeaker("espeak", func(entry config.ProviderEntry) (speech.Speaker, error) {
		return espeak.New(
			espeak.WithCommand(config.OptString(entry.Options, "command")),
			espeak.WithWordsPerMinute(config.OptInt(entry.Options, "words_per_minute")),
		), nil
	})

	for _, kind := range []string{"stt", "llm", "tts", "fallback"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, mode string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          sesli — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Fallback", cfg.Providers.Fallback.Name, "")
	printRow("Credentials", string(cfg.Credentials.Mode))
	if cfg.PersonaStore.PostgresDSN != "" {
		printRow("Personas", "postgres")
	} else {
		printRow("Personas", fmt.Sprintf("%d in config", len(cfg.Personas)))
	}
	printRow("Mode", mode)
	if mode == "serve" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
