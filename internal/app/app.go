// Package app wires all sesli subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves browser conversations (or Talk runs one conversation
// on the local microphone and speakers), and Shutdown tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithBroker,
// WithPersonaStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sesli-ai/sesli/internal/config"
	"github.com/sesli-ai/sesli/internal/conversation"
	"github.com/sesli-ai/sesli/internal/credential"
	"github.com/sesli-ai/sesli/internal/health"
	"github.com/sesli-ai/sesli/internal/observe"
	"github.com/sesli-ai/sesli/internal/persona"
	"github.com/sesli-ai/sesli/internal/session"
	"github.com/sesli-ai/sesli/internal/web"
	"github.com/sesli-ai/sesli/pkg/provider/llm"
	"github.com/sesli-ai/sesli/pkg/provider/stt"
	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

// readHeaderTimeout bounds request header reads on the HTTP server.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	reg *config.Registry

	// Subsystems are initialised in New and torn down in Shutdown.
	broker   credential.Broker
	personas persona.Store
	metrics  *observe.Metrics
	sessions *session.Manager
	server   *http.Server
	checkers []health.Checker

	// configPersonas is set when personas come from the config file; hot
	// reloads replace its contents.
	configPersonas *persona.MemStore

	// logLevel is adjusted on hot reload when set.
	logLevel *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBroker injects a credential broker instead of building one from config.
func WithBroker(b credential.Broker) Option {
	return func(a *App) { a.broker = b }
}

// WithPersonaStore injects a persona store instead of building one from
// config.
func WithPersonaStore(s persona.Store) Option {
	return func(a *App) { a.personas = s }
}

// WithMetrics injects the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Provider clients are
// not created here: each conversation builds its own from reg once its
// credentials are known.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Credentials ───────────────────────────────────────────────────
	if err := a.initBroker(); err != nil {
		return nil, fmt.Errorf("app: init credentials: %w", err)
	}

	// ── 2. Personas ──────────────────────────────────────────────────────
	if err := a.initPersonas(ctx); err != nil {
		return nil, fmt.Errorf("app: init personas: %w", err)
	}

	// ── 3. Conversations ─────────────────────────────────────────────────
	a.sessions = session.NewManager(session.Config{
		Settings:  settingsFrom(cfg),
		Providers: providersFrom(cfg, reg),
		Broker:    a.broker,
		Personas:  a.personas,
		Metrics:   a.metrics,
	})

	a.checkers = append(a.checkers, health.Personas(a.personas))
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initBroker builds the credential broker selected by the config.
func (a *App) initBroker() error {
	if a.broker != nil {
		return nil
	}
	creds := a.cfg.Credentials
	switch creds.Mode {
	case config.CredentialsBroker:
		client := &http.Client{Timeout: creds.Broker.Timeout}
		opts := []credential.BrokerOption{credential.WithHTTPClient(client)}
		for kind, path := range creds.Broker.Paths {
			opts = append(opts, credential.WithPath(credential.Kind(kind), path))
		}
		b, err := credential.NewHTTPBroker(creds.Broker.BaseURL, opts...)
		if err != nil {
			return err
		}
		a.broker = b
		a.checkers = append(a.checkers, health.Reachable("credential_broker", creds.Broker.BaseURL, client))
		slog.Info("credential broker configured", "base_url", creds.Broker.BaseURL)
	default:
		if err := config.LoadEnvFile(creds.EnvFile); err != nil {
			return err
		}
		static := config.StaticCredentials(a.cfg)
		for _, kind := range credential.Kinds {
			if _, ok := static[kind]; !ok {
				slog.Warn("no static key configured", "kind", kind)
			}
		}
		a.broker = static
	}
	return nil
}

// initPersonas opens the PostgreSQL persona store or falls back to the
// personas in the config file. Either way the demo personas fill in when the
// source is empty.
func (a *App) initPersonas(ctx context.Context) error {
	if a.personas != nil {
		return nil
	}

	dsn := a.cfg.PersonaStore.PostgresDSN
	if dsn == "" {
		a.configPersonas = persona.NewMemStore(a.cfg.Personas)
		a.personas = persona.WithDemos(a.configPersonas)
		slog.Info("personas loaded from config", "count", len(a.cfg.Personas))
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect persona store: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	store := persona.NewPostgresStore(pool)
	if a.cfg.PersonaStore.Migrate {
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
	}
	a.personas = persona.WithDemos(store)
	slog.Info("personas served from postgres")
	return nil
}

// settingsFrom maps the pipeline config onto conversation settings.
func settingsFrom(cfg *config.Config) session.Settings {
	return session.Settings{
		Stream: stt.StreamConfig{
			Language:       cfg.Pipeline.Language,
			Model:          cfg.Providers.STT.Model,
			SmartFormat:    true,
			InterimResults: true,
		},
		DrainInterval: cfg.Pipeline.DrainInterval,
		Generation: conversation.GenerationConfig{
			MaxTokens:   cfg.Pipeline.MaxTokens,
			Temperature: cfg.Pipeline.Temperature,
			TopP:        cfg.Pipeline.TopP,
		},
		DefaultVoice:     cfg.Pipeline.DefaultVoice,
		SpeechSpeed:      cfg.Pipeline.SpeechSpeed,
		FallbackLanguage: cfg.Pipeline.FallbackLanguage,
	}
}

// providersFrom returns factories that build each provider from its registry
// entry with the conversation's credential as the API key.
func providersFrom(cfg *config.Config, reg *config.Registry) session.Providers {
	p := session.Providers{
		RecognitionName: cfg.Providers.STT.Name,
		GenerationName:  cfg.Providers.LLM.Name,
		NarrationName:   cfg.Providers.TTS.Name,
	}
	if cfg.Providers.STT.Name != "" {
		p.Recognition = func(key string) (stt.Provider, error) {
			entry := cfg.Providers.STT
			entry.APIKey = key
			return reg.CreateSTT(entry)
		}
	}
	if cfg.Providers.LLM.Name != "" {
		p.Generation = func(key string) (llm.Provider, error) {
			entry := cfg.Providers.LLM
			entry.APIKey = key
			return reg.CreateLLM(entry)
		}
	}
	if cfg.Providers.TTS.Name != "" {
		p.Narration = func(key string) (tts.Provider, error) {
			entry := cfg.Providers.TTS
			entry.APIKey = key
			return reg.CreateTTS(entry)
		}
	}
	return p
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the HTTP front end.
func (a *App) Handler() http.Handler {
	return web.NewServer(web.Config{
		Sessions:       a.sessions,
		Personas:       a.personas,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Checkers:       a.checkers,
		Metrics:        a.metrics,
	})
}

// Run serves browser conversations on the configured address until ctx is
// done, then returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("server listening", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	}
}

// Sessions returns the conversation manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of a changed config: config-file
// personas and the log level. Other changes take effect on restart.
func (a *App) Reload(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PersonasChanged {
		if a.configPersonas == nil {
			slog.Warn("persona changes ignored: personas are served from postgres")
			return
		}
		a.configPersonas.Replace(updated.Personas)
		for _, c := range d.PersonaChanges {
			slog.Info("persona reloaded", "id", c.ID, "added", c.Added, "removed", c.Removed,
				"prompt_changed", c.PromptChanged, "voice_changed", c.VoiceChanged)
		}
	}
}

// SlogLevel converts a config log level to a slog level.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AddCloser registers fn to run during Shutdown after the server stops.
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops every conversation, drains the HTTP server, and then runs
// the closers in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "conversations", len(a.sessions.Active()), "closers", len(a.closers))

		a.sessions.CloseAll()

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
				shutdownErr = err
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
