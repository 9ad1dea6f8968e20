package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sesli-ai/sesli/internal/app"
	"github.com/sesli-ai/sesli/internal/config"
	"github.com/sesli-ai/sesli/internal/credential"
	"github.com/sesli-ai/sesli/internal/persona"
	audiomock "github.com/sesli-ai/sesli/pkg/audio/mock"
	"github.com/sesli-ai/sesli/pkg/provider/llm"
	llmmock "github.com/sesli-ai/sesli/pkg/provider/llm/mock"
	"github.com/sesli-ai/sesli/pkg/provider/stt"
	sttmock "github.com/sesli-ai/sesli/pkg/provider/stt/mock"
	"github.com/sesli-ai/sesli/pkg/provider/tts"
	ttsmock "github.com/sesli-ai/sesli/pkg/provider/tts/mock"
)

// testConfig returns a config with one persona and mock provider names.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "mock-stt"},
			LLM: config.ProviderEntry{Name: "mock-llm"},
			TTS: config.ProviderEntry{Name: "mock-tts"},
		},
		Personas: []persona.Persona{{
			ID:           "7",
			DisplayName:  "Şef",
			SystemPrompt: "Sen bir aşçısın.",
			VoiceID:      "onyx",
		}},
	}
	config.ApplyDefaults(cfg)
	cfg.Pipeline.DrainInterval = time.Millisecond
	cfg.Providers.Fallback.Name = ""
	return cfg
}

// testRegistry registers mock providers and records the keys they were
// created with.
type testRegistry struct {
	*config.Registry
	stt *sttmock.Provider
	llm *llmmock.Provider
	tts *ttsmock.Provider

	mu   sync.Mutex
	keys map[string]string
}

func newTestRegistry() *testRegistry {
	r := &testRegistry{
		Registry: config.NewRegistry(),
		stt:      &sttmock.Provider{},
		llm:      &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Makarna pişiriyorum."}},
		tts:      &ttsmock.Provider{SynthesizeResult: tts.Audio{Data: []byte("mp3"), ContentType: "audio/mpeg"}},
		keys:     make(map[string]string),
	}
	r.RegisterSTT("mock-stt", func(e config.ProviderEntry) (stt.Provider, error) {
		r.record("stt", e.APIKey)
		return r.stt, nil
	})
	r.RegisterLLM("mock-llm", func(e config.ProviderEntry) (llm.Provider, error) {
		r.record("llm", e.APIKey)
		return r.llm, nil
	})
	r.RegisterTTS("mock-tts", func(e config.ProviderEntry) (tts.Provider, error) {
		r.record("tts", e.APIKey)
		return r.tts, nil
	})
	return r
}

func (r *testRegistry) record(kind, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[kind] = key
}

func (r *testRegistry) key(kind string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys[kind]
}

func testBroker() credential.Static {
	return credential.Static{
		credential.Recognition: "dg-key",
		credential.Generation:  "gm-key",
		credential.Narration:   "oa-key",
	}
}

func TestNew_ConfigPersonas(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), newTestRegistry().Registry, app.WithBroker(testBroker()))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/personas", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d", rec.Code)
	}
	var got []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0]["id"] != "7" {
		t.Errorf("personas: want only config persona 7, got %v", got)
	}
}

func TestNew_DemoPersonasWhenConfigEmpty(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Personas = nil
	a, err := app.New(context.Background(), cfg, newTestRegistry().Registry, app.WithBroker(testBroker()))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/personas/2", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("demo persona 2: want 200, got %d", rec.Code)
	}
}

func TestNew_BrokerModeRequiresURL(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Credentials.Mode = config.CredentialsBroker
	cfg.Credentials.Broker.BaseURL = ""
	if _, err := app.New(context.Background(), cfg, newTestRegistry().Registry); err == nil {
		t.Fatal("New() with broker mode and no URL: want error, got nil")
	}
}

func TestReload(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	old := testConfig()
	a, err := app.New(context.Background(), old, newTestRegistry().Registry,
		app.WithBroker(testBroker()), app.WithLogLevel(level))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Personas = append(updated.Personas, persona.Persona{
		ID: "8", DisplayName: "Bahçıvan", SystemPrompt: "Sen bir bahçıvansın.", VoiceID: "fable",
	})
	a.Reload(old, updated)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level: want debug, got %v", level.Level())
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/personas/8", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("reloaded persona: want 200, got %d", rec.Code)
	}
}

func TestTalk(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	a, err := app.New(context.Background(), testConfig(), reg.Registry, app.WithBroker(testBroker()))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	capture := audiomock.NewCapture()
	player := &audiomock.Player{}
	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Talk(ctx, "7", out, app.LocalDevices{
			Capture: capture,
			Player:  player,
			Speaker: &audiomock.Speaker{},
		})
	}()

	waitFor(t, "recognition session", func() bool { return reg.stt.LastSession() != nil })
	sess := reg.stt.LastSession()
	sess.Open()
	capture.Emit([]byte{0, 1, 2, 3})
	waitFor(t, "audio forwarded", func() bool { return len(sess.SentChunks()) == 1 })
	sess.Transcript("ne pişiriyorsun", true)
	waitFor(t, "playback", func() bool { return len(player.Calls()) == 1 })

	if cfg := reg.stt.Calls()[0].Cfg; cfg.Encoding != "linear16" || cfg.SampleRate != 16000 || cfg.Channels != 1 {
		t.Errorf("stream format: want linear16/16000/1, got %+v", cfg)
	}
	if synth := reg.tts.Calls(); len(synth) != 1 || synth[0].Req.Voice != "onyx" {
		t.Errorf("narration: want voice onyx, got %+v", synth)
	}
	for kind, want := range map[string]string{"stt": "dg-key", "llm": "gm-key", "tts": "oa-key"} {
		if got := reg.key(kind); got != want {
			t.Errorf("%s key: want %q, got %q", kind, want, got)
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Talk: want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Talk did not return after cancel")
	}
	if n := len(a.Sessions().Active()); n != 0 {
		t.Errorf("active after Talk: want 0, got %d", n)
	}

	text := out.String()
	for _, want := range []string{"» ne pişiriyorsun", "» Makarna pişiriyorum."} {
		if !strings.Contains(text, want) {
			t.Errorf("terminal output: want %q in %q", want, text)
		}
	}
}

func TestTalk_PermissionDenied(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	a, err := app.New(context.Background(), testConfig(), reg.Registry, app.WithBroker(testBroker()))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	capture := audiomock.NewCapture()
	capture.StartErr = errors.New("permission")
	err = a.Talk(context.Background(), "", &syncBuffer{}, app.LocalDevices{
		Capture: capture,
		Player:  &audiomock.Player{},
		Speaker: &audiomock.Speaker{},
	})
	if err == nil {
		t.Fatal("Talk: want error, got nil")
	}
	if n := len(reg.stt.Calls()); n != 0 {
		t.Errorf("recognition: want no session, got %d", n)
	}
}

func TestRunAndShutdown(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), newTestRegistry().Registry, app.WithBroker(testBroker()))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	closed := 0
	a.AddCloser(func() error { closed++; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run: want context.DeadlineExceeded, got %v", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), time.Second)
	defer cancelShutdown()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown: unexpected error: %v", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("second Shutdown: unexpected error: %v", err)
	}
	if closed != 1 {
		t.Errorf("closer calls: want 1, got %d", closed)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q): want %v, got %v", in, want, got)
		}
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
