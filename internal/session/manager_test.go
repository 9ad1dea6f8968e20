package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sesli-ai/sesli/internal/conversation"
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

func TestManager_OpenUnknownPersona(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, credential.Static{}).manager
	_, err := m.Open(context.Background(), "99", Endpoints{})
	if !errors.Is(err, persona.ErrNotFound) {
		t.Fatalf("want persona.ErrNotFound, got %v", err)
	}
	if n := len(m.Active()); n != 0 {
		t.Errorf("active: want 0, got %d", n)
	}
}

func TestManager_OpenRegistersConversation(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, credential.Static{}).manager
	a, err := m.Open(context.Background(), "1", Endpoints{Capture: audiomock.NewCapture()})
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}
	b, err := m.Open(context.Background(), "", Endpoints{Capture: audiomock.NewCapture()})
	if err != nil {
		t.Fatalf("Open generic: unexpected error: %v", err)
	}
	if a.Info.ID == b.Info.ID {
		t.Fatalf("want distinct IDs, got %q twice", a.Info.ID)
	}
	if a.Info.PersonaID != "1" || b.Info.PersonaID != "" {
		t.Errorf("persona IDs: want \"1\" and \"\", got %q and %q", a.Info.PersonaID, b.Info.PersonaID)
	}
	if got := a.Orchestrator.State(); got != conversation.StateIdle {
		t.Errorf("state: want %s, got %s", conversation.StateIdle, got)
	}

	active := m.Active()
	if len(active) != 2 {
		t.Fatalf("active: want 2, got %d", len(active))
	}

	m.Close(a.Info.ID)
	m.Close("unknown")
	if active = m.Active(); len(active) != 1 || active[0].ID != b.Info.ID {
		t.Errorf("after Close: want only %q, got %+v", b.Info.ID, active)
	}
}

func TestManager_CloseAllRejectsOpen(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, credential.Static{}).manager
	for range 3 {
		if _, err := m.Open(context.Background(), "", Endpoints{Capture: audiomock.NewCapture()}); err != nil {
			t.Fatalf("Open: unexpected error: %v", err)
		}
	}
	m.CloseAll()
	if n := len(m.Active()); n != 0 {
		t.Errorf("active after CloseAll: want 0, got %d", n)
	}
	if _, err := m.Open(context.Background(), "", Endpoints{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Open after CloseAll: want ErrClosed, got %v", err)
	}
}

func TestManager_EndToEnd(t *testing.T) {
	t.Parallel()

	h := newTestManager(t, credential.Static{
		credential.Recognition: "dg-key",
		credential.Generation:  "gm-key",
		credential.Narration:   "oa-key",
	})
	capture := audiomock.NewCapture()
	player := &audiomock.Player{}
	speaker := &audiomock.Speaker{}
	sink := &stateSink{}

	s, err := h.manager.Open(context.Background(), "2", Endpoints{
		Capture: capture,
		Format:  AudioFormat{Encoding: "linear16", SampleRate: 16000, Channels: 1},
		Player:  player,
		Speaker: speaker,
		Sink:    sink,
	})
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}
	defer h.manager.CloseAll()

	if err := s.Orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}

	sess := h.stt.LastSession()
	sess.Open()
	waitFor(t, "listening", func() bool { return s.Orchestrator.State() == conversation.StateListening })
	sess.Transcript("en sevdiğin şarkı ne", true)

	waitFor(t, "playback", func() bool { return len(player.Calls()) == 1 })

	calls := h.stt.Calls()
	if len(calls) != 1 {
		t.Fatalf("StartStream: want 1 call, got %d", len(calls))
	}
	if cfg := calls[0].Cfg; cfg.Encoding != "linear16" || cfg.SampleRate != 16000 || cfg.Language != "tr" {
		t.Errorf("stream config: want linear16/16000/tr, got %+v", cfg)
	}

	synth := h.tts.Calls()
	if len(synth) != 1 {
		t.Fatalf("Synthesize: want 1 call, got %d", len(synth))
	}
	if synth[0].Req.Voice != "nova" {
		t.Errorf("voice: want persona voice nova, got %q", synth[0].Req.Voice)
	}
	if synth[0].Req.Text != "Bugün caz dinliyorum." {
		t.Errorf("text: want reply, got %q", synth[0].Req.Text)
	}
	if n := len(speaker.Utterances()); n != 0 {
		t.Errorf("local speaker: want unused, got %d utterances", n)
	}

	completions := h.llm.Calls()
	if len(completions) != 1 || len(completions[0].Req.Messages) != 1 {
		t.Fatalf("Complete: want one single-message call, got %+v", completions)
	}
	if got := completions[0].Req.Messages[0].Content; !strings.HasPrefix(got, persona.Demos()[1].SystemPrompt) {
		t.Errorf("prompt: want persona prompt prefix, got %q", got)
	}

	if got := h.keys(); got != [3]string{"dg-key", "gm-key", "oa-key"} {
		t.Errorf("factory keys: want broker keys, got %v", got)
	}
}

func TestManager_NarrationFallsBackWithoutKey(t *testing.T) {
	t.Parallel()

	h := newTestManager(t, credential.Static{
		credential.Recognition: "dg-key",
		credential.Generation:  "gm-key",
	})
	capture := audiomock.NewCapture()
	player := &audiomock.Player{}
	speaker := &audiomock.Speaker{VoicesResult: []tts.VoiceProfile{{ID: "tr", Name: "turkish", Language: "tr-TR"}}}

	s, err := h.manager.Open(context.Background(), "", Endpoints{
		Capture: capture,
		Player:  player,
		Speaker: speaker,
		Sink:    &stateSink{},
	})
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}
	defer h.manager.CloseAll()

	if err := s.Orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	sess := h.stt.LastSession()
	sess.Open()
	sess.Transcript("merhaba", true)

	waitFor(t, "local speech", func() bool { return len(speaker.Utterances()) == 1 })
	if n := len(h.tts.Calls()); n != 0 {
		t.Errorf("hosted narration: want unused, got %d calls", n)
	}
	if n := len(player.Calls()); n != 0 {
		t.Errorf("player: want unused, got %d loads", n)
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

type testManager struct {
	manager *Manager
	stt     *sttmock.Provider
	llm     *llmmock.Provider
	tts     *ttsmock.Provider

	mu      sync.Mutex
	usedKey [3]string
}

func newTestManager(t *testing.T, keys credential.Static) *testManager {
	t.Helper()
	h := &testManager{
		stt: &sttmock.Provider{},
		llm: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Bugün caz dinliyorum."}},
		tts: &ttsmock.Provider{SynthesizeResult: tts.Audio{Data: []byte("mp3"), ContentType: "audio/mpeg"}},
	}
	h.manager = NewManager(Config{
		Settings: Settings{
			Stream:           stt.StreamConfig{Language: "tr", Model: "nova-2", InterimResults: true},
			DrainInterval:    time.Millisecond,
			Generation:       conversation.GenerationConfig{MaxTokens: 100},
			DefaultVoice:     "shimmer",
			FallbackLanguage: "tr-TR",
		},
		Providers: Providers{
			Recognition: func(key string) (stt.Provider, error) {
				h.setKey(0, key)
				return h.stt, nil
			},
			Generation: func(key string) (llm.Provider, error) {
				h.setKey(1, key)
				return h.llm, nil
			},
			Narration: func(key string) (tts.Provider, error) {
				h.setKey(2, key)
				return h.tts, nil
			},
			RecognitionName: "deepgram",
			GenerationName:  "gemini",
			NarrationName:   "openai",
		},
		Broker:   keys,
		Personas: persona.NewMemStore(persona.Demos()),
	})
	return h
}

func (h *testManager) setKey(i int, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.usedKey[i] = key
}

func (h *testManager) keys() [3]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.usedKey
}

type stateSink struct {
	conversation.NopSink
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
