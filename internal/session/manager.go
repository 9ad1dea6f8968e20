// Package session assembles and tracks live conversations.
//
// A [Manager] turns a persona ID and a set of I/O endpoints (capture, player,
// local speaker, sink) into a ready [conversation.Orchestrator]: it creates the
// per-conversation credential set, the narration unit and the playback
// controller, and keeps a registry of open conversations so they can be listed
// and stopped together on shutdown. The browser WebSocket handler and the
// terminal conversation both open conversations through it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sesli-ai/sesli/internal/conversation"
	"github.com/sesli-ai/sesli/internal/credential"
	"github.com/sesli-ai/sesli/internal/narration"
	"github.com/sesli-ai/sesli/internal/observe"
	"github.com/sesli-ai/sesli/internal/persona"
	"github.com/sesli-ai/sesli/pkg/audio"
	"github.com/sesli-ai/sesli/pkg/audio/playback"
	"github.com/sesli-ai/sesli/pkg/audio/speech"
	"github.com/sesli-ai/sesli/pkg/provider/stt"
	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

// ErrClosed is returned by Open after CloseAll.
var ErrClosed = errors.New("session: manager closed")

// NarrationFactory builds a narration provider for a credential.
type NarrationFactory func(key string) (tts.Provider, error)

// Providers holds the factories that turn per-conversation credentials into
// provider clients.
type Providers struct {
	Recognition conversation.RecognitionFactory
	Generation  conversation.GenerationFactory
	Narration   NarrationFactory

	// Names label metrics and logs.
	RecognitionName string
	GenerationName  string
	NarrationName   string
}

// Settings are the pipeline parameters shared by every conversation.
type Settings struct {
	// Stream is the base recognition config. Endpoints fill in the audio
	// format.
	Stream stt.StreamConfig

	DrainInterval time.Duration
	Generation    conversation.GenerationConfig
	DefaultVoice  string
	SpeechSpeed   float64

	// FallbackLanguage selects the local voice, e.g. "tr-TR".
	FallbackLanguage string
}

// Config holds the dependencies of a [Manager].
type Config struct {
	Settings  Settings
	Providers Providers

	// Broker issues credentials. Each conversation gets its own cache.
	Broker credential.Broker

	// Personas resolves persona IDs.
	Personas persona.Store

	Metrics *observe.Metrics
}

// AudioFormat describes the audio a capture endpoint produces. The zero value
// means containerised audio that the recognition provider detects itself.
type AudioFormat struct {
	Encoding   string
	SampleRate int
	Channels   int
}

// Endpoints are the I/O collaborators of one conversation.
type Endpoints struct {
	Capture audio.Capture
	Format  AudioFormat
	Player  playback.Player
	Speaker speech.Speaker
	Sink    conversation.Sink
}

// Info holds metadata about an open conversation.
type Info struct {
	// ID is the unique conversation identifier.
	ID string

	// PersonaID is empty for the generic assistant.
	PersonaID string

	// StartedAt is when the conversation was opened.
	StartedAt time.Time
}

// Session is one open conversation.
type Session struct {
	Info Info

	// Orchestrator drives the conversation. It is idle until Start.
	Orchestrator *conversation.Orchestrator

	// Playback is the conversation's playback controller.
	Playback *playback.Controller
}

// Manager opens and tracks conversations. All exported methods are safe for
// concurrent use.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager returns a Manager with the given dependencies.
func NewManager(cfg Config) *Manager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Manager{cfg: cfg, sessions: make(map[string]*Session)}
}

// Open assembles a conversation for personaID and registers it. An empty
// personaID selects the generic assistant; an unknown one returns
// [persona.ErrNotFound]. The returned orchestrator has not been started.
func (m *Manager) Open(ctx context.Context, personaID string, ep Endpoints) (*Session, error) {
	var p *persona.Persona
	if personaID != "" {
		found, err := m.cfg.Personas.Get(ctx, personaID)
		if err != nil {
			return nil, fmt.Errorf("session: resolve persona %q: %w", personaID, err)
		}
		p = &found
	}

	id := uuid.NewString()
	creds := credential.NewSet(m.cfg.Broker, credential.WithObserver(m.observeCredential))
	controller := playback.NewController()

	narrator := narration.New(narration.Config{
		ProviderName: m.cfg.Providers.NarrationName,
		DefaultVoice: m.cfg.Settings.DefaultVoice,
		Speed:        m.cfg.Settings.SpeechSpeed,
		Language:     m.cfg.Settings.FallbackLanguage,
	}, narration.Deps{
		Primary:    narrationSource(creds, m.cfg.Providers.Narration),
		Player:     ep.Player,
		Controller: controller,
		Local:      ep.Speaker,
		Metrics:    m.cfg.Metrics,
	})

	stream := m.cfg.Settings.Stream
	stream.Encoding = ep.Format.Encoding
	stream.SampleRate = ep.Format.SampleRate
	stream.Channels = ep.Format.Channels

	orch := conversation.New(conversation.Config{
		ID:                 id,
		Persona:            p,
		Stream:             stream,
		DrainInterval:      m.cfg.Settings.DrainInterval,
		Generation:         m.cfg.Settings.Generation,
		GenerationProvider: m.cfg.Providers.GenerationName,
		DefaultVoice:       m.cfg.Settings.DefaultVoice,
	}, conversation.Deps{
		Capture:     ep.Capture,
		Credentials: creds,
		Recognition: m.cfg.Providers.Recognition,
		Generation:  m.cfg.Providers.Generation,
		Narrator:    narrator,
		Playback:    controller,
		Sink:        ep.Sink,
		Metrics:     m.cfg.Metrics,
	})

	s := &Session{
		Info:         Info{ID: id, StartedAt: time.Now().UTC()},
		Orchestrator: orch,
		Playback:     controller,
	}
	if p != nil {
		s.Info.PersonaID = p.ID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.sessions[id] = s

	slog.Info("conversation opened", "conversation_id", id, "persona", s.Info.PersonaID)
	return s, nil
}

// Close stops the conversation with the given ID and unregisters it. Unknown
// IDs are ignored.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.Orchestrator.Stop()
	slog.Info("conversation closed", "conversation_id", id, "duration", time.Since(s.Info.StartedAt).Round(time.Millisecond))
}

// Active returns metadata for every open conversation, oldest first.
func (m *Manager) Active() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info)
	}
	slices.SortFunc(out, func(a, b Info) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// CloseAll stops every conversation and rejects further Opens.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Go(func() { m.Close(id) })
	}
	wg.Wait()
}

func (m *Manager) observeCredential(ctx context.Context, kind credential.Kind, err error) {
	m.cfg.Metrics.RecordCredentialFetch(ctx, kind.String(), observe.StatusOf(err))
}

// narrationSource returns the hosted narration provider for the cached
// narration credential, building it once per key.
func narrationSource(creds *credential.Set, factory NarrationFactory) narration.ProviderSource {
	var (
		mu      sync.Mutex
		cached  tts.Provider
		usedFor string
	)
	return func(context.Context) (tts.Provider, error) {
		key, ok := creds.Cached(credential.Narration)
		if !ok || factory == nil {
			return nil, narration.ErrPrimaryUnavailable
		}
		mu.Lock()
		defer mu.Unlock()
		if cached != nil && usedFor == key {
			return cached, nil
		}
		p, err := factory(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", narration.ErrPrimaryUnavailable, err)
		}
		cached, usedFor = p, key
		return p, nil
	}
}
