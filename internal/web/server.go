// Package web serves the browser front end of sesli.
//
// Routes:
//
//	GET /v1/personas          list personas
//	GET /v1/personas/{id}     one persona
//	GET /v1/conversations     open conversations
//	GET /v1/converse          WebSocket conversation (?persona=<id>)
//	GET /healthz, /readyz     health probes
//	GET /metrics              Prometheus metrics
//
// A converse connection carries JSON text frames in both directions and binary
// frames from the browser holding MediaRecorder audio blobs. The browser owns
// the microphone, the media element used for playback, and the speech
// synthesis engine used when hosted narration is unavailable; the server drives
// them through request messages (capture.start, play, voices, speak) and
// streams conversation state, captions and errors back.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/sesli-ai/sesli/internal/health"
	"github.com/sesli-ai/sesli/internal/observe"
	"github.com/sesli-ai/sesli/internal/persona"
	"github.com/sesli-ai/sesli/internal/session"
)

// maxFrameSize bounds a single browser frame. MediaRecorder blobs at the
// default cadence are far smaller.
const maxFrameSize = 1 << 20

// Config holds the dependencies of a [Server].
type Config struct {
	Sessions *session.Manager
	Personas persona.Store

	// AllowedOrigins are host patterns accepted for cross-origin WebSocket
	// upgrades (see [websocket.AcceptOptions]). Same-origin requests are
	// always accepted.
	AllowedOrigins []string

	// Checkers are registered on /readyz.
	Checkers []health.Checker

	Metrics *observe.Metrics
}

// Server is the HTTP front end.
type Server struct {
	cfg     Config
	handler http.Handler
}

// NewServer returns a Server with all routes registered.
func NewServer(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/personas", s.handleListPersonas)
	mux.HandleFunc("GET /v1/personas/{id}", s.handleGetPersona)
	mux.HandleFunc("GET /v1/conversations", s.handleListConversations)
	mux.HandleFunc("GET /v1/converse", s.handleConverse)
	health.New(cfg.Checkers...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type personaView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Voice       string `json:"voice"`
}

func viewOf(p persona.Persona) personaView {
	return personaView{ID: p.ID, Name: p.DisplayName, Description: p.Description, Voice: p.VoiceID}
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	all, err := s.cfg.Personas.List(r.Context())
	if err != nil {
		slog.Error("web: list personas", "err", err)
		writeError(w, http.StatusInternalServerError, "personas unavailable")
		return
	}
	out := make([]personaView, 0, len(all))
	for _, p := range all {
		out = append(out, viewOf(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := s.cfg.Personas.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, persona.ErrNotFound):
		writeError(w, http.StatusNotFound, "persona not found")
	case err != nil:
		slog.Error("web: get persona", "err", err)
		writeError(w, http.StatusInternalServerError, "personas unavailable")
	default:
		writeJSON(w, http.StatusOK, viewOf(p))
	}
}

type conversationView struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"persona_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	active := s.cfg.Sessions.Active()
	out := make([]conversationView, 0, len(active))
	for _, info := range active {
		out = append(out, conversationView{ID: info.ID, PersonaID: info.PersonaID, StartedAt: info.StartedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleConverse upgrades to a WebSocket and runs one conversation for the
// lifetime of the connection.
func (s *Server) handleConverse(w http.ResponseWriter, r *http.Request) {
	personaID := r.URL.Query().Get("persona")
	if personaID != "" {
		if _, err := s.cfg.Personas.Get(r.Context(), personaID); err != nil {
			if errors.Is(err, persona.ErrNotFound) {
				writeError(w, http.StatusNotFound, "persona not found")
				return
			}
			slog.Error("web: resolve persona", "err", err)
			writeError(w, http.StatusInternalServerError, "personas unavailable")
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		slog.Warn("web: websocket accept", "err", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	// The peer context ends with the connection, not the upgrade request.
	p := newPeer(context.WithoutCancel(r.Context()), conn, slog.Default())
	defer p.cancel()

	sess, err := s.cfg.Sessions.Open(p.ctx, personaID, session.Endpoints{
		Capture: p.capture,
		Player:  p.player,
		Speaker: p.speaker,
		Sink:    p.sink,
	})
	if err != nil {
		slog.Error("web: open conversation", "err", err)
		conn.Close(websocket.StatusInternalError, "conversation unavailable")
		return
	}
	p.log = slog.With("conversation_id", sess.Info.ID)
	defer s.cfg.Sessions.Close(sess.Info.ID)

	go p.writeLoop()
	p.notify(readyMsg{Type: msgReady, ConversationID: sess.Info.ID, PersonaID: sess.Info.PersonaID})

	p.readLoop(sess)
	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop dispatches browser frames until the connection closes.
func (p *peer) readLoop(sess *session.Session) {
	for {
		typ, data, err := p.conn.Read(p.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && p.ctx.Err() == nil {
				p.log.Debug("web: read failed", "err", err)
			}
			return
		}
		if typ == websocket.MessageBinary {
			p.capture.deliver(data)
			continue
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			p.log.Warn("web: malformed message", "err", err)
			continue
		}
		p.dispatch(sess, msg)
	}
}

func (p *peer) dispatch(sess *session.Session, msg inbound) {
	switch msg.Type {
	case msgStart:
		// Start waits for capture.started, which this loop must read.
		go func() {
			if err := sess.Orchestrator.Start(p.ctx); err != nil {
				p.log.Info("web: conversation did not start", "err", err)
			}
		}()
	case msgStop:
		go sess.Orchestrator.Stop()
	case msgCaptureStarted, msgCaptureError, msgVoicesResult:
		if !p.resolve(msg) {
			p.log.Debug("web: unexpected reply", "type", msg.Type, "request_id", msg.RequestID)
		}
	case msgPlaybackMark:
		if msg.Mark != nil {
			p.player.mark(*msg.Mark)
		}
	case msgSpeakError:
		p.log.Warn("web: browser speech failed", "message", msg.Message)
	default:
		p.log.Debug("web: unknown message type", "type", msg.Type)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
