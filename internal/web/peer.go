package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/sesli-ai/sesli/internal/conversation"
	"github.com/sesli-ai/sesli/pkg/audio"
	"github.com/sesli-ai/sesli/pkg/audio/playback"
	"github.com/sesli-ai/sesli/pkg/audio/speech"
	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

const (
	// outboxSize bounds queued server messages per connection.
	outboxSize = 64

	// chunkBuffer bounds captured chunks not yet picked up by the
	// orchestrator.
	chunkBuffer = 256

	// requestTimeout bounds browser replies to capture and voice requests.
	requestTimeout = 10 * time.Second

	writeTimeout = 5 * time.Second
)

// errPeerClosed is returned for requests on a closed connection.
var errPeerClosed = errors.New("web: connection closed")

// Compile-time interface assertions.
var (
	_ audio.Capture     = (*browserCapture)(nil)
	_ playback.Player   = (*browserPlayer)(nil)
	_ speech.Speaker    = (*browserSpeaker)(nil)
	_ conversation.Sink = (*peerSink)(nil)
)

// peer is one browser WebSocket connection. A single writer goroutine owns
// outgoing frames; the read loop dispatches replies to pending requests.
type peer struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	outbox chan []byte

	mu      sync.Mutex
	pending map[string]chan inbound

	capture *browserCapture
	player  *browserPlayer
	speaker *browserSpeaker
	sink    *peerSink
}

func newPeer(ctx context.Context, conn *websocket.Conn, log *slog.Logger) *peer {
	ctx, cancel := context.WithCancel(ctx)
	p := &peer{
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
		outbox:  make(chan []byte, outboxSize),
		pending: make(map[string]chan inbound),
	}
	p.capture = &browserCapture{peer: p, chunks: make(chan audio.Chunk, chunkBuffer)}
	p.player = &browserPlayer{peer: p}
	p.speaker = &browserSpeaker{peer: p}
	p.sink = &peerSink{peer: p}
	return p
}

// writeLoop sends queued messages until the peer context ends.
func (p *peer) writeLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case data := <-p.outbox:
			ctx, cancel := context.WithTimeout(p.ctx, writeTimeout)
			err := p.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				p.log.Debug("web: write failed", "err", err)
				p.cancel()
				return
			}
		}
	}
}

// send queues v, blocking until there is room or ctx ends.
func (p *peer) send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("web: encode message: %w", err)
	}
	select {
	case p.outbox <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return errPeerClosed
	}
}

// notify queues v without blocking. Events are dropped when the browser falls
// behind.
func (p *peer) notify(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.log.Warn("web: encode event", "err", err)
		return
	}
	select {
	case p.outbox <- data:
	default:
		p.log.Warn("web: outbox full, dropping event")
	}
}

// request sends a message tagged with a fresh request ID and waits for the
// reply carrying the same ID.
func (p *peer) request(ctx context.Context, build func(id string) any) (inbound, error) {
	id := uuid.NewString()
	reply := make(chan inbound, 1)
	p.mu.Lock()
	p.pending[id] = reply
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := p.send(ctx, build(id)); err != nil {
		return inbound{}, err
	}
	select {
	case msg := <-reply:
		return msg, nil
	case <-ctx.Done():
		return inbound{}, ctx.Err()
	case <-p.ctx.Done():
		return inbound{}, errPeerClosed
	}
}

// resolve delivers msg to the request waiting for it.
func (p *peer) resolve(msg inbound) bool {
	p.mu.Lock()
	reply, ok := p.pending[msg.RequestID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case reply <- msg:
	default:
	}
	return true
}

// ─── capture ─────────────────────────────────────────────────────────────────

// browserCapture is an [audio.Capture] fed by binary frames. The browser owns
// the microphone: Start asks it to begin recording and waits for the outcome.
type browserCapture struct {
	peer   *peer
	chunks chan audio.Chunk

	mu      sync.Mutex
	running bool
	seq     uint64
}

func (c *browserCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	reply, err := c.peer.request(ctx, func(id string) any {
		return requestMsg{Type: msgCaptureStart, RequestID: id}
	})
	if err != nil {
		return fmt.Errorf("web: start capture: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if reply.Type == msgCaptureError {
		return captureError(reply.Reason, reply.Message)
	}

	c.mu.Lock()
	c.running = true
	c.seq = 0
	c.mu.Unlock()
	return nil
}

func (c *browserCapture) Stop() error {
	c.mu.Lock()
	was := c.running
	c.running = false
	c.mu.Unlock()
	if was {
		c.peer.notify(requestMsg{Type: msgCaptureStop})
	}
	return nil
}

func (c *browserCapture) Chunks() <-chan audio.Chunk { return c.chunks }

func (c *browserCapture) MicOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// deliver turns a binary frame into the next chunk. Frames arriving while the
// capture is stopped are discarded.
func (c *browserCapture) deliver(data []byte) {
	c.mu.Lock()
	if !c.running || len(data) == 0 {
		c.mu.Unlock()
		return
	}
	c.seq++
	chunk := audio.Chunk{Data: data, Seq: c.seq, Captured: time.Now()}
	c.mu.Unlock()

	select {
	case c.chunks <- chunk:
	case <-c.peer.ctx.Done():
	}
}

// ─── playback ────────────────────────────────────────────────────────────────

// browserPlayer is a [playback.Player] whose handles play in the browser's
// media element. Status follows the playback marks the browser reports.
type browserPlayer struct {
	peer *peer

	mu      sync.Mutex
	current *playback.Remote
}

func (pl *browserPlayer) Load(ctx context.Context, a tts.Audio) (playback.Handle, error) {
	if len(a.Data) == 0 {
		return nil, errors.New("web: load audio: empty clip")
	}
	id := uuid.NewString()
	msg := playMsg{Type: msgPlay, ID: id, ContentType: a.ContentType, Audio: a.Data}
	h := playback.NewRemote(id,
		func() error { return pl.peer.send(ctx, msg) },
		func() error {
			pl.peer.notify(playbackStopMsg{Type: msgPlaybackStop, ID: id})
			return nil
		},
	)
	pl.mu.Lock()
	pl.current = h
	pl.mu.Unlock()
	return h, nil
}

// mark routes a progress report to the latest handle.
func (pl *browserPlayer) mark(m playback.Mark) {
	pl.mu.Lock()
	h := pl.current
	pl.mu.Unlock()
	if h == nil || !h.Mark(m) {
		pl.peer.log.Debug("web: stale playback mark", "id", m.ID)
	}
}

// ─── local speech ────────────────────────────────────────────────────────────

// browserSpeaker is a [speech.Speaker] backed by the browser's speech
// synthesis. Speak returns once the request is queued.
type browserSpeaker struct {
	peer *peer
}

func (s *browserSpeaker) Voices(ctx context.Context) ([]tts.VoiceProfile, error) {
	reply, err := s.peer.request(ctx, func(id string) any {
		return requestMsg{Type: msgVoices, RequestID: id}
	})
	if err != nil {
		return nil, fmt.Errorf("web: list browser voices: %w", err)
	}
	out := make([]tts.VoiceProfile, 0, len(reply.Voices))
	for _, v := range reply.Voices {
		out = append(out, v.profile())
	}
	return out, nil
}

func (s *browserSpeaker) Speak(ctx context.Context, u speech.Utterance) error {
	err := s.peer.send(ctx, speakMsg{
		Type:     msgSpeak,
		Text:     u.Text,
		Language: u.Language,
		VoiceID:  u.Voice.ID,
		Rate:     u.Rate,
	})
	if err != nil {
		return fmt.Errorf("web: speak: %w", err)
	}
	return nil
}

// ─── sink ────────────────────────────────────────────────────────────────────

// peerSink forwards orchestrator signals to the browser.
type peerSink struct {
	peer *peer
}

func (s *peerSink) StateChanged(st conversation.State) {
	s.peer.notify(stateMsg{Type: msgState, State: st.String()})
}

func (s *peerSink) Caption(text string, final bool) {
	s.peer.notify(captionMsg{Type: msgCaption, Text: text, Final: final})
}

func (s *peerSink) MicOpen(open bool) {
	s.peer.notify(flagMsg{Type: msgMic, On: open})
}

func (s *peerSink) Speaking(speaking bool) {
	s.peer.notify(flagMsg{Type: msgSpeaking, On: speaking})
}

func (s *peerSink) Error(err error) {
	s.peer.notify(errorMsg{Type: msgError, Code: errorCode(err), Message: err.Error()})
}
