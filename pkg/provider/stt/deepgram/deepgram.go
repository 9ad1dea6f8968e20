// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/sesli-ai/sesli/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-2"
	defaultLanguage  = "tr"

	// defaultKeepAlive is how often a KeepAlive message is sent while no audio
	// flows. Deepgram closes idle streams after roughly ten seconds.
	defaultKeepAlive = 5 * time.Second

	closeTimeout = 2 * time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the default Deepgram model (e.g., "nova-2", "nova-3").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default recognition language (e.g., "tr", "en-US").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint URL. Intended for tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithKeepAlive sets the idle keep-alive interval. Zero disables keep-alives.
func WithKeepAlive(d time.Duration) Option {
	return func(p *Provider) {
		p.keepAlive = d
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey    string
	model     string
	language  string
	endpoint  string
	keepAlive time.Duration
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:    apiKey,
		model:     defaultModel,
		language:  defaultLanguage,
		endpoint:  deepgramEndpoint,
		keepAlive: defaultKeepAlive,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream returns a session in the connecting state and dials Deepgram in
// the background. The session emits stt.EventOpen once the WebSocket is up.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	sctx, cancel := context.WithCancel(ctx)
	sess := &session{
		events:    make(chan stt.Event, 64),
		audio:     make(chan []byte, 256),
		done:      make(chan struct{}),
		cancel:    cancel,
		keepAlive: p.keepAlive,
	}

	sess.wg.Add(1)
	go sess.run(sctx, wsURL, headers)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	// Containerised audio (WebM/Opus from a browser) is auto-detected; raw PCM
	// needs its format spelled out.
	if cfg.Encoding != "" {
		q.Set("encoding", cfg.Encoding)
		if cfg.SampleRate > 0 {
			q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
		}
		if cfg.Channels > 0 {
			q.Set("channels", strconv.Itoa(cfg.Channels))
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for Results and
// Error messages.
type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	Description string `json:"description"`
	Message     string `json:"message"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string `json:"word"`
				PunctuatedWord string `json:"punctuated_word"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	events    chan stt.Event
	audio     chan []byte
	done      chan struct{}
	cancel    context.CancelFunc
	keepAlive time.Duration

	mu    sync.Mutex
	state stt.State
	conn  *websocket.Conn

	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues an audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	if s.State() != stt.StateOpen {
		return stt.ErrNotOpen
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrNotOpen
	}
}

// Events implements stt.SessionHandle.
func (s *session) Events() <-chan stt.Event { return s.events }

// State implements stt.SessionHandle.
func (s *session) State() stt.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setState(st stt.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Close terminates the session. Pending audio is flushed by asking Deepgram
// to close the stream before the socket is closed.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)

		s.mu.Lock()
		conn := s.conn
		s.state = stt.StateClosed
		s.mu.Unlock()

		if conn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
			cancel()
			conn.Close(websocket.StatusNormalClosure, "session closed")
		}
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

func (s *session) closedByCaller() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// emit delivers ev unless the caller has already closed the session.
func (s *session) emit(ev stt.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// run dials Deepgram, reports the open, and then reads results until the
// connection ends. It is the only goroutine that sends on s.events.
func (s *session) run(ctx context.Context, wsURL string, headers http.Header) {
	defer s.wg.Done()
	defer close(s.events)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		if s.closedByCaller() {
			return
		}
		s.setState(stt.StateClosed)
		s.emit(stt.Event{Kind: stt.EventError, Err: fmt.Errorf("deepgram: dial: %w", err)})
		s.emit(stt.Event{Kind: stt.EventClose})
		return
	}

	s.mu.Lock()
	if s.closedByCaller() {
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "session closed")
		return
	}
	s.conn = conn
	s.state = stt.StateOpen
	s.mu.Unlock()

	s.emit(stt.Event{Kind: stt.EventOpen})

	s.wg.Add(1)
	go s.writeLoop(ctx, conn)

	err = s.readLoop(ctx, conn)

	s.setState(stt.StateClosed)
	if s.closedByCaller() {
		return
	}
	s.cancel()
	if err != nil {
		s.emit(stt.Event{Kind: stt.EventError, Err: err})
	}
	s.emit(stt.Event{Kind: stt.EventClose})
}

// writeLoop forwards queued audio as binary messages and keeps the stream
// alive while no audio flows.
func (s *session) writeLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.keepAlive > 0 {
		t := time.NewTicker(s.keepAlive)
		defer t.Stop()
		tick = t.C
	}
	sent := false

	for {
		select {
		case chunk := <-s.audio:
			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
			sent = true
		case <-tick:
			if !sent {
				if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"KeepAlive"}`)); err != nil {
					return
				}
			}
			sent = false
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram and emits transcript events.
// It returns nil when Deepgram closed the stream normally.
func (s *session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("deepgram: read: %w", err)
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if strings.EqualFold(resp.Type, "Error") {
			return fmt.Errorf("deepgram: %s", errorMessage(resp))
		}

		t, ok := parseResults(resp)
		if !ok {
			continue
		}
		s.emit(stt.Event{Kind: stt.EventTranscript, Transcript: t})
	}
}

func errorMessage(resp deepgramResponse) string {
	for _, m := range []string{resp.Description, resp.Message} {
		if m = strings.TrimSpace(m); m != "" {
			return m
		}
	}
	return "unknown provider error"
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a
// Transcript. It returns false for anything that is not a non-empty result.
func parseDeepgramResponse(data []byte) (stt.Transcript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false
	}
	return parseResults(resp)
}

func parseResults(resp deepgramResponse) (stt.Transcript, bool) {
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}
	alt := resp.Channel.Alternatives[0]

	text := strings.TrimSpace(alt.Transcript)
	if len(alt.Words) > 0 {
		words := make([]string, 0, len(alt.Words))
		for _, w := range alt.Words {
			if w.PunctuatedWord != "" {
				words = append(words, w.PunctuatedWord)
			} else {
				words = append(words, w.Word)
			}
		}
		text = strings.TrimSpace(strings.Join(words, " "))
	}
	if text == "" {
		return stt.Transcript{}, false
	}

	return stt.Transcript{
		Text:       text,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
	}, true
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
