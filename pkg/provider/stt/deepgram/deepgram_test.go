package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/sesli-ai/sesli/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SmartFormat: true, InterimResults: true})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-2", q.Get("model"))
	assertEqual(t, "language", "tr", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "smart_format", "true", q.Get("smart_format"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	if _, ok := q["encoding"]; ok {
		t.Error("expected no encoding for containerised audio")
	}
	if _, ok := q["sample_rate"]; ok {
		t.Error("expected no sample_rate without encoding")
	}
}

func TestBuildURL_RawPCM(t *testing.T) {
	p, err := New("key", WithModel("nova-3"), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Encoding: "linear16", SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_ConfigOverridesDefaults(t *testing.T) {
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Language: "tr", Model: "nova-2-general"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "tr", u.Query().Get("language"))
	assertEqual(t, "model", "nova-2-general", u.Query().Get("model"))
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse_PunctuatedWords(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "merhaba nasılsın",
				"confidence": 0.95,
				"words": [
					{"word": "merhaba", "punctuated_word": "Merhaba,"},
					{"word": "nasılsın", "punctuated_word": "nasılsın?"}
				]
			}]
		}
	}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}
	if !tr.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "text", "Merhaba, nasılsın?", tr.Text)
	if tr.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", tr.Confidence)
	}
}

func TestParseDeepgramResponse_FallsBackToWord(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{
		"transcript":"iyi günler",
		"words":[{"word":"iyi","punctuated_word":"İyi"},{"word":"günler"}]
	}]}}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if tr.IsFinal {
		t.Error("expected IsFinal=false for interim result")
	}
	assertEqual(t, "text", "İyi günler", tr.Text)
}

func TestParseDeepgramResponse_TranscriptWithoutWords(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" Selam ","words":[]}]}}`)
	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	assertEqual(t, "text", "Selam", tr.Text)
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	tests := map[string]string{
		"metadata":     `{"type":"Metadata","request_id":"abc"}`,
		"no alts":      `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		"empty":        `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"","words":[]}]}}`,
		"invalid json": `{invalid`,
	}
	for name, raw := range tests {
		if _, ok := parseDeepgramResponse([]byte(raw)); ok {
			t.Errorf("%s: expected ok=false", name)
		}
	}
}

// ---- Streaming session tests ----

func TestStartStream_OpenTranscriptClose(t *testing.T) {
	t.Parallel()

	gotAudio := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token dg-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		gotAudio <- data
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"merhaba","words":[{"word":"merhaba","punctuated_word":"Merhaba."}]}]}}`))
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	p, _ := New("dg-key", WithEndpoint(srv.URL), WithKeepAlive(0))
	h, err := p.StartStream(context.Background(), stt.StreamConfig{Language: "tr"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	ev := nextEvent(t, h)
	if ev.Kind != stt.EventOpen {
		t.Fatalf("want open event, got %v (%v)", ev.Kind, ev.Err)
	}
	if h.State() != stt.StateOpen {
		t.Fatalf("want state open, got %v", h.State())
	}
	if err := h.SendAudio([]byte("blob-1")); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case data := <-gotAudio:
		assertEqual(t, "audio", "blob-1", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive audio")
	}

	ev = nextEvent(t, h)
	if ev.Kind != stt.EventTranscript {
		t.Fatalf("want transcript event, got %v", ev.Kind)
	}
	assertEqual(t, "caption", "Merhaba.", ev.Transcript.Text)

	ev = nextEvent(t, h)
	if ev.Kind != stt.EventClose {
		t.Fatalf("want close event after normal closure, got %v (%v)", ev.Kind, ev.Err)
	}
	if h.State() != stt.StateClosed {
		t.Errorf("want state closed, got %v", h.State())
	}
	if err := h.SendAudio([]byte("late")); err == nil {
		t.Error("want SendAudio to fail after close")
	}
}

func TestStartStream_DialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("bad-key", WithEndpoint(srv.URL))
	h, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	ev := nextEvent(t, h)
	if ev.Kind != stt.EventError || ev.Err == nil {
		t.Fatalf("want error event, got %v", ev.Kind)
	}
	ev = nextEvent(t, h)
	if ev.Kind != stt.EventClose {
		t.Fatalf("want close event, got %v", ev.Kind)
	}
	if h.State() != stt.StateClosed {
		t.Errorf("want state closed, got %v", h.State())
	}
}

func TestStartStream_ProviderErrorMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"Error","description":"Failed to decode audio"}`))
		time.Sleep(100 * time.Millisecond)
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	p, _ := New("key", WithEndpoint(srv.URL), WithKeepAlive(0))
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{})
	defer h.Close()

	if ev := nextEvent(t, h); ev.Kind != stt.EventOpen {
		t.Fatalf("want open, got %v", ev.Kind)
	}
	ev := nextEvent(t, h)
	if ev.Kind != stt.EventError || !strings.Contains(ev.Err.Error(), "Failed to decode audio") {
		t.Fatalf("want provider error event, got %v (%v)", ev.Kind, ev.Err)
	}
	if ev := nextEvent(t, h); ev.Kind != stt.EventClose {
		t.Fatalf("want close, got %v", ev.Kind)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p, _ := New("key", WithEndpoint(srv.URL))
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{})
	if ev := nextEvent(t, h); ev.Kind != stt.EventOpen {
		t.Fatalf("want open, got %v", ev.Kind)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if h.State() != stt.StateClosed {
		t.Errorf("want closed, got %v", h.State())
	}
	// The event channel is closed without a close event after a caller close.
	for range h.Events() {
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	if p.keepAlive != defaultKeepAlive {
		t.Errorf("expected keepAlive %v, got %v", defaultKeepAlive, p.keepAlive)
	}
}

// ---- helpers ----

func nextEvent(t *testing.T, h stt.SessionHandle) stt.Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return stt.Event{}
}

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
