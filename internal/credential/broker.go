package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultPaths maps each kind to the broker endpoint that issues its key.
var DefaultPaths = map[Kind]string{
	Recognition: "/api/deepgram",
	Generation:  "/api/gemini",
	Narration:   "/api/openai",
}

var (
	_ Broker = (*HTTPBroker)(nil)
	_ Broker = Static(nil)
)

// HTTPBroker fetches keys from an HTTP credential broker. Each kind has its
// own endpoint answering GET with a JSON object carrying the key in a "key"
// or "apiKey" field.
type HTTPBroker struct {
	baseURL string
	paths   map[Kind]string
	client  *http.Client
}

// BrokerOption is a functional option for [NewHTTPBroker].
type BrokerOption func(*HTTPBroker)

// WithPath overrides the endpoint path for kind.
func WithPath(kind Kind, path string) BrokerOption {
	return func(b *HTTPBroker) {
		if path != "" {
			b.paths[kind] = path
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) BrokerOption {
	return func(b *HTTPBroker) {
		if c != nil {
			b.client = c
		}
	}
}

// NewHTTPBroker returns a broker client for baseURL using [DefaultPaths].
func NewHTTPBroker(baseURL string, opts ...BrokerOption) (*HTTPBroker, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("credential: broker base URL must not be empty")
	}
	b := &HTTPBroker{
		baseURL: strings.TrimRight(baseURL, "/"),
		paths:   make(map[Kind]string, len(DefaultPaths)),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for k, p := range DefaultPaths {
		b.paths[k] = p
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

type keyResponse struct {
	Key    string `json:"key"`
	APIKey string `json:"apiKey"`
	Error  string `json:"error"`
}

// Fetch implements [Broker].
func (b *HTTPBroker) Fetch(ctx context.Context, kind Kind) (string, error) {
	path, ok := b.paths[kind]
	if !ok {
		return "", fmt.Errorf("credential: no broker endpoint for %s: %w", kind, ErrUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("credential: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("credential: fetch %s: %w", kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("credential: read %s response: %w", kind, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("credential: fetch %s: status %d: %s: %w", kind, resp.StatusCode, strings.TrimSpace(string(body)), ErrUnavailable)
	}

	var kr keyResponse
	if err := json.Unmarshal(body, &kr); err != nil {
		return "", fmt.Errorf("credential: decode %s response: %w", kind, err)
	}
	key := kr.Key
	if key == "" {
		key = kr.APIKey
	}
	if key == "" {
		return "", fmt.Errorf("credential: %s response carries no key: %w", kind, ErrUnavailable)
	}
	return key, nil
}

// Static is a [Broker] serving fixed keys, typically read from the
// environment. Kinds without a non-empty key are unavailable.
type Static map[Kind]string

// Fetch implements [Broker].
func (s Static) Fetch(_ context.Context, kind Kind) (string, error) {
	key := s[kind]
	if key == "" {
		return "", fmt.Errorf("credential: no static key for %s: %w", kind, ErrUnavailable)
	}
	return key, nil
}
