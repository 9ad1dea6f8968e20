// Package credential fetches short-lived provider keys from a credential
// broker and caches them per conversation.
//
// A [Broker] hands out one opaque key per [Kind]. A [Set] is the per-conversation
// cache: each kind is fetched at most once until it is invalidated, and
// concurrent requests for the same kind share a single broker call.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrUnavailable is returned when the broker cannot supply a key for a kind.
var ErrUnavailable = errors.New("credential: unavailable")

// Kind identifies which provider a key is for.
type Kind string

const (
	Recognition Kind = "recognition"
	Generation  Kind = "generation"
	Narration   Kind = "narration"
)

// Kinds lists every credential kind in fetch order.
var Kinds = []Kind{Recognition, Generation, Narration}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

// Broker issues provider keys.
// Implementations must be safe for concurrent use.
type Broker interface {
	// Fetch returns the key for kind. A broker that has no key for kind
	// returns an error wrapping [ErrUnavailable].
	Fetch(ctx context.Context, kind Kind) (string, error)
}

// Observer receives the outcome of every broker fetch. It may be nil.
type Observer func(ctx context.Context, kind Kind, err error)

// Set caches one key per kind for a single conversation.
//
// All methods are safe for concurrent use.
type Set struct {
	broker   Broker
	observer Observer
	group    singleflight.Group

	mu   sync.Mutex
	keys map[Kind]string
}

// SetOption is a functional option for [NewSet].
type SetOption func(*Set)

// WithObserver registers fn to be called after every broker fetch.
func WithObserver(fn Observer) SetOption {
	return func(s *Set) { s.observer = fn }
}

// NewSet returns an empty Set backed by broker.
func NewSet(broker Broker, opts ...SetOption) *Set {
	s := &Set{broker: broker, keys: make(map[Kind]string)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the cached key for kind, fetching it from the broker when
// absent. Concurrent calls for the same kind share one fetch.
func (s *Set) Get(ctx context.Context, kind Kind) (string, error) {
	if key, ok := s.Cached(kind); ok {
		return key, nil
	}

	v, err, _ := s.group.Do(string(kind), func() (any, error) {
		if key, ok := s.Cached(kind); ok {
			return key, nil
		}
		key, err := s.broker.Fetch(ctx, kind)
		if err == nil && key == "" {
			err = fmt.Errorf("credential: %s: empty key: %w", kind, ErrUnavailable)
		}
		if s.observer != nil {
			s.observer(ctx, kind, err)
		}
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.keys[kind] = key
		s.mu.Unlock()
		return key, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Cached returns the key for kind without contacting the broker.
func (s *Set) Cached(kind Kind) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[kind]
	return key, ok
}

// Invalidate drops the cached key for kind. The next Get fetches a fresh one.
func (s *Set) Invalidate(kind Kind) {
	s.mu.Lock()
	delete(s.keys, kind)
	s.mu.Unlock()
}

// Acquire fetches every kind not already cached, in parallel. Fetches are
// independent: one failure does not cancel the others. Failures are logged
// and returned joined; keys that were obtained stay cached.
func (s *Set) Acquire(ctx context.Context, kinds ...Kind) error {
	if len(kinds) == 0 {
		kinds = Kinds
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, kind := range kinds {
		g.Go(func() error {
			if _, err := s.Get(ctx, kind); err != nil {
				slog.Warn("credential: fetch failed", "kind", kind, "err", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("credential: %s: %w", kind, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
