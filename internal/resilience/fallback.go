// Package resilience provides ordered primary/fallback execution.
//
// A [FallbackGroup] tries each entry exactly once, in registration order, and
// stops at the first success. There are no retries, backoff or circuit
// breakers: a failed entry is simply passed over for the current call.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails.
var ErrAllFailed = errors.New("resilience: all providers failed")

// fallbackEntry pairs a provider value with its name.
type fallbackEntry[T any] struct {
	name  string
	value T
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails, the next fallback is tried in
// registration order.
//
// Entries must be registered before the group is shared; Execute is then safe
// for concurrent use.
type FallbackGroup[T any] struct {
	entries    []fallbackEntry[T]
	onFailover func(name string, err error)
}

// Option is a functional option for [NewFallbackGroup].
type Option func(*options)

type options struct {
	onFailover func(name string, err error)
}

// WithFailoverHook registers fn to be called each time an entry fails and the
// group moves on. name identifies the failed entry.
func WithFailoverHook(fn func(name string, err error)) Option {
	return func(o *options) { o.onFailover = fn }
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, opts ...Option) *FallbackGroup[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &FallbackGroup[T]{
		entries:    []fallbackEntry[T]{{name: primaryName, value: primary}},
		onFailover: o.onFailover,
	}
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: fallback})
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Execute tries fn against each entry in order until one succeeds. Returns
// [ErrAllFailed] wrapped with the last error if every entry fails.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one succeeds,
// returning both the result value and error. This is a package-level function
// because Go does not support method-level type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i, entry := range fg.entries {
		result, err := fn(entry.value)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < len(fg.entries)-1 {
			slog.Warn("provider failed, trying next", "provider", entry.name, "err", err)
		}
		if fg.onFailover != nil {
			fg.onFailover(entry.name, err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
