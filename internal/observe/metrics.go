// Package observe holds the service's telemetry: OpenTelemetry instruments,
// trace helpers that carry the conversation ID, the Prometheus bridge behind
// /metrics, and the HTTP middleware joining them.
//
// Components take a *[Metrics] in their dependencies and fall back to
// [DefaultMetrics]. Tests build their own with [NewMetrics] over a
// ManualReader-backed provider.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/sesli-ai/sesli"

// Status values used on the "status" attribute.
const (
	StatusOK         = "ok"
	StatusError      = "error"
	StatusSuperseded = "superseded"
)

// Metrics is the set of instruments recorded by the pipeline.
type Metrics struct {
	// Pipeline stage latencies, in seconds.
	RecognitionConnectDuration metric.Float64Histogram
	LLMDuration                metric.Float64Histogram
	TTSDuration                metric.Float64Histogram

	// ChunksForwarded counts audio chunks handed to a recognition session.
	ChunksForwarded metric.Int64Counter

	// Turns counts turn outcomes by status (see [Metrics.RecordTurn]).
	Turns metric.Int64Counter

	// NarrationFallbacks counts narrations spoken by the local speaker.
	NarrationFallbacks metric.Int64Counter

	// ProviderRequests and ProviderErrors are labelled by provider and kind
	// ("stt", "llm" or "tts").
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// CredentialFetches is labelled by credential kind and status.
	CredentialFetches metric.Int64Counter

	ActiveConversations metric.Int64UpDownCounter

	// HTTPRequestDuration is labelled by method, route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// Upper bounds in seconds. Recognition connects and narration land in the
// 100ms to 2s range; a slow LLM can reach 10s.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// builder accumulates instrument creation errors so NewMetrics reports all
// of them at once.
type builder struct {
	meter metric.Meter
	errs  []error
}

func (b *builder) latency(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	b.check(name, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.check(name, err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.check(name, err)
	return g
}

func (b *builder) check(name string, err error) {
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("%s: %w", name, err))
	}
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{meter: mp.Meter(meterName)}
	m := &Metrics{
		RecognitionConnectDuration: b.latency("sesli.recognition.connect.duration", "Time from requesting a recognition session until it opens."),
		LLMDuration:                b.latency("sesli.llm.duration", "Turn generation latency."),
		TTSDuration:                b.latency("sesli.tts.duration", "Primary narration synthesis latency."),

		ChunksForwarded:    b.counter("sesli.chunks.forwarded", "Audio chunks forwarded to recognition sessions."),
		Turns:              b.counter("sesli.turns", "Turns by status."),
		NarrationFallbacks: b.counter("sesli.narration.fallbacks", "Narrations spoken by the local speaker, by status."),
		ProviderRequests:   b.counter("sesli.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:     b.counter("sesli.provider.errors", "Failed provider calls by provider and kind."),
		CredentialFetches:  b.counter("sesli.credential.fetches", "Credential broker fetches by kind and status."),

		ActiveConversations: b.gauge("sesli.active_conversations", "Conversations currently running."),
	}

	// HTTP latency keeps the SDK's default buckets.
	var err error
	m.HTTPRequestDuration, err = b.meter.Float64Histogram("sesli.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	)
	b.check("sesli.http.request.duration", err)

	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide Metrics built on the global meter
// provider the first time it is called.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordProviderRequest counts one provider call. A non-ok status also
// counts a provider error.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
	if status != StatusOK {
		m.RecordProviderError(ctx, provider, kind)
	}
}

// RecordProviderError counts a provider failure that was not a request, e.g.
// a recognition session error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordTurn counts a turn outcome: [StatusOK], [StatusError] or
// [StatusSuperseded].
func (m *Metrics) RecordTurn(ctx context.Context, status string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordNarrationFallback(ctx context.Context, status string) {
	m.NarrationFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordCredentialFetch(ctx context.Context, kind, status string) {
	m.CredentialFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// StatusOf maps err to [StatusOK] or [StatusError].
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
