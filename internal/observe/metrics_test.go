package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_Latencies(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	ctx := context.Background()

	m.RecognitionConnectDuration.Record(ctx, 0.3)
	m.LLMDuration.Record(ctx, 0.8)
	m.LLMDuration.Record(ctx, 1.4)
	m.TTSDuration.Record(ctx, 0.6)
	m.HTTPRequestDuration.Record(ctx, 0.002)

	rm := snapshot(t, reader)
	for name, want := range map[string]uint64{
		"sesli.recognition.connect.duration": 1,
		"sesli.llm.duration":                 2,
		"sesli.tts.duration":                 1,
		"sesli.http.request.duration":        1,
	} {
		hist, ok := lookup(t, rm, name).(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) != 1 {
			t.Errorf("%s: want one histogram point, got %+v", name, hist)
			continue
		}
		if got := hist.DataPoints[0].Count; got != want {
			t.Errorf("%s: want %d samples, got %d", name, want, got)
		}
	}
}

func TestMetrics_LatencyBuckets(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	m.LLMDuration.Record(context.Background(), 3)

	hist := lookup(t, snapshot(t, reader), "sesli.llm.duration").(metricdata.Histogram[float64])
	bounds := hist.DataPoints[0].Bounds
	if len(bounds) != len(latencyBuckets) || bounds[len(bounds)-1] != 10 {
		t.Errorf("bounds: want %v, got %v", latencyBuckets, bounds)
	}
}

func TestMetrics_ProviderRequestCountsErrors(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "llm", StatusOK)
	m.RecordProviderRequest(ctx, "gemini", "llm", StatusOK)
	m.RecordProviderRequest(ctx, "gemini", "llm", StatusOf(errors.New("boom")))
	m.RecordProviderError(ctx, "recognition", "stt")

	rm := snapshot(t, reader)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"sesli.provider.requests", "status", "ok", 2},
		{"sesli.provider.requests", "status", "error", 1},
		{"sesli.provider.errors", "provider", "gemini", 1},
		{"sesli.provider.errors", "provider", "recognition", 1},
	}
	for _, tt := range tests {
		if got := point(t, rm, tt.metric, tt.key, tt.value); got != tt.want {
			t.Errorf("%s{%s=%s}: want %d, got %d", tt.metric, tt.key, tt.value, tt.want, got)
		}
	}
}

func TestMetrics_Outcomes(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, StatusOK)
	m.RecordTurn(ctx, StatusSuperseded)
	m.RecordTurn(ctx, StatusOK)
	m.RecordNarrationFallback(ctx, StatusError)
	m.RecordCredentialFetch(ctx, "recognition", StatusOK)
	m.RecordCredentialFetch(ctx, "narration", StatusError)

	rm := snapshot(t, reader)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"sesli.turns", "status", "ok", 2},
		{"sesli.turns", "status", "superseded", 1},
		{"sesli.narration.fallbacks", "status", "error", 1},
		{"sesli.credential.fetches", "kind", "recognition", 1},
		{"sesli.credential.fetches", "kind", "narration", 1},
	}
	for _, tt := range tests {
		if got := point(t, rm, tt.metric, tt.key, tt.value); got != tt.want {
			t.Errorf("%s{%s=%s}: want %d, got %d", tt.metric, tt.key, tt.value, tt.want, got)
		}
	}
}

func TestMetrics_ConversationGauge(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	ctx := context.Background()

	m.ActiveConversations.Add(ctx, 1)
	m.ActiveConversations.Add(ctx, 1)
	m.ActiveConversations.Add(ctx, -1)
	m.ChunksForwarded.Add(ctx, 4)

	rm := snapshot(t, reader)
	for name, want := range map[string]int64{"sesli.active_conversations": 1, "sesli.chunks.forwarded": 4} {
		sum, ok := lookup(t, rm, name).(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) != 1 {
			t.Errorf("%s: want one sum point, got %+v", name, sum)
			continue
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s: want %d, got %d", name, want, got)
		}
	}
}

func TestStatusOf(t *testing.T) {
	t.Parallel()
	if got := StatusOf(nil); got != StatusOK {
		t.Errorf("nil: want %s, got %s", StatusOK, got)
	}
	if got := StatusOf(errors.New("x")); got != StatusError {
		t.Errorf("error: want %s, got %s", StatusError, got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	t.Parallel()
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("want the same instance on every call")
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func testMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func snapshot(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func lookup(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Aggregation {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return nil
}

// point returns the counter value of the data point carrying key=value.
func point(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	sum, ok := lookup(t, rm, name).(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}
