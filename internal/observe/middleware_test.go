package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMiddleware_CorrelationID(t *testing.T) {
	m, _, _ := middlewareSetup(t)

	var inCtx string
	h := Middleware(m)(routes(func(w http.ResponseWriter, r *http.Request) {
		inCtx = CorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/personas", nil))

	if len(inCtx) != 32 {
		t.Errorf("correlation ID: want 32 hex chars, got %q", inCtx)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inCtx {
		t.Errorf("X-Correlation-ID: want %q, got %q", inCtx, got)
	}
}

func TestMiddleware_HonoursTraceparent(t *testing.T) {
	m, _, _ := middlewareSetup(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var inCtx string
	h := Middleware(m)(routes(func(w http.ResponseWriter, r *http.Request) {
		inCtx = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/personas", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if inCtx != traceID {
		t.Errorf("correlation ID: want %s, got %q", traceID, inCtx)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID: want %s, got %q", traceID, got)
	}
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	tests := []struct {
		path      string
		wantRoute string
		wantCode  int
	}{
		{"/v1/personas/2", "GET /v1/personas/{id}", http.StatusOK},
		{"/v1/personas/9", "GET /v1/personas/{id}", http.StatusOK},
		{"/nope", unmatchedRoute, http.StatusNotFound},
	}

	m, reader, exp := middlewareSetup(t)
	h := Middleware(m)(routes(func(http.ResponseWriter, *http.Request) {}))
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.wantCode {
			t.Errorf("%s: status want %d, got %d", tt.path, tt.wantCode, rec.Code)
		}
	}

	spans := exp.GetSpans()
	if len(spans) != len(tests) {
		t.Fatalf("spans: want %d, got %d", len(tests), len(spans))
	}
	for i, tt := range tests {
		if want := "HTTP " + tt.wantRoute; spans[i].Name != want {
			t.Errorf("span %d name: want %q, got %q", i, want, spans[i].Name)
		}
	}

	data := lookup(t, snapshot(t, reader), "sesli.http.request.duration")
	hist, ok := data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("want histogram, got %T", data)
	}
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		counts[route.AsString()] += dp.Count
	}
	if counts["GET /v1/personas/{id}"] != 2 || counts[unmatchedRoute] != 1 {
		t.Errorf("route counts: want 2 persona + 1 unmatched, got %v", counts)
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	m, _, exp := middlewareSetup(t)
	h := Middleware(m)(routes(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/personas", nil))

	span := exp.GetSpans()[0]
	if span.Status.Code != codes.Error {
		t.Errorf("span status: want Error, got %v", span.Status.Code)
	}
	var found bool
	for _, a := range span.Attributes {
		if a.Key == "http.response.status_code" && a.Value.AsInt64() == http.StatusBadGateway {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code=502")
	}
}

func TestMiddleware_SupportsHijack(t *testing.T) {
	m, _, _ := middlewareSetup(t)

	var hijackable bool
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, hijackable = w.(http.Hijacker)
		if _, _, err := http.NewResponseController(w).Hijack(); err == nil {
			t.Error("Hijack on a recorder: want error, got nil")
		}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/converse", nil))
	if !hijackable {
		t.Error("wrapped writer does not implement http.Hijacker")
	}
}

func TestMetricsHandler_Serves(t *testing.T) {
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status: want 200, got %d", rec.Code)
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// middlewareSetup installs an in-memory tracer and the W3C propagator for the
// duration of the test.
func middlewareSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := useTestTracer(t)
	orig := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(orig) })

	return m, reader, exp
}

// routes is a mux with the persona routes served by h.
func routes(h http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/personas", h)
	mux.HandleFunc("GET /v1/personas/{id}", h)
	return mux
}
