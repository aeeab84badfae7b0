package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func serveTraced(t *testing.T, r http.Handler, path string) sdktrace.ReadOnlySpan {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "http.server")
	req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
	r.ServeHTTP(httptest.NewRecorder(), req)
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("spans = %d, want 1", len(ended))
	}
	return ended[0]
}

func routeAttr(s sdktrace.ReadOnlySpan) string {
	for _, kv := range s.Attributes() {
		if kv.Key == attribute.Key("http.route") {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestSpanRoute_UsesPattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(SpanRoute)
	r.Get("/v1/sessions/{id}", func(http.ResponseWriter, *http.Request) {})

	s := serveTraced(t, r, "/v1/sessions/abc123")
	if s.Name() != "GET /v1/sessions/{id}" {
		t.Fatalf("span name = %q", s.Name())
	}
	if routeAttr(s) != "/v1/sessions/{id}" {
		t.Fatalf("http.route = %q", routeAttr(s))
	}
}

func TestSpanRoute_Unmatched(t *testing.T) {
	r := chi.NewRouter()
	r.Use(SpanRoute)
	r.Get("/known", func(http.ResponseWriter, *http.Request) {})

	if s := serveTraced(t, r, "/nope/123"); s.Name() != "GET unmatched" {
		t.Fatalf("span name = %q", s.Name())
	}
}

func TestSpanRoute_NoSpan(t *testing.T) {
	called := false
	h := SpanRoute(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("handler not called")
	}
}
