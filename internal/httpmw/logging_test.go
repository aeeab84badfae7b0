package httpmw

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-login/internal/log"
)

type capturedLog struct {
	msg    string
	fields []any
}

// flatLogger returns itself from With so every call lands in one place.
type flatLogger struct {
	mu    sync.Mutex
	infos []capturedLog
	withs []any
}

func (l *flatLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withs = append(l.withs, kv...)
	return l
}

func (l *flatLogger) Info(_ context.Context, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, capturedLog{msg: msg, fields: kv})
}

func (l *flatLogger) Debug(context.Context, string, ...any)        {}
func (l *flatLogger) Warn(context.Context, string, ...any)         {}
func (l *flatLogger) Error(context.Context, error, string, ...any) {}
func (l *flatLogger) Sync() error                                  { return nil }

func fieldOf(kv []any, key string) any {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1]
		}
	}
	return nil
}

func TestWithLogger_StoresEnrichedLogger(t *testing.T) {
	base := &flatLogger{}
	var got log.Logger
	h := Chain(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = log.FromContext(r.Context())
	}), RequestID(""), WithLogger(base))

	req := httptest.NewRequest(http.MethodGet, "/login?password=hunter2", http.NoBody)
	req.RemoteAddr = "10.0.0.5:4321"
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != log.Logger(base) {
		t.Fatal("handler should see the request logger")
	}
	if fieldOf(base.withs, "network.peer.address") != "10.0.0.5" {
		t.Fatalf("peer = %v", fieldOf(base.withs, "network.peer.address"))
	}
	if fieldOf(base.withs, "url.path") != "/login" {
		t.Fatalf("path = %v", fieldOf(base.withs, "url.path"))
	}
	if id, _ := fieldOf(base.withs, "request_id").(string); len(id) != 32 {
		t.Fatalf("request_id = %v", id)
	}
	for i := 0; i < len(base.withs); i++ {
		if s, ok := base.withs[i].(string); ok && s == "url.query" {
			t.Fatal("query strings must not be logged")
		}
	}
}

func routed(skip func(string) bool, base log.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/user/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/-/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Chain(r, WithLogger(base), AccessLog(skip))
}

func TestAccessLog_RecordsRequest(t *testing.T) {
	base := &flatLogger{}
	routed(nil, base).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/user/7", http.NoBody))

	if len(base.infos) != 1 || base.infos[0].msg != "http request" {
		t.Fatalf("infos = %+v", base.infos)
	}
	f := base.infos[0].fields
	if fieldOf(f, "http.response.status_code") != http.StatusAccepted {
		t.Fatalf("status = %v", fieldOf(f, "http.response.status_code"))
	}
	if fieldOf(f, "http.route") != "/user/{id}" {
		t.Fatalf("route = %v", fieldOf(f, "http.route"))
	}
	if fieldOf(f, "http.response.body.size") != int64(2) {
		t.Fatalf("size = %v", fieldOf(f, "http.response.body.size"))
	}
}

func TestAccessLog_SkipsProbePaths(t *testing.T) {
	base := &flatLogger{}
	routed(SkipPaths("/-/live", "/-/ready"), base).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/-/live", http.NoBody))

	if len(base.infos) != 0 {
		t.Fatalf("probe request logged: %+v", base.infos)
	}
}

func TestAccessLog_UnmatchedRoute(t *testing.T) {
	base := &flatLogger{}
	routed(nil, base).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", http.NoBody))

	if fieldOf(base.infos[0].fields, "http.route") != "unmatched" {
		t.Fatalf("route = %v", fieldOf(base.infos[0].fields, "http.route"))
	}
	if fieldOf(base.infos[0].fields, "http.response.status_code") != http.StatusNotFound {
		t.Fatalf("status = %v", fieldOf(base.infos[0].fields, "http.response.status_code"))
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), ctx: context.Background()}
	if rw.statusCode() != http.StatusOK {
		t.Fatal("default status should be 200")
	}
	rw.WriteHeader(http.StatusServiceUnavailable)
	_, _ = rw.Write([]byte("x"))
	if rw.statusCode() != http.StatusServiceUnavailable || rw.bytes != 1 {
		t.Fatalf("status/bytes = %d/%d", rw.statusCode(), rw.bytes)
	}
}

func TestResponseWriter_HijackUnsupported(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), ctx: context.Background()}
	if _, _, err := rw.Hijack(); err == nil {
		t.Fatal("recorder cannot hijack")
	}
}

func TestScope_AddsHandler(t *testing.T) {
	base := &flatLogger{}
	h := Chain(noop, WithLogger(base), Scope("readiness"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if fieldOf(base.withs, "handler") != "readiness" {
		t.Fatalf("withs = %v", base.withs)
	}
}

func TestSchemeFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xfp    string
		tls    bool
		want   string
	}{
		{"plain", "203.0.113.9:1", "", false, "http"},
		{"tls", "203.0.113.9:1", "", true, "https"},
		{"trusted proxy", "10.1.2.3:1", "https", false, "https"},
		{"untrusted proxy", "203.0.113.9:1", "https", false, "http"},
		{"garbage proto", "10.1.2.3:1", "gopher", false, "http"},
		{"first of list", "10.1.2.3:1", "HTTPS, http", false, "https"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remote
			if tt.xfp != "" {
				r.Header.Set("X-Forwarded-Proto", tt.xfp)
			}
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			if got := schemeFromRequest(r); got != tt.want {
				t.Fatalf("scheme = %q, want %q", got, tt.want)
			}
		})
	}
}
