package httpserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-login/internal/health"
	"github.com/keithlinneman/linnemanlabs-login/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-login/internal/log"
	"github.com/keithlinneman/linnemanlabs-login/internal/probe"
)

// countingLogger is a probe.Logger counting Info calls.
type countingLogger struct {
	mu   sync.Mutex
	info int
}

func (c *countingLogger) Info(string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info++
	return nil
}
func (c *countingLogger) Warn(string) error   { return nil }
func (c *countingLogger) Error(string) error  { return nil }
func (c *countingLogger) Assert(string) error { return nil }

func probes(t *testing.T, l probe.Logger, check health.Probe) []probe.Mountable {
	t.Helper()
	live, err := probe.NewLiveness(l, probe.Options{})
	if err != nil {
		t.Fatal(err)
	}
	ready, err := probe.NewReadiness(l, check, probe.Options{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	return []probe.Mountable{live, ready}
}

func doRequest(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

func TestNewHandler_ProbesMounted(t *testing.T) {
	l := &countingLogger{}
	h := NewHandler(&Options{Probes: probes(t, l, nil)})

	for _, p := range []string{"/-/live", "/-/ready"} {
		rec := doRequest(h, http.MethodGet, p)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", p, rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Fatalf("%s body = %q, want none", p, rec.Body.String())
		}
	}
	if l.info != 2 {
		t.Fatalf("probe info logs = %d, want 2", l.info)
	}
}

func TestNewHandler_ReadinessFailure(t *testing.T) {
	var gate health.ShutdownGate
	gate.Set("draining")
	h := NewHandler(&Options{Probes: probes(t, &countingLogger{}, gate.Probe())})

	if rec := doRequest(h, http.MethodGet, "/-/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if rec := doRequest(h, http.MethodGet, "/-/live"); rec.Code != http.StatusOK {
		t.Fatalf("liveness should ignore readiness, got %d", rec.Code)
	}
}

func TestNewHandler_CustomPrefix(t *testing.T) {
	h := NewHandler(&Options{Probes: probes(t, &countingLogger{}, nil), ProbePrefix: "/healthz"})
	if rec := doRequest(h, http.MethodGet, "/healthz/live"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := doRequest(h, http.MethodGet, "/-/live"); rec.Code != http.StatusNotFound {
		t.Fatalf("default prefix should be gone, got %d", rec.Code)
	}
}

func TestNewHandler_APIHeadersEverywhere(t *testing.T) {
	h := NewHandler(&Options{Probes: probes(t, &countingLogger{}, nil)})
	for _, p := range []string{"/-/live", "/missing"} {
		rec := doRequest(h, http.MethodGet, p)
		if rec.Header().Get("Cache-Control") != "no-store" || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("%s headers = %v", p, rec.Header())
		}
	}
}

func TestNewHandler_RequestID(t *testing.T) {
	h := NewHandler(&Options{})
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := doRequest(h, http.MethodGet, "/").Header().Get("X-Request-Id")
		if len(id) != 32 || seen[id] {
			t.Fatalf("bad or duplicate id %q", id)
		}
		seen[id] = true
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Request-Id", "upstream-1")
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-Id") != "upstream-1" {
		t.Fatal("inbound id not propagated")
	}
}

func TestNewHandler_Routes(t *testing.T) {
	h := NewHandler(&Options{Routes: func(r chi.Router) {
		r.Post("/api/v1/session", func(w http.ResponseWriter, r *http.Request) {
			if log.FromContext(r.Context()) == nil {
				t.Error("request logger missing")
			}
			w.WriteHeader(http.StatusCreated)
		})
	}})
	if rec := doRequest(h, http.MethodPost, "/api/v1/session"); rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestNewHandler_RecoverMW(t *testing.T) {
	panics := 0
	h := NewHandler(&Options{
		UseRecoverMW: true,
		OnPanic:      func() { panics++ },
		Routes: func(r chi.Router) {
			r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
		},
	})
	rec := doRequest(h, http.MethodGet, "/boom")
	if rec.Code != http.StatusInternalServerError || panics != 1 {
		t.Fatalf("status = %d, panics = %d", rec.Code, panics)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("headers should survive a panic")
	}
}

func TestNewHandler_MetricsMWSeesProbes(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			paths = append(paths, r.URL.Path)
			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
	h := NewHandler(&Options{MetricsMW: mw, Probes: probes(t, &countingLogger{}, nil)})
	doRequest(h, http.MethodGet, "/-/ready")
	if len(paths) != 1 || paths[0] != "/-/ready" {
		t.Fatalf("paths = %v", paths)
	}
}

func TestNewServer_Timeouts(t *testing.T) {
	srv := NewServer(":0", http.NotFoundHandler())
	if srv.ReadHeaderTimeout != DefaultReadHeaderTimeout || srv.MaxHeaderBytes != DefaultMaxHeaderBytes {
		t.Fatalf("server = %+v", srv)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStart_ServesAndStops(t *testing.T) {
	port := freePort(t)
	stop, err := Start(context.Background(), &Options{Port: port, Probes: probes(t, &countingLogger{}, nil)})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/-/live", port)
	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	_, err = Start(context.Background(), &Options{Port: ln.Addr().(*net.TCPAddr).Port})
	if err == nil {
		t.Fatal("expected listen error")
	}
}

// denyAll refuses every request with 429.
func denyAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
}

func TestNewHandler_RateLimitSkipsProbes(t *testing.T) {
	h := NewHandler(&Options{
		Probes:      probes(t, &countingLogger{}, nil),
		RateLimitMW: denyAll,
		Routes: func(r chi.Router) {
			r.Post("/api/v1/session", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) })
		},
	})
	if rec := doRequest(h, http.MethodPost, "/api/v1/session"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("api status = %d, want 429", rec.Code)
	}
	for _, p := range []string{"/-/live", "/-/ready"} {
		if rec := doRequest(h, http.MethodGet, p); rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, probes must not be rate limited", p, rec.Code)
		}
	}
}

func TestNewHandler_MaxBodyOnRoutes(t *testing.T) {
	h := NewHandler(&Options{
		MaxBodyBytes: 8,
		Routes: func(r chi.Router) {
			r.Post("/api/v1/session", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) })
		},
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", strings.NewReader(`{"user":"someone"}`))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestNewHandler_ClientIPResolved(t *testing.T) {
	var got string
	h := NewHandler(&Options{
		TrustedHops: 1,
		Routes: func(r chi.Router) {
			r.Get("/api/v1/whoami", func(_ http.ResponseWriter, r *http.Request) {
				got = httpmw.ClientIPFromContext(r.Context())
			})
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", http.NoBody)
	req.RemoteAddr = "10.0.0.9:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.77")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "203.0.113.77" {
		t.Fatalf("client ip = %q", got)
	}
}

// scopeLogger records every key/value pair passed to With.
type scopeLogger struct {
	mu  sync.Mutex
	kvs map[string]any
}

func (s *scopeLogger) With(kv ...any) log.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kvs == nil {
		s.kvs = map[string]any{}
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			s.kvs[k] = kv[i+1]
		}
	}
	return s
}
func (s *scopeLogger) Debug(context.Context, string, ...any)        {}
func (s *scopeLogger) Info(context.Context, string, ...any)         {}
func (s *scopeLogger) Warn(context.Context, string, ...any)         {}
func (s *scopeLogger) Error(context.Context, error, string, ...any) {}
func (s *scopeLogger) Sync() error                                  { return nil }

func (s *scopeLogger) field(k string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kvs[k]
}

func TestNewHandler_APIRoutesScoped(t *testing.T) {
	lg := &scopeLogger{}
	h := NewHandler(&Options{
		Logger: lg,
		Probes: probes(t, &countingLogger{}, nil),
		Routes: func(r chi.Router) {
			r.Get("/api/v1/version", func(w http.ResponseWriter, _ *http.Request) {})
		},
	})

	doRequest(h, http.MethodGet, "/-/live")
	if got := lg.field("handler"); got != nil {
		t.Fatalf("probe request tagged handler=%v", got)
	}

	if rec := doRequest(h, http.MethodGet, "/api/v1/version"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := lg.field("handler"); got != "api" {
		t.Fatalf("handler = %v, want api", got)
	}
}
