package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-login/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-login/internal/log"
	"github.com/keithlinneman/linnemanlabs-login/internal/probe"
	"github.com/keithlinneman/linnemanlabs-login/internal/xerrors"
)

// NewHandler builds the app handler: routes + middleware.
// main() owns *http.Server so it can do graceful shutdown.
func NewHandler(opts *Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	prefix := opts.ProbePrefix
	if prefix == "" {
		prefix = DefaultProbePrefix
	}
	probePaths := probe.Paths(prefix, opts.Probes...)

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json", "application/problem+json"))
	r.Use(httpmw.AccessLog(httpmw.SkipPaths(probePaths...)))
	r.Use(httpmw.SpanRoute)

	probe.Mount(r, prefix, opts.Probes...)
	if opts.Routes != nil {
		r.Group(func(g chi.Router) {
			g.Use(httpmw.Scope("api"))
			for _, mw := range []httpmw.Middleware{opts.RateLimitMW, httpmw.MaxBody(opts.MaxBodyBytes)} {
				if mw != nil {
					g.Use(mw)
				}
			}
			opts.Routes(g)
		})
	}

	// outermost first
	return httpmw.Chain(r,
		httpmw.APIHeaders,
		recoverMW(opts),
		httpmw.RequestID(httpmw.DefaultRequestIDHeader),
		httpmw.ClientIP(opts.TrustedHops),
		tracing(probePaths),
		httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id"),
		opts.MetricsMW,
		httpmw.WithLogger(opts.Logger),
	)
}

func recoverMW(opts *Options) httpmw.Middleware {
	if !opts.UseRecoverMW {
		return nil
	}
	return httpmw.Recover(opts.Logger, opts.OnPanic)
}

// tracing wraps with otelhttp, skipping probe paths: orchestrators poll them
// every few seconds and the spans carry no information.
func tracing(skip []string) httpmw.Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "http.server",
			otelhttp.WithFilter(func(r *http.Request) bool {
				return !slices.Contains(skip, r.URL.Path)
			}),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
			otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
		)
	}
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
	DefaultShutdownTimeout   = 5 * time.Second
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Serve runs srv on ln in the background and returns an idempotent stop(ctx)
// that shuts it down gracefully.
func Serve(ctx context.Context, L log.Logger, name string, srv *http.Server, ln net.Listener) func(context.Context) error {
	go func() {
		L.Info(ctx, name+" listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, name+" error")
		}
	}()

	var once sync.Once
	return func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, name+" shutting down")
			c, cancel := context.WithTimeout(sctx, DefaultShutdownTimeout)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
}

// Start the app HTTP server. Returns stop(ctx) for graceful shutdown.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on %s", addr)
	}
	return Serve(ctx, opts.Logger, "http server", srv, ln), nil
}
