package opshttp

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-login/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-login/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-login/internal/log"
	"github.com/keithlinneman/linnemanlabs-login/internal/probe"
	"github.com/keithlinneman/linnemanlabs-login/internal/xerrors"
)

// NewHandler builds the admin router: probes under /-, /metrics and,
// when enabled, /debug/pprof. Disabled pprof paths answer 404.
func NewHandler(L log.Logger, opts Options) http.Handler {
	r := chi.NewRouter()

	probe.Mount(r, httpserver.DefaultProbePrefix, opts.Probes...)

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	if opts.EnablePprof {
		RegisterPprof(r)
	}

	var mw httpmw.Middleware
	if opts.UseRecoverMW {
		mw = httpmw.Recover(L, opts.OnPanic)
	}
	return httpmw.Chain(r, mw)
}

// Start admin HTTP server. Returns stop(ctx) for graceful shutdown.
func Start(ctx context.Context, L log.Logger, opts Options) (func(context.Context) error, error) {
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = 9000
	}
	addr := fmt.Sprintf(":%d", port)

	srv := httpserver.NewServer(addr, NewHandler(L, opts))
	// profiles run for up to 30s by default
	if opts.EnablePprof {
		srv.WriteTimeout = 0
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen for admin port on addr=%v", addr)
	}
	return httpserver.Serve(ctx, L, "ops http server", srv, ln), nil
}
