package grpchealth

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/keithlinneman/linnemanlabs-login/internal/health"
	"github.com/keithlinneman/linnemanlabs-login/internal/log"
	"github.com/keithlinneman/linnemanlabs-login/internal/xerrors"
)

const DefaultShutdownTimeout = 5 * time.Second

type Options struct {
	Port      int
	Readiness health.Probe
	Services  []string
	Interval  time.Duration
	Timeout   time.Duration
}

// Serve runs the health service on ln and returns an idempotent stop(ctx).
// Stop marks everything NOT_SERVING before draining in-flight RPCs.
func Serve(ctx context.Context, L log.Logger, svc *Service, ln net.Listener, interval time.Duration) func(context.Context) error {
	gs := grpc.NewServer()
	svc.Register(gs)

	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	go svc.Run(runCtx, interval)
	go func() {
		L.Info(ctx, "grpc health listening", "addr", ln.Addr().String())
		if err := gs.Serve(ln); err != nil && err != grpc.ErrServerStopped {
			L.Error(ctx, err, "grpc health server error")
		}
	}()

	var once sync.Once
	return func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "grpc health shutting down")
			cancelRun()
			svc.Shutdown()

			c, cancel := context.WithTimeout(sctx, DefaultShutdownTimeout)
			defer cancel()
			stopped := make(chan struct{})
			go func() {
				gs.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-c.Done():
				gs.Stop()
				retErr = xerrors.Wrap(c.Err(), "grpc health graceful stop")
			}
		})
		return retErr
	}
}

// Start listens on opts.Port. A zero port disables the server and returns a
// no-op stop.
func Start(ctx context.Context, L log.Logger, opts Options) (func(context.Context) error, error) {
	if opts.Port == 0 {
		return func(context.Context) error { return nil }, nil
	}
	if L == nil {
		L = log.Nop()
	}
	addr := fmt.Sprintf(":%d", opts.Port)
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on %s", addr)
	}
	svc := NewService(L, opts.Readiness, opts.Timeout, opts.Services...)
	return Serve(ctx, L, svc, ln, opts.Interval), nil
}
