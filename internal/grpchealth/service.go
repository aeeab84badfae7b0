package grpchealth

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	ghealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/keithlinneman/linnemanlabs-login/internal/health"
	"github.com/keithlinneman/linnemanlabs-login/internal/log"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = time.Second
)

// Service mirrors a health.Probe into the standard gRPC health server. The
// overall status ("") and every named service move together.
type Service struct {
	hs      *ghealth.Server
	check   health.Probe
	names   []string
	timeout time.Duration
	L       log.Logger

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
}

// NewService starts NOT_SERVING until the first Refresh.
func NewService(L log.Logger, check health.Probe, timeout time.Duration, names ...string) *Service {
	if L == nil {
		L = log.Nop()
	}
	if check == nil {
		check = health.Fixed(true, "")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Service{
		hs:      ghealth.NewServer(),
		check:   check,
		names:   append([]string{""}, names...),
		timeout: timeout,
		L:       L,
		last:    healthpb.HealthCheckResponse_UNKNOWN,
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Service) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.hs)
}

func (s *Service) set(st healthpb.HealthCheckResponse_ServingStatus) {
	for _, n := range s.names {
		s.hs.SetServingStatus(n, st)
	}
}

// Refresh runs the check once and publishes the result. Transitions are
// logged, steady state is not.
func (s *Service) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.check.Check(cctx)
	cancel()

	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.mu.Lock()
	prev := s.last
	s.last = st
	s.mu.Unlock()

	s.set(st)
	if prev != st {
		if err != nil {
			s.L.Warn(ctx, "grpc health not serving", "err", err, "previous", prev.String())
		} else {
			s.L.Info(ctx, "grpc health serving", "previous", prev.String())
		}
	}
	return st
}

// Run refreshes immediately and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Refresh(ctx)
		}
	}
}

// Shutdown flips every service to NOT_SERVING and ignores later updates.
func (s *Service) Shutdown() {
	s.hs.Shutdown()
}
