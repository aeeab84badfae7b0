package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-login/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-login/internal/datastore"
	"github.com/keithlinneman/linnemanlabs-login/internal/grpchealth"
	"github.com/keithlinneman/linnemanlabs-login/internal/health"
	"github.com/keithlinneman/linnemanlabs-login/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-login/internal/linelog"
	"github.com/keithlinneman/linnemanlabs-login/internal/log"
	"github.com/keithlinneman/linnemanlabs-login/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-login/internal/mq"
	"github.com/keithlinneman/linnemanlabs-login/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-login/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-login/internal/probe"
	"github.com/keithlinneman/linnemanlabs-login/internal/prof"
	"github.com/keithlinneman/linnemanlabs-login/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-login/internal/secrets"
	v "github.com/keithlinneman/linnemanlabs-login/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging, levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"grpc_health_port", conf.GRPCHealthPort,
		"log_sinks", conf.LogSinks,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"live_path", conf.LivePath,
		"ready_path", conf.ReadyPath,
		"readiness_timeout", conf.ReadinessTimeout,
		"readiness_min_interval", conf.ReadinessMinInterval,
		"drain_period", conf.DrainPeriod,
		"database_configured", conf.DatabaseURL != "" || conf.DatabaseURLSSMParam != "",
		"broker_configured", conf.BrokerURL != "",
		"rate_limit_rps", conf.RateLimitRPS,
		"rate_limit_burst", conf.RateLimitBurst,
		"trusted_proxy_hops", conf.TrustedProxyHops,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(err == nil && conf.EnablePyroscope)
	defer func() { stopProf() }()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	// probe line logger
	var sinks linelog.Sinks
	switch conf.LogSinks {
	case cfg.SinksStructured:
		sinks = linelog.StructuredSinks(lg.With("component", "probe"))
	default:
		sinks = linelog.ConsoleSinks(os.Stdout, os.Stderr)
	}
	probeLog, err := linelog.New(sinks)
	if err != nil {
		L.Error(ctx, err, "probe logger init failed")
		os.Exit(1)
	}
	reportLineErr(ctx, L, probeLog.Info(v.AppName+" "+vi.Version+" booting"), "boot")

	// dependencies
	var gate health.ShutdownGate
	checks := []health.Probe{gate.Probe()}

	var resolver *secrets.SSMResolver
	if conf.DatabaseURLSSMParam != "" {
		if resolver, err = secrets.LoadSSMResolver(ctx); err != nil {
			L.Error(ctx, err, "load aws config for ssm")
			os.Exit(1)
		}
	}
	dsn, err := resolver.Or(ctx, conf.DatabaseURLSSMParam, conf.DatabaseURL)
	if err != nil {
		L.Error(ctx, err, "resolve database url", "ssm_param", conf.DatabaseURLSSMParam)
		os.Exit(1)
	}
	if dsn != "" {
		pool, err := datastore.Open(ctx, datastore.Options{URL: dsn, Logger: L})
		if err != nil {
			L.Error(ctx, err, "postgres unavailable")
			os.Exit(1)
		}
		defer pool.Close()
		if err := datastore.RegisterPoolMetrics(m.Registry(), pool); err != nil {
			L.Warn(ctx, "pool metrics not registered", "err", err)
		}
		checks = append(checks, dependency(m, "postgres", pool, conf.ReadinessMinInterval))
	}

	if conf.BrokerURL != "" {
		conn, err := mq.Dial(ctx, mq.Options{
			URL:     conf.BrokerURL,
			Name:    v.AppName,
			Logger:  L,
			OnState: func(up bool) { m.SetDependencyUp("amqp", up) },
		})
		if err != nil {
			L.Error(ctx, err, "amqp broker unavailable")
			os.Exit(1)
		}
		defer func() { _ = conn.Close() }()
		checks = append(checks, dependency(m, "amqp", conn, conf.ReadinessMinInterval))
	}

	// probes
	liveness, err := probe.NewLiveness(probeLog, probe.Options{Path: conf.LivePath, Observer: m})
	if err != nil {
		L.Error(ctx, err, "liveness probe init failed")
		os.Exit(1)
	}
	readiness, err := probe.NewReadiness(probeLog, health.All(checks...), probe.Options{
		Path:     conf.ReadyPath,
		Observer: m,
		Timeout:  conf.ReadinessTimeout,
	})
	if err != nil {
		L.Error(ctx, err, "readiness probe init failed")
		os.Exit(1)
	}
	probes := []probe.Mountable{liveness, readiness}

	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
		// once per client until it goes idle
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "client.address", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit table full, refusing new clients until idle ones are evicted")
		}),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		Probes:       probes,
		RateLimitMW:  limiter.Middleware,
		MaxBodyBytes: conf.MaxBodyBytes,
		TrustedHops:  conf.TrustedProxyHops,
		Routes: func(r chi.Router) {
			r.Get("/api/v1/version", versionHandler(vi))
		},
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// admin listener: metrics, probes and pprof, internal only
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Probes:       probes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	grpcStop, err := grpchealth.Start(ctx, L, grpchealth.Options{
		Port:      conf.GRPCHealthPort,
		Readiness: readiness,
		Services:  []string{v.AppName},
		Timeout:   conf.ReadinessTimeout,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start grpc health listener")
		os.Exit(1)
	}
	defer func() { _ = grpcStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")
	gate.Set("draining")
	reportLineErr(context.Background(), L, probeLog.Warn("shutdown gate closed, readiness failing"), "drain")

	L.Info(context.Background(), "draining", "period", conf.DrainPeriod)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := grpcStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "grpc health server shutdown")
	}
	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	L.Info(context.Background(), "shutdown complete")
}

// dependency turns a connection into a throttled readiness check that also
// keeps the dependency_up gauge current.
func dependency(m *metrics.ServerMetrics, name string, p health.Pinger, minInterval time.Duration) health.Probe {
	ping := health.Ping(name, p)
	tracked := health.CheckFunc(func(ctx context.Context) error {
		err := ping.Check(ctx)
		m.SetDependencyUp(name, err == nil)
		return err
	})
	return health.ThrottleEvery(tracked, minInterval)
}

// reportLineErr surfaces a failed line log write, which would otherwise be
// invisible when the line sink itself is broken.
func reportLineErr(ctx context.Context, L log.Logger, err error, event string) {
	if err != nil {
		L.Error(ctx, err, "line log write failed", "event", event)
	}
}

func versionHandler(vi v.Info) http.HandlerFunc {
	body, _ := json.Marshal(vi)
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write(body)
	}
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
