package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-login/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names to form env keys.
const EnvPrefix = "LOGIN_"

// Line sink modes for -log-sinks.
const (
	SinksConsole    = "console"
	SinksStructured = "structured"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	LogSinks          string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort       int
	AdminPort      int
	GRPCHealthPort int

	EnablePprof     bool
	EnableTracing   bool
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	LivePath             string
	ReadyPath            string
	ReadinessTimeout     time.Duration
	ReadinessMinInterval time.Duration
	DrainPeriod          time.Duration

	DatabaseURL         string
	DatabaseURLSSMParam string
	BrokerURL           string

	RateLimitRPS     float64
	RateLimitBurst   int
	TrustedProxyHops int
	MaxBodyBytes     int64
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.LogSinks, "log-sinks", SinksConsole, "probe line sinks: console (colored stdout/stderr) or structured (through the json logger)")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.GRPCHealthPort, "grpc-health-port", 0, "gRPC health service port, 0 disables (0..65535)")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "plaintext gRPC to the otlp-endpoint (local collector)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")

	fs.StringVar(&c.LivePath, "live-path", "/live", "liveness route inside the /- probe prefix")
	fs.StringVar(&c.ReadyPath, "ready-path", "/ready", "readiness route inside the /- probe prefix")
	fs.DurationVar(&c.ReadinessTimeout, "readiness-timeout", time.Second, "readiness check deadline; exceeding it answers 503")
	fs.DurationVar(&c.ReadinessMinInterval, "readiness-min-interval", 2*time.Second, "minimum time between real dependency checks, 0 checks every probe")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 5*time.Second, "how long readiness fails before listeners close on shutdown")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "postgres connection string; empty disables the database check")
	fs.StringVar(&c.DatabaseURLSSMParam, "database-url-ssm-param", "", "ssm SecureString holding the postgres connection string (overrides database-url)")
	fs.StringVar(&c.BrokerURL, "broker-url", "", "amqp broker url; empty disables the broker check")

	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 5, "per-client login API requests per second")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 20, "per-client login API burst")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "proxies whose X-Forwarded-For entries are trusted (0..8)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 64<<10, "login API request body cap in bytes")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// EnvKey maps a flag name to its environment variable.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.GRPCHealthPort < 0 || c.GRPCHealthPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid GRPC_HEALTH_PORT %d (must be 0..65535)", c.GRPCHealthPort))
	}
	ports := map[int]string{}
	for name, p := range map[string]int{"HTTP_PORT": c.HTTPPort, "ADMIN_PORT": c.AdminPort, "GRPC_HEALTH_PORT": c.GRPCHealthPort} {
		if p == 0 {
			continue
		}
		if other, dup := ports[p]; dup {
			a, b := other, name
			if b < a {
				a, b = b, a
			}
			errs = append(errs, fmt.Errorf("%s and %s must differ (both %d)", a, b, p))
		}
		ports[p] = name
	}

	// Logging
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.LogSinks != SinksConsole && c.LogSinks != SinksStructured {
		errs = append(errs, fmt.Errorf("invalid LOG_SINKS %q (must be %s|%s)", c.LogSinks, SinksConsole, SinksStructured))
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	// Tracing
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Pyroscope
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// Probes
	for name, p := range map[string]string{"LIVE_PATH": c.LivePath, "READY_PATH": c.ReadyPath} {
		if !strings.HasPrefix(p, "/") || len(p) < 2 {
			errs = append(errs, fmt.Errorf("%s must start with / and name a route (got %q)", name, p))
		}
	}
	if c.LivePath == c.ReadyPath {
		errs = append(errs, fmt.Errorf("LIVE_PATH and READY_PATH must differ (both %q)", c.LivePath))
	}
	if c.ReadinessTimeout <= 0 {
		errs = append(errs, fmt.Errorf("READINESS_TIMEOUT must be positive (got %s)", c.ReadinessTimeout))
	}
	if c.ReadinessMinInterval < 0 {
		errs = append(errs, fmt.Errorf("READINESS_MIN_INTERVAL must not be negative (got %s)", c.ReadinessMinInterval))
	}
	if c.DrainPeriod < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_PERIOD must not be negative (got %s)", c.DrainPeriod))
	}

	// Dependencies
	if c.DatabaseURL != "" {
		if u, err := url.Parse(c.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errs = append(errs, fmt.Errorf("DATABASE_URL must be a postgres:// url"))
		}
	}
	if c.BrokerURL != "" {
		if u, err := url.Parse(c.BrokerURL); err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") || u.Host == "" {
			errs = append(errs, fmt.Errorf("BROKER_URL must be an amqp:// or amqps:// url"))
		}
	}

	// Abuse controls
	if c.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be positive (got %v)", c.RateLimitRPS))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be at least 1 (got %d)", c.RateLimitBurst))
	}
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 8 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS out of range (0..8): %d", c.TrustedProxyHops))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive (got %d)", c.MaxBodyBytes))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
