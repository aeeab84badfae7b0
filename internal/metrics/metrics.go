package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-login/internal/version"
)

type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	profilingActive prometheus.Gauge

	// probe metrics
	probeTotal    *prometheus.CounterVec
	probeDur      *prometheus.HistogramVec
	probeLastCode *prometheus.GaugeVec
	ready         prometheus.Gauge

	dependencyUp *prometheus.GaugeVec

	rateLimitDenied   prometheus.Counter
	rateLimitCapacity prometheus.Counter
}

// New returns a fresh registry + standard collectors + HTTP and probe metrics.
// Labels are bounded (method, route, status, probe name) to keep cardinality flat.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{64, 256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		probeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_requests_total",
			Help: "Total liveness/readiness probe invocations by probe and status",
		}, []string{"probe", "status"}),
		probeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "probe_duration_seconds",
			Help:    "Probe latency including the readiness check",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"probe"}),
		probeLastCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "probe_last_status_code",
			Help: "HTTP status code of the most recent invocation of each probe",
		}, []string{"probe"}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ready",
			Help: "Whether the last readiness probe passed (1) or failed (0)",
		}),
		dependencyUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dependency_up",
			Help: "Whether a downstream dependency answered its last check (1) or not (0)",
		}, []string{"dependency"}),
		rateLimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_denied_total",
			Help: "Login API requests refused with 429",
		}),
		rateLimitCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_capacity_total",
			Help: "New clients refused because the limiter table was full",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.probeTotal,
		m.probeDur,
		m.probeLastCode,
		m.ready,
		m.dependencyUp,
		m.rateLimitDenied,
		m.rateLimitCapacity,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the underlying registry for extra collectors (e.g. pgx pool stats).
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

// ObserveProbe records one probe invocation. Readiness outcomes also drive
// the ready gauge.
func (m *ServerMetrics) ObserveProbe(probe string, status int, d time.Duration) {
	m.probeTotal.WithLabelValues(probe, strconv.Itoa(status)).Inc()
	m.probeDur.WithLabelValues(probe).Observe(d.Seconds())
	m.probeLastCode.WithLabelValues(probe).Set(float64(status))
	if probe == "readiness" {
		m.ready.Set(boolGauge(status == http.StatusOK))
	}
}

func (m *ServerMetrics) IncRateLimitDenied()   { m.rateLimitDenied.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.rateLimitCapacity.Inc() }

func (m *ServerMetrics) SetDependencyUp(name string, up bool) {
	m.dependencyUp.WithLabelValues(name).Set(boolGauge(up))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
