package probe

import (
	"net/http"
	"time"

	"github.com/keithlinneman/linnemanlabs-login/internal/log"
	"github.com/keithlinneman/linnemanlabs-login/internal/xerrors"
)

const (
	DefaultLivePath         = "/live"
	DefaultReadyPath        = "/ready"
	DefaultReadinessTimeout = time.Second
)

// ErrNilLogger is returned when a probe is constructed without a Logger.
var ErrNilLogger = xerrors.New("probe: nil logger")

// Logger is the line logger the probes report through. *linelog.Logger
// satisfies it.
type Logger interface {
	Info(msg string) error
	Warn(msg string) error
	Error(msg string) error
	Assert(msg string) error
}

// API exposes a probe as a router fragment.
type API interface {
	RegisterHandlers() Router
}

// Observer is told the outcome of every probe invocation.
type Observer interface {
	ObserveProbe(probe string, status int, d time.Duration)
}

type Options struct {
	Path     string        // route inside the fragment; defaults per probe
	Routers  RouterFactory // defaults to ChiRouters
	Observer Observer      // optional
	Timeout  time.Duration // readiness only; defaults to DefaultReadinessTimeout
}

// base holds what both probes share.
type base struct {
	name    string
	path    string
	log     Logger
	routers RouterFactory
	obs     Observer
}

func newBase(name string, l Logger, opts Options, defaultPath string) (base, error) {
	if l == nil {
		return base{}, xerrors.Wrapf(ErrNilLogger, "%s probe", name)
	}
	b := base{name: name, path: opts.Path, log: l, routers: opts.Routers, obs: opts.Observer}
	if b.path == "" {
		b.path = defaultPath
	}
	if b.routers == nil {
		b.routers = ChiRouters
	}
	return b, nil
}

func (b base) register(h http.HandlerFunc) Router {
	r := b.routers.NewRouter()
	r.Get(b.path, h)
	return r
}

// Path returns the route registered inside the fragment.
func (b base) Path() string { return b.path }

// finish writes the single status for a request. A sink failure turns any
// status into 500 and is reported through the request's structured logger.
func (b base) finish(w http.ResponseWriter, r *http.Request, start time.Time, status int, sinkErr error) {
	if sinkErr != nil {
		log.FromContext(r.Context()).Error(r.Context(), sinkErr, "probe log sink failed",
			"probe", b.name,
			"status", status,
		)
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	if b.obs != nil {
		b.obs.ObserveProbe(b.name, status, time.Since(start))
	}
}
