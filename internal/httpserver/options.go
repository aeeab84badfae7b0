package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-login/internal/log"
	"github.com/keithlinneman/linnemanlabs-login/internal/probe"
)

// DefaultProbePrefix is where probe fragments are mounted.
const DefaultProbePrefix = "/-"

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // called after a recovered panic is logged, e.g. to bump a counter
	MetricsMW    func(http.Handler) http.Handler

	// Probes are mounted side by side under ProbePrefix.
	Probes      []probe.Mountable
	ProbePrefix string

	// Routes registers the login API. Auth handlers live outside this package.
	// RateLimitMW and MaxBodyBytes apply to these routes only, never to probes.
	Routes       func(chi.Router)
	RateLimitMW  func(http.Handler) http.Handler
	MaxBodyBytes int64

	// TrustedHops is the number of proxies whose X-Forwarded-For entries are
	// believed when resolving the client address. 0 trusts none.
	TrustedHops int
}
