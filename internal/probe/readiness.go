package probe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/keithlinneman/linnemanlabs-login/internal/health"
	"github.com/keithlinneman/linnemanlabs-login/internal/xerrors"
)

// Readiness answers whether the process can take traffic by running a
// health check off the request goroutine.
type Readiness struct {
	base
	check   health.Probe
	timeout time.Duration
}

// NewReadiness builds a readiness probe around check. A nil check always
// passes.
func NewReadiness(l Logger, check health.Probe, opts Options) (*Readiness, error) {
	b, err := newBase("readiness", l, opts, DefaultReadyPath)
	if err != nil {
		return nil, err
	}
	if check == nil {
		check = health.Fixed(true, "")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultReadinessTimeout
	}
	return &Readiness{base: b, check: check, timeout: timeout}, nil
}

// RegisterHandlers returns a new fragment with the readiness route attached.
func (p *Readiness) RegisterHandlers() Router {
	return p.register(p.ServeHTTP)
}

func (p *Readiness) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	checkErr := p.Check(r.Context())

	status := http.StatusOK
	msg := "readiness probe ok"
	if checkErr != nil {
		status = http.StatusServiceUnavailable
		msg = "readiness probe failed"
	}

	sinkErr := p.log.Info(msg)
	if checkErr != nil {
		sinkErr = errors.Join(sinkErr, p.log.Warn("readiness check: "+checkErr.Error()))
	}
	p.finish(w, r, start, status, sinkErr)
}

// Check runs the underlying check on its own goroutine and waits for it or
// the timeout. Panics are reported as failures.
func (p *Readiness) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// buffered so an abandoned check can still finish
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- xerrors.Newf("readiness check panicked: %v", rec)
			}
		}()
		done <- p.check.Check(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return xerrors.Wrapf(ctx.Err(), "readiness check did not finish within %s", p.timeout)
	}
}
