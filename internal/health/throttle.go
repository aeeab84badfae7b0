package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type throttled struct {
	p   Probe
	lim *rate.Limiter

	mu    sync.Mutex
	fresh bool
	last  error
}

// Throttle runs p only when lim allows it and replays the previous result
// otherwise. The first call always runs and spends a token. Concurrent callers
// share a single in-flight check. A check cut short by its caller going away
// is not remembered, so the next caller runs a real check.
func Throttle(p Probe, lim *rate.Limiter) Probe {
	if p == nil || lim == nil {
		return p
	}
	return &throttled{p: p, lim: lim}
}

// ThrottleEvery allows at most one real check per interval.
func ThrottleEvery(p Probe, interval time.Duration) Probe {
	if interval <= 0 {
		return p
	}
	return Throttle(p, rate.NewLimiter(rate.Every(interval), 1))
}

func (t *throttled) Check(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	allowed := t.lim.Allow()
	if t.fresh && !allowed {
		return t.last
	}
	err := t.p.Check(ctx)
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		t.fresh = false
		return err
	}
	t.last, t.fresh = err, true
	return err
}
