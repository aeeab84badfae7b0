package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-login/internal/httpmw"
)

const (
	DefaultPerSecond   = 5
	DefaultBurst       = 20
	DefaultTTL         = 5 * time.Minute
	DefaultMaxVisitors = 100_000
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// set on first denial, cleared by eviction
	logged bool
}

// Limiter keeps one token bucket per key and evicts idle keys in the
// background.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	perSecond   rate.Limit
	burst       int
	ttl         time.Duration
	maxVisitors int

	onFirstDenied func(key string)
	onDenied      func(key string)
	onCapacity    func()

	now func() time.Time
}

type Option func(*Limiter)

// WithRate sets the refill rate and bucket size: WithRate(5, 20) allows a
// burst of 20 then 5 per second.
func WithRate(perSecond float64, burst int) Option {
	return func(l *Limiter) {
		if perSecond > 0 {
			l.perSecond = rate.Limit(perSecond)
		}
		if burst > 0 {
			l.burst = burst
		}
	}
}

// WithTTL sets how long an idle key is remembered.
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithMaxVisitors bounds the table. New keys are refused once it is full.
func WithMaxVisitors(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxVisitors = n
		}
	}
}

// WithOnFirstDenied runs once per key until the key is evicted.
func WithOnFirstDenied(fn func(key string)) Option {
	return func(l *Limiter) { l.onFirstDenied = fn }
}

// WithOnDenied runs on every refusal.
func WithOnDenied(fn func(key string)) Option {
	return func(l *Limiter) { l.onDenied = fn }
}

// WithOnCapacity runs when a new key is refused because the table is full.
func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) { l.onCapacity = fn }
}

// New starts the eviction loop, which stops with ctx.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := newLimiter(opts...)
	go l.evictLoop(ctx)
	return l
}

func newLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		visitors:    make(map[string]*visitor),
		perSecond:   DefaultPerSecond,
		burst:       DefaultBurst,
		ttl:         DefaultTTL,
		maxVisitors: DefaultMaxVisitors,
		now:         time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow spends one token for key.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		if len(l.visitors) >= l.maxVisitors {
			l.mu.Unlock()
			if l.onCapacity != nil {
				l.onCapacity()
			}
			l.denied(key)
			return false
		}
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	allowed := v.limiter.AllowN(now, 1)
	first := !allowed && !v.logged
	if first {
		v.logged = true
	}
	l.mu.Unlock()

	// hooks may log or touch metrics, keep them outside the lock
	if first && l.onFirstDenied != nil {
		l.onFirstDenied(key)
	}
	if !allowed {
		l.denied(key)
	}
	return allowed
}

func (l *Limiter) denied(key string) {
	if l.onDenied != nil {
		l.onDenied(key)
	}
}

// Len reports how many keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *Limiter) evictLoop(ctx context.Context) {
	t := time.NewTicker(l.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.evict(l.now())
		}
	}
}

func (l *Limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, k)
		}
	}
}

// retryAfter is the whole seconds until one token refills.
func (l *Limiter) retryAfter() string {
	secs := math.Ceil(1 / float64(l.perSecond))
	if secs < 1 || math.IsInf(secs, 0) || math.IsNaN(secs) {
		secs = 1
	}
	return strconv.Itoa(int(secs))
}

// Middleware answers 429 for keys over their budget. Keys come from the
// ClientIP middleware, falling back to the peer address.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", l.retryAfter())
			w.WriteHeader(http.StatusTooManyRequests)
			// no budget details for the caller
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
