// Package ratelimit implements per-client-IP request limiting.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pobradovic08/demo-app/internal/problem"
)

// Options configures a Limiter.
type Options struct {
	// RequestsPerInterval is both the sustained rate and the burst size.
	RequestsPerInterval int
	Interval            time.Duration
	// Idle clients are forgotten after StaleAfter, checked every CleanupInterval.
	CleanupInterval time.Duration
	StaleAfter      time.Duration
	// TrustedProxies are peer IPs whose forwarding headers are believed.
	TrustedProxies []string
	// OnReject, when set, is called for every rejected request.
	OnReject func(r *http.Request)
}

func (o Options) validate() error {
	var errs []error
	if o.RequestsPerInterval <= 0 {
		errs = append(errs, errors.New("requests_per_interval must be positive"))
	}
	if o.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if o.CleanupInterval <= 0 {
		errs = append(errs, errors.New("cleanup_interval must be positive"))
	}
	if o.StaleAfter <= 0 {
		errs = append(errs, errors.New("stale_after must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	return nil
}

// Limiter keeps one token bucket per client IP.
type Limiter struct {
	opts    Options
	limit   rate.Limit
	trusted map[string]struct{}

	mu      sync.Mutex
	buckets map[string]*bucket

	done      chan struct{}
	closeOnce sync.Once
}

type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// New creates a Limiter and starts its cleanup goroutine. Call Close to
// stop it.
func New(opts Options) (*Limiter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		opts:    opts,
		limit:   rate.Limit(float64(opts.RequestsPerInterval) / opts.Interval.Seconds()),
		trusted: make(map[string]struct{}, len(opts.TrustedProxies)),
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	for _, p := range opts.TrustedProxies {
		l.trusted[p] = struct{}{}
	}

	go l.cleanupLoop()
	return l, nil
}

func (l *Limiter) bucketFor(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.limit, l.opts.RequestsPerInterval)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.tokens
}

// Allow reports whether a request from ip may proceed, consuming a token
// if so.
func (l *Limiter) Allow(ip string) bool {
	now := time.Now()
	return l.bucketFor(ip, now).AllowN(now, 1)
}

// RetryAfter returns the whole seconds until ip gets its next token.
func (l *Limiter) RetryAfter(ip string) int {
	now := time.Now()
	r := l.bucketFor(ip, now).ReserveN(now, 1)
	defer r.CancelAt(now)
	return int(math.Ceil(r.DelayFrom(now).Seconds()))
}

// Clients returns the number of tracked client IPs.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			l.evictIdle(now)
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.opts.StaleAfter {
			delete(l.buckets, ip)
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// ClientIP returns the address a request is limited under. X-Forwarded-For
// (leftmost entry) and X-Real-IP count only when the peer is a trusted
// proxy.
func (l *Limiter) ClientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if _, ok := l.trusted[peer]; !ok {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

// Middleware rejects requests over the limit with a 429 problem response
// carrying Retry-After.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := l.ClientIP(r)
		if l.Allow(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if l.opts.OnReject != nil {
			l.opts.OnReject(r)
		}
		wait := l.RetryAfter(ip)
		p := problem.New(http.StatusTooManyRequests,
			fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", wait))
		p.RetryAfter = wait
		problem.Write(w, p)
	})
}
