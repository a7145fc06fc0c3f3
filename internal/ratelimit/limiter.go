// Package ratelimit provides fixed-window request limiting keyed by caller
// identity.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// UnknownClient is the identity used when no forwarding header is present.
const UnknownClient = "unknown"

type bucket struct {
	start time.Time
	count int
}

// Limiter allows Limit requests per key in each fixed Window that starts
// with the key's first request. Keys are held in a bounded LRU table, so
// the least recently seen caller is forgotten first under pressure.
type Limiter struct {
	name   string
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows *lru.Cache[string, *bucket]

	rejected metric.Int64Counter
}

type Option func(*Limiter)

func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) { l.clock = clock }
}

// New builds a limiter. name labels its metrics; maxKeys bounds memory.
func New(name string, limit int, period time.Duration, maxKeys int, opts ...Option) (*Limiter, error) {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	cache, err := lru.New[string, *bucket](maxKeys)
	if err != nil {
		return nil, err
	}
	l := &Limiter{
		name:    name,
		limit:   limit,
		window:  period,
		clock:   time.Now,
		windows: cache,
	}
	for _, opt := range opts {
		opt(l)
	}
	counter, err := otel.Meter("github.com/loqalabs/minutes-core/ratelimit").Int64Counter(
		"ratelimit.rejected",
		metric.WithDescription("Requests rejected by a rate limiter"),
	)
	if err == nil {
		l.rejected = counter
	}
	return l, nil
}

// Allow records one request for key and reports whether it is within the
// quota, along with how many requests remain in the current window.
func (l *Limiter) Allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	b, ok := l.windows.Get(key)
	if !ok || now.Sub(b.start) >= l.window {
		l.windows.Add(key, &bucket{start: now, count: 1})
		return true, max(l.limit-1, 0)
	}
	if b.count >= l.limit {
		if l.rejected != nil {
			l.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("limiter", l.name)))
		}
		return false, 0
	}
	b.count++
	return true, l.limit - b.count
}

// Reset forgets every caller.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows.Purge()
}

// ClientIdentity derives the caller key: the first X-Forwarded-For entry,
// then X-Real-IP, then UnknownClient.
func ClientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return UnknownClient
}
