// Package token issues and caches the short-lived credential used to open
// streaming transcription connections.
package token

import (
	"context"
	"sync"
	"time"

	"github.com/loqalabs/minutes-core/internal/fault"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SafetyMargin is how long before expiry a cached credential stops
	// being handed out.
	SafetyMargin = 5 * time.Minute

	DefaultDuration = 1800
	MaxDuration     = 3600
)

// Credential is a secret with its expiry. A zero ExpiresAt means the
// secret was configured statically and is not tracked.
type Credential struct {
	Secret    string
	ExpiresAt time.Time
}

// Issuer obtains a fresh credential valid for roughly duration seconds.
type Issuer interface {
	Issue(ctx context.Context, durationSeconds int) (Credential, error)
}

// ClampDuration applies the issuance bounds. Zero means "use the default";
// everything else is clamped to [0, MaxDuration].
func ClampDuration(seconds int) int {
	switch {
	case seconds == 0:
		return DefaultDuration
	case seconds < 0:
		return 0
	case seconds > MaxDuration:
		return MaxDuration
	default:
		return seconds
	}
}

// Broker hands out a valid credential, refreshing the cached one before it
// gets within SafetyMargin of expiry. It is safe for concurrent use; the
// cache is guarded so concurrent refreshes cannot interleave.
type Broker struct {
	staticKey string
	issuer    Issuer
	duration  int
	clock     func() time.Time

	mu     sync.Mutex
	cached *Credential

	issued metric.Int64Counter
}

type BrokerOption func(*Broker)

// WithStaticKey makes the broker return key unconditionally (development
// mode, no expiry tracking).
func WithStaticKey(key string) BrokerOption {
	return func(b *Broker) { b.staticKey = key }
}

// WithDuration sets the requested credential lifetime in seconds.
func WithDuration(seconds int) BrokerOption {
	return func(b *Broker) { b.duration = seconds }
}

func WithClock(clock func() time.Time) BrokerOption {
	return func(b *Broker) { b.clock = clock }
}

func NewBroker(issuer Issuer, opts ...BrokerOption) *Broker {
	b := &Broker{
		issuer:   issuer,
		duration: DefaultDuration,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.duration = ClampDuration(b.duration)

	counter, err := otel.Meter("github.com/loqalabs/minutes-core/token").Int64Counter(
		"minutes.token.issued",
		metric.WithDescription("Transcription credentials issued"),
	)
	if err == nil {
		b.issued = counter
	}
	return b
}

// EnsureValid returns a credential that is not within SafetyMargin of its
// expiry, issuing a new one first when needed.
func (b *Broker) EnsureValid(ctx context.Context) (Credential, error) {
	if b.staticKey != "" {
		return Credential{Secret: b.staticKey}, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cached != nil && b.clock().Before(b.cached.ExpiresAt.Add(-SafetyMargin)) {
		return *b.cached, nil
	}

	if b.issuer == nil {
		return Credential{}, fault.New(fault.ErrAuth, "no credential issuer configured")
	}

	ctx, span := otel.Tracer("github.com/loqalabs/minutes-core/token").Start(ctx, "token.issue")
	defer span.End()

	cred, err := b.issuer.Issue(ctx, b.duration)
	if err != nil {
		span.RecordError(err)
		return Credential{}, fault.Wrap(fault.ErrAuth, "failed to get transcription token", err)
	}
	if cred.Secret == "" {
		return Credential{}, fault.New(fault.ErrAuth, "issuer returned no secret")
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = b.clock().Add(time.Duration(b.duration) * time.Second)
	}
	b.cached = &cred
	if b.issued != nil {
		b.issued.Add(ctx, 1, metric.WithAttributes(attribute.Int("duration_s", b.duration)))
	}
	return cred, nil
}

// Invalidate drops the cached credential so the next call issues a new one.
func (b *Broker) Invalidate() {
	b.mu.Lock()
	b.cached = nil
	b.mu.Unlock()
}
