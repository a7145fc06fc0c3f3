// Package httpapi exposes the credential and minutes formatting endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/minutes-core/internal/config"
	"github.com/loqalabs/minutes-core/internal/minutes"
	"github.com/loqalabs/minutes-core/internal/ratelimit"
	"github.com/loqalabs/minutes-core/internal/token"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	TokenPath  = "/api/deepgram-token"
	FormatPath = "/api/format-minutes"

	maxBodyBytes = 1 << 20

	msgMethodNotAllowed = "Method not allowed"
	msgTooManyRequests  = "Too many requests. Please try again later."
	msgInvalidJSON      = "Invalid JSON in request body"
	msgConfigError      = "Service configuration error"
	msgTokenFailed      = "Failed to generate transcription token"
	msgInternal         = "Internal server error"
)

// MinutesFormatter is the part of minutes.Formatter the API needs.
type MinutesFormatter interface {
	Configured() error
	Format(ctx context.Context, transcript string, meta minutes.Metadata) (minutes.FormattedMinutes, error)
}

// Server handles both endpoints. A nil limiter disables limiting for its
// endpoint.
type Server struct {
	issuer          token.Issuer
	formatter       MinutesFormatter
	limits          minutes.Limits
	defaultDuration int
	tokenLimiter    *ratelimit.Limiter
	formatLimiter   *ratelimit.Limiter
	logger          *slog.Logger
}

type Option func(*Server)

func WithTokenLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.tokenLimiter = l }
}

func WithFormatLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.formatLimiter = l }
}

func WithLimits(l minutes.Limits) Option {
	return func(s *Server) { s.limits = l }
}

func WithDefaultDuration(seconds int) Option {
	return func(s *Server) { s.defaultDuration = seconds }
}

func New(issuer token.Issuer, formatter MinutesFormatter, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		issuer:          issuer,
		formatter:       formatter,
		limits:          minutes.DefaultLimits(),
		defaultDuration: token.DefaultDuration,
		logger:          logger.With(slog.String("component", "http-api")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig wires the provider issuer and the two limiters from cfg.
func NewFromConfig(cfg config.Config, formatter MinutesFormatter, logger *slog.Logger) (*Server, error) {
	issuer := &token.ProviderIssuer{
		APIBase:   cfg.Deepgram.APIBase,
		APIKey:    cfg.Deepgram.APIKey,
		ProjectID: cfg.Deepgram.ProjectID,
	}
	opts := []Option{
		WithLimits(minutes.LimitsFromConfig(cfg.Minutes)),
		WithDefaultDuration(cfg.Deepgram.DefaultDuration),
	}
	if cfg.RateLimit.Enabled {
		rl := cfg.RateLimit
		tokens, err := ratelimit.New("token", rl.TokenRequests, rl.TokenWindow, rl.MaxClients)
		if err != nil {
			return nil, err
		}
		formats, err := ratelimit.New("format", rl.FormatRequests, rl.FormatWindow, rl.MaxClients)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTokenLimiter(tokens), WithFormatLimiter(formats))
	}
	return New(issuer, formatter, logger, opts...), nil
}

// Register mounts the endpoints on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle(TokenPath, s.traced("api.token", s.recoverer(http.HandlerFunc(s.handleToken))))
	mux.Handle(FormatPath, s.traced("api.format_minutes", s.recoverer(http.HandlerFunc(s.handleFormat))))
}

// Handler returns a mux serving only the API endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// admit applies the method check and the limiter shared by both
// endpoints. It writes the response and returns false when the request is
// turned away.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, limiter *ratelimit.Limiter) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
		return false
	}
	if limiter == nil {
		return true
	}
	client := ratelimit.ClientIdentity(r)
	ok, remaining := limiter.Allow(client)
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !ok {
		s.logger.Warn("rate limit exceeded", slog.String("path", r.URL.Path), slog.String("client", client))
		writeError(w, http.StatusTooManyRequests, msgTooManyRequests)
		return false
	}
	return true
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) traced(name string, next http.Handler) http.Handler {
	tracer := otel.Tracer("github.com/loqalabs/minutes-core/httpapi")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.method", r.Method)),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("handler panic", slog.String("path", r.URL.Path), slog.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, msgInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
