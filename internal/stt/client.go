// Package stt streams encoded audio to the transcription provider over a
// websocket and surfaces the transcript deltas it sends back.
package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/minutes-core/internal/audio"
	"github.com/loqalabs/minutes-core/internal/config"
	"github.com/loqalabs/minutes-core/internal/fault"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 15 * time.Second
	defaultGrace     = 3 * time.Second
	deltaBufferSize  = 64
)

// State is the lifecycle of a streaming connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options describe the listen endpoint and the audio format announced to it.
type Options struct {
	ListenURL  string
	Model      string
	Language   string
	SampleRate int
	Channels   int
	// CloseGrace bounds how long Close waits for the provider to flush
	// final results after the stream is told to finish.
	CloseGrace time.Duration
}

func OptionsFromConfig(dg config.DeepgramConfig, au config.AudioConfig) Options {
	return Options{
		ListenURL:  dg.ListenURL,
		Model:      dg.Model,
		Language:   dg.Language,
		SampleRate: au.SampleRate,
		Channels:   au.Channels,
	}
}

// Client opens streaming transcription connections.
type Client struct {
	opts   Options
	dialer websocket.Dialer
	logger *slog.Logger
	deltas metric.Int64Counter
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.SampleRate == 0 {
		opts.SampleRate = audio.SampleRate
	}
	if opts.Channels == 0 {
		opts.Channels = audio.Channels
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = defaultGrace
	}
	c := &Client{
		opts: opts,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger.With(slog.String("component", "stt-client")),
	}
	counter, err := otel.Meter("github.com/loqalabs/minutes-core/stt").Int64Counter(
		"stt.deltas",
		metric.WithDescription("Transcript deltas received from the provider"),
	)
	if err == nil {
		c.deltas = counter
	}
	return c
}

// ListenURL returns the endpoint with the stream parameters in the query.
func (c *Client) ListenURL() (string, error) {
	u, err := url.Parse(c.opts.ListenURL)
	if err != nil {
		return "", fmt.Errorf("parse listen url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.opts.Model)
	q.Set("language", c.opts.Language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(c.opts.SampleRate))
	q.Set("channels", strconv.Itoa(c.opts.Channels))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect opens a stream authenticated with secret. The secret travels as
// the websocket subprotocol pair ("token", secret).
func (c *Client) Connect(ctx context.Context, secret string) (*Stream, error) {
	if secret == "" {
		return nil, fault.New(fault.ErrConnection, "no credential for transcription stream")
	}
	endpoint, err := c.ListenURL()
	if err != nil {
		return nil, fault.Wrap(fault.ErrConnection, "build listen url", err)
	}

	s := &Stream{
		logger: c.logger,
		grace:  c.opts.CloseGrace,
		deltas: make(chan Delta, deltaBufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		count:  c.deltas,
	}
	s.setState(StateConnecting)

	dialer := c.dialer
	dialer.Subprotocols = []string{"token", secret}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		s.setState(StateClosed)
		if resp != nil {
			return nil, fault.Wrap(fault.ErrConnection,
				fmt.Sprintf("transcription handshake rejected with status %d", resp.StatusCode), err)
		}
		return nil, fault.Wrap(fault.ErrConnection, "open transcription stream", err)
	}
	s.conn = conn
	s.setState(StateStreaming)
	c.logger.Info("transcription stream open")

	go s.readPump()
	return s, nil
}

// Stream is one open transcription connection.
type Stream struct {
	conn   *websocket.Conn
	logger *slog.Logger
	grace  time.Duration
	count  metric.Int64Counter

	state   atomic.Int32
	writeMu sync.Mutex

	deltas chan Delta
	stop   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func (s *Stream) State() State {
	return State(s.state.Load())
}

func (s *Stream) setState(st State) {
	s.state.Store(int32(st))
}

// Deltas delivers transcript updates in arrival order. It is closed when
// the stream ends.
func (s *Stream) Deltas() <-chan Delta {
	return s.deltas
}

// Err reports why the stream ended if the provider dropped it.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Send writes one frame as a binary message. Frames sent while the stream
// is not open are rejected with fault.ErrConnection and not buffered.
func (s *Stream) Send(frame audio.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.State() != StateStreaming {
		return fault.New(fault.ErrConnection, "transcription stream is not open")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame.Bytes()); err != nil {
		return fault.Wrap(fault.ErrConnection, "send audio frame", err)
	}
	return nil
}

// Close asks the provider to finish, waits up to the grace period for the
// remaining results, then tears the connection down. Deltas is closed by
// the time Close returns, so only already-buffered deltas remain. It is
// idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		wasOpen := s.State() == StateStreaming
		s.setState(StateClosed)
		if wasOpen {
			deadline := time.Now().Add(writeWait)
			_ = s.conn.SetWriteDeadline(deadline)
			_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		}
		s.writeMu.Unlock()

		timer := time.NewTimer(s.grace)
		select {
		case <-s.done:
		case <-timer.C:
		}
		timer.Stop()

		close(s.stop)
		_ = s.conn.Close()
		<-s.done
		s.logger.Info("transcription stream closed")
	})
	return nil
}

func (s *Stream) readPump() {
	defer close(s.done)
	defer close(s.deltas)

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.State() != StateClosed {
				s.setState(StateClosed)
				s.errMu.Lock()
				s.err = fault.Wrap(fault.ErrConnection, "transcription stream dropped", err)
				s.errMu.Unlock()
				s.logger.Warn("transcription stream dropped", slogError(err))
			} else if !isNormalClose(err) {
				s.logger.Debug("transcription stream read ended", slogError(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		delta, ok, err := ParseMessage(data)
		if err != nil {
			s.logger.Warn("ignoring malformed transcription message", slogError(err))
			continue
		}
		if !ok {
			continue
		}
		if s.count != nil {
			s.count.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("final", delta.Final)))
		}
		select {
		case s.deltas <- delta:
		case <-s.stop:
			return
		}
	}
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
