package minutes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/minutes-core/internal/bus"
	"github.com/loqalabs/minutes-core/internal/fault"
	"github.com/loqalabs/minutes-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service answers minutes requests arriving on the bus. Results are
// published on the ready subject and, for request/reply callers, sent to
// the reply inbox as well.
type Service struct {
	bus      *bus.Client
	pipeline *Pipeline
	timeout  time.Duration
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	ready    bool
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

func NewService(parent context.Context, busClient *bus.Client, pipeline *Pipeline, timeout time.Duration, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:      busClient,
		pipeline: pipeline,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(slog.String("component", "minutes-service")),
	}
}

func (s *Service) Start() error {
	if s.bus == nil {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectMinutesRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe minutes requests: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

// Close stops accepting requests and waits for those in flight. Messages
// still delivered while the subscription drains are dropped.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.bus == nil || s.ready
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.MinutesRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode minutes request", slogError(err))
		s.reply(msg, protocol.FormatMinutesResponse{Error: "Invalid JSON in request body"})
		return
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	if !s.track() {
		s.logger.Debug("dropping minutes request during shutdown", slog.String("session_id", req.SessionID))
		return
	}
	go func() {
		defer s.wg.Done()
		// The pipeline's formatter applies its own provider timeout; this
		// one also covers validation and sanitizing.
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout+5*time.Second)
		defer cancel()

		logger := s.logger.With(slog.String("session_id", req.SessionID), slog.String("trace_id", req.TraceID))
		meta, err := MetadataFromProtocol(req.MeetingInfo)
		if err != nil {
			logger.Warn("rejected minutes request", slogError(err))
			s.reply(msg, protocol.FormatMinutesResponse{Error: fault.PublicMessage(err)})
			return
		}

		start := time.Now()
		res, err := s.pipeline.Produce(ctx, req.Transcript, meta)
		if err != nil {
			logger.Warn("rejected minutes request", slogError(err))
			s.reply(msg, protocol.FormatMinutesResponse{Error: fault.PublicMessage(err)})
			return
		}

		wire := res.Minutes.Protocol()
		ready := protocol.MinutesReady{
			SessionID: req.SessionID,
			Minutes:   wire,
			Source:    string(res.Source),
			Warning:   res.Warning,
			TraceID:   req.TraceID,
			Timestamp: time.Now().UTC(),
		}
		if err := s.bus.PublishJSON(protocol.SubjectMinutesReady, ready); err != nil {
			logger.Warn("failed to publish minutes", slogError(err))
		}
		s.reply(msg, protocol.FormatMinutesResponse{Success: true, FormattedMinutes: &wire})
		logger.Info("minutes produced",
			slog.String("source", string(res.Source)),
			slog.Duration("latency", time.Since(start)))
	}()
}

// track registers a request with the wait group unless Close has begun.
func (s *Service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) reply(msg *nats.Msg, resp protocol.FormatMinutesResponse) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to marshal minutes reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send minutes reply", slogError(err))
	}
}
