package stt

import (
	"log/slog"
	"time"

	"github.com/loqalabs/minutes-core/internal/bus"
	"github.com/loqalabs/minutes-core/internal/protocol"
)

// Publisher mirrors transcript deltas of one session onto the bus so other
// processes can follow a meeting live. A nil bus makes it a no-op.
type Publisher struct {
	bus       *bus.Client
	sessionID string
	logger    *slog.Logger
}

func NewPublisher(busClient *bus.Client, sessionID string, logger *slog.Logger) *Publisher {
	return &Publisher{bus: busClient, sessionID: sessionID, logger: logger}
}

func (p *Publisher) Publish(delta Delta) {
	if p == nil || p.bus == nil || delta.Text == "" {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if delta.Final {
		subject = protocol.SubjectTranscriptFinal
	}
	msg := protocol.Transcript{
		SessionID:  p.sessionID,
		Text:       delta.Text,
		Partial:    !delta.Final,
		Timestamp:  time.Now().UTC(),
		Confidence: delta.Confidence,
	}
	if err := p.bus.PublishJSON(subject, msg); err != nil {
		p.logger.Warn("failed to publish transcript", slogError(err))
	}
}
