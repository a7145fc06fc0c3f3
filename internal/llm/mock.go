package llm

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const transcriptMarker = "## TRANSCRIPT:\n"

// MockGenerator answers without a model. With Content unset it wraps the
// prompt's transcript section in a single agenda item, which is enough to
// exercise the formatting path offline.
type MockGenerator struct {
	Content string
	Err     error
	Delay   time.Duration

	calls atomic.Int32
}

func NewMockGenerator() *MockGenerator { return &MockGenerator{Delay: 20 * time.Millisecond} }

// Calls returns how many times Generate was invoked.
func (m *MockGenerator) Calls() int { return int(m.calls.Load()) }

func (m *MockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	m.calls.Add(1)
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.Err != nil {
		return m.Err
	}
	content := m.Content
	if content == "" {
		content = mockMinutes(req.Prompt)
	}
	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   content,
		Partial:   false,
		Latency:   m.Delay,
		TraceID:   req.TraceID,
	})
}

func mockMinutes(prompt string) string {
	text := prompt
	if i := strings.LastIndex(prompt, transcriptMarker); i >= 0 {
		text = prompt[i+len(transcriptMarker):]
		if j := strings.Index(text, "\n\n"); j >= 0 {
			text = text[:j]
		}
	}
	text = strings.TrimSpace(text)
	return fmt.Sprintf("<div class=\"agenda-item\">\n<span class=\"agenda-number\">1.</span>\n%s\n</div>", text)
}
