package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/minutes-core/internal/fault"
)

type openAIGenerator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewOpenAIGenerator calls an OpenAI-compatible chat completions API.
func NewOpenAIGenerator(endpoint, apiKey string) Generator {
	return &openAIGenerator{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Configured reports a missing API key before any request is attempted.
func (g *openAIGenerator) Configured() error {
	if g.apiKey == "" {
		return fault.New(fault.ErrConfig, "missing OpenAI API key")
	}
	return nil
}

func (g *openAIGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	if err := g.Configured(); err != nil {
		return err
	}
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})
	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fault.Wrap(fault.ErrProvider, "chat completion request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fault.Wrap(fault.ErrProvider,
			fmt.Sprintf("chat completion returned status %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(detail))))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fault.Wrap(fault.ErrProvider, "decode chat completion", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return fault.New(fault.ErrProvider, "No response from AI service")
	}
	return consumer(Chunk{
		SessionID:        req.SessionID,
		Content:          out.Choices[0].Message.Content,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		Latency:          time.Since(start),
		TraceID:          req.TraceID,
	})
}

// CheckConfigured returns the configuration error of g, if its backend
// can report one.
func CheckConfigured(g Generator) error {
	if c, ok := g.(interface{ Configured() error }); ok {
		return c.Configured()
	}
	return nil
}
