package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/minutes-core/internal/config"
	"github.com/loqalabs/minutes-core/internal/fault"
	"github.com/stretchr/testify/require"
)

func TestOpenAIGeneratorRequestShape(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"<div class=\"agenda-item\">x</div>"}}],"usage":{"prompt_tokens":12,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(srv.URL+"/v1/", "sk-test")
	req := OptionsFromConfig(config.Default().LLM)
	req.Prompt = "format this"
	out, err := Complete(context.Background(), g, req)
	require.NoError(t, err)
	require.Equal(t, `<div class="agenda-item">x</div>`, out)

	require.Equal(t, "gpt-4", got.Model)
	require.Equal(t, 0.1, got.Temperature)
	require.Equal(t, 2000, got.MaxTokens)
	require.Equal(t, []chatMessage{{Role: "user", Content: "format this"}}, got.Messages)
}

func TestOpenAIGeneratorUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded for org-123"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := Complete(context.Background(), NewOpenAIGenerator(srv.URL, "sk"), Request{Prompt: "p"})
	require.ErrorIs(t, err, fault.ErrProvider)
	require.NotContains(t, fault.PublicMessage(err), "org-123")
}

func TestOpenAIGeneratorEmptyChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := Complete(context.Background(), NewOpenAIGenerator(srv.URL, "sk"), Request{Prompt: "p"})
	require.ErrorIs(t, err, fault.ErrProvider)
}

func TestOpenAIGeneratorMissingKey(t *testing.T) {
	g := NewOpenAIGenerator("http://127.0.0.1:1", "")
	require.ErrorIs(t, CheckConfigured(g), fault.ErrConfig)
	_, err := Complete(context.Background(), g, Request{Prompt: "p"})
	require.ErrorIs(t, err, fault.ErrConfig)
}

func TestOllamaGeneratorStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "llama3.2:latest", req.Model)
		_, _ = w.Write([]byte("{\"response\":\"<div class=\",\"done\":false}\n{\"response\":\"\\\"agenda-item\\\">\",\"done\":true,\"eval_count\":3}\n"))
	}))
	defer srv.Close()

	out, err := Complete(context.Background(), NewOllamaGenerator(srv.URL, ""), Request{Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, `<div class="agenda-item">`, out)
}

func TestMockGeneratorWrapsTranscript(t *testing.T) {
	g := NewMockGenerator()
	out, err := Complete(context.Background(), g, Request{Prompt: "rules\n\n## TRANSCRIPT:\nJohn welcomed all.\n\nPlease format this transcript."})
	require.NoError(t, err)
	require.True(t, strings.Contains(out, `<div class="agenda-item">`))
	require.Contains(t, out, "John welcomed all.")
	require.NotContains(t, out, "Please format")
	require.Equal(t, 1, g.Calls())
}

func TestNewGenerator(t *testing.T) {
	cfg := config.Default().LLM
	for _, mode := range []string{"mock", "openai", "ollama"} {
		cfg.Mode = mode
		g, err := NewGenerator(cfg)
		require.NoError(t, err, mode)
		require.NotNil(t, g)
	}

	cfg.Mode = "exec"
	cfg.Command = `python3 -c "print(1)"`
	_, err := NewGenerator(cfg)
	require.NoError(t, err)

	cfg.Mode = "bard"
	_, err = NewGenerator(cfg)
	require.Error(t, err)
}
