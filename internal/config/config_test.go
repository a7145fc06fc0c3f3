package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MINUTES_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Deepgram.DefaultDuration != 1800 {
		t.Fatalf("expected default duration 1800, got %d", cfg.Deepgram.DefaultDuration)
	}
	if cfg.RateLimit.TokenRequests != 50 || cfg.RateLimit.FormatRequests != 20 {
		t.Fatalf("unexpected rate limits: %+v", cfg.RateLimit)
	}
	if cfg.LLM.Temperature != 0.1 || cfg.LLM.MaxTokens != 2000 {
		t.Fatalf("unexpected llm defaults: %+v", cfg.LLM)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MINUTES_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("DEEPGRAM_PROJECT_ID", "proj-1")
	t.Setenv("OPENAI_API_KEY", "sk-plain")
	t.Setenv("MINUTES_LLM_API_KEY", "sk-prefixed")
	t.Setenv("MINUTES_LLM_TIMEOUT", "15s")
	t.Setenv("MINUTES_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("MINUTES_RATE_LIMIT_FORMAT_WINDOW", "30m")
	t.Setenv("MINUTES_AUDIO_MODE", "mock")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Deepgram.APIKey != "dg-key" || cfg.Deepgram.ProjectID != "proj-1" {
		t.Fatalf("expected deepgram secrets override, got %+v", cfg.Deepgram)
	}
	if cfg.LLM.APIKey != "sk-prefixed" {
		t.Fatalf("expected prefixed key to win, got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Timeout != 15*time.Second {
		t.Fatalf("expected timeout override, got %s", cfg.LLM.Timeout)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.RateLimit.FormatWindow != 30*time.Minute {
		t.Fatalf("expected format window override, got %s", cfg.RateLimit.FormatWindow)
	}
	if cfg.Audio.Mode != "mock" {
		t.Fatalf("expected audio mode override")
	}
}

func TestEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("DEEPGRAM_PROJECT_ID=from-file\nMINUTES_CLUB_NAME=File Club\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("MINUTES_ENV_FILE", envPath)
	t.Setenv("DEEPGRAM_PROJECT_ID", "from-env")
	t.Setenv("MINUTES_CLUB_NAME", "")
	os.Unsetenv("MINUTES_CLUB_NAME")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Deepgram.ProjectID != "from-env" {
		t.Fatalf("expected real environment to win, got %q", cfg.Deepgram.ProjectID)
	}
	if cfg.Minutes.ClubName != "File Club" {
		t.Fatalf("expected env file value, got %q", cfg.Minutes.ClubName)
	}
	os.Unsetenv("MINUTES_CLUB_NAME")
}

func TestLoadYAMLAndValidate(t *testing.T) {
	t.Setenv("MINUTES_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	path := filepath.Join(t.TempDir(), "minutes.yaml")
	data := []byte("llm:\n  mode: bogus\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown llm mode")
	}

	data = []byte("audio:\n  mode: wav\n  file_path: meeting.wav\ndeepgram:\n  language: en-GB\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.FilePath != "meeting.wav" || cfg.Deepgram.Language != "en-GB" {
		t.Fatalf("yaml values not applied: %+v %+v", cfg.Audio, cfg.Deepgram)
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (TelemetryConfig{LogLevel: in}).SlogLevel(); got != want {
			t.Fatalf("%q: got %v, want %v", in, got, want)
		}
	}
}

func TestValidateRequires16kHz(t *testing.T) {
	cfg := Default()
	if err := validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	for _, rate := range []int{8000, 44100, 48000} {
		cfg.Audio.SampleRate = rate
		if err := validate(cfg); err == nil {
			t.Fatalf("expected sample rate %d to be rejected", rate)
		}
	}
}

func TestTraceExporter(t *testing.T) {
	cases := []struct {
		cfg  TelemetryConfig
		want string
	}{
		{TelemetryConfig{}, "none"},
		{TelemetryConfig{OTLPEndpoint: "collector:4317"}, "otlp"},
		{TelemetryConfig{Traces: " Stdout ", OTLPEndpoint: "collector:4317"}, "stdout"},
		{TelemetryConfig{Traces: "none", OTLPEndpoint: "collector:4317"}, "none"},
	}
	for _, tc := range cases {
		if got := tc.cfg.TraceExporter(); got != tc.want {
			t.Fatalf("%+v: got %q, want %q", tc.cfg, got, tc.want)
		}
	}

	cfg := Default()
	cfg.Telemetry.Traces = "otlp"
	if err := validate(cfg); err == nil {
		t.Fatal("expected otlp without endpoint to be rejected")
	}
	cfg.Telemetry.Traces = "zipkin"
	if err := validate(cfg); err == nil {
		t.Fatal("expected unknown trace exporter to be rejected")
	}
}
