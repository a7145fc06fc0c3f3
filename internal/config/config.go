package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	Traces         string `yaml:"traces"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

// TraceExporter resolves Traces to otlp, stdout or none. An unset value
// means otlp when an endpoint is configured and none otherwise.
func (t TelemetryConfig) TraceExporter() string {
	if mode := strings.ToLower(strings.TrimSpace(t.Traces)); mode != "" {
		return mode
	}
	if strings.TrimSpace(t.OTLPEndpoint) != "" {
		return "otlp"
	}
	return "none"
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (t TelemetryConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(t.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	EnvFile     string          `yaml:"env_file"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Deepgram    DeepgramConfig  `yaml:"deepgram"`
	Audio       AudioConfig     `yaml:"audio"`
	LLM         LLMConfig       `yaml:"llm"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Minutes     MinutesConfig   `yaml:"minutes"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// DeepgramConfig covers both credential issuance (server side) and the
// streaming connection (recording side).
type DeepgramConfig struct {
	APIKey          string `yaml:"api_key"`
	ProjectID       string `yaml:"project_id"`
	DirectKey       string `yaml:"direct_key"`
	APIBase         string `yaml:"api_base"`
	ListenURL       string `yaml:"listen_url"`
	TokenEndpoint   string `yaml:"token_endpoint"`
	Model           string `yaml:"model"`
	Language        string `yaml:"language"`
	DefaultDuration int    `yaml:"default_duration_s"`
}

type AudioConfig struct {
	Mode       string `yaml:"mode"` // exec, wav, mock
	Command    string `yaml:"command"`
	FilePath   string `yaml:"file_path"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	BlockSize  int    `yaml:"block_size"`
	Realtime   bool   `yaml:"realtime"`
}

type LLMConfig struct {
	Mode        string        `yaml:"mode"` // mock, openai, ollama, exec
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Command     string        `yaml:"command"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	Enabled        bool          `yaml:"enabled"`
	TokenRequests  int           `yaml:"token_requests"`
	TokenWindow    time.Duration `yaml:"token_window"`
	FormatRequests int           `yaml:"format_requests"`
	FormatWindow   time.Duration `yaml:"format_window"`
	MaxClients     int           `yaml:"max_clients"`
}

type MinutesConfig struct {
	ClubName         string `yaml:"club_name"`
	FormatterURL     string `yaml:"formatter_url"`
	MaxTranscript    int    `yaml:"max_transcript_chars"`
	MaxHTML          int    `yaml:"max_html_chars"`
	MaxSummary       int    `yaml:"max_summary_chars"`
	FallbackMaxItems int    `yaml:"fallback_max_items"`
}

func Default() Config {
	return Config{
		RuntimeName: "minutes-runtime",
		Environment: "development",
		EnvFile:     ".env",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Deepgram: DeepgramConfig{
			APIBase:         "https://api.deepgram.com",
			ListenURL:       "wss://api.deepgram.com/v1/listen",
			Model:           "nova-2-general",
			Language:        "en-AU",
			DefaultDuration: 1800,
		},
		Audio: AudioConfig{
			Mode:       "exec",
			Command:    "arecord -q -t raw -f FLOAT_LE -r 16000 -c 1",
			SampleRate: 16000,
			Channels:   1,
			BlockSize:  4096,
			Realtime:   true,
		},
		LLM: LLMConfig{
			Mode:        "openai",
			Endpoint:    "https://api.openai.com/v1",
			Model:       "gpt-4",
			MaxTokens:   2000,
			Temperature: 0.1,
			Timeout:     60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			TokenRequests:  50,
			TokenWindow:    time.Hour,
			FormatRequests: 20,
			FormatWindow:   time.Hour,
			MaxClients:     10000,
		},
		Minutes: MinutesConfig{
			ClubName:         "Lobethal Harmony Club",
			MaxTranscript:    50000,
			MaxHTML:          10000,
			MaxSummary:       1000,
			FallbackMaxItems: 8,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	overrideString(&cfg.EnvFile, "MINUTES_ENV_FILE")
	if err := loadEnvFile(cfg.EnvFile); err != nil {
		return cfg, err
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadEnvFile populates the process environment from a dotenv file. Values
// already present in the environment win.
func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MINUTES_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MINUTES_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MINUTES_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MINUTES_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MINUTES_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.Traces, "MINUTES_TELEMETRY_TRACES")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MINUTES_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MINUTES_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "MINUTES_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "MINUTES_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MINUTES_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MINUTES_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "MINUTES_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MINUTES_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MINUTES_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MINUTES_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MINUTES_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MINUTES_BUS_CONNECT_TIMEOUT_MS")

	// Provider secrets keep their conventional names; the prefixed form
	// wins when both are set.
	overrideString(&cfg.Deepgram.APIKey, "DEEPGRAM_API_KEY")
	overrideString(&cfg.Deepgram.APIKey, "MINUTES_DEEPGRAM_API_KEY")
	overrideString(&cfg.Deepgram.ProjectID, "DEEPGRAM_PROJECT_ID")
	overrideString(&cfg.Deepgram.ProjectID, "MINUTES_DEEPGRAM_PROJECT_ID")
	overrideString(&cfg.Deepgram.DirectKey, "MINUTES_DEEPGRAM_DIRECT_KEY")
	overrideString(&cfg.Deepgram.APIBase, "MINUTES_DEEPGRAM_API_BASE")
	overrideString(&cfg.Deepgram.ListenURL, "MINUTES_DEEPGRAM_LISTEN_URL")
	overrideString(&cfg.Deepgram.TokenEndpoint, "MINUTES_DEEPGRAM_TOKEN_ENDPOINT")
	overrideString(&cfg.Deepgram.Model, "MINUTES_DEEPGRAM_MODEL")
	overrideString(&cfg.Deepgram.Language, "MINUTES_DEEPGRAM_LANGUAGE")
	overrideInt(&cfg.Deepgram.DefaultDuration, "MINUTES_DEEPGRAM_DEFAULT_DURATION_S")

	overrideString(&cfg.Audio.Mode, "MINUTES_AUDIO_MODE")
	overrideString(&cfg.Audio.Command, "MINUTES_AUDIO_COMMAND")
	overrideString(&cfg.Audio.FilePath, "MINUTES_AUDIO_FILE_PATH")
	overrideInt(&cfg.Audio.SampleRate, "MINUTES_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "MINUTES_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.BlockSize, "MINUTES_AUDIO_BLOCK_SIZE")
	overrideBool(&cfg.Audio.Realtime, "MINUTES_AUDIO_REALTIME")

	overrideString(&cfg.LLM.Mode, "MINUTES_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "MINUTES_LLM_ENDPOINT")
	overrideString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	overrideString(&cfg.LLM.APIKey, "MINUTES_LLM_API_KEY")
	overrideString(&cfg.LLM.Command, "MINUTES_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "MINUTES_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "MINUTES_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "MINUTES_LLM_TEMPERATURE")
	overrideDuration(&cfg.LLM.Timeout, "MINUTES_LLM_TIMEOUT")

	overrideBool(&cfg.RateLimit.Enabled, "MINUTES_RATE_LIMIT_ENABLED")
	overrideInt(&cfg.RateLimit.TokenRequests, "MINUTES_RATE_LIMIT_TOKEN_REQUESTS")
	overrideDuration(&cfg.RateLimit.TokenWindow, "MINUTES_RATE_LIMIT_TOKEN_WINDOW")
	overrideInt(&cfg.RateLimit.FormatRequests, "MINUTES_RATE_LIMIT_FORMAT_REQUESTS")
	overrideDuration(&cfg.RateLimit.FormatWindow, "MINUTES_RATE_LIMIT_FORMAT_WINDOW")
	overrideInt(&cfg.RateLimit.MaxClients, "MINUTES_RATE_LIMIT_MAX_CLIENTS")

	overrideString(&cfg.Minutes.ClubName, "MINUTES_CLUB_NAME")
	overrideString(&cfg.Minutes.FormatterURL, "MINUTES_FORMATTER_URL")
	overrideInt(&cfg.Minutes.MaxTranscript, "MINUTES_MAX_TRANSCRIPT_CHARS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideDuration(target *time.Duration, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Telemetry.TraceExporter() {
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when traces=otlp")
		}
	case "stdout", "none":
	default:
		return errors.New("telemetry.traces must be one of otlp|stdout|none")
	}
	if cfg.Deepgram.DefaultDuration <= 0 || cfg.Deepgram.DefaultDuration > 3600 {
		return errors.New("deepgram.default_duration_s must be between 1 and 3600")
	}
	if cfg.Deepgram.Model == "" || cfg.Deepgram.Language == "" {
		return errors.New("deepgram.model and deepgram.language must not be empty")
	}
	switch cfg.Audio.Mode {
	case "exec":
		if cfg.Audio.Command == "" {
			return errors.New("audio.command must be set when mode=exec")
		}
	case "wav":
		if cfg.Audio.FilePath == "" {
			return errors.New("audio.file_path must be set when mode=wav")
		}
	case "mock":
	default:
		return errors.New("audio.mode must be one of exec|wav|mock")
	}
	if cfg.Audio.SampleRate != 16000 {
		return errors.New("audio.sample_rate must be 16000")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1")
	}
	if cfg.Audio.BlockSize <= 0 {
		return errors.New("audio.block_size must be positive")
	}
	switch cfg.LLM.Mode {
	case "mock", "openai", "ollama", "exec":
	default:
		return errors.New("llm.mode must be one of mock|openai|ollama|exec")
	}
	if (cfg.LLM.Mode == "openai" || cfg.LLM.Mode == "ollama") && cfg.LLM.Endpoint == "" {
		return errors.New("llm.endpoint must be set when mode=openai or mode=ollama")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.LLM.Timeout <= 0 {
		return errors.New("llm.timeout must be positive")
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.TokenRequests <= 0 || cfg.RateLimit.FormatRequests <= 0 {
			return errors.New("rate_limit requests must be >= 1")
		}
		if cfg.RateLimit.TokenWindow <= 0 || cfg.RateLimit.FormatWindow <= 0 {
			return errors.New("rate_limit windows must be positive")
		}
		if cfg.RateLimit.MaxClients <= 0 {
			return errors.New("rate_limit.max_clients must be >= 1")
		}
	}
	if cfg.Minutes.MaxTranscript <= 0 {
		return errors.New("minutes.max_transcript_chars must be positive")
	}
	return nil
}
