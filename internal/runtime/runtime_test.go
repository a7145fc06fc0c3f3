package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/minutes-core/internal/config"
	"github.com/loqalabs/minutes-core/internal/protocol"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func newTestRuntime(t *testing.T, mutate func(*config.Config)) *Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.Mode = "mock"
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, "1.2.3", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandlerRoutes(t *testing.T) {
	r := newTestRuntime(t, nil)
	h, err := r.buildHandler(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(r.minutes.Close)

	require.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	require.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	r.ready.Store(true)
	require.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)

	body, _ := json.Marshal(protocol.MinutesRequest{
		Transcript:  "John welcomed everyone to the practice.",
		MeetingInfo: protocol.MeetingInfo{Type: "Practice", Chairperson: "John", MinutesBy: "Mary"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/format-minutes", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "19", rec.Header().Get("X-RateLimit-Remaining"))

	var resp protocol.FormatMinutesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Contains(t, resp.FormattedMinutes.HTMLContent, "John welcomed everyone to the practice.")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/deepgram-token", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEmbeddedBusReadiness(t *testing.T) {
	r := newTestRuntime(t, func(cfg *config.Config) {
		cfg.Bus.Enabled = true
		cfg.Bus.Embedded = true
		cfg.Bus.Port = -1
	})
	require.NoError(t, r.startBus())
	t.Cleanup(r.stopBus)
	require.NotNil(t, r.bus)
	require.True(t, r.bus.Healthy())

	h, err := r.buildHandler(context.Background(), http.NotFoundHandler())
	require.NoError(t, err)
	t.Cleanup(r.minutes.Close)
	r.ready.Store(true)
	require.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)
	require.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
}

func TestDisabledBusStartsNothing(t *testing.T) {
	r := newTestRuntime(t, nil)
	require.NoError(t, r.startBus())
	require.Nil(t, r.bus)
	require.Nil(t, r.nats)
	r.stopBus()
}

func TestUnknownLLMModeFails(t *testing.T) {
	r := newTestRuntime(t, func(cfg *config.Config) { cfg.LLM.Mode = "bard" })
	_, err := r.buildHandler(context.Background(), nil)
	require.Error(t, err)
}

func TestStdoutTracesGoToTraceWriter(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.Traces = "stdout"
	var out bytes.Buffer
	tel, err := setupTelemetry(cfg, "1.2.3", &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	_, span := otel.Tracer("runtime-test").Start(context.Background(), "format-minutes")
	span.End()
	require.NoError(t, tel.shutdown(context.Background()))

	require.Contains(t, out.String(), `"Name":"format-minutes"`)
	require.Contains(t, out.String(), `"service.version"`)
	require.Contains(t, out.String(), `"1.2.3"`)
}

func TestDisabledTracesWriteNothing(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.Traces = "none"
	var out bytes.Buffer
	tel, err := setupTelemetry(cfg, "1.2.3", &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	_, span := otel.Tracer("runtime-test").Start(context.Background(), "format-minutes")
	span.End()
	require.NoError(t, tel.shutdown(context.Background()))
	require.Empty(t, out.String())

	cfg.Telemetry.Traces = "zipkin"
	_, err = setupTelemetry(cfg, "1.2.3", &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestResourceDescribesService(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Mode = "ollama"
	res, err := newResource(context.Background(), cfg, "1.2.3")
	require.NoError(t, err)

	attrs := res.Set()
	for key, want := range map[attribute.Key]string{
		"service.name":         cfg.RuntimeName,
		"service.version":      "1.2.3",
		"minutes.llm.mode":     "ollama",
		"process.runtime.name": "go",
	} {
		got, ok := attrs.Value(key)
		require.True(t, ok, key)
		require.Equal(t, want, got.AsString(), key)
	}
}
