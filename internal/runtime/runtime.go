package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/minutes-core/internal/bus"
	"github.com/loqalabs/minutes-core/internal/config"
	"github.com/loqalabs/minutes-core/internal/httpapi"
	"github.com/loqalabs/minutes-core/internal/llm"
	"github.com/loqalabs/minutes-core/internal/minutes"
	"github.com/loqalabs/minutes-core/internal/natsserver"
)

type Runtime struct {
	cfg           config.Config
	version       string
	logger        *slog.Logger
	traceOut      io.Writer
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	nats          *natsserver.EmbeddedServer
	bus           *bus.Client
	minutes       *minutes.Service
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:      cfg,
		version:  version,
		logger:   logger,
		traceOut: os.Stderr,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.version, r.traceOut, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = tel.shutdown
	metricsHandler := tel.metrics

	if err := r.startBus(); err != nil {
		r.closeTelemetry(context.Background())
		return err
	}

	handler, err := r.buildHandler(ctx, metricsHandler)
	if err != nil {
		r.stopBus()
		r.closeTelemetry(context.Background())
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.minutes.Close()
	r.stopBus()
	r.closeTelemetry(shutdownCtx)
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

// startBus brings up the embedded server when configured and connects to
// the bus. A disabled bus leaves r.bus nil.
func (r *Runtime) startBus() error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	srv, err := natsserver.Start(r.cfg.Bus, r.logger.With(slog.String("component", "nats")))
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	busCfg := r.cfg.Bus
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		srv.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.nats = srv
	r.bus = client
	return nil
}

func (r *Runtime) stopBus() {
	r.bus.Close()
	r.nats.Shutdown()
}

func (r *Runtime) closeTelemetry(ctx context.Context) {
	if r.tracerClose == nil {
		return
	}
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

// buildHandler wires the formatter into the bus service and the HTTP API.
func (r *Runtime) buildHandler(ctx context.Context, metricsHandler http.Handler) (http.Handler, error) {
	generator, err := llm.NewGenerator(r.cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to build llm backend: %w", err)
	}
	formatter := minutes.NewFormatter(generator, r.cfg.LLM, r.cfg.Minutes, r.logger)
	if err := formatter.Configured(); err != nil {
		r.logger.Warn("minutes formatter not configured; requests will fail", slog.String("error", err.Error()))
	}
	pipeline := minutes.NewPipeline(formatter, minutes.LimitsFromConfig(r.cfg.Minutes), r.logger)

	r.minutes = minutes.NewService(ctx, r.bus, pipeline, r.cfg.LLM.Timeout, r.logger)
	if err := r.minutes.Start(); err != nil {
		return nil, fmt.Errorf("failed to start minutes service: %w", err)
	}

	api, err := httpapi.NewFromConfig(r.cfg, formatter, r.logger)
	if err != nil {
		r.minutes.Close()
		return nil, fmt.Errorf("failed to build http api: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	api.Register(mux)
	return mux, nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && (r.minutes == nil || r.minutes.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
