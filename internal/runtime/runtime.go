package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xethll/meeting-mind/internal/bus"
	"github.com/0xethll/meeting-mind/internal/capture"
	"github.com/0xethll/meeting-mind/internal/config"
	"github.com/0xethll/meeting-mind/internal/coordinator"
	"github.com/0xethll/meeting-mind/internal/natsserver"
	"github.com/0xethll/meeting-mind/internal/probe"
	"github.com/0xethll/meeting-mind/internal/settings"
	"github.com/0xethll/meeting-mind/internal/summarize"
	"github.com/0xethll/meeting-mind/internal/tabs"
	"github.com/0xethll/meeting-mind/internal/transcription"
)

const sourceFrameMS = 200

// Runtime wires the capture service, the coordinator and the tab probe over
// one bus connection and runs them until the context is cancelled.
type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	telemetryClose func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup

	embedded  *natsserver.EmbeddedServer
	busClient *bus.Client
	store     *settings.Store

	broker  *capture.Broker
	player  capture.Player
	factory capture.StreamFactory

	captureMu  sync.Mutex
	captureSvc *capture.Service

	coordSvc *coordinator.Service
	registry *tabs.Registry
	probeSvc *probe.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	telemetryClose, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = telemetryClose

	r.embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	r.busClient, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		r.shutdownPartial()
		return err
	}

	r.store, err = settings.Open(ctx, r.cfg.Settings, r.logger)
	if err != nil {
		r.shutdownPartial()
		return err
	}

	if err := r.startCapture(); err != nil {
		r.shutdownPartial()
		return err
	}

	transcriber, err := r.buildTranscriber()
	if err != nil {
		r.shutdownPartial()
		return err
	}
	summarizer := r.buildSummarizer()

	manager := coordinator.NewManager(r.cfg.Coordinator, coordinator.Deps{
		Capture:     coordinator.NewCaptureClient(r.busClient),
		Store:       r.store,
		Transcriber: transcriber,
		Summarizer:  summarizer,
		Broadcast:   coordinator.NewBroadcaster(r.busClient, r.logger),
		Supervisor:  r,
	}, r.logger)
	r.coordSvc = coordinator.NewService(r.cfg.Coordinator, r.busClient, manager, r.logger)
	if err := r.coordSvc.Start(); err != nil {
		r.shutdownPartial()
		return err
	}

	r.registry, err = tabs.NewRegistry(ctx, r.cfg.Probe, r.busClient, r.logger)
	if err != nil {
		r.shutdownPartial()
		return err
	}
	r.probeSvc = probe.New(r.cfg.Probe, r.busClient, r.logger)
	if err := r.probeSvc.Start(ctx); err != nil {
		r.shutdownPartial()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.shutdownPartial()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

// startCapture builds the capture stack and brings its bus endpoint up. Also
// the recreation path, so it must leave the broker and player reusable.
func (r *Runtime) startCapture() error {
	if r.factory == nil {
		factory, err := r.buildStreamFactory()
		if err != nil {
			return err
		}
		r.factory = factory
	}
	if r.player == nil {
		player, err := r.buildPlayer()
		if err != nil {
			return err
		}
		r.player = player
	}
	if r.broker == nil {
		ttl := time.Duration(r.cfg.Capture.HandleTTLMS) * time.Millisecond
		r.broker = capture.NewBroker(r.factory, ttl)
	}

	svc := capture.NewService(r.cfg.Capture, r.busClient, r.broker, r.player, r.logger)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start capture service: %w", err)
	}

	r.captureMu.Lock()
	r.captureSvc = svc
	r.captureMu.Unlock()
	return nil
}

// RecreateCapture tears down the capture service and builds a fresh one on
// the same broker. The coordinator calls this when pings go unanswered.
func (r *Runtime) RecreateCapture(ctx context.Context) error {
	r.captureMu.Lock()
	old := r.captureSvc
	r.captureSvc = nil
	r.captureMu.Unlock()
	if old != nil {
		old.Close()
	}
	r.logger.Warn("recreating capture service")
	return r.startCapture()
}

func (r *Runtime) buildStreamFactory() (capture.StreamFactory, error) {
	cfg := r.cfg.Capture
	switch cfg.Source {
	case "file":
		return func(tabID int) (capture.Stream, error) {
			return capture.NewWAVFileStream(cfg.SourcePath, sourceFrameMS)
		}, nil
	case "tone", "":
		return func(tabID int) (capture.Stream, error) {
			return capture.NewToneStream(cfg.SampleRate, cfg.Channels, sourceFrameMS, 440, 0.4), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
}

func (r *Runtime) buildPlayer() (capture.Player, error) {
	if r.cfg.Capture.PlaythroughCmd == "" {
		return capture.NopPlayer(), nil
	}
	return capture.NewExecPlayer(r.cfg.Capture.PlaythroughCmd, r.logger)
}

func (r *Runtime) buildTranscriber() (transcription.Transcriber, error) {
	switch r.cfg.Transcription.Mode {
	case "http":
		client := &http.Client{Timeout: time.Duration(r.cfg.Coordinator.TranscribeTimeoutS) * time.Second}
		return transcription.NewHTTPTranscriber(r.cfg.Transcription, r.store.APIToken, client), nil
	case "exec":
		return transcription.NewExecTranscriber(r.cfg.Transcription)
	default:
		return transcription.NewMockTranscriber(), nil
	}
}

func (r *Runtime) buildSummarizer() summarize.Summarizer {
	if r.cfg.Summarization.Mode == "http" {
		client := &http.Client{Timeout: time.Duration(r.cfg.Coordinator.TranscribeTimeoutS) * time.Second}
		return summarize.NewHTTPSummarizer(r.cfg.Summarization, r.store.APIToken, client)
	}
	return summarize.NewMockSummarizer()
}

// shutdownPartial closes whatever came up, in reverse order. Safe to call on
// a half-started runtime.
func (r *Runtime) shutdownPartial() {
	if r.probeSvc != nil {
		r.probeSvc.Close()
		r.probeSvc = nil
	}
	if r.registry != nil {
		r.registry.Close()
		r.registry = nil
	}
	if r.coordSvc != nil {
		r.coordSvc.Close()
		r.coordSvc = nil
	}
	r.captureMu.Lock()
	svc := r.captureSvc
	r.captureSvc = nil
	r.captureMu.Unlock()
	if svc != nil {
		svc.Close()
	}
	if r.player != nil {
		r.player.Close()
		r.player = nil
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("settings store close error", slog.String("error", err.Error()))
		}
		r.store = nil
	}
	if r.busClient != nil {
		r.busClient.Close()
		r.busClient = nil
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
		r.embedded = nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	r.captureMu.Lock()
	captureUp := r.captureSvc != nil && r.captureSvc.Healthy()
	r.captureMu.Unlock()
	if r.ready.Load() && r.busClient.Healthy() && captureUp && r.coordSvc.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
