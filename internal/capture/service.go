package capture

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/0xethll/meeting-mind/internal/bus"
	"github.com/0xethll/meeting-mind/internal/config"
	"github.com/0xethll/meeting-mind/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service is the Capture Context's bus endpoint. Its lifetime is independent
// of the coordinator's: the coordinator can tear it down and rebuild it
// transparently through the supervisor.
type Service struct {
	cfg      config.CaptureConfig
	bus      *bus.Client
	broker   *Broker
	recorder *Recorder
	analyzer *Analyzer
	log      *slog.Logger
	subs     []*nats.Subscription
	ready    bool
}

func NewService(cfg config.CaptureConfig, busClient *bus.Client, broker *Broker, player Player, log *slog.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		broker:   broker,
		analyzer: NewAnalyzer(cfg, log),
		log:      log.With(slog.String("component", "capture-service")),
	}
	s.recorder = NewRecorder(cfg, broker, player, s.publishChunkReady, log)
	return s
}

func (s *Service) Start() error {
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectCapturePing:    s.handlePing,
		protocol.SubjectCaptureMint:    s.handleMint,
		protocol.SubjectCaptureStart:   s.handleStart,
		protocol.SubjectCaptureStop:    s.handleStop,
		protocol.SubjectCapturePull:    s.handlePull,
		protocol.SubjectCaptureAnalyze: s.handleAnalyze,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			s.drain()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.drain()
	s.recorder.Stop()
	s.ready = false
}

func (s *Service) drain() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool {
	return s.ready
}

func (s *Service) publishChunkReady(chunk protocol.ChunkReady) {
	data, err := json.Marshal(chunk)
	if err != nil {
		s.log.Warn("failed to marshal chunk notification", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(protocol.SubjectChunkReady, data); err != nil {
		s.log.Warn("failed to publish chunk notification", slog.String("error", err.Error()))
	}
}

func (s *Service) handlePing(msg *nats.Msg) {
	s.respond(msg, protocol.PingResponse{
		Envelope:  protocol.Envelope{OK: true},
		Capturing: s.recorder.Capturing(),
	})
}

func (s *Service) handleMint(msg *nats.Msg) {
	var req protocol.MintHandleRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, protocol.MintHandleResponse{Envelope: failure(protocol.CodeInternal, err)})
		return
	}
	handle, err := s.broker.Mint(req.TabID)
	if err != nil {
		s.respond(msg, protocol.MintHandleResponse{Envelope: failure(captureCode(err), err)})
		return
	}
	s.respond(msg, protocol.MintHandleResponse{
		Envelope: protocol.Envelope{OK: true},
		Handle:   handle,
	})
}

func (s *Service) handleStart(msg *nats.Msg) {
	var req protocol.StartCaptureRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, protocol.StartCaptureResponse{Envelope: failure(protocol.CodeInternal, err)})
		return
	}
	if err := s.recorder.Start(context.Background(), req.Handle); err != nil {
		s.respond(msg, protocol.StartCaptureResponse{Envelope: failure(captureCode(err), err)})
		return
	}
	s.respond(msg, protocol.StartCaptureResponse{Envelope: protocol.Envelope{OK: true}})
}

func (s *Service) handleStop(msg *nats.Msg) {
	s.recorder.Stop()
	s.respond(msg, protocol.StopCaptureResponse{Envelope: protocol.Envelope{OK: true}})
}

func (s *Service) handlePull(msg *nats.Msg) {
	result, err := s.recorder.Pull()
	if err != nil {
		s.respond(msg, protocol.PullAudioResponse{Envelope: failure(captureCode(err), err)})
		return
	}
	s.respond(msg, protocol.PullAudioResponse{
		Envelope:     protocol.Envelope{OK: true},
		Payload:      result.Payload,
		MimeType:     result.MimeType,
		Size:         result.Size,
		ChunksMerged: result.ChunksMerged,
	})
}

func (s *Service) handleAnalyze(msg *nats.Msg) {
	var req protocol.AnalyzeSilenceRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, protocol.AnalyzeSilenceResponse{Envelope: failure(protocol.CodeInternal, err)})
		return
	}
	metrics, silent := s.analyzer.Analyze(req.Payload, req.MimeType)
	s.respond(msg, protocol.AnalyzeSilenceResponse{
		Envelope: protocol.Envelope{OK: true},
		Silent:   silent,
		Metrics:  &metrics,
	})
}

func (s *Service) respond(msg *nats.Msg, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("failed to marshal response", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("failed to respond", slog.String("error", err.Error()))
	}
}

func failure(code string, err error) protocol.Envelope {
	return protocol.Envelope{OK: false, Code: code, Error: err.Error()}
}

func captureCode(err error) string {
	switch {
	case errors.Is(err, ErrHandleInvalid):
		return protocol.CodeHandleInvalid
	case errors.Is(err, ErrCaptureUnavailable), errors.Is(err, ErrTabBusy):
		return protocol.CodeCaptureUnavailable
	case errors.Is(err, ErrNoNewAudio):
		return protocol.CodeNoNewAudio
	case errors.Is(err, ErrAlreadyCapturing):
		return protocol.CodeAlreadyCapturing
	default:
		return protocol.CodeInternal
	}
}
