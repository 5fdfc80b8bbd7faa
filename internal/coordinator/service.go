package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/0xethll/meeting-mind/internal/bus"
	"github.com/0xethll/meeting-mind/internal/config"
	"github.com/0xethll/meeting-mind/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service is the coordinator's bus endpoint. UI commands come in as
// request/reply; pipeline results go back out as broadcasts.
type Service struct {
	cfg     config.CoordinatorConfig
	bus     *bus.Client
	manager *Manager
	log     *slog.Logger
	subs    []*nats.Subscription
	ready   bool
}

func NewService(cfg config.CoordinatorConfig, busClient *bus.Client, manager *Manager, log *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		manager: manager,
		log:     log.With(slog.String("component", "coordinator-service")),
	}
}

func (s *Service) Start() error {
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectBeginSession:  s.handleBegin,
		protocol.SubjectEndSession:    s.handleEnd,
		protocol.SubjectSummarize:     s.handleSummarize,
		protocol.SubjectSessionStatus: s.handleStatus,
		protocol.SubjectChunkReady:    s.handleChunkReady,
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
	_ = s.manager.EndSession(context.Background())
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

func (s *Service) handleBegin(msg *nats.Msg) {
	var req protocol.BeginSessionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, protocol.BeginSessionResponse{Envelope: failure(protocol.CodeInternal, err)})
		return
	}
	sessionID, err := s.manager.BeginSession(context.Background(), req.TabID)
	if err != nil {
		env := failure(sessionCode(err), err)
		if errors.Is(err, ErrCaptureUnreachable) {
			env.Error = "capture is not responding; reload the meeting tab and try again"
		}
		s.respond(msg, protocol.BeginSessionResponse{Envelope: env})
		return
	}
	s.respond(msg, protocol.BeginSessionResponse{
		Envelope:  protocol.Envelope{OK: true},
		SessionID: sessionID,
	})
}

func (s *Service) handleEnd(msg *nats.Msg) {
	if err := s.manager.EndSession(context.Background()); err != nil {
		s.respond(msg, protocol.EndSessionResponse{Envelope: failure(protocol.CodeInternal, err)})
		return
	}
	s.respond(msg, protocol.EndSessionResponse{Envelope: protocol.Envelope{OK: true}})
}

// handleSummarize acks immediately and runs the summary in the background;
// the outcome arrives as a summary or summary_error broadcast.
func (s *Service) handleSummarize(msg *nats.Msg) {
	var req protocol.SummarizeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, protocol.SummarizeResponse{Envelope: failure(protocol.CodeInternal, err)})
		return
	}
	s.respond(msg, protocol.SummarizeResponse{Envelope: protocol.Envelope{OK: true}})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(s.cfg.TranscribeTimeoutS)*time.Second)
		defer cancel()
		_ = s.manager.Summarize(ctx, req.Transcript)
	}()
}

func (s *Service) handleStatus(msg *nats.Msg) {
	recording, tabID := s.manager.Status()
	s.respond(msg, protocol.SessionStatusResponse{
		Envelope:  protocol.Envelope{OK: true},
		Recording: recording,
		TabID:     tabID,
	})
}

func (s *Service) handleChunkReady(msg *nats.Msg) {
	var note protocol.ChunkReady
	if err := json.Unmarshal(msg.Data, &note); err != nil {
		s.log.Warn("invalid chunk notification", slog.String("error", err.Error()))
		return
	}
	s.manager.HandleChunkReady(note)
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

func sessionCode(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyRecordingSameTab):
		return protocol.CodeAlreadySameTab
	case errors.Is(err, ErrAlreadyRecordingOtherTab):
		return protocol.CodeAlreadyOtherTab
	case errors.Is(err, ErrCaptureUnreachable):
		return protocol.CodeCaptureUnreachable
	case errors.Is(err, ErrHandleMintFailed):
		return protocol.CodeHandleMintFailed
	default:
		return protocol.CodeInternal
	}
}
