package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/0xethll/meeting-mind/internal/config"
	"github.com/0xethll/meeting-mind/internal/protocol"
	"github.com/0xethll/meeting-mind/internal/settings"
	"github.com/0xethll/meeting-mind/internal/summarize"
	"github.com/0xethll/meeting-mind/internal/transcript"
	"github.com/0xethll/meeting-mind/internal/transcription"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// UsageStore is the slice of the settings store the pipeline needs: the quota
// gate and the request counter.
type UsageStore interface {
	CheckQuota(ctx context.Context) error
	RecordRequest(ctx context.Context) (settings.Usage, error)
	Plan() string
}

// Broadcaster fans pipeline events out to the UI subjects.
type Broadcaster interface {
	Transcript(update protocol.TranscriptUpdate)
	Usage(update protocol.UsageUpdate)
	PipelineError(e protocol.PipelineError)
	SummaryReady(s protocol.SummaryGenerated)
	SummaryError(e protocol.SummaryError)
}

// Supervisor recreates the capture context when it stops answering. The
// runtime implements this; tests stub it.
type Supervisor interface {
	RecreateCapture(ctx context.Context) error
}

// Deps carries the manager's collaborators.
type Deps struct {
	Capture     CaptureClient
	Store       UsageStore
	Transcriber transcription.Transcriber
	Summarizer  summarize.Summarizer
	Broadcast   Broadcaster
	Supervisor  Supervisor
}

// Manager owns session state and drives the chunk-to-transcript pipeline. At
// most one session is live and at most one batch is in flight at any time.
type Manager struct {
	cfg  config.CoordinatorConfig
	deps Deps
	log  *slog.Logger

	mu            sync.Mutex
	recording     bool
	tabID         int
	sessionID     string
	transcript    []string
	chunkCount    int
	lastChunkAt   time.Time
	batchInFlight bool
	fallback      *time.Timer

	batchCounter  metric.Int64Counter
	acceptCounter metric.Int64Counter
}

func NewManager(cfg config.CoordinatorConfig, deps Deps, log *slog.Logger) *Manager {
	m := &Manager{
		cfg:  cfg,
		deps: deps,
		log:  log.With(slog.String("component", "coordinator")),
	}
	meter := otel.Meter("github.com/0xethll/meeting-mind/runtime")
	if counter, err := meter.Int64Counter("meetingmind.batches.processed",
		metric.WithDescription("Audio batches pulled and processed")); err == nil {
		m.batchCounter = counter
	}
	if counter, err := meter.Int64Counter("meetingmind.transcripts.accepted",
		metric.WithDescription("Transcript lines that passed validation")); err == nil {
		m.acceptCounter = counter
	}
	return m
}

// BeginSession acquires the tab and starts capture. The session ID it returns
// tags every in-flight batch; results carrying a stale ID are discarded.
func (m *Manager) BeginSession(ctx context.Context, tabID int) (string, error) {
	m.mu.Lock()
	if m.recording {
		current := m.tabID
		m.mu.Unlock()
		if current == tabID {
			return "", ErrAlreadyRecordingSameTab
		}
		return "", ErrAlreadyRecordingOtherTab
	}
	m.mu.Unlock()

	capturing, err := m.pingCapture(ctx)
	if err != nil {
		return "", err
	}
	if capturing {
		// A previous session died without releasing the tab. Stop the
		// orphaned capture and let the platform settle before re-acquiring.
		m.log.Warn("capture context busy with no live session, stopping orphaned capture")
		stopCtx, cancel := context.WithTimeout(ctx, m.requestTimeout())
		if err := m.deps.Capture.StopCapture(stopCtx); err != nil {
			m.log.Warn("failed to stop orphaned capture", slog.String("error", err.Error()))
		}
		cancel()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(m.cfg.ReleaseSettleMS) * time.Millisecond):
		}
	}

	mintCtx, cancel := context.WithTimeout(ctx, m.requestTimeout())
	handle, err := m.deps.Capture.Mint(mintCtx, tabID)
	cancel()
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrHandleMintFailed, err)
	}

	// Session state must be live before capture starts so the first chunk
	// notification finds it.
	sessionID := uuid.NewString()
	m.mu.Lock()
	m.recording = true
	m.tabID = tabID
	m.sessionID = sessionID
	m.transcript = nil
	m.chunkCount = 0
	m.batchInFlight = false
	m.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, m.requestTimeout())
	err = m.deps.Capture.StartCapture(startCtx, handle)
	cancel()
	if err != nil {
		m.mu.Lock()
		m.recording = false
		m.sessionID = ""
		m.mu.Unlock()
		// The request may have failed after capture actually started, so
		// force a stop rather than trust the error. Stop is idempotent on
		// the capture side.
		stopCtx, cancel := context.WithTimeout(context.Background(), m.requestTimeout())
		if serr := m.deps.Capture.StopCapture(stopCtx); serr != nil {
			m.log.Warn("cleanup stop after failed start", slog.String("error", serr.Error()))
		}
		cancel()
		return "", fmt.Errorf("start capture: %w", err)
	}

	m.armFallback()
	m.log.Info("session started",
		slog.Int("tab_id", tabID),
		slog.String("session_id", sessionID))
	return sessionID, nil
}

// pingCapture checks the capture context is answering, recreating it through
// the supervisor exactly once if it is not.
func (m *Manager) pingCapture(ctx context.Context) (bool, error) {
	capturing, err := m.pingOnce(ctx)
	if err == nil {
		return capturing, nil
	}
	m.log.Warn("capture context not responding, recreating", slog.String("error", err.Error()))
	if m.deps.Supervisor == nil {
		return false, fmt.Errorf("%w: %s", ErrCaptureUnreachable, err)
	}
	if rerr := m.deps.Supervisor.RecreateCapture(ctx); rerr != nil {
		return false, fmt.Errorf("%w: recreate failed: %s", ErrCaptureUnreachable, rerr)
	}
	capturing, err = m.pingOnce(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrCaptureUnreachable, err)
	}
	return capturing, nil
}

func (m *Manager) pingOnce(ctx context.Context) (bool, error) {
	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.ProbeTimeoutMS)*time.Millisecond)
	defer cancel()
	return m.deps.Capture.Ping(pingCtx)
}

// EndSession tears the session down. Safe to call with no session live; a
// failed capture stop is logged, not returned, since local state is already
// cleared and any in-flight batch result will be discarded.
func (m *Manager) EndSession(ctx context.Context) error {
	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return nil
	}
	m.recording = false
	m.sessionID = ""
	m.tabID = 0
	m.chunkCount = 0
	if m.fallback != nil {
		m.fallback.Stop()
		m.fallback = nil
	}
	m.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, m.requestTimeout())
	defer cancel()
	if err := m.deps.Capture.StopCapture(stopCtx); err != nil {
		m.log.Warn("failed to stop capture cleanly", slog.String("error", err.Error()))
	}
	m.log.Info("session ended")
	return nil
}

// Status reports whether a session is live and for which tab.
func (m *Manager) Status() (bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording, m.tabID
}

// Transcript returns the accepted lines, oldest first.
func (m *Manager) Transcript() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.transcript...)
}

// HandleChunkReady reacts to a chunk notification: it bumps the pending count
// and starts a batch unless one is already running.
func (m *Manager) HandleChunkReady(note protocol.ChunkReady) {
	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return
	}
	m.chunkCount++
	m.lastChunkAt = time.Now()
	start := !m.batchInFlight
	sessionID := m.sessionID
	if start {
		m.batchInFlight = true
	}
	m.mu.Unlock()

	if start {
		go m.runBatch(sessionID)
	}
	m.armFallback()
}

// armFallback schedules a flush for chunks that arrive while a batch is
// running and would otherwise sit until the next notification.
func (m *Manager) armFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.recording {
		return
	}
	if m.fallback != nil {
		m.fallback.Stop()
	}
	m.fallback = time.AfterFunc(time.Duration(m.cfg.FallbackFlushMS)*time.Millisecond, m.fallbackFlush)
}

func (m *Manager) fallbackFlush() {
	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return
	}
	start := !m.batchInFlight && m.chunkCount > 0
	sessionID := m.sessionID
	if start {
		m.batchInFlight = true
	}
	m.mu.Unlock()

	if start {
		go m.runBatch(sessionID)
	}
	m.armFallback()
}

// runBatch drives one pull through silence gate, quota gate, transcription
// and validation. Exactly one runBatch is live at a time; finishBatch starts
// a successor if chunks arrived meanwhile.
func (m *Manager) runBatch(sessionID string) {
	defer m.finishBatch()
	ctx := context.Background()

	pullCtx, cancel := context.WithTimeout(ctx, m.requestTimeout())
	batch, err := m.deps.Capture.Pull(pullCtx)
	cancel()

	// The pending count covers everything this pull consumed, whatever the
	// outcome. Resetting before any network work keeps the count and the
	// buffer in step.
	m.mu.Lock()
	m.chunkCount = 0
	m.mu.Unlock()

	if errors.Is(err, ErrNoNewAudio) {
		return
	}
	if err != nil {
		m.log.Warn("failed to pull audio batch", slog.String("error", err.Error()))
		return
	}
	if m.batchCounter != nil {
		m.batchCounter.Add(ctx, 1)
	}

	analyzeCtx, cancel := context.WithTimeout(ctx, m.requestTimeout())
	metrics, silent, err := m.deps.Capture.Analyze(analyzeCtx, batch.Payload, batch.MimeType)
	cancel()
	if err != nil {
		// Fail open: an analyzer fault must not drop real speech.
		m.log.Warn("silence analysis failed", slog.String("error", err.Error()))
	} else if silent {
		m.log.Debug("skipping silent batch",
			slog.Float64("rms", metrics.RMSVolume),
			slog.Float64("speech_ratio", metrics.AboveThresholdSampleRatio))
		return
	}

	if err := m.deps.Store.CheckQuota(ctx); err != nil {
		if errors.Is(err, settings.ErrQuotaExceeded) {
			m.broadcastError("transcription", protocol.CodeQuotaExceeded, err)
		} else {
			m.log.Warn("quota check failed", slog.String("error", err.Error()))
		}
		return
	}

	transcribeCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.TranscribeTimeoutS)*time.Second)
	result, err := m.deps.Transcriber.Transcribe(transcribeCtx, batch.Payload, batch.MimeType)
	cancel()
	if err != nil {
		m.broadcastError("transcription", transcriptionCode(err), err)
		return
	}

	if usage, uerr := m.deps.Store.RecordRequest(ctx); uerr != nil {
		m.log.Warn("failed to record usage", slog.String("error", uerr.Error()))
	} else {
		m.deps.Broadcast.Usage(protocol.UsageUpdate{
			Date:          usage.Date,
			RequestsToday: usage.RequestsToday,
			TotalRequests: usage.TotalRequests,
			Plan:          m.deps.Store.Plan(),
		})
	}

	text := strings.TrimSpace(result.Text)
	if !transcript.IsValid(text) {
		m.log.Debug("discarding invalid transcription", slog.String("text", text))
		return
	}

	m.mu.Lock()
	if m.sessionID != sessionID {
		m.mu.Unlock()
		m.log.Debug("discarding transcript from ended session")
		return
	}
	m.transcript = append(m.transcript, text)
	m.mu.Unlock()

	if m.acceptCounter != nil {
		m.acceptCounter.Add(ctx, 1)
	}
	m.deps.Broadcast.Transcript(protocol.TranscriptUpdate{
		Text:       text,
		Speaker:    transcript.SpeakerLabel(),
		ObservedAt: time.Now().UTC(),
	})
}

func (m *Manager) finishBatch() {
	m.mu.Lock()
	m.batchInFlight = false
	pending := m.recording && m.chunkCount > 0
	sessionID := m.sessionID
	if pending {
		m.batchInFlight = true
	}
	m.mu.Unlock()

	if pending {
		go m.runBatch(sessionID)
	}
}

// Summarize runs the transcript through the completion backend and broadcasts
// the outcome. An empty request falls back to the session transcript.
func (m *Manager) Summarize(ctx context.Context, transcriptText string) error {
	text := strings.TrimSpace(transcriptText)
	if text == "" {
		text = strings.TrimSpace(strings.Join(m.Transcript(), "\n"))
	}
	if text == "" {
		m.deps.Broadcast.SummaryError(protocol.SummaryError{
			Code:    protocol.CodeEmptyTranscript,
			Message: summarize.ErrEmptyTranscript.Error(),
		})
		return summarize.ErrEmptyTranscript
	}

	summary, err := m.deps.Summarizer.Summarize(ctx, text)
	if err != nil {
		m.deps.Broadcast.SummaryError(protocol.SummaryError{
			Code:    summaryCode(err),
			Message: err.Error(),
		})
		return err
	}
	m.deps.Broadcast.SummaryReady(protocol.SummaryGenerated{
		Summary:   summary,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (m *Manager) broadcastError(stage, code string, err error) {
	m.log.Warn("pipeline error",
		slog.String("stage", stage),
		slog.String("code", code),
		slog.String("error", err.Error()))
	m.deps.Broadcast.PipelineError(protocol.PipelineError{
		Stage:   stage,
		Code:    code,
		Message: err.Error(),
	})
}

func (m *Manager) requestTimeout() time.Duration {
	return time.Duration(m.cfg.RequestTimeoutMS) * time.Millisecond
}

func transcriptionCode(err error) string {
	var httpErr *transcription.HTTPError
	var protoErr *transcription.ProtocolError
	switch {
	case errors.Is(err, settings.ErrCredentialMissing):
		return protocol.CodeCredentialMissing
	case errors.As(err, &httpErr):
		return protocol.CodeTranscriptionHTTP
	case errors.As(err, &protoErr):
		return protocol.CodeTranscriptionBadResp
	default:
		return protocol.CodeInternal
	}
}

func summaryCode(err error) string {
	var httpErr *summarize.HTTPError
	var protoErr *summarize.ProtocolError
	switch {
	case errors.Is(err, summarize.ErrEmptyTranscript):
		return protocol.CodeEmptyTranscript
	case errors.Is(err, settings.ErrCredentialMissing):
		return protocol.CodeCredentialMissing
	case errors.As(err, &httpErr):
		return protocol.CodeSummarizationHTTP
	case errors.As(err, &protoErr):
		return protocol.CodeSummarizationBadResp
	default:
		return protocol.CodeInternal
	}
}
