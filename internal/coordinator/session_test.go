package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/0xethll/meeting-mind/internal/config"
	"github.com/0xethll/meeting-mind/internal/protocol"
	"github.com/0xethll/meeting-mind/internal/settings"
	"github.com/0xethll/meeting-mind/internal/summarize"
	"github.com/0xethll/meeting-mind/internal/transcription"
)

type pullOutcome struct {
	batch BatchAudio
	err   error
}

type fakeCapture struct {
	mu        sync.Mutex
	pingErrs  []error
	capturing bool
	mintErr   error
	startErr  error
	pulls     []pullOutcome
	pullGate  chan struct{}
	silent    bool

	pingCalls    int
	mintCalls    int
	startCalls   int
	stopCalls    int
	pullCalls    int
	analyzeCalls int
}

func (f *fakeCapture) Ping(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingCalls++
	if len(f.pingErrs) > 0 {
		err := f.pingErrs[0]
		f.pingErrs = f.pingErrs[1:]
		if err != nil {
			return false, err
		}
	}
	return f.capturing, nil
}

func (f *fakeCapture) Mint(ctx context.Context, tabID int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mintCalls++
	if f.mintErr != nil {
		return "", f.mintErr
	}
	return fmt.Sprintf("handle-%d", tabID), nil
}

func (f *fakeCapture) StartCapture(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	f.capturing = true
	return nil
}

func (f *fakeCapture) StopCapture(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	f.capturing = false
	return nil
}

func (f *fakeCapture) Pull(ctx context.Context) (BatchAudio, error) {
	f.mu.Lock()
	f.pullCalls++
	gate := f.pullGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pulls) == 0 {
		return BatchAudio{}, ErrNoNewAudio
	}
	outcome := f.pulls[0]
	f.pulls = f.pulls[1:]
	return outcome.batch, outcome.err
}

func (f *fakeCapture) Analyze(ctx context.Context, payload []byte, mimeType string) (protocol.SilenceMetrics, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzeCalls++
	return protocol.SilenceMetrics{}, f.silent, nil
}

func (f *fakeCapture) counts() (pull, stop, analyze int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pullCalls, f.stopCalls, f.analyzeCalls
}

type fakeStore struct {
	mu       sync.Mutex
	quotaErr error
	recorded int
}

func (f *fakeStore) CheckQuota(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotaErr
}

func (f *fakeStore) RecordRequest(ctx context.Context) (settings.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded++
	return settings.Usage{Date: "2024-03-01", RequestsToday: f.recorded, TotalRequests: f.recorded}, nil
}

func (f *fakeStore) Plan() string { return "free" }

func (f *fakeStore) recordedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recorded
}

type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	gate  chan struct{}
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, payload []byte, mimeType string) (transcription.Result, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	text, err := f.text, f.err
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return transcription.Result{}, err
	}
	return transcription.Result{Text: text}, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSummarizer struct {
	summary string
	err     error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

type fakeBroadcast struct {
	mu          sync.Mutex
	transcripts []protocol.TranscriptUpdate
	usages      []protocol.UsageUpdate
	errors      []protocol.PipelineError
	summaries   []protocol.SummaryGenerated
	summaryErrs []protocol.SummaryError
}

func (f *fakeBroadcast) Transcript(u protocol.TranscriptUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, u)
}

func (f *fakeBroadcast) Usage(u protocol.UsageUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usages = append(f.usages, u)
}

func (f *fakeBroadcast) PipelineError(e protocol.PipelineError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, e)
}

func (f *fakeBroadcast) SummaryReady(s protocol.SummaryGenerated) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
}

func (f *fakeBroadcast) SummaryError(e protocol.SummaryError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryErrs = append(f.summaryErrs, e)
}

func (f *fakeBroadcast) transcriptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transcripts)
}

func (f *fakeBroadcast) pipelineErrors() []protocol.PipelineError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.PipelineError(nil), f.errors...)
}

type fakeSupervisor struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeSupervisor) RecreateCapture(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeSupervisor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testCoordinatorConfig() config.CoordinatorConfig {
	return config.CoordinatorConfig{
		ProbeTimeoutMS:     200,
		ReleaseSettleMS:    5,
		FallbackFlushMS:    100,
		RequestTimeoutMS:   200,
		TranscribeTimeoutS: 2,
	}
}

type harness struct {
	manager     *Manager
	capture     *fakeCapture
	store       *fakeStore
	transcriber *fakeTranscriber
	summarizer  *fakeSummarizer
	broadcast   *fakeBroadcast
	supervisor  *fakeSupervisor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		capture:     &fakeCapture{},
		store:       &fakeStore{},
		transcriber: &fakeTranscriber{text: "We finalized the quarterly roadmap during the call."},
		summarizer:  &fakeSummarizer{summary: "## Meeting Overview\nRoadmap planning."},
		broadcast:   &fakeBroadcast{},
		supervisor:  &fakeSupervisor{},
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	h.manager = NewManager(testCoordinatorConfig(), Deps{
		Capture:     h.capture,
		Store:       h.store,
		Transcriber: h.transcriber,
		Summarizer:  h.summarizer,
		Broadcast:   h.broadcast,
		Supervisor:  h.supervisor,
	}, log)
	t.Cleanup(func() { _ = h.manager.EndSession(context.Background()) })
	return h
}

func (h *harness) begin(t *testing.T, tabID int) string {
	t.Helper()
	sessionID, err := h.manager.BeginSession(context.Background(), tabID)
	if err != nil {
		t.Fatalf("begin session: %v", err)
	}
	return sessionID
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func wavBatch(payload string) pullOutcome {
	return pullOutcome{batch: BatchAudio{Payload: []byte(payload), MimeType: "audio/wav", ChunksMerged: 1}}
}

func TestBeginSessionRejectsConcurrentSessions(t *testing.T) {
	h := newHarness(t)
	h.begin(t, 3)

	if _, err := h.manager.BeginSession(context.Background(), 3); !errors.Is(err, ErrAlreadyRecordingSameTab) {
		t.Fatalf("same tab: expected ErrAlreadyRecordingSameTab, got %v", err)
	}
	if _, err := h.manager.BeginSession(context.Background(), 4); !errors.Is(err, ErrAlreadyRecordingOtherTab) {
		t.Fatalf("other tab: expected ErrAlreadyRecordingOtherTab, got %v", err)
	}
}

func TestBeginSessionRecreatesDeadCapture(t *testing.T) {
	h := newHarness(t)
	h.capture.pingErrs = []error{errors.New("request timed out")}

	h.begin(t, 1)

	if got := h.supervisor.callCount(); got != 1 {
		t.Fatalf("supervisor called %d times, want 1", got)
	}
	recording, tabID := h.manager.Status()
	if !recording || tabID != 1 {
		t.Fatalf("status = (%v, %d)", recording, tabID)
	}
}

func TestBeginSessionUnreachableAfterSingleRetry(t *testing.T) {
	h := newHarness(t)
	h.capture.pingErrs = []error{errors.New("timeout"), errors.New("timeout")}

	_, err := h.manager.BeginSession(context.Background(), 1)
	if !errors.Is(err, ErrCaptureUnreachable) {
		t.Fatalf("expected ErrCaptureUnreachable, got %v", err)
	}
	if got := h.supervisor.callCount(); got != 1 {
		t.Fatalf("supervisor called %d times, want exactly 1", got)
	}
	if recording, _ := h.manager.Status(); recording {
		t.Fatal("session should not be live after unreachable capture")
	}
}

func TestBeginSessionStopsOrphanedCapture(t *testing.T) {
	h := newHarness(t)
	h.capture.capturing = true

	h.begin(t, 2)

	_, stops, _ := h.capture.counts()
	if stops != 1 {
		t.Fatalf("orphaned capture not stopped, stop calls = %d", stops)
	}
}

func TestBeginSessionMintFailure(t *testing.T) {
	h := newHarness(t)
	h.capture.mintErr = errors.New("tab gone")

	_, err := h.manager.BeginSession(context.Background(), 1)
	if !errors.Is(err, ErrHandleMintFailed) {
		t.Fatalf("expected ErrHandleMintFailed, got %v", err)
	}
	if recording, _ := h.manager.Status(); recording {
		t.Fatal("session should not be live after mint failure")
	}
}

func TestBeginSessionStartFailureUnwinds(t *testing.T) {
	h := newHarness(t)
	h.capture.startErr = errors.New("stream refused")

	if _, err := h.manager.BeginSession(context.Background(), 1); err == nil {
		t.Fatal("expected start failure")
	}
	if recording, _ := h.manager.Status(); recording {
		t.Fatal("session state not unwound after start failure")
	}
	// A timed-out start may have succeeded on the capture side, so the
	// unwind must force a stop rather than leave the stream dangling.
	_, stops, _ := h.capture.counts()
	if stops != 1 {
		t.Fatalf("unwind did not issue a cleanup stop, stop calls = %d", stops)
	}
}

func TestSingleBatchInFlight(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.capture.pullGate = gate
	h.capture.pulls = []pullOutcome{wavBatch("batch-one"), wavBatch("batch-two")}
	h.begin(t, 1)

	note := protocol.ChunkReady{Size: 100, MimeType: "audio/wav"}
	h.manager.HandleChunkReady(note)
	waitUntil(t, "first pull", func() bool { pulls, _, _ := h.capture.counts(); return pulls == 1 })

	// More notifications while the batch is blocked must not start another.
	h.manager.HandleChunkReady(note)
	h.manager.HandleChunkReady(note)
	time.Sleep(50 * time.Millisecond)
	if pulls, _, _ := h.capture.counts(); pulls != 1 {
		t.Fatalf("second batch started while one in flight, pulls = %d", pulls)
	}

	close(gate)
	waitUntil(t, "first transcript", func() bool { return h.broadcast.transcriptCount() == 1 })

	// The next notification starts the next batch.
	h.manager.HandleChunkReady(note)
	waitUntil(t, "second transcript", func() bool { return h.broadcast.transcriptCount() == 2 })
}

func TestStaleResultDiscardedAfterEndSession(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.transcriber.gate = gate
	h.capture.pulls = []pullOutcome{wavBatch("late-batch")}
	h.begin(t, 1)

	h.manager.HandleChunkReady(protocol.ChunkReady{Size: 100, MimeType: "audio/wav"})
	waitUntil(t, "transcription start", func() bool { return h.transcriber.callCount() == 1 })

	if err := h.manager.EndSession(context.Background()); err != nil {
		t.Fatalf("end session: %v", err)
	}
	close(gate)

	time.Sleep(100 * time.Millisecond)
	if got := h.broadcast.transcriptCount(); got != 0 {
		t.Fatalf("stale result broadcast after session end, transcripts = %d", got)
	}
	if lines := h.manager.Transcript(); len(lines) != 0 {
		t.Fatalf("stale result retained in transcript: %v", lines)
	}
}

func TestQuotaRejectedBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	h.store.quotaErr = fmt.Errorf("%w: daily limit of 50 requests reached", settings.ErrQuotaExceeded)
	h.capture.pulls = []pullOutcome{wavBatch("over-quota")}
	h.begin(t, 1)

	h.manager.HandleChunkReady(protocol.ChunkReady{Size: 100, MimeType: "audio/wav"})
	waitUntil(t, "quota error broadcast", func() bool {
		for _, e := range h.broadcast.pipelineErrors() {
			if e.Code == protocol.CodeQuotaExceeded {
				return true
			}
		}
		return false
	})

	if got := h.transcriber.callCount(); got != 0 {
		t.Fatalf("transcriber called %d times despite exhausted quota", got)
	}
}

func TestSilentBatchSkipped(t *testing.T) {
	h := newHarness(t)
	h.capture.silent = true
	h.capture.pulls = []pullOutcome{wavBatch("silence")}
	h.begin(t, 1)

	h.manager.HandleChunkReady(protocol.ChunkReady{Size: 100, MimeType: "audio/wav"})
	waitUntil(t, "silence analysis", func() bool { _, _, analyzed := h.capture.counts(); return analyzed == 1 })

	time.Sleep(50 * time.Millisecond)
	if got := h.transcriber.callCount(); got != 0 {
		t.Fatalf("silent batch reached the transcriber, calls = %d", got)
	}
	if errs := h.broadcast.pipelineErrors(); len(errs) != 0 {
		t.Fatalf("silence skip produced error broadcasts: %v", errs)
	}
}

func TestInvalidTranscriptionDropped(t *testing.T) {
	h := newHarness(t)
	h.transcriber.text = "um."
	h.capture.pulls = []pullOutcome{wavBatch("mumble")}
	h.begin(t, 1)

	h.manager.HandleChunkReady(protocol.ChunkReady{Size: 100, MimeType: "audio/wav"})
	waitUntil(t, "usage recorded", func() bool { return h.store.recordedCount() == 1 })

	time.Sleep(50 * time.Millisecond)
	if got := h.broadcast.transcriptCount(); got != 0 {
		t.Fatalf("filler transcription broadcast, transcripts = %d", got)
	}
}

func TestValidTranscriptBroadcast(t *testing.T) {
	h := newHarness(t)
	h.capture.pulls = []pullOutcome{wavBatch("speech")}
	h.begin(t, 1)

	h.manager.HandleChunkReady(protocol.ChunkReady{Size: 100, MimeType: "audio/wav"})
	waitUntil(t, "transcript broadcast", func() bool { return h.broadcast.transcriptCount() == 1 })

	h.broadcast.mu.Lock()
	update := h.broadcast.transcripts[0]
	h.broadcast.mu.Unlock()
	if update.Text != "We finalized the quarterly roadmap during the call." {
		t.Fatalf("unexpected transcript text %q", update.Text)
	}
	if update.Speaker != "Speaker" {
		t.Fatalf("unexpected speaker %q", update.Speaker)
	}
	if lines := h.manager.Transcript(); len(lines) != 1 {
		t.Fatalf("transcript not retained, lines = %v", lines)
	}
	if got := h.store.recordedCount(); got != 1 {
		t.Fatalf("usage recorded %d times, want 1", got)
	}
}

func TestTranscriptionErrorBroadcast(t *testing.T) {
	h := newHarness(t)
	h.transcriber.err = &transcription.HTTPError{Status: 503, Body: "overloaded"}
	h.capture.pulls = []pullOutcome{wavBatch("speech")}
	h.begin(t, 1)

	h.manager.HandleChunkReady(protocol.ChunkReady{Size: 100, MimeType: "audio/wav"})
	waitUntil(t, "error broadcast", func() bool {
		for _, e := range h.broadcast.pipelineErrors() {
			if e.Code == protocol.CodeTranscriptionHTTP && e.Stage == "transcription" {
				return true
			}
		}
		return false
	})
}

func TestMissingCredentialGetsOwnErrorCode(t *testing.T) {
	h := newHarness(t)
	h.transcriber.err = settings.ErrCredentialMissing
	h.capture.pulls = []pullOutcome{wavBatch("speech")}
	h.begin(t, 1)

	h.manager.HandleChunkReady(protocol.ChunkReady{Size: 100, MimeType: "audio/wav"})
	waitUntil(t, "credential error broadcast", func() bool {
		for _, e := range h.broadcast.pipelineErrors() {
			if e.Code == protocol.CodeCredentialMissing {
				return true
			}
		}
		return false
	})
}

func TestEndSessionIdempotent(t *testing.T) {
	h := newHarness(t)
	if err := h.manager.EndSession(context.Background()); err != nil {
		t.Fatalf("end without session: %v", err)
	}

	h.begin(t, 1)
	if err := h.manager.EndSession(context.Background()); err != nil {
		t.Fatalf("first end: %v", err)
	}
	if err := h.manager.EndSession(context.Background()); err != nil {
		t.Fatalf("second end: %v", err)
	}
	_, stops, _ := h.capture.counts()
	if stops != 1 {
		t.Fatalf("stop capture called %d times, want 1", stops)
	}
}

func TestSummarizeEmptyTranscript(t *testing.T) {
	h := newHarness(t)

	err := h.manager.Summarize(context.Background(), "   ")
	if !errors.Is(err, summarize.ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
	h.broadcast.mu.Lock()
	defer h.broadcast.mu.Unlock()
	if len(h.broadcast.summaryErrs) != 1 || h.broadcast.summaryErrs[0].Code != protocol.CodeEmptyTranscript {
		t.Fatalf("summary error broadcast = %v", h.broadcast.summaryErrs)
	}
}

func TestSummarizeFallsBackToSessionTranscript(t *testing.T) {
	h := newHarness(t)
	h.manager.mu.Lock()
	h.manager.transcript = []string{"We agreed to ship the beta next week."}
	h.manager.mu.Unlock()

	if err := h.manager.Summarize(context.Background(), ""); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	h.broadcast.mu.Lock()
	defer h.broadcast.mu.Unlock()
	if len(h.broadcast.summaries) != 1 {
		t.Fatalf("summaries = %v", h.broadcast.summaries)
	}
	if h.broadcast.summaries[0].Summary == "" {
		t.Fatal("empty summary broadcast")
	}
}

func TestSummarizeErrorBroadcast(t *testing.T) {
	h := newHarness(t)
	h.summarizer.err = &summarize.ProtocolError{Reason: "missing choices"}

	err := h.manager.Summarize(context.Background(), "Plenty of real transcript content here.")
	if err == nil {
		t.Fatal("expected summarization error")
	}
	h.broadcast.mu.Lock()
	defer h.broadcast.mu.Unlock()
	if len(h.broadcast.summaryErrs) != 1 || h.broadcast.summaryErrs[0].Code != protocol.CodeSummarizationBadResp {
		t.Fatalf("summary error broadcast = %v", h.broadcast.summaryErrs)
	}
}
