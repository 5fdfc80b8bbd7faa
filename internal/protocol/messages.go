package protocol

import "time"

// Subjects for cross-context traffic. The capture service answers the
// capture.cmd.* request subjects, the coordinator answers ui.cmd.*, and
// everything under *.evt.* is broadcast.
const (
	SubjectCaptureStart   = "capture.cmd.start"
	SubjectCaptureStop    = "capture.cmd.stop"
	SubjectCapturePull    = "capture.cmd.pull"
	SubjectCaptureAnalyze = "capture.cmd.analyze"
	SubjectCapturePing    = "capture.cmd.ping"
	SubjectCaptureMint    = "capture.cmd.mint"
	SubjectChunkReady     = "capture.evt.chunk"

	SubjectBeginSession  = "ui.cmd.start"
	SubjectEndSession    = "ui.cmd.stop"
	SubjectSummarize     = "ui.cmd.summarize"
	SubjectSessionStatus = "ui.cmd.status"

	SubjectTranscriptUpdate = "ui.evt.transcript"
	SubjectUsageUpdate      = "ui.evt.usage"
	SubjectPipelineError    = "ui.evt.error"
	SubjectSummaryReady     = "ui.evt.summary"
	SubjectSummaryError     = "ui.evt.summary_error"

	SubjectTabStatusPrefix = "probe.evt.status"
)

// Wire error codes carried in response envelopes. Callers map these back to
// sentinel errors on their side of the bus.
const (
	CodeHandleInvalid        = "handle_invalid"
	CodeCaptureUnavailable   = "capture_unavailable"
	CodeNoNewAudio           = "no_new_audio"
	CodeAlreadySameTab       = "already_recording_same_tab"
	CodeAlreadyOtherTab      = "already_recording_other_tab"
	CodeCaptureUnreachable   = "capture_unreachable"
	CodeHandleMintFailed     = "handle_mint_failed"
	CodeTranscriptionHTTP    = "transcription_http"
	CodeTranscriptionBadResp = "transcription_protocol"
	CodeSummarizationHTTP    = "summarization_http"
	CodeSummarizationBadResp = "summarization_protocol"
	CodeEmptyTranscript      = "empty_transcript"
	CodeQuotaExceeded        = "quota_exceeded"
	CodeCredentialMissing    = "credential_missing"
	CodeAlreadyCapturing     = "already_capturing"
	CodeInternal             = "internal"
)

// Envelope is the common response trailer for request/reply calls.
type Envelope struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

type StartCaptureRequest struct {
	Handle string `json:"handle"`
}

type StartCaptureResponse struct {
	Envelope
	MimeType string `json:"mime_type,omitempty"`
}

type StopCaptureRequest struct{}

type StopCaptureResponse struct {
	Envelope
}

type PullAudioRequest struct{}

// PullAudioResponse carries one concatenated batch payload. ChunksMerged
// counts the unconsumed chunks folded into the batch, not any re-prepended
// header chunk.
type PullAudioResponse struct {
	Envelope
	Payload      []byte `json:"payload,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	Size         int    `json:"size"`
	ChunksMerged int    `json:"chunks_merged"`
}

type AnalyzeSilenceRequest struct {
	Payload  []byte `json:"payload"`
	MimeType string `json:"mime_type"`
}

type SilenceMetrics struct {
	RMSVolume                 float64 `json:"rms_volume"`
	PeakAmplitude             float64 `json:"peak_amplitude"`
	AboveThresholdSampleRatio float64 `json:"above_threshold_sample_ratio"`
	DurationSeconds           float64 `json:"duration_seconds"`
	SampleRate                int     `json:"sample_rate"`
}

type AnalyzeSilenceResponse struct {
	Envelope
	Silent  bool            `json:"silent"`
	Metrics *SilenceMetrics `json:"metrics,omitempty"`
}

type MintHandleRequest struct {
	TabID int `json:"tab_id"`
}

// MintHandleResponse returns a single-use capture handle. The handle expires
// if not claimed within the broker's TTL.
type MintHandleResponse struct {
	Envelope
	Handle string `json:"handle,omitempty"`
}

type PingRequest struct{}

type PingResponse struct {
	Envelope
	Capturing bool `json:"capturing"`
}

// ChunkReady announces a freshly flushed chunk. Size and mime type only; the
// payload stays in the capture service until pulled.
type ChunkReady struct {
	Size     int    `json:"size"`
	MimeType string `json:"mime_type"`
	Sequence int    `json:"sequence"`
}

type BeginSessionRequest struct {
	TabID int `json:"tab_id"`
}

type BeginSessionResponse struct {
	Envelope
	SessionID string `json:"session_id,omitempty"`
}

type EndSessionRequest struct{}

type EndSessionResponse struct {
	Envelope
}

type SummarizeRequest struct {
	Transcript string `json:"transcript"`
}

type SummarizeResponse struct {
	Envelope
}

type SessionStatusRequest struct{}

type SessionStatusResponse struct {
	Envelope
	Recording bool `json:"recording"`
	TabID     int  `json:"tab_id,omitempty"`
}

// TranscriptUpdate is one validated transcript line.
type TranscriptUpdate struct {
	Text       string    `json:"text"`
	Speaker    string    `json:"speaker"`
	ObservedAt time.Time `json:"observed_at"`
}

type UsageUpdate struct {
	Date          string `json:"date"`
	RequestsToday int    `json:"requests_today"`
	TotalRequests int    `json:"total_requests"`
	Plan          string `json:"plan"`
}

// PipelineError is a UI-facing error event with its originating stage.
type PipelineError struct {
	Stage   string `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SummaryGenerated struct {
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

type SummaryError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TabStatus is the tab probe's periodic report. Informational only; never on
// the audio path.
type TabStatus struct {
	TabID         int       `json:"tab_id"`
	URL           string    `json:"url"`
	Platform      string    `json:"platform"`
	MeetingActive bool      `json:"meeting_active"`
	Timestamp     time.Time `json:"timestamp"`
}
