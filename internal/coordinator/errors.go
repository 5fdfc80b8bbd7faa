package coordinator

import "errors"

var (
	// ErrAlreadyRecordingSameTab means a session is live for the requested tab.
	ErrAlreadyRecordingSameTab = errors.New("already recording this tab")
	// ErrAlreadyRecordingOtherTab means a session is live for a different tab;
	// the caller must end it first.
	ErrAlreadyRecordingOtherTab = errors.New("already recording another tab")
	// ErrCaptureUnreachable means the capture context did not answer even
	// after one recreate attempt.
	ErrCaptureUnreachable = errors.New("capture context unreachable")
	// ErrHandleMintFailed means the capture primitive refused to issue a
	// handle for the tab.
	ErrHandleMintFailed = errors.New("failed to mint capture handle")
	// ErrNoNewAudio is the capture service's quiet-period answer to a pull.
	ErrNoNewAudio = errors.New("no new audio since last pull")
	// ErrCaptureUnavailable means the tab cannot be captured, typically
	// because another application already holds it.
	ErrCaptureUnavailable = errors.New("tab unavailable for capture")
	// ErrHandleInvalid means the capture handle was expired, consumed or
	// unknown.
	ErrHandleInvalid = errors.New("capture handle invalid")
	// ErrAlreadyCapturing means the capture service refused a start while a
	// stream is live.
	ErrAlreadyCapturing = errors.New("capture already in progress")
)
