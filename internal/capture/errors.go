package capture

import "errors"

var (
	// ErrHandleInvalid means the capture handle was already consumed, expired,
	// or never minted.
	ErrHandleInvalid = errors.New("capture handle invalid or already consumed")
	// ErrCaptureUnavailable means the stream behind the handle has no audio.
	ErrCaptureUnavailable = errors.New("no audio track available for capture")
	// ErrNoNewAudio is the expected outcome of a pull racing the flush
	// interval; it is not surfaced to users.
	ErrNoNewAudio = errors.New("no new audio accumulated since last pull")
	// ErrAlreadyCapturing rejects a start while a capture is live; the
	// coordinator must stop first.
	ErrAlreadyCapturing = errors.New("capture already in progress")
	// ErrTabBusy rejects minting a handle for a tab with a live capture.
	ErrTabBusy = errors.New("tab is already being captured")
)
