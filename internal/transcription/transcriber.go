package transcription

import (
	"context"
	"fmt"
	"strings"
)

// Result captures speech-to-text output for one batch.
type Result struct {
	Text string
}

// Transcriber abstracts speech-to-text backends.
type Transcriber interface {
	Transcribe(ctx context.Context, payload []byte, mimeType string) (Result, error)
}

// HTTPError is a non-2xx response from the remote transcription API. Fatal
// for the batch cycle that hit it, never for the session.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("transcription API returned status %d: %s", e.Status, e.Body)
}

// ProtocolError is a 2xx response whose body did not match the contract.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "transcription API protocol violation: " + e.Reason
}

// filenameForMime maps a mime type to the upload filename the API expects.
// The container allow-list is wav/webm/ogg/mp3/m4a/flac.
func filenameForMime(mimeType string) string {
	for _, ext := range []string{"wav", "webm", "ogg", "mp3", "m4a", "flac"} {
		if strings.Contains(mimeType, ext) {
			return "audio." + ext
		}
	}
	return "audio.wav"
}
