package transcription

import (
	"context"
	"fmt"
)

type mockTranscriber struct{}

func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(_ context.Context, payload []byte, mimeType string) (Result, error) {
	return Result{
		Text: fmt.Sprintf("[mock transcript for %d %s bytes]", len(payload), mimeType),
	}, nil
}
