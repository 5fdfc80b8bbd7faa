package summarize

import (
	"context"
	"strings"
)

type mockSummarizer struct{}

func NewMockSummarizer() Summarizer {
	return &mockSummarizer{}
}

func (m *mockSummarizer) Summarize(_ context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", ErrEmptyTranscript
	}
	return "[mock summary of " + firstWords(transcript, 5) + "]", nil
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
