package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyTranscript rejects summarization of a blank transcript before any
// network call.
var ErrEmptyTranscript = errors.New("no transcript content to summarize")

// Summarizer abstracts the remote completion backend.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// HTTPError is a non-2xx response from the summarization API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("summarization API returned status %d: %s", e.Status, e.Body)
}

// ProtocolError is a 2xx response missing choices[0].message; kept distinct
// from HTTPError so the UI can render each independently.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "summarization API protocol violation: " + e.Reason
}

// BuildPrompt renders the fixed structured summary prompt around a transcript.
func BuildPrompt(transcript string) string {
	var b strings.Builder
	b.WriteString("Please analyze this meeting transcript and provide a comprehensive summary with the following sections:\n\n")
	b.WriteString("## Meeting Overview\nBrief description of the meeting purpose and context\n\n")
	b.WriteString("## Key Discussion Points\nMain topics and themes discussed (bullet points)\n\n")
	b.WriteString("## Action Items\nSpecific tasks or commitments mentioned (if any)\n\n")
	b.WriteString("## Decisions Made\nImportant decisions or conclusions reached (if any)\n\n")
	b.WriteString("## Participants & Insights\nNotable contributions or viewpoints (if identifiable from context)\n\n")
	b.WriteString("## Follow-up Required\nNext steps or pending items mentioned\n\n")
	b.WriteString("Transcript to analyze:\n")
	b.WriteString(transcript)
	b.WriteString("\n\nPlease provide a well-structured, professional summary that captures the essential information from this meeting.")
	return b.String()
}
