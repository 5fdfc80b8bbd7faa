package coordinator

import (
	"encoding/json"
	"log/slog"

	"github.com/0xethll/meeting-mind/internal/bus"
	"github.com/0xethll/meeting-mind/internal/protocol"
)

// busBroadcaster publishes UI events. Broadcasts are fire-and-forget; a UI
// that is not listening simply misses the event.
type busBroadcaster struct {
	bus *bus.Client
	log *slog.Logger
}

func NewBroadcaster(busClient *bus.Client, log *slog.Logger) Broadcaster {
	return &busBroadcaster{
		bus: busClient,
		log: log.With(slog.String("component", "broadcaster")),
	}
}

func (b *busBroadcaster) Transcript(update protocol.TranscriptUpdate) {
	b.publish(protocol.SubjectTranscriptUpdate, update)
}

func (b *busBroadcaster) Usage(update protocol.UsageUpdate) {
	b.publish(protocol.SubjectUsageUpdate, update)
}

func (b *busBroadcaster) PipelineError(e protocol.PipelineError) {
	b.publish(protocol.SubjectPipelineError, e)
}

func (b *busBroadcaster) SummaryReady(s protocol.SummaryGenerated) {
	b.publish(protocol.SubjectSummaryReady, s)
}

func (b *busBroadcaster) SummaryError(e protocol.SummaryError) {
	b.publish(protocol.SubjectSummaryError, e)
}

func (b *busBroadcaster) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.log.Warn("failed to encode event", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := b.bus.Publish(subject, data); err != nil {
		b.log.Warn("failed to publish event", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
