package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/0xethll/meeting-mind/internal/config"
	"github.com/0xethll/meeting-mind/internal/protocol"
)

// AudioChunk is one finalized recorder fragment. Chunks never cross the
// context boundary directly; only pulled batch payloads do.
type AudioChunk struct {
	Payload  []byte
	MimeType string
	Sequence int
	IsHeader bool
}

// PullResult is one concatenated batch of previously unconsumed chunks.
type PullResult struct {
	Payload      []byte
	MimeType     string
	Size         int
	ChunksMerged int
}

type recorderState int

const (
	stateIdle recorderState = iota
	stateCapturing
)

// ChunkNotifier announces a flushed chunk (size and mime only).
type ChunkNotifier func(protocol.ChunkReady)

// Recorder owns the one live audio stream: it drives periodic chunk emission,
// answers pull requests for unconsumed audio, and mirrors captured audio to
// the playthrough sink so capturing never mutes the meeting for the user.
type Recorder struct {
	cfg    config.CaptureConfig
	broker *Broker
	log    *slog.Logger
	notify ChunkNotifier
	player Player

	mu      sync.Mutex
	state   recorderState
	stream  Stream
	release func()
	cancel  context.CancelFunc
	done    chan struct{}
	header  *AudioChunk
	chunks  []AudioChunk
	seq     int
}

func NewRecorder(cfg config.CaptureConfig, broker *Broker, player Player, notify ChunkNotifier, log *slog.Logger) *Recorder {
	if player == nil {
		player = NopPlayer()
	}
	return &Recorder{
		cfg:    cfg,
		broker: broker,
		log:    log.With(slog.String("component", "recorder")),
		notify: notify,
		player: player,
	}
}

// Start claims the handle, opens the stream, and begins the periodic flush.
// Starting while already capturing is rejected; stopping first is the
// coordinator's responsibility.
func (r *Recorder) Start(ctx context.Context, handle string) error {
	r.mu.Lock()
	if r.state == stateCapturing {
		r.mu.Unlock()
		return ErrAlreadyCapturing
	}
	r.mu.Unlock()

	stream, tabID, release, err := r.broker.Claim(handle)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.state = stateCapturing
	r.stream = stream
	r.release = release
	r.header = nil
	r.chunks = nil
	r.seq = 0
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	r.log.Info("capture started",
		slog.Int("tab_id", tabID),
		slog.String("mime_type", stream.MimeType()),
		slog.Int("flush_interval_ms", r.cfg.FlushIntervalMS))

	go r.run(runCtx, done)
	return nil
}

func (r *Recorder) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Duration(r.cfg.FlushIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

// flush finalizes the buffered audio since the last tick into one chunk and
// announces it. The payload stays local until pulled.
func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	stream := r.stream
	r.mu.Unlock()
	if stream == nil {
		return
	}

	payload, err := stream.Next(ctx)
	if err != nil {
		r.log.Warn("chunk flush failed", slog.String("error", err.Error()))
		return
	}
	if len(payload) == 0 {
		return
	}

	r.mu.Lock()
	if r.state != stateCapturing {
		r.mu.Unlock()
		return
	}
	chunk := AudioChunk{
		Payload:  payload,
		MimeType: stream.MimeType(),
		Sequence: r.seq,
		IsHeader: r.seq == 0 && stream.HeaderDependent(),
	}
	if chunk.IsHeader {
		header := chunk
		r.header = &header
	}
	r.chunks = append(r.chunks, chunk)
	r.seq++
	notify := r.notify
	r.mu.Unlock()

	r.player.Play(payload, chunk.MimeType)

	if notify != nil {
		notify(protocol.ChunkReady{Size: len(payload), MimeType: chunk.MimeType, Sequence: chunk.Sequence})
	}
}

// Stop halts the flush and releases the stream. Idempotent: the coordinator
// invokes it speculatively after communication failures, so stopping an
// already-idle recorder is a no-op success.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.state != stateCapturing {
		r.mu.Unlock()
		return
	}
	r.state = stateIdle
	cancel := r.cancel
	done := r.done
	stream := r.stream
	release := r.release
	r.stream = nil
	r.cancel = nil
	r.done = nil
	r.release = nil
	r.header = nil
	r.chunks = nil
	r.seq = 0
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			r.log.Warn("stream close failed", slog.String("error", err.Error()))
		}
	}
	if release != nil {
		release()
	}
	r.log.Info("capture stopped")
}

// Capturing reports the recorder state for liveness probes.
func (r *Recorder) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateCapturing
}

// Pull returns every chunk appended since the previous successful pull as one
// payload and marks them consumed. For header-dependent containers the stream
// header is prepended to every batch so each batch stays independently
// decodable; self-contained WAV chunks are merged into a single file instead.
func (r *Recorder) Pull() (PullResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.chunks) == 0 {
		return PullResult{}, ErrNoNewAudio
	}

	consumed := r.chunks
	r.chunks = nil

	mime := consumed[0].MimeType
	var payload []byte

	if r.header != nil {
		size := len(r.header.Payload)
		for _, c := range consumed {
			size += len(c.Payload)
		}
		payload = make([]byte, 0, size)
		if !consumed[0].IsHeader {
			payload = append(payload, r.header.Payload...)
		}
		for _, c := range consumed {
			payload = append(payload, c.Payload...)
		}
	} else {
		payloads := make([][]byte, len(consumed))
		for i, c := range consumed {
			payloads[i] = c.Payload
		}
		merged, err := mergeWAV(payloads)
		if err != nil {
			// Batch unusable; the chunks are already consumed, matching the
			// at-least-once contract, and the next interval produces more.
			return PullResult{}, err
		}
		payload = merged
	}

	return PullResult{
		Payload:      payload,
		MimeType:     mime,
		Size:         len(payload),
		ChunksMerged: len(consumed),
	}, nil
}
