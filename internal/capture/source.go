package capture

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
)

// Stream delivers encoded audio fragments for one live capture. A fragment is
// whatever the underlying recorder finalized since the previous call.
type Stream interface {
	MimeType() string
	// HeaderDependent reports whether fragments after the first need the first
	// fragment (the codec header) prepended to be independently decodable.
	HeaderDependent() bool
	// Next returns the encoded audio accumulated since the previous call.
	// A nil payload with nil error means nothing accumulated yet.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// StreamFactory opens the audio stream behind a claimed capture handle.
type StreamFactory func(tabID int) (Stream, error)

// toneStream synthesizes sine PCM and finalizes each fragment as a standalone
// WAV file, matching a recorder that restarts per chunk interval.
type toneStream struct {
	sampleRate int
	channels   int
	frameMS    int
	freq       float64
	amplitude  float64
	phase      float64
	mu         sync.Mutex
	closed     bool
}

func NewToneStream(sampleRate, channels, frameMS int, freq, amplitude float64) Stream {
	return &toneStream{
		sampleRate: sampleRate,
		channels:   channels,
		frameMS:    frameMS,
		freq:       freq,
		amplitude:  amplitude,
	}
}

func (t *toneStream) MimeType() string      { return "audio/wav" }
func (t *toneStream) HeaderDependent() bool { return false }

func (t *toneStream) Next(_ context.Context) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("stream closed")
	}
	frames := t.sampleRate * t.frameMS / 1000
	samples := make([]int, 0, frames*t.channels)
	step := 2 * math.Pi * t.freq / float64(t.sampleRate)
	for i := 0; i < frames; i++ {
		v := int(t.amplitude * 32767 * math.Sin(t.phase))
		t.phase += step
		for c := 0; c < t.channels; c++ {
			samples = append(samples, v)
		}
	}
	return encodePCM16(samples, t.sampleRate, t.channels)
}

func (t *toneStream) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// wavFileStream replays a WAV file in fixed fragments, re-encoding each as a
// standalone file. Returns nil payloads once drained.
type wavFileStream struct {
	sampleRate int
	channels   int
	frameMS    int
	samples    []int
	offset     int
	mu         sync.Mutex
	closed     bool
}

func NewWAVFileStream(path string, frameMS int) (Stream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}
	buf, err := decodeWAV(data)
	if err != nil {
		return nil, err
	}
	return &wavFileStream{
		sampleRate: buf.Format.SampleRate,
		channels:   buf.Format.NumChannels,
		frameMS:    frameMS,
		samples:    buf.Data,
	}, nil
}

func (w *wavFileStream) MimeType() string      { return "audio/wav" }
func (w *wavFileStream) HeaderDependent() bool { return false }

func (w *wavFileStream) Next(_ context.Context) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("stream closed")
	}
	if w.offset >= len(w.samples) {
		return nil, nil
	}
	count := w.sampleRate * w.frameMS / 1000 * w.channels
	end := w.offset + count
	if end > len(w.samples) {
		end = len(w.samples)
	}
	frag := w.samples[w.offset:end]
	w.offset = end
	return encodePCM16(frag, w.sampleRate, w.channels)
}

func (w *wavFileStream) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// fragmentStream serves pre-encoded container fragments where the first
// fragment carries the codec header (the WebM/Opus shape of the pipeline).
type fragmentStream struct {
	mime      string
	fragments [][]byte
	mu        sync.Mutex
	pos       int
	closed    bool
}

func NewFragmentStream(mime string, fragments [][]byte) Stream {
	return &fragmentStream{mime: mime, fragments: fragments}
}

func (f *fragmentStream) MimeType() string      { return f.mime }
func (f *fragmentStream) HeaderDependent() bool { return true }

func (f *fragmentStream) Next(_ context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("stream closed")
	}
	if f.pos >= len(f.fragments) {
		return nil, nil
	}
	frag := f.fragments[f.pos]
	f.pos++
	return frag, nil
}

func (f *fragmentStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
