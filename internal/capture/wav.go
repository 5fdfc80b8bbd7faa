package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeSeeker is an in-memory io.WriteSeeker for the wav encoder, which
// rewinds to patch the RIFF header on close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (ws *writeSeeker) Write(p []byte) (int, error) {
	if extra := ws.pos + len(p) - len(ws.buf); extra > 0 {
		ws.buf = append(ws.buf, make([]byte, extra)...)
	}
	copy(ws.buf[ws.pos:], p)
	ws.pos += len(p)
	return len(p), nil
}

func (ws *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = ws.pos + int(offset)
	case io.SeekEnd:
		next = len(ws.buf) + int(offset)
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	ws.pos = next
	return int64(next), nil
}

// encodePCM16 finalizes int16 samples into one standalone WAV file.
func encodePCM16(samples []int, sampleRate, channels int) ([]byte, error) {
	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return ws.buf, nil
}

func decodeWAV(payload []byte) (*audio.IntBuffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(payload))
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.SourceBitDepth == 0 {
		buf.SourceBitDepth = int(dec.BitDepth)
	}
	return buf, nil
}

// mergeWAV folds several standalone WAV files into one. Byte-concatenated WAV
// files are not a valid file, so the samples are decoded and re-encoded.
func mergeWAV(payloads [][]byte) ([]byte, error) {
	if len(payloads) == 0 {
		return nil, errors.New("no payloads to merge")
	}
	if len(payloads) == 1 {
		return payloads[0], nil
	}
	var samples []int
	var sampleRate, channels int
	for _, p := range payloads {
		buf, err := decodeWAV(p)
		if err != nil {
			return nil, err
		}
		if sampleRate == 0 {
			sampleRate = buf.Format.SampleRate
			channels = buf.Format.NumChannels
		}
		samples = append(samples, buf.Data...)
	}
	return encodePCM16(samples, sampleRate, channels)
}
