package capture

import (
	"log/slog"
	"math"

	"github.com/0xethll/meeting-mind/internal/config"
	"github.com/0xethll/meeting-mind/internal/protocol"
)

// Analyzer gates batches before the paid transcription call. Classification
// fails open: audio that cannot be decoded is reported as not silent, because
// suppressing audio we could not analyze loses speech.
type Analyzer struct {
	cfg config.CaptureConfig
	log *slog.Logger
}

func NewAnalyzer(cfg config.CaptureConfig, log *slog.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, log: log.With(slog.String("component", "silence-analyzer"))}
}

// Analyze decodes the payload and classifies it. Silent when RMS volume is
// under the low-volume floor, OR under 2% of samples exceed the per-sample
// amplitude threshold, OR the peak amplitude is under its floor.
func (a *Analyzer) Analyze(payload []byte, mimeType string) (protocol.SilenceMetrics, bool) {
	buf, err := decodeWAV(payload)
	if err != nil {
		a.log.Debug("could not decode audio for silence analysis, proceeding",
			slog.String("mime_type", mimeType), slog.String("error", err.Error()))
		return protocol.SilenceMetrics{}, false
	}
	if len(buf.Data) == 0 {
		return protocol.SilenceMetrics{SampleRate: buf.Format.SampleRate}, true
	}

	scale := float64(int(1) << (buf.SourceBitDepth - 1))
	if scale == 0 {
		scale = 32768
	}

	var sumSquares, peak float64
	above := 0
	for _, s := range buf.Data {
		v := math.Abs(float64(s)) / scale
		sumSquares += v * v
		if v > peak {
			peak = v
		}
		if v > a.cfg.SampleThreshold {
			above++
		}
	}
	rms := math.Sqrt(sumSquares / float64(len(buf.Data)))
	ratio := float64(above) / float64(len(buf.Data))

	metrics := protocol.SilenceMetrics{
		RMSVolume:                 rms,
		PeakAmplitude:             peak,
		AboveThresholdSampleRatio: ratio,
		SampleRate:                buf.Format.SampleRate,
	}
	if buf.Format.SampleRate > 0 && buf.Format.NumChannels > 0 {
		metrics.DurationSeconds = float64(len(buf.Data)) /
			float64(buf.Format.SampleRate*buf.Format.NumChannels)
	}

	silent := rms < a.cfg.SilenceRMSFloor ||
		ratio < a.cfg.SpeechRatioFloor ||
		peak < a.cfg.SilencePeakFloor
	return metrics, silent
}
