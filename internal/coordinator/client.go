package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/0xethll/meeting-mind/internal/bus"
	"github.com/0xethll/meeting-mind/internal/protocol"
)

// BatchAudio is one concatenated batch pulled from the capture service.
type BatchAudio struct {
	Payload      []byte
	MimeType     string
	ChunksMerged int
}

// CaptureClient is the coordinator's view of the capture context. All calls
// cross the bus; the coordinator never touches capture state directly.
type CaptureClient interface {
	Ping(ctx context.Context) (bool, error)
	Mint(ctx context.Context, tabID int) (string, error)
	StartCapture(ctx context.Context, handle string) error
	StopCapture(ctx context.Context) error
	Pull(ctx context.Context) (BatchAudio, error)
	Analyze(ctx context.Context, payload []byte, mimeType string) (protocol.SilenceMetrics, bool, error)
}

type busCaptureClient struct {
	bus *bus.Client
}

func NewCaptureClient(busClient *bus.Client) CaptureClient {
	return &busCaptureClient{bus: busClient}
}

func (c *busCaptureClient) Ping(ctx context.Context) (bool, error) {
	var resp protocol.PingResponse
	if err := c.request(ctx, protocol.SubjectCapturePing, protocol.PingRequest{}, &resp); err != nil {
		return false, err
	}
	if err := envelopeError(resp.Envelope); err != nil {
		return false, err
	}
	return resp.Capturing, nil
}

func (c *busCaptureClient) Mint(ctx context.Context, tabID int) (string, error) {
	var resp protocol.MintHandleResponse
	if err := c.request(ctx, protocol.SubjectCaptureMint, protocol.MintHandleRequest{TabID: tabID}, &resp); err != nil {
		return "", err
	}
	if err := envelopeError(resp.Envelope); err != nil {
		return "", err
	}
	return resp.Handle, nil
}

func (c *busCaptureClient) StartCapture(ctx context.Context, handle string) error {
	var resp protocol.StartCaptureResponse
	if err := c.request(ctx, protocol.SubjectCaptureStart, protocol.StartCaptureRequest{Handle: handle}, &resp); err != nil {
		return err
	}
	return envelopeError(resp.Envelope)
}

func (c *busCaptureClient) StopCapture(ctx context.Context) error {
	var resp protocol.StopCaptureResponse
	if err := c.request(ctx, protocol.SubjectCaptureStop, protocol.StopCaptureRequest{}, &resp); err != nil {
		return err
	}
	return envelopeError(resp.Envelope)
}

func (c *busCaptureClient) Pull(ctx context.Context) (BatchAudio, error) {
	var resp protocol.PullAudioResponse
	if err := c.request(ctx, protocol.SubjectCapturePull, protocol.PullAudioRequest{}, &resp); err != nil {
		return BatchAudio{}, err
	}
	if err := envelopeError(resp.Envelope); err != nil {
		return BatchAudio{}, err
	}
	return BatchAudio{
		Payload:      resp.Payload,
		MimeType:     resp.MimeType,
		ChunksMerged: resp.ChunksMerged,
	}, nil
}

func (c *busCaptureClient) Analyze(ctx context.Context, payload []byte, mimeType string) (protocol.SilenceMetrics, bool, error) {
	var resp protocol.AnalyzeSilenceResponse
	req := protocol.AnalyzeSilenceRequest{Payload: payload, MimeType: mimeType}
	if err := c.request(ctx, protocol.SubjectCaptureAnalyze, req, &resp); err != nil {
		return protocol.SilenceMetrics{}, false, err
	}
	if err := envelopeError(resp.Envelope); err != nil {
		return protocol.SilenceMetrics{}, false, err
	}
	var metrics protocol.SilenceMetrics
	if resp.Metrics != nil {
		metrics = *resp.Metrics
	}
	return metrics, resp.Silent, nil
}

func (c *busCaptureClient) request(ctx context.Context, subject string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data, err := c.bus.Request(ctx, subject, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("decode %s reply: %w", subject, err)
	}
	return nil
}

// envelopeError turns a wire error code back into the matching sentinel so
// callers can branch on capture failures the same way they would in-process.
func envelopeError(env protocol.Envelope) error {
	if env.OK {
		return nil
	}
	switch env.Code {
	case protocol.CodeNoNewAudio:
		return ErrNoNewAudio
	case protocol.CodeCaptureUnavailable:
		return fmt.Errorf("%w: %s", ErrCaptureUnavailable, env.Error)
	case protocol.CodeHandleInvalid:
		return fmt.Errorf("%w: %s", ErrHandleInvalid, env.Error)
	case protocol.CodeAlreadyCapturing:
		return fmt.Errorf("%w: %s", ErrAlreadyCapturing, env.Error)
	default:
		return fmt.Errorf("capture service: %s: %s", env.Code, env.Error)
	}
}
