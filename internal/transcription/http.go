package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/0xethll/meeting-mind/internal/config"
)

// CredentialSource supplies the API key at call time so key rotation in the
// settings store takes effect without a restart.
type CredentialSource func(ctx context.Context) (string, error)

type httpTranscriber struct {
	cfg        config.TranscriptionConfig
	credential CredentialSource
	client     *http.Client
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// NewHTTPTranscriber talks to a Whisper-style multipart transcription API.
func NewHTTPTranscriber(cfg config.TranscriptionConfig, credential CredentialSource, client *http.Client) Transcriber {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpTranscriber{cfg: cfg, credential: credential, client: client}
}

func (t *httpTranscriber) Transcribe(ctx context.Context, payload []byte, mimeType string) (Result, error) {
	if len(payload) == 0 {
		return Result{}, fmt.Errorf("audio payload is empty")
	}

	apiKey, err := t.credential(ctx)
	if err != nil {
		return Result{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", t.cfg.Model); err != nil {
		return Result{}, err
	}
	if err := mw.WriteField("temperature", "0"); err != nil {
		return Result{}, err
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return Result{}, err
	}
	if t.cfg.VADModel != "" {
		if err := mw.WriteField("vad_model", t.cfg.VADModel); err != nil {
			return Result{}, err
		}
	}
	if t.cfg.Language != "" {
		if err := mw.WriteField("language", t.cfg.Language); err != nil {
			return Result{}, err
		}
	}
	fw, err := mw.CreateFormFile("file", filenameForMime(mimeType))
	if err != nil {
		return Result{}, err
	}
	if _, err := fw.Write(payload); err != nil {
		return Result{}, err
	}
	if err := mw.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call transcription API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, &HTTPError{Status: resp.StatusCode, Body: string(b)}
	}

	var decoded transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, &ProtocolError{Reason: err.Error()}
	}
	return Result{Text: decoded.Text}, nil
}
