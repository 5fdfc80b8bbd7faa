package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/0xethll/meeting-mind/internal/config"
)

// CredentialSource supplies the API key at call time.
type CredentialSource func(ctx context.Context) (string, error)

type httpSummarizer struct {
	cfg        config.SummarizationConfig
	credential CredentialSource
	client     *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message *chatMessage `json:"message"`
	} `json:"choices"`
}

// NewHTTPSummarizer talks to a chat-completions style API with one user-role
// message containing the fixed prompt plus the transcript.
func NewHTTPSummarizer(cfg config.SummarizationConfig, credential CredentialSource, client *http.Client) Summarizer {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpSummarizer{cfg: cfg, credential: credential, client: client}
}

func (s *httpSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", ErrEmptyTranscript
	}

	apiKey, err := s.credential(ctx)
	if err != nil {
		return "", err
	}

	payload := chatRequest{
		Model:       s.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: BuildPrompt(transcript)}},
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		TopP:        s.cfg.TopP,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &HTTPError{Status: resp.StatusCode, Body: string(b)}
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &ProtocolError{Reason: err.Error()}
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message == nil {
		return "", &ProtocolError{Reason: "missing choices[0].message"}
	}
	return decoded.Choices[0].Message.Content, nil
}
