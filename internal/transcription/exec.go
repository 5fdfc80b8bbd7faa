package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/0xethll/meeting-mind/internal/config"
	"github.com/mattn/go-shellwords"
)

// execTranscriber shells out to a local recognizer (e.g. a whisper.cpp
// wrapper) that reads an audio file and prints {"text": ...} on stdout.
type execTranscriber struct {
	cmd []string
	cfg config.TranscriptionConfig
	mu  sync.Mutex
}

type execResult struct {
	Text string `json:"text"`
}

func NewExecTranscriber(cfg config.TranscriptionConfig) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcription command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcription command is empty")
	}
	return &execTranscriber{cmd: args, cfg: cfg}, nil
}

func (t *execTranscriber) Transcribe(ctx context.Context, payload []byte, mimeType string) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pattern := "meetingmind_batch_*" + strings.TrimPrefix(filenameForMime(mimeType), "audio")
	file, err := os.CreateTemp(os.TempDir(), pattern)
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if _, err := file.Write(payload); err != nil {
		return Result{}, fmt.Errorf("write audio payload: %w", err)
	}

	args := append([]string{}, t.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if t.cfg.Language != "" {
		args = append(args, "--language", t.cfg.Language)
	}

	command := exec.CommandContext(ctx, t.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("transcription command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, &ProtocolError{Reason: "decode command output: " + err.Error()}
	}
	return Result{Text: resp.Text}, nil
}
