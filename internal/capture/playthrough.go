package capture

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// Player receives every flushed chunk so the user keeps hearing the meeting
// while it is being captured.
type Player interface {
	Play(payload []byte, mimeType string)
	Close()
}

type nopPlayer struct{}

func NopPlayer() Player { return nopPlayer{} }

func (nopPlayer) Play([]byte, string) {}
func (nopPlayer) Close()              {}

// execPlayer pipes chunk payloads to a local player command's stdin
// (e.g. "ffplay -nodisp -autoexit -"). The command is spawned on first use.
type execPlayer struct {
	cmd []string
	log *slog.Logger

	mu    sync.Mutex
	proc  *exec.Cmd
	stdin io.WriteCloser
}

func NewExecPlayer(command string, log *slog.Logger) (Player, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playthrough command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("playthrough command is empty")
	}
	return &execPlayer{cmd: args, log: log.With(slog.String("component", "playthrough"))}, nil
}

func (p *execPlayer) Play(payload []byte, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.proc == nil {
		cmd := exec.Command(p.cmd[0], p.cmd[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			p.log.Warn("playthrough stdin unavailable", slog.String("error", err.Error()))
			return
		}
		if err := cmd.Start(); err != nil {
			p.log.Warn("playthrough command failed to start", slog.String("error", err.Error()))
			return
		}
		p.proc = cmd
		p.stdin = stdin
	}

	if _, err := p.stdin.Write(payload); err != nil {
		p.log.Warn("playthrough write failed", slog.String("error", err.Error()))
		p.stdin.Close()
		_ = p.proc.Wait()
		p.proc = nil
		p.stdin = nil
	}
}

func (p *execPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc == nil {
		return
	}
	p.stdin.Close()
	_ = p.proc.Wait()
	p.proc = nil
	p.stdin = nil
}
