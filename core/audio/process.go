package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Launcher starts an external media process.
type Launcher interface {
	Start(ctx context.Context, args []string) (Process, error)
}

// Process is a running media process.
// Ticks carries the elapsed timemarks reported by the process and is closed
// before Wait returns. Wait must be called exactly once.
type Process interface {
	Ticks() <-chan string
	Wait() error
	Kill() error
}

// ExecLauncher runs binary through os/exec and reads "-progress pipe:1" output.
type ExecLauncher struct {
	Path string
	// WaitDelay bounds how long Wait waits for output after the process exits.
	WaitDelay time.Duration
}

// NewExecLauncher creates a launcher for the ffmpeg binary at path.
func NewExecLauncher(path string) *ExecLauncher {
	return &ExecLauncher{Path: path, WaitDelay: 5 * time.Second}
}

// Start launches the process with args.
func (l *ExecLauncher) Start(ctx context.Context, args []string) (Process, error) {
	cmd := exec.CommandContext(ctx, l.Path, args...)
	cmd.WaitDelay = l.WaitDelay

	pr, pw := io.Pipe()
	stderr := &tailBuffer{limit: 4096}
	cmd.Stdout = pw
	cmd.Stderr = stderr

	p := &execProcess{
		cmd:    cmd,
		pw:     pw,
		stderr: stderr,
		ticks:  make(chan string, 64),
		done:   make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("start %s: %w", l.Path, err)
	}

	go p.scan(pr)
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	pw     *io.PipeWriter
	stderr *tailBuffer
	ticks  chan string
	done   chan struct{}
}

func (p *execProcess) Ticks() <-chan string {
	return p.ticks
}

// scan forwards out_time values. A slow consumer loses ticks rather than
// stalling the process.
func (p *execProcess) scan(r io.Reader) {
	defer close(p.done)
	defer close(p.ticks)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		marker, ok := strings.CutPrefix(line, "out_time=")
		if !ok {
			continue
		}
		select {
		case p.ticks <- marker:
		default:
		}
	}
	// keep draining so the writer never blocks
	_, _ = io.Copy(io.Discard, r)
}

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	p.pw.Close()
	<-p.done
	if err != nil {
		if tail := strings.TrimSpace(p.stderr.String()); tail != "" {
			return fmt.Errorf("%w: %s", err, tail)
		}
		return err
	}
	return nil
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, data...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(data), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
