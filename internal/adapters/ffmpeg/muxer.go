// Package ffmpeg runs an ffmpeg process that remuxes a VP8 RTP stream into
// a WebM file.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Conference/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/rs/zerolog/log"
)

var ErrInputClosed = errors.New("muxer input closed")

// Launcher starts `<Path> -f ivf -i pipe:0 -c:v copy <out>`.
type Launcher struct {
	Path string
}

func NewLauncher(path string) *Launcher {
	if path == "" {
		path = "ffmpeg"
	}
	return &Launcher{Path: path}
}

func (l *Launcher) args(outputPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-f", "ivf", "-i", "pipe:0",
		"-c:v", "copy",
		outputPath,
	}
}

// Launch starts the process. ctx only bounds the start; the process lives
// until Close and Wait.
func (l *Launcher) Launch(ctx context.Context, outputPath string) (core.Muxer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}

	cmd := exec.Command(l.Path, l.args(outputPath)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.Path, err)
	}

	// The pipe is wrapped so the ivf writer never tries to seek or close it.
	ivf, err := ivfwriter.NewWith(writerOnly{stdin})
	if err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("ivf writer: %w", err)
	}

	m := &Muxer{
		path:   outputPath,
		cmd:    cmd,
		stdin:  stdin,
		ivf:    ivf,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go m.reap()

	log.Info().Str("module", "ffmpeg").Int("pid", cmd.Process.Pid).Str("output", outputPath).Msg("muxer started")
	return m, nil
}

type Muxer struct {
	path   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer

	mu     sync.Mutex // serializes ivf writes
	ivf    *ivfwriter.IVFWriter
	closed atomic.Bool

	done    chan struct{}
	exitErr error
}

func (m *Muxer) OutputPath() string { return m.path }

func (m *Muxer) WriteRTP(pkt *rtp.Packet) error {
	if m.closed.Load() {
		return ErrInputClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return ErrInputClosed
	}
	return m.ivf.WriteRTP(pkt)
}

// Close ends the input stream; ffmpeg finalizes the file and exits.
// It does not wait for a pending WriteRTP: closing stdin makes a write
// blocked on a full pipe fail.
func (m *Muxer) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.stdin.Close()
}

// Wait returns the process exit status. When ctx ends first the process is
// killed and ctx's error returned.
func (m *Muxer) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.exitErr
	case <-ctx.Done():
		_ = m.cmd.Process.Kill()
		<-m.done
		log.Warn().Str("module", "ffmpeg").Str("output", m.path).Msg("muxer killed")
		return ctx.Err()
	}
}

func (m *Muxer) reap() {
	err := m.cmd.Wait()
	if err != nil {
		if msg := m.stderr.String(); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		log.Error().Err(err).Str("module", "ffmpeg").Str("output", m.path).Msg("muxer exited")
	} else {
		log.Info().Str("module", "ffmpeg").Str("output", m.path).Msg("muxer exited")
	}
	m.exitErr = err
	close(m.done)
}

type writerOnly struct{ io.Writer }

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
