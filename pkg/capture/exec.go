package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/MrWong99/wakegate/pkg/audio"
)

// DefaultCommand is the capture program used when ExecConfig.Command is empty.
const DefaultCommand = "arecord"

// ExecConfig configures an [ExecSource].
type ExecConfig struct {
	// Command is the capture program. Defaults to [DefaultCommand].
	Command string

	// Args replaces the default argument list when non-empty.
	Args []string

	// Device is the ALSA capture device passed via -D.
	Device string

	// Format is the native format the program is asked to produce.
	Format audio.Format

	// ChunkDuration is the capture interval of one chunk.
	ChunkDuration time.Duration

	// StopGrace bounds how long the program may run after SIGTERM.
	StopGrace time.Duration

	// Logger receives the program's stderr lines at debug level.
	Logger *slog.Logger
}

// ExecSource captures PCM from the stdout of an external program.
//
// On stop the program receives SIGTERM and is killed if it is still running
// after StopGrace. Its stderr is drained line by line into the logger.
type ExecSource struct {
	cfg ExecConfig
}

// NewExecSource returns an ExecSource with defaults applied to cfg.
func NewExecSource(cfg ExecConfig) *ExecSource {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if len(cfg.Args) == 0 {
		cfg.Args = ArecordArgs(cfg.Device, cfg.Format)
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ExecSource{cfg: cfg}
}

// ArecordArgs returns the arecord argument list for raw S16LE capture of
// format f from device.
func ArecordArgs(device string, f audio.Format) []string {
	var args []string
	if device != "" {
		args = append(args, "-D", device)
	}
	return append(args,
		"-q",
		"-f", "S16_LE",
		"-c", strconv.Itoa(f.Channels),
		"-r", strconv.Itoa(f.SampleRate),
		"-t", "raw",
	)
}

// Format implements [Source].
func (s *ExecSource) Format() audio.Format { return s.cfg.Format }

// Command returns the program and arguments the source runs.
func (s *ExecSource) Command() (string, []string) {
	return s.cfg.Command, append([]string(nil), s.cfg.Args...)
}

// Run implements [Source]. The capture process is started on entry and has
// exited by the time Run returns.
func (s *ExecSource) Run(ctx context.Context, sink Sink) error {
	if s.cfg.Format.Channels <= 0 || s.cfg.Format.SampleRate <= 0 {
		return fmt.Errorf("capture: invalid format %s", s.cfg.Format)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr, pw := io.Pipe()
	defer pr.Close()

	stderr := &lineLogger{log: s.cfg.Logger.With("source", s.cfg.Command)}

	cmd := exec.CommandContext(runCtx, s.cfg.Command, s.cfg.Args...)
	cmd.Stdout = pw
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.cfg.StopGrace

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return fmt.Errorf("capture: start %s: %w", s.cfg.Command, err)
	}
	s.cfg.Logger.Debug("capture: process started",
		"command", s.cfg.Command,
		"pid", cmd.Process.Pid,
		"format", s.cfg.Format.String(),
	)

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		stderr.flush()
		if err != nil {
			pw.CloseWithError(err)
		} else {
			pw.Close()
		}
		waitErr <- err
	}()

	err := pump(runCtx, pr, ChunkBytes(s.cfg.Format, s.cfg.ChunkDuration), sink)

	// Unblock the stdout copier, then make sure the process is gone.
	cancel()
	_ = pr.Close()
	exitErr := <-waitErr

	if ctx.Err() != nil {
		s.cfg.Logger.Debug("capture: process stopped", "command", s.cfg.Command)
		return nil
	}
	if exitErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrStreamEnded, s.cfg.Command, exitErr)
	}
	return err
}

var _ Source = (*ExecSource)(nil)

// lineLogger is an io.Writer that logs each complete line at debug level.
type lineLogger struct {
	log *slog.Logger

	mu  sync.Mutex
	buf []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.emit(l.buf[:i])
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) > 0 {
		l.emit(l.buf)
		l.buf = nil
	}
}

func (l *lineLogger) emit(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	l.log.Debug("capture: stderr", "line", string(line))
}
