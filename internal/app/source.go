package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/wakegate/internal/config"
	"github.com/MrWong99/wakegate/pkg/audio"
	"github.com/MrWong99/wakegate/pkg/capture"
)

// SourceFactory builds the capture source for one detector run.
type SourceFactory func(config.AudioConfig) (capture.Source, error)

// ConfigSource returns the default factory: a capture program when
// Input is empty, standard input for "-", and a raw PCM file otherwise.
func ConfigSource(log *slog.Logger) SourceFactory {
	return func(ac config.AudioConfig) (capture.Source, error) {
		f := audio.Format{SampleRate: ac.SampleRate, Channels: ac.Channels}
		switch ac.Input {
		case "":
			return capture.NewExecSource(capture.ExecConfig{
				Command:       ac.Command,
				Args:          ac.Args,
				Device:        ac.Device,
				Format:        f,
				ChunkDuration: ac.ChunkDuration,
				StopGrace:     ac.StopGrace,
				Logger:        log,
			}), nil
		case "-":
			// Hide Close so a finished run does not close stdin for the next.
			return capture.NewReaderSource(struct{ io.Reader }{os.Stdin}, f, ac.ChunkDuration), nil
		default:
			if _, err := os.Stat(ac.Input); err != nil {
				return nil, fmt.Errorf("audio.input: %w", err)
			}
			return &fileSource{path: ac.Input, format: f, chunk: ac.ChunkDuration}, nil
		}
	}
}

// fileSource opens its file on every Run so each run starts at the
// beginning of the recording.
type fileSource struct {
	path   string
	format audio.Format
	chunk  time.Duration
}

func (s *fileSource) Format() audio.Format { return s.format }

func (s *fileSource) Run(ctx context.Context, sink capture.Sink) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("capture: open %q: %w", s.path, err)
	}
	defer f.Close()
	return capture.NewReaderSource(f, s.format, s.chunk).Run(ctx, sink)
}
