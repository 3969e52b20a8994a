// Package capture defines the Source interface for raw PCM producers feeding
// the wake-phrase pipeline.
//
// A Source reads interleaved S16LE PCM in its native [audio.Format] and hands
// fixed-size [audio.Chunk] values to a [Sink] (normally an [*audio.Queue]).
// Sources never block on the sink: a full sink drops the chunk and capture
// keeps going, so the producer never falls behind the hardware.
//
// Two implementations are provided: [ExecSource] spawns an external capture
// program such as arecord, and [ReaderSource] reads from any [io.Reader]
// (a file, stdin or a fifo).
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrWong99/wakegate/pkg/audio"
)

const (
	// DefaultChunkDuration is the capture interval of one chunk.
	DefaultChunkDuration = 20 * time.Millisecond

	// DefaultStopGrace is how long a capture process may take to exit after
	// SIGTERM before it is killed.
	DefaultStopGrace = 2 * time.Second

	// MinChunkFrames is the lower bound on frames per chunk.
	MinChunkFrames = 256
)

// ErrStreamEnded is returned by [Source.Run] when the PCM stream reached
// end-of-file while no stop was requested.
var ErrStreamEnded = errors.New("capture: stream ended")

// Sink receives captured chunks. Push must not block; it reports false when
// the chunk was dropped.
type Sink interface {
	Push(c audio.Chunk) bool
}

// Source is a raw PCM producer.
//
// Run reads until ctx is cancelled, the stream ends, or a read fails. It
// returns nil when it stopped because ctx was cancelled, [ErrStreamEnded]
// (possibly wrapped) on an unexpected end-of-stream, and a wrapped error for
// any other failure. All resources held by the source (processes, pipes,
// goroutines) are released before Run returns.
type Source interface {
	// Format returns the native format of the produced chunks.
	Format() audio.Format

	// Run streams chunks into sink until stopped.
	Run(ctx context.Context, sink Sink) error
}

// ChunkBytes returns the byte size of one chunk of duration d in format f:
// max(MinChunkFrames, rate·d) frames of f.FrameBytes() bytes each.
func ChunkBytes(f audio.Format, d time.Duration) int {
	if d <= 0 {
		d = DefaultChunkDuration
	}
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	frames = max(frames, MinChunkFrames)
	return frames * f.FrameBytes()
}

// pump reads fixed-size chunks from r and pushes them to sink until r fails
// or ctx is done. A short final read is delivered as-is.
func pump(ctx context.Context, r io.Reader, chunkBytes int, sink Sink) error {
	for {
		buf := make([]byte, chunkBytes)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			sink.Push(audio.Chunk{Data: buf[:n], Captured: time.Now()})
		}
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return ErrStreamEnded
		default:
			return fmt.Errorf("capture: read: %w", err)
		}
	}
}
