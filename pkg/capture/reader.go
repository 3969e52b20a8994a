package capture

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/MrWong99/wakegate/pkg/audio"
)

// ReaderSource streams PCM from an [io.Reader]. If the reader also implements
// [io.Closer] it is closed when ctx is cancelled so a blocked read returns.
type ReaderSource struct {
	r             io.Reader
	format        audio.Format
	chunkDuration time.Duration
}

// NewReaderSource returns a source reading raw PCM of format f from r in
// chunks of chunkDuration. A non-positive chunkDuration selects
// [DefaultChunkDuration].
func NewReaderSource(r io.Reader, f audio.Format, chunkDuration time.Duration) *ReaderSource {
	if chunkDuration <= 0 {
		chunkDuration = DefaultChunkDuration
	}
	return &ReaderSource{r: r, format: f, chunkDuration: chunkDuration}
}

// Format implements [Source].
func (s *ReaderSource) Format() audio.Format { return s.format }

// Run implements [Source]. End of the reader yields [ErrStreamEnded].
func (s *ReaderSource) Run(ctx context.Context, sink Sink) error {
	if s.format.Channels <= 0 || s.format.SampleRate <= 0 {
		return fmt.Errorf("capture: invalid format %s", s.format)
	}

	done := make(chan struct{})
	defer close(done)
	if c, ok := s.r.(io.Closer); ok {
		go func() {
			select {
			case <-ctx.Done():
				_ = c.Close()
			case <-done:
			}
		}()
	}

	return pump(ctx, s.r, ChunkBytes(s.format, s.chunkDuration), sink)
}

var _ Source = (*ReaderSource)(nil)
