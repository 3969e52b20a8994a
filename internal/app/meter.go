package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/MrWong99/wakegate/internal/detector"
	"github.com/MrWong99/wakegate/pkg/audio"
	"github.com/MrWong99/wakegate/pkg/capture"
)

// Level meter defaults.
const (
	DefaultMeterBlock     = 100 * time.Millisecond
	DefaultSpikeThreshold = -2.0 // dBFS
)

// MeterConfig configures [RunMeter]. One line is printed per captured chunk,
// so the source's chunk duration sets the update rate.
type MeterConfig struct {
	// SpikeDBFS flags chunks louder than this level.
	SpikeDBFS float64

	// MaxBlocks stops the meter after this many chunks. Zero runs until ctx
	// is cancelled.
	MaxBlocks int

	// JoinTimeout bounds the wait for the source to stop after the meter
	// finished. Default: detector.DefaultJoinTimeout.
	JoinTimeout time.Duration
}

// Level is one meter reading.
type Level struct {
	RMS   float64
	DBFS  float64
	Spike bool
}

// RunMeter captures audio from src and writes one level line per chunk to w.
// It returns when ctx is cancelled, MaxBlocks readings were printed, or
// capture fails. A source that ignores cancellation is abandoned after
// JoinTimeout. An end of stream is not an error.
func RunMeter(ctx context.Context, src capture.Source, w io.Writer, mc MeterConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	channels := src.Format().Channels
	q := audio.NewQueue(8)
	errc := make(chan error, 1)
	go func() { errc <- src.Run(ctx, q) }()

	fmt.Fprintln(w, "Listening...")
	var (
		srcErr  error
		srcDone bool
	)
	for n := 0; mc.MaxBlocks == 0 || n < mc.MaxBlocks; {
		if ctx.Err() != nil {
			break
		}
		c, ok := q.Pop(audio.DefaultPollTimeout)
		if !ok {
			if srcDone {
				break
			}
			select {
			case srcErr = <-errc:
				srcDone = true
			default:
			}
			continue
		}
		fmt.Fprintln(w, formatLevel(Measure(c.Data, channels, mc.SpikeDBFS)))
		n++
	}
	cancel()
	if !srcDone {
		join := mc.JoinTimeout
		if join <= 0 {
			join = detector.DefaultJoinTimeout
		}
		timer := time.NewTimer(join)
		defer timer.Stop()
		select {
		case srcErr = <-errc:
		case <-timer.C:
			// A read blocked on idle stdin cannot be interrupted.
			slog.Default().Warn("meter: capture source did not stop within join timeout",
				"join_timeout", join)
			return nil
		}
	}
	if srcErr != nil && !errors.Is(srcErr, capture.ErrStreamEnded) {
		return srcErr
	}
	return nil
}

// Measure downmixes pcm and computes its level.
func Measure(pcm []byte, channels int, spikeDBFS float64) Level {
	mono := audio.Downmix(audio.BytesToSamples(pcm), channels)
	rms := audio.RMS(mono)
	db := audio.DBFS(rms)
	return Level{RMS: rms, DBFS: db, Spike: db > spikeDBFS}
}

func formatLevel(lv Level) string {
	const width = 40
	// Bar spans -60 dBFS to 0 dBFS.
	fill := int(math.Round((lv.DBFS + 60) / 60 * width))
	fill = max(0, min(width, fill))
	line := fmt.Sprintf("Level: %6.1f dBFS  rms %7.1f  |%s%s|",
		lv.DBFS, lv.RMS, strings.Repeat("#", fill), strings.Repeat(" ", width-fill))
	if lv.Spike {
		line += "  SPIKE"
	}
	return line
}
