package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// EnergySink receives the RMS of every processed chunk. The decision gate
// implements it to track the running maximum energy of the current
// utterance.
type EnergySink interface {
	ObserveRMS(rms float64)
}

// Processor turns one captured [Chunk] into recognizer-ready mono PCM:
// downmix, RMS measurement, then resampling to the recognizer rate.
//
// Create one per run; it is confined to the recognition goroutine.
type Processor struct {
	source    Format
	resampler *Resampler
	sink      EnergySink

	warnedCorrupt sync.Once
}

// NewProcessor creates a Processor for chunks in the source format that
// produces mono PCM at targetRate. sink may be nil.
func NewProcessor(source Format, targetRate int, sink EnergySink) (*Processor, error) {
	if source.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", source.Channels)
	}
	r, err := NewResampler(source.SampleRate, targetRate)
	if err != nil {
		return nil, err
	}
	if up, down, ok := r.Ratio(); ok {
		slog.Debug("audio processor: resampling",
			"from", source.String(),
			"to", formatString(targetRate, 1),
			"up", up,
			"down", down,
		)
	}
	return &Processor{source: source, resampler: r, sink: sink}, nil
}

// Process downmixes, measures and resamples one chunk. It returns the
// resampled mono PCM bytes and the chunk's RMS energy (int16 scale). The RMS
// is also reported to the processor's [EnergySink].
func (p *Processor) Process(data []byte) ([]byte, float64) {
	frameBytes := p.source.FrameBytes()
	if rem := len(data) % frameBytes; rem != 0 {
		p.warnedCorrupt.Do(func() {
			slog.Warn("audio processor: chunk not frame aligned, truncating",
				"bytes", len(data),
				"frame_bytes", frameBytes,
			)
		})
		data = data[:len(data)-rem]
	}

	mono := Downmix(BytesToSamples(data), p.source.Channels)
	rms := RMS(mono)
	if p.sink != nil {
		p.sink.ObserveRMS(rms)
	}
	return SamplesToBytes(p.resampler.ResamplePCM(mono)), rms
}
