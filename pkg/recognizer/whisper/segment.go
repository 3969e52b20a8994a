package whisper

import (
	"github.com/MrWong99/wakegate/pkg/audio"
)

const (
	// defaultRMSThreshold is the int16 RMS level below which a chunk counts
	// as silence when segmenting utterances.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 5_000
)

// segmenter groups streamed mono PCM into utterances using an energy
// threshold: speech opens an utterance, and a run of silence longer than
// silenceMs (or a buffer longer than maxMs) closes it.
type segmenter struct {
	sampleRate   int
	rmsThreshold float64
	silenceMs    int
	maxMs        int

	buffer    []byte
	hadSpeech bool
	silentFor int
}

func newSegmenter(sampleRate int, rmsThreshold float64, silenceMs, maxMs int) *segmenter {
	return &segmenter{
		sampleRate:   sampleRate,
		rmsThreshold: rmsThreshold,
		silenceMs:    silenceMs,
		maxMs:        maxMs,
	}
}

// feed appends one chunk. When the chunk closes an utterance the buffered
// speech is returned with ok set, and the segmenter starts over.
func (s *segmenter) feed(chunk []byte) (utterance []byte, ok bool) {
	rms := audio.RMS(audio.BytesToSamples(chunk))
	ms := s.durationMs(len(chunk))

	if rms < s.rmsThreshold {
		if !s.hadSpeech {
			return nil, false
		}
		s.silentFor += ms
		s.buffer = append(s.buffer, chunk...)
		if s.silentFor >= s.silenceMs {
			return s.take(), true
		}
		return nil, false
	}

	s.hadSpeech = true
	s.silentFor = 0
	s.buffer = append(s.buffer, chunk...)
	if s.maxMs > 0 && s.durationMs(len(s.buffer)) >= s.maxMs {
		return s.take(), true
	}
	return nil, false
}

// reset discards any buffered audio.
func (s *segmenter) reset() {
	s.buffer = nil
	s.hadSpeech = false
	s.silentFor = 0
}

func (s *segmenter) take() []byte {
	out := s.buffer
	s.reset()
	return out
}

func (s *segmenter) durationMs(n int) int {
	if s.sampleRate <= 0 {
		return 0
	}
	return n * 1000 / (s.sampleRate * audio.BytesPerSample)
}
