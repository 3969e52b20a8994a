// Package audio holds the signal-processing stages of the wake-phrase
// pipeline: channel downmix, RMS energy, rational resampling, and the bounded
// chunk queue that connects the capture goroutine to the recognition
// goroutine.
//
// All PCM handled here is signed 16-bit little-endian. Multi-channel data is
// interleaved frame by frame (L R L R … for stereo).
package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is the width of one S16LE sample.
const BytesPerSample = 2

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameBytes returns the size in bytes of one interleaved frame (one sample
// per channel).
func (f Format) FrameBytes() int {
	return BytesPerSample * f.Channels
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Chunk is one capture interval of interleaved PCM at the microphone's
// native rate. The Data slice is owned by the chunk and must not be mutated
// after it has been pushed into a [Queue]; it is consumed exactly once.
type Chunk struct {
	// Data holds interleaved S16LE samples.
	Data []byte

	// Captured marks when the capture source finished reading this chunk.
	Captured time.Time
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
