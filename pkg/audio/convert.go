package audio

import (
	"encoding/binary"
	"math"
)

// rmsEpsilon keeps RMS strictly positive for all-zero frames so downstream
// log/dB conversions never see zero.
const rmsEpsilon = 1e-9

// BytesToSamples decodes little-endian S16 PCM into samples. A trailing odd
// byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian S16 PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Downmix averages the channels of each interleaved frame into a single
// mono sample. The mean is computed in floating point and truncated toward
// zero. With channels <= 1 the samples are returned unchanged. Trailing
// samples that do not fill a whole frame are dropped.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]int16, frames)
	for i := range frames {
		var sum float64
		for ch := range channels {
			sum += float64(samples[i*channels+ch])
		}
		mono[i] = int16(sum / float64(channels))
	}
	return mono
}

// RMS returns sqrt(mean(x²) + ε) over the samples, in int16 units. An empty
// slice yields sqrt(ε).
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return math.Sqrt(rmsEpsilon)
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum/float64(len(samples)) + rmsEpsilon)
}

// DBFS converts an int16-scale RMS value to decibels relative to full scale.
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/32768.0)
}

// samplesToFloat normalises int16 samples to [-1, 1).
func samplesToFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}
	return out
}

// floatToSamples clips to [-1, 1], scales by 32767 and truncates toward zero.
func floatToSamples(in []float64) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = int16(v * 32767.0)
	}
	return out
}
