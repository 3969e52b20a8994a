package audio

import (
	"errors"
	"fmt"
	"math"
)

// Filter design constants, matching the usual band-limited polyphase
// defaults: Kaiser window with β = 5 and a half length of ten taps per
// output phase.
const (
	kaiserBeta       = 5.0
	halfLenPerFactor = 10
)

// ResampleRatio reduces target/source to lowest terms and returns the
// upsampling and downsampling factors. ok is false when the rates are equal,
// in which case no resampling is required.
func ResampleRatio(source, target int) (up, down int, ok bool) {
	if source == target {
		return 1, 1, false
	}
	g := gcd(source, target)
	return target / g, source / g, true
}

// Resampler converts mono signals between two fixed sample rates by
// rational up/down factors using a polyphase windowed-sinc FIR. The ratio
// and filter are computed once in [NewResampler]; Resample keeps no state
// between calls, so identical input always yields identical output.
//
// A Resampler is read-only after construction and safe for concurrent use.
type Resampler struct {
	source, target int
	up, down       int
	identity       bool

	halfLen int
	taps    []float64
}

// NewResampler builds a resampler from source to target Hz. Both rates must
// be positive.
func NewResampler(source, target int) (*Resampler, error) {
	if source <= 0 || target <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", source, target)
	}
	r := &Resampler{source: source, target: target}
	up, down, ok := ResampleRatio(source, target)
	if !ok {
		r.identity = true
		r.up, r.down = 1, 1
		return r, nil
	}
	r.up, r.down = up, down
	r.halfLen = halfLenPerFactor * max(up, down)
	r.taps = designLowpass(2*r.halfLen+1, 1/float64(max(up, down)), float64(up))
	if len(r.taps) == 0 {
		return nil, errors.New("audio: resampler filter design failed")
	}
	return r, nil
}

// Ratio returns the reduced (up, down) factors. ok is false for an identity
// resampler.
func (r *Resampler) Ratio() (up, down int, ok bool) {
	return r.up, r.down, !r.identity
}

// Identity reports whether source and target rates are equal.
func (r *Resampler) Identity() bool { return r.identity }

// OutputLen returns the number of samples Resample produces for n input
// samples: ceil(n·up/down).
func (r *Resampler) OutputLen(n int) int {
	if r.identity {
		return n
	}
	return (n*r.up + r.down - 1) / r.down
}

// Resample converts x (normalised to [-1, 1]) to the target rate. For an
// identity resampler the input slice is returned as is.
func (r *Resampler) Resample(x []float64) []float64 {
	if r.identity || len(x) == 0 {
		return x
	}
	n := len(x)
	taps := len(r.taps)
	out := make([]float64, r.OutputLen(n))
	for m := range out {
		// Position in the zero-stuffed upsampled stream, shifted by the
		// filter delay so the output is aligned with the input.
		t := m*r.down + r.halfLen

		jmin := ceilDiv(t-(taps-1), r.up)
		if jmin < 0 {
			jmin = 0
		}
		jmax := t / r.up
		if jmax > n-1 {
			jmax = n - 1
		}

		var acc float64
		for j := jmin; j <= jmax; j++ {
			acc += r.taps[t-j*r.up] * x[j]
		}
		out[m] = acc
	}
	return out
}

// ResamplePCM resamples mono int16 samples, clamping the result to the
// valid int16 range before truncation.
func (r *Resampler) ResamplePCM(samples []int16) []int16 {
	if r.identity {
		return samples
	}
	return floatToSamples(r.Resample(samplesToFloat(samples)))
}

// designLowpass returns a Kaiser-windowed sinc low-pass filter with the given
// number of taps and cutoff (fraction of Nyquist), normalised to unity DC
// gain and then scaled by gain.
func designLowpass(numTaps int, cutoff, gain float64) []float64 {
	if numTaps < 1 || cutoff <= 0 {
		return nil
	}
	h := make([]float64, numTaps)
	alpha := float64(numTaps-1) / 2
	i0Beta := besselI0(kaiserBeta)

	var sum float64
	for n := range numTaps {
		m := float64(n) - alpha
		ratio := m / alpha
		if alpha == 0 {
			ratio = 0
		}
		w := besselI0(kaiserBeta*math.Sqrt(1-ratio*ratio)) / i0Beta
		h[n] = cutoff * sinc(cutoff*m) * w
		sum += h[n]
	}
	for n := range h {
		h[n] = h[n] / sum * gain
	}
	return h
}

// sinc is the normalised sinc function sin(πx)/(πx).
func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// besselI0 evaluates the zeroth-order modified Bessel function of the first
// kind by power series. Converges quickly for the β used in filter design.
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	half := x / 2
	for k := 1; k < 64; k++ {
		term *= (half / float64(k)) * (half / float64(k))
		sum += term
		if term < sum*1e-16 {
			break
		}
	}
	return sum
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func ceilDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a > 0) == (b > 0) {
		q++
	}
	return q
}
