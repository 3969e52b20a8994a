package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/wakegate/pkg/audio"
)

func TestResampleRatio_LowestTerms(t *testing.T) {
	t.Parallel()
	tests := []struct {
		source, target int
		up, down       int
	}{
		{48000, 16000, 1, 3},
		{44100, 16000, 160, 441},
		{8000, 16000, 2, 1},
		{22050, 16000, 320, 441},
		{32000, 16000, 1, 2},
		{96000, 16000, 1, 6},
		{11025, 8000, 320, 441},
	}
	for _, tc := range tests {
		up, down, ok := audio.ResampleRatio(tc.source, tc.target)
		if !ok {
			t.Errorf("%d->%d: ok = false, want true", tc.source, tc.target)
			continue
		}
		if up != tc.up || down != tc.down {
			t.Errorf("%d->%d: got (%d, %d), want (%d, %d)", tc.source, tc.target, up, down, tc.up, tc.down)
		}
		// up/down == target/source, cross-multiplied to stay in integers.
		if up*tc.source != down*tc.target {
			t.Errorf("%d->%d: %d/%d does not equal target/source", tc.source, tc.target, up, down)
		}
		if g := gcdInt(up, down); g != 1 {
			t.Errorf("%d->%d: (%d, %d) not in lowest terms (gcd %d)", tc.source, tc.target, up, down, g)
		}
	}
}

func TestResampleRatio_EqualRatesIsIdentity(t *testing.T) {
	t.Parallel()
	for _, rate := range []int{8000, 16000, 44100, 48000} {
		if _, _, ok := audio.ResampleRatio(rate, rate); ok {
			t.Errorf("rate %d: ok = true, want false", rate)
		}
	}
}

func TestNewResampler_InvalidRates(t *testing.T) {
	t.Parallel()
	for _, rates := range [][2]int{{0, 16000}, {48000, 0}, {-1, 16000}} {
		if _, err := audio.NewResampler(rates[0], rates[1]); err == nil {
			t.Errorf("NewResampler(%d, %d): expected error", rates[0], rates[1])
		}
	}
}

func TestResampler_IdentityPassThrough(t *testing.T) {
	t.Parallel()
	r, err := audio.NewResampler(16000, 16000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	if !r.Identity() {
		t.Fatal("expected identity resampler")
	}
	in := []int16{100, -200, 300, 32767, -32768}
	out := r.ResamplePCM(in)
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestResampler_OutputLength(t *testing.T) {
	t.Parallel()
	tests := []struct {
		source, target, n, want int
	}{
		{48000, 16000, 960, 320},
		{48000, 16000, 961, 321},
		{44100, 16000, 882, 320},
		{8000, 16000, 160, 320},
	}
	for _, tc := range tests {
		r, err := audio.NewResampler(tc.source, tc.target)
		if err != nil {
			t.Fatalf("NewResampler: %v", err)
		}
		got := r.Resample(make([]float64, tc.n))
		if len(got) != tc.want {
			t.Errorf("%d->%d n=%d: got %d samples, want %d", tc.source, tc.target, tc.n, len(got), tc.want)
		}
	}
}

func TestResampler_PreservesDC(t *testing.T) {
	t.Parallel()
	for _, rates := range [][2]int{{48000, 16000}, {44100, 16000}, {8000, 16000}} {
		r, err := audio.NewResampler(rates[0], rates[1])
		if err != nil {
			t.Fatalf("NewResampler: %v", err)
		}
		in := make([]float64, 4800)
		for i := range in {
			in[i] = 0.5
		}
		out := r.Resample(in)
		// Ignore the filter edges.
		for i := len(out) / 4; i < 3*len(out)/4; i++ {
			if math.Abs(out[i]-0.5) > 0.01 {
				t.Fatalf("%d->%d: sample %d = %f, want ≈ 0.5", rates[0], rates[1], i, out[i])
			}
		}
	}
}

func TestResampler_PreservesLowFrequencyTone(t *testing.T) {
	t.Parallel()
	r, err := audio.NewResampler(48000, 16000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	const freq = 440.0
	in := make([]float64, 9600)
	for i := range in {
		in[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/48000)
	}
	out := r.Resample(in)
	for i := len(out) / 4; i < 3*len(out)/4; i++ {
		want := 0.5 * math.Sin(2*math.Pi*freq*float64(i)/16000)
		if math.Abs(out[i]-want) > 0.01 {
			t.Fatalf("sample %d = %f, want %f", i, out[i], want)
		}
	}
}

func TestResampler_Deterministic(t *testing.T) {
	t.Parallel()
	r, err := audio.NewResampler(44100, 16000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	in := make([]int16, 882)
	for i := range in {
		in[i] = int16((i * 37) % 2000)
	}
	a := r.ResamplePCM(in)
	b := r.ResamplePCM(in)
	if len(a) != len(b) {
		t.Fatalf("length mismatch between calls: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs between calls: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestResampler_ClampsFullScale(t *testing.T) {
	t.Parallel()
	r, err := audio.NewResampler(48000, 16000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	in := make([]int16, 960)
	for i := range in {
		in[i] = 32767
	}
	out := r.ResamplePCM(in)
	for i, s := range out {
		if s < 0 {
			t.Fatalf("sample %d wrapped to %d", i, s)
		}
	}
	mid := out[len(out)/2]
	if mid < 32000 {
		t.Errorf("mid sample = %d, want close to 32767", mid)
	}
}

func gcdInt(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
