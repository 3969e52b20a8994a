package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/wakegate/pkg/audio"
)

func TestSamplesRoundTrip(t *testing.T) {
	want := []int16{0, 1, -1, 32767, -32768, 1234}
	got := audio.BytesToSamples(audio.SamplesToBytes(want))
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBytesToSamples_OddByteIgnored(t *testing.T) {
	got := audio.BytesToSamples([]byte{0x10, 0x00, 0xff})
	if len(got) != 1 || got[0] != 16 {
		t.Errorf("got %v, want [16]", got)
	}
}

func TestDownmix_Stereo(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	got := audio.Downmix([]int16{100, 200, -100, -200}, 2)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix_TruncatesTowardZero(t *testing.T) {
	got := audio.Downmix([]int16{1, 2, -1, -2}, 2)
	want := []int16{1, -1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix_NoOverflow(t *testing.T) {
	got := audio.Downmix([]int16{32767, 32767, -32768, -32768}, 2)
	if got[0] != 32767 || got[1] != -32768 {
		t.Errorf("got %v, want [32767 -32768]", got)
	}
}

func TestDownmix_EqualChannelsIdempotent(t *testing.T) {
	original := []int16{0, 7, -7, 32767, -32768, 12345}
	for _, channels := range []int{1, 2, 3, 4, 6} {
		interleaved := make([]int16, 0, len(original)*channels)
		for _, s := range original {
			for range channels {
				interleaved = append(interleaved, s)
			}
		}
		got := audio.Downmix(interleaved, channels)
		if len(got) != len(original) {
			t.Fatalf("%d channels: length %d, want %d", channels, len(got), len(original))
		}
		for i := range original {
			if got[i] != original[i] {
				t.Errorf("%d channels, sample %d: got %d, want %d", channels, i, got[i], original[i])
			}
		}
	}
}

func TestDownmix_PartialFrameDropped(t *testing.T) {
	got := audio.Downmix([]int16{10, 20, 30}, 2)
	if len(got) != 1 || got[0] != 15 {
		t.Errorf("got %v, want [15]", got)
	}
}

func TestRMS_Zero(t *testing.T) {
	got := audio.RMS(make([]int16, 960))
	if got > 1e-3 {
		t.Errorf("RMS of silence = %g, want ≈ 0", got)
	}
}

func TestRMS_ConstantAmplitude(t *testing.T) {
	for _, amp := range []int16{1, 350, 1000, 32767, -32768} {
		samples := make([]int16, 480)
		for i := range samples {
			samples[i] = amp
		}
		got := audio.RMS(samples)
		want := math.Abs(float64(amp))
		if math.Abs(got-want) > 1e-6*want+1e-6 {
			t.Errorf("RMS(all %d) = %f, want %f", amp, got, want)
		}
	}
}

func TestRMS_Empty(t *testing.T) {
	if got := audio.RMS(nil); got <= 0 || got > 1e-3 {
		t.Errorf("RMS(nil) = %g, want small positive", got)
	}
}

func TestDBFS(t *testing.T) {
	if got := audio.DBFS(32768); math.Abs(got) > 1e-9 {
		t.Errorf("DBFS(full scale) = %f, want 0", got)
	}
	if got := audio.DBFS(0); !math.IsInf(got, -1) {
		t.Errorf("DBFS(0) = %f, want -Inf", got)
	}
	if got := audio.DBFS(3276.8); math.Abs(got+20) > 1e-9 {
		t.Errorf("DBFS(0.1 FS) = %f, want -20", got)
	}
}
