package audio_test

import (
	"math"
	"testing"

	"github.com/voxmetra/voxmetra/pkg/audio"
)

func TestRMS_Silence(t *testing.T) {
	pcm := samplesToBytes(make([]int16, 480))
	if got := audio.RMS(pcm); got != 0 {
		t.Errorf("got %f, want 0", got)
	}
}

func TestRMS_Empty(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("got %f, want 0", got)
	}
}

func TestRMS_ConstantAmplitude(t *testing.T) {
	// A square wave of amplitude 1000 has RMS exactly 1000.
	samples := make([]int16, 100)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 1000
		} else {
			samples[i] = -1000
		}
	}
	got := audio.RMS(samplesToBytes(samples))
	if math.Abs(got-1000) > 0.01 {
		t.Errorf("got %f, want 1000", got)
	}
}

func TestPeakLevel_FullScale(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 100, 32767, -200})
	if got := audio.PeakLevel(pcm); got != audio.MeterMax {
		t.Errorf("got %d, want %d", got, audio.MeterMax)
	}
}

func TestPeakLevel_NegativePeak(t *testing.T) {
	// The most negative sample sets the peak too.
	pcm := samplesToBytes([]int16{0, 100, -32767, 200})
	if got := audio.PeakLevel(pcm); got != audio.MeterMax {
		t.Errorf("got %d, want %d", got, audio.MeterMax)
	}
}

func TestPeakLevel_Silence(t *testing.T) {
	pcm := samplesToBytes(make([]int16, 480))
	if got := audio.PeakLevel(pcm); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestPeakLevel_HalfScale(t *testing.T) {
	pcm := samplesToBytes([]int16{16384})
	got := audio.PeakLevel(pcm)
	if got < 126 || got > 129 {
		t.Errorf("got %d, want about 127", got)
	}
}

func TestLowBandLevel_Silence(t *testing.T) {
	pcm := samplesToBytes(make([]int16, 480))
	if got := audio.LowBandLevel(pcm, 48000); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestLowBandLevel_Empty(t *testing.T) {
	if got := audio.LowBandLevel(nil, 48000); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
	if got := audio.LowBandLevel(samplesToBytes([]int16{100}), 0); got != 0 {
		t.Errorf("zero sample rate: got %d, want 0", got)
	}
}

func TestLowBandLevel_SeparatesBands(t *testing.T) {
	const rate = 48000
	sine := func(freq float64, amplitude int16) []byte {
		samples := make([]int16, rate/10) // 100ms
		for i := range samples {
			samples[i] = int16(float64(amplitude) * math.Sin(2*math.Pi*freq*float64(i)/rate))
		}
		return samplesToBytes(samples)
	}

	// 60 Hz hum sits well below the cutoff, 4 kHz speech energy well above.
	hum := audio.LowBandLevel(sine(60, 16000), rate)
	speech := audio.LowBandLevel(sine(4000, 16000), rate)

	if hum == 0 {
		t.Fatal("expected non-zero reading for low-frequency hum")
	}
	if speech >= hum {
		t.Errorf("high-frequency content should be attenuated: speech=%d hum=%d", speech, hum)
	}
	if hum <= speech*3 {
		t.Errorf("expected strong separation between bands: hum=%d speech=%d", hum, speech)
	}
}

func TestLowBandLevel_Clamped(t *testing.T) {
	// Full-scale DC stays within the meter range.
	samples := make([]int16, 4800)
	for i := range samples {
		samples[i] = 32767
	}
	got := audio.LowBandLevel(samplesToBytes(samples), 48000)
	if got > audio.MeterMax {
		t.Errorf("got %d, want at most %d", got, audio.MeterMax)
	}
}
