package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/voxmetra/voxmetra/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestDownmixMono_Stereo(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.DownmixMono(stereo, 2)
	got := bytesToSamples(mono)
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

func TestDownmixMono_FourChannels(t *testing.T) {
	// One 4-channel frame averaging to 250.
	pcm := samplesToBytes([]int16{100, 200, 300, 400})
	mono := audio.DownmixMono(pcm, 4)
	got := bytesToSamples(mono)
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
	if got[0] != 250 {
		t.Errorf("got %d, want 250", got[0])
	}
}

func TestDownmixMono_AlreadyMono(t *testing.T) {
	mono := samplesToBytes([]int16{100, 200, 300})
	out := audio.DownmixMono(mono, 1)
	got := bytesToSamples(out)
	want := []int16{100, 200, 300}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmixMono_Clamping(t *testing.T) {
	// Two max-positive samples should stay at 32767 (not overflow).
	stereo := samplesToBytes([]int16{32767, 32767})
	mono := audio.DownmixMono(stereo, 2)
	got := bytesToSamples(mono)
	if len(got) != 1 {
		t.Fatalf("length mismatch: got %d, want 1", len(got))
	}
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

func TestDownmixMono_PartialFrame(t *testing.T) {
	// Three stereo samples = one complete frame plus a dangling sample.
	pcm := samplesToBytes([]int16{100, 200, 300})
	mono := audio.DownmixMono(pcm, 2)
	got := bytesToSamples(mono)
	want := []int16{150}
	if len(got) != len(want) {
		t.Fatalf("expected 1 complete frame, got %d samples", len(got))
	}
	if got[0] != want[0] {
		t.Errorf("got %d, want %d", got[0], want[0])
	}
}

func TestResample16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.Resample16(pcm, 1, 48000, 48000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResample16_Upsample(t *testing.T) {
	// 2 samples at 16kHz → 6 samples at 48kHz (3x)
	pcm := samplesToBytes([]int16{1000, 2000})
	out := audio.Resample16(pcm, 1, 16000, 48000)
	got := bytesToSamples(out)
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	// First output sample should equal first source sample.
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	// Last output sample should be close to last source sample.
	last := got[len(got)-1]
	if last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResample16_Downsample(t *testing.T) {
	// 6 samples at 48kHz → 2 samples at 16kHz (1/3x)
	pcm := samplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	out := audio.Resample16(pcm, 1, 48000, 16000)
	got := bytesToSamples(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
}

func TestResample16_Stereo(t *testing.T) {
	// 2 stereo frames at 16kHz → 6 stereo frames (12 samples) at 48kHz
	pcm := samplesToBytes([]int16{100, 200, 300, 400})
	out := audio.Resample16(pcm, 2, 16000, 48000)
	got := bytesToSamples(out)
	if len(got) != 12 {
		t.Fatalf("expected 12 samples, got %d", len(got))
	}
}

func TestResample16_ZeroRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200})
	// Zero srcRate should return input unchanged.
	out := audio.Resample16(pcm, 1, 0, 48000)
	if len(out) != len(pcm) {
		t.Errorf("expected unchanged output for zero srcRate, got len %d", len(out))
	}
	// Zero dstRate should return input unchanged.
	out = audio.Resample16(pcm, 1, 48000, 0)
	if len(out) != len(pcm) {
		t.Errorf("expected unchanged output for zero dstRate, got len %d", len(out))
	}
	// Negative rates should return input unchanged.
	out = audio.Resample16(pcm, 1, -1, 48000)
	if len(out) != len(pcm) {
		t.Errorf("expected unchanged output for negative srcRate, got len %d", len(out))
	}
}

func TestResample16_ToAnalysisRate(t *testing.T) {
	// 48000 → 22050 on one second of samples lands near 22050 frames.
	src := make([]int16, 48000)
	for i := range src {
		src[i] = int16(i % 3000)
	}
	out := audio.Resample16(samplesToBytes(src), 1, 48000, 22050)
	got := len(bytesToSamples(out))
	if got < 22000 || got > 22100 {
		t.Errorf("expected about 22050 samples, got %d", got)
	}
}

func TestNormalizer_NoOp(t *testing.T) {
	norm := audio.Normalizer{
		Target: audio.Format{SampleRate: 22050, Channels: 1},
	}
	frame := audio.Frame{
		Data:       samplesToBytes([]int16{100, 200}),
		SampleRate: 22050,
		Channels:   1,
	}
	result := norm.Normalize(frame)
	// Same slice — pointer equality check.
	if &result.Data[0] != &frame.Data[0] {
		t.Error("expected same slice (zero allocation) for matching format")
	}
}

func TestNormalizer_StereoToMono(t *testing.T) {
	norm := audio.Normalizer{
		Target: audio.Format{SampleRate: 48000, Channels: 1},
	}
	frame := audio.Frame{
		Data:       samplesToBytes([]int16{100, 200, 300, 400}),
		SampleRate: 48000,
		Channels:   2,
	}
	result := norm.Normalize(frame)
	got := bytesToSamples(result.Data)
	want := []int16{150, 350}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
	if result.SampleRate != 48000 || result.Channels != 1 {
		t.Errorf("unexpected format: %dHz %dch", result.SampleRate, result.Channels)
	}
}

func TestNormalizer_FullConversion(t *testing.T) {
	// 48000 Hz stereo → 22050 Hz mono
	norm := audio.Normalizer{
		Target: audio.Format{SampleRate: 22050, Channels: 1},
	}
	frame := audio.Frame{
		Data:       samplesToBytes([]int16{1000, 1000, 2000, 2000, 3000, 3000, 4000, 4000}),
		SampleRate: 48000,
		Channels:   2,
	}
	result := norm.Normalize(frame)
	if result.SampleRate != 22050 {
		t.Errorf("expected 22050Hz, got %d", result.SampleRate)
	}
	if result.Channels != 1 {
		t.Errorf("expected 1 channel, got %d", result.Channels)
	}
	if len(result.Data) == 0 {
		t.Error("expected non-empty output")
	}
}

func TestNormalizer_OddByteCount(t *testing.T) {
	norm := audio.Normalizer{
		Target: audio.Format{SampleRate: 22050, Channels: 1},
	}
	frame := audio.Frame{
		Data:       []byte{1, 2, 3}, // 3 bytes — odd, invalid for int16 PCM
		SampleRate: 48000,
		Channels:   1,
	}
	result := norm.Normalize(frame)
	if len(result.Data) != 0 {
		t.Errorf("expected empty data for odd byte count, got %d bytes", len(result.Data))
	}
	// Dropped frame should carry target format, not source format.
	if result.SampleRate != 22050 {
		t.Errorf("expected target sample rate 22050, got %d", result.SampleRate)
	}
	if result.Channels != 1 {
		t.Errorf("expected target channels 1, got %d", result.Channels)
	}
}

func TestNormalizer_OddByteCount_MatchingFormat(t *testing.T) {
	// Odd byte count should be caught even when formats match.
	norm := audio.Normalizer{
		Target: audio.Format{SampleRate: 22050, Channels: 1},
	}
	frame := audio.Frame{
		Data:       []byte{1, 2, 3},
		SampleRate: 22050,
		Channels:   1,
	}
	result := norm.Normalize(frame)
	if len(result.Data) != 0 {
		t.Errorf("expected empty data for odd byte count even when formats match, got %d bytes", len(result.Data))
	}
}

func TestNormalizer_MonoToStereo(t *testing.T) {
	norm := audio.Normalizer{
		Target: audio.Format{SampleRate: 48000, Channels: 2},
	}
	frame := audio.Frame{
		Data:       samplesToBytes([]int16{100, 200, 300}),
		SampleRate: 48000,
		Channels:   1,
	}
	result := norm.Normalize(frame)
	got := bytesToSamples(result.Data)
	want := []int16{100, 100, 200, 200, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}
