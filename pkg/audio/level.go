package audio

import (
	"encoding/binary"
	"math"
)

// Meter readings are 8-bit (0–255), matching the scale the capture device
// collaborator reports and the quality monitor consumes.
const MeterMax = 255

// lowBandCutoffHz is the corner frequency of the one-pole low-pass used to
// isolate the low-frequency band for noise-floor metering. Rumble, hum, and
// HVAC noise concentrate below it while speech energy sits mostly above.
const lowBandCutoffHz = 250.0

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer. Returns 0 for buffers shorter than one sample. The result is
// expressed in the same units as PCM sample values (0–32 767).
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// PeakLevel returns the peak absolute amplitude of the buffer scaled to the
// 0–255 meter range. Peak rather than RMS so that clipping shows up as
// readings near the top of the scale.
func PeakLevel(pcm []byte) int {
	n := len(pcm) / 2
	var peak int32
	for i := 0; i < n; i++ {
		v := int32(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return int(peak * MeterMax / 32767)
}

// LowBandLevel returns the RMS energy of the low-frequency band of the buffer
// scaled to the 0–255 meter range. A one-pole low-pass isolates the band;
// the result is the noise-floor reading fed to the quality monitor.
func LowBandLevel(pcm []byte, sampleRate int) int {
	n := len(pcm) / 2
	if n == 0 || sampleRate <= 0 {
		return 0
	}

	rc := 1.0 / (2 * math.Pi * lowBandCutoffHz)
	dt := 1.0 / float64(sampleRate)
	alpha := dt / (rc + dt)

	var y, sum float64
	for i := 0; i < n; i++ {
		x := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		y += alpha * (x - y)
		sum += y * y
	}
	rms := math.Sqrt(sum / float64(n))
	level := int(rms * MeterMax / 32767)
	if level > MeterMax {
		level = MeterMax
	}
	return level
}
