package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// DownmixMono averages all interleaved channels of each PCM frame into a
// single mono sample. Uses int32 accumulation to prevent overflow and clamps
// to the int16 range. channels must be ≥ 1; mono input is returned unchanged.
func DownmixMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		base := i * frameBytes
		for ch := range channels {
			sum += int32(int16(pcm[base+ch*2]) | int16(pcm[base+ch*2+1])<<8)
		}
		avg := sum / int32(channels)
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM from srcRate to dstRate using
// linear interpolation, preserving the channel count. The input must be
// little-endian int16 samples. If srcRate == dstRate the input is returned
// unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	frameBytes := channels * 2
	if srcRate == dstRate || len(pcm) < frameBytes {
		return pcm
	}
	srcFrames := len(pcm) / frameBytes
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		for ch := range channels {
			o0 := srcIdx*frameBytes + ch*2
			s0 := int16(pcm[o0]) | int16(pcm[o0+1])<<8
			s1 := s0
			if srcIdx+1 < srcFrames {
				o1 := (srcIdx+1)*frameBytes + ch*2
				s1 = int16(pcm[o1]) | int16(pcm[o1+1])<<8
			}
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			dst := i*frameBytes + ch*2
			out[dst] = byte(v)
			out[dst+1] = byte(v >> 8)
		}
	}
	return out
}

// Normalizer converts Frames to a target format as they arrive from an ingest
// source. It logs a warning on the first format mismatch and validates PCM
// alignment. Create one per stream; not designed for shared use across
// goroutines.
type Normalizer struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Normalize converts a frame to the target format. If the source format
// already matches, the frame is returned unchanged (zero allocation).
// Resampling happens before downmixing so multichannel input is interpolated
// per channel. Frames with an odd byte count are dropped (empty Data).
func (n *Normalizer) Normalize(frame Frame) Frame {
	if len(frame.Data)%2 != 0 {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio normalizer: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return Frame{SampleRate: n.Target.SampleRate, Channels: n.Target.Channels, Timestamp: frame.Timestamp}
	}

	if frame.SampleRate == n.Target.SampleRate && frame.Channels == n.Target.Channels {
		return frame
	}

	n.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: normalizing",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(n.Target.SampleRate, n.Target.Channels),
		)
	})

	pcm := frame.Data
	rate := frame.SampleRate
	channels := frame.Channels

	if rate != n.Target.SampleRate {
		pcm = Resample16(pcm, channels, rate, n.Target.SampleRate)
		rate = n.Target.SampleRate
	}
	if channels != n.Target.Channels {
		switch {
		case n.Target.Channels == 1:
			pcm = DownmixMono(pcm, channels)
		case channels == 1 && n.Target.Channels == 2:
			pcm = monoToStereo(pcm)
		}
		channels = n.Target.Channels
	}

	return Frame{Data: pcm, SampleRate: rate, Channels: channels, Timestamp: frame.Timestamp}
}

// monoToStereo duplicates each int16 mono sample into an L+R pair. Kept for
// normalizing to stereo targets; the analysis pipeline itself is mono.
func monoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// formatString renders a sample rate and channel count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
