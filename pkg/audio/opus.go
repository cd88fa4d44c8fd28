package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// maxOpusFrameMs is the largest Opus frame duration accepted from clients.
const maxOpusFrameMs = 60

// OpusDecoder decodes Opus packets pushed by mobile clients into PCM frames.
// Each stream gets its own decoder so packet state carries correctly across
// consecutive frames. Not safe for concurrent use.
type OpusDecoder struct {
	dec        *gopus.Decoder
	sampleRate int
	channels   int
	frameSize  int
}

// NewOpusDecoder creates a decoder for an incoming Opus stream. Opus supports
// 8, 12, 16, 24, and 48 kHz; mobile clients send 48 kHz by default.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:        dec,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  sampleRate * maxOpusFrameMs / 1000,
	}, nil
}

// Decode decodes one Opus packet into interleaved little-endian int16 PCM.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// Format returns the PCM format the decoder produces.
func (d *OpusDecoder) Format() Format {
	return Format{SampleRate: d.sampleRate, Channels: d.channels}
}

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
