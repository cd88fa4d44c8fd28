package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	bitsPerSample = 16
	wavHeaderSize = 44
)

// ErrMalformedWAV is returned by DecodeWAV when the input is not a canonical
// PCM WAV payload this package produces.
var ErrMalformedWAV = errors.New("audio: malformed wav data")

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a canonical
// RIFF/WAV container: a 44-byte header with `fmt ` and `data` chunks followed
// by the sample payload. The output is the interchange format handed to
// transcription providers.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)      // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV extracts the PCM payload and format from a canonical WAV buffer
// as produced by [EncodeWAV]. It accepts only 16-bit linear PCM with the
// 44-byte header layout; anything else fails with [ErrMalformedWAV].
func DecodeWAV(data []byte) (pcm []byte, format Format, err error) {
	if len(data) < wavHeaderSize {
		return nil, Format{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedWAV, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: missing RIFF/WAVE marker", ErrMalformedWAV)
	}
	if string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return nil, Format{}, fmt.Errorf("%w: unexpected chunk layout", ErrMalformedWAV)
	}
	if binary.LittleEndian.Uint16(data[20:22]) != 1 {
		return nil, Format{}, fmt.Errorf("%w: not linear PCM", ErrMalformedWAV)
	}
	if binary.LittleEndian.Uint16(data[34:36]) != bitsPerSample {
		return nil, Format{}, fmt.Errorf("%w: not 16-bit samples", ErrMalformedWAV)
	}

	format = Format{
		SampleRate: int(binary.LittleEndian.Uint32(data[24:28])),
		Channels:   int(binary.LittleEndian.Uint16(data[22:24])),
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, Format{}, fmt.Errorf("%w: invalid format %dHz %dch", ErrMalformedWAV, format.SampleRate, format.Channels)
	}

	dataSize := int(binary.LittleEndian.Uint32(data[40:44]))
	if dataSize > len(data)-wavHeaderSize {
		dataSize = len(data) - wavHeaderSize
	}
	return data[wavHeaderSize : wavHeaderSize+dataSize], format, nil
}
