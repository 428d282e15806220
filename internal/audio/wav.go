package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"bookvoice/internal/services"
)

// HeaderSize is the length of the canonical RIFF/WAVE header BuildWAV writes.
const HeaderSize = 44

const formatPCM = 1

// Format describes the PCM layout of synthesized audio.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat matches the speech API output: 24 kHz, mono, 16-bit.
var DefaultFormat = Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}

// ByteRate returns bytes of audio per second.
func (f Format) ByteRate() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// BlockAlign returns bytes per sample frame.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// Duration returns the playback length of pcmLen bytes in this format.
func (f Format) Duration(pcmLen int) time.Duration {
	rate := f.ByteRate()
	if rate <= 0 || pcmLen <= 0 {
		return 0
	}
	return time.Duration(int64(pcmLen) * int64(time.Second) / int64(rate))
}

// Header is the decoded form of a canonical WAV header.
type Header struct {
	RIFFSize      uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// DecodeBase64 decodes standard base64 (padding required). Malformed input is
// reported as a validation error.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "audio", "decode", "malformed base64 audio payload", err)
	}
	return data, nil
}

// BuildWAV prepends a 44-byte PCM header to pcm. Parameters are written as
// given without plausibility checks, so the output is a pure function of the
// inputs.
func BuildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	f := Format{SampleRate: sampleRate, Channels: channels, BitsPerSample: bitsPerSample}
	n := len(pcm)

	out := make([]byte, HeaderSize+n)
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+n))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], formatPCM)
	le.PutUint16(out[22:24], uint16(channels))
	le.PutUint32(out[24:28], uint32(sampleRate))
	le.PutUint32(out[28:32], uint32(f.ByteRate()))
	le.PutUint16(out[32:34], uint16(f.BlockAlign()))
	le.PutUint16(out[34:36], uint16(bitsPerSample))

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(n))
	copy(out[HeaderSize:], pcm)
	return out
}

// Encode builds a WAV file for pcm in format f.
func (f Format) Encode(pcm []byte) []byte {
	return BuildWAV(pcm, f.SampleRate, f.Channels, f.BitsPerSample)
}

// IsWAV reports whether data starts with a RIFF/WAVE signature.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// ParseWAVHeader decodes a canonical 44-byte header.
func ParseWAVHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("wav header: need %d bytes, got %d", HeaderSize, len(data))
	}
	if !IsWAV(data) {
		return Header{}, fmt.Errorf("wav header: missing RIFF/WAVE signature")
	}
	if string(data[12:16]) != "fmt " {
		return Header{}, fmt.Errorf("wav header: expected fmt chunk, got %q", data[12:16])
	}
	if string(data[36:40]) != "data" {
		return Header{}, fmt.Errorf("wav header: expected data chunk, got %q", data[36:40])
	}
	le := binary.LittleEndian
	return Header{
		RIFFSize:      le.Uint32(data[4:8]),
		AudioFormat:   le.Uint16(data[20:22]),
		Channels:      le.Uint16(data[22:24]),
		SampleRate:    le.Uint32(data[24:28]),
		ByteRate:      le.Uint32(data[28:32]),
		BlockAlign:    le.Uint16(data[32:34]),
		BitsPerSample: le.Uint16(data[34:36]),
		DataSize:      le.Uint32(data[40:44]),
	}, nil
}
