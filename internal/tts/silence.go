package tts

import (
	"bytes"
	"encoding/binary"
	"time"
)

// SampleRate is the pipeline-wide audio sample rate in Hz. Every engine
// produces audio at this rate, so silence has to match it.
const SampleRate = 24000

// SilenceDuration is how much silence stands in for a slide whose
// narration could not be synthesized at all.
const SilenceDuration = 3 * time.Second

// SilenceWAV builds a 16-bit mono PCM WAV of the given duration. It is
// pure computation with no I/O, so the final fallback tier cannot fail.
func SilenceWAV(d time.Duration) []byte {
	samples := int(float64(SampleRate) * d.Seconds())
	dataSize := samples * 2 // 16-bit mono

	var buf bytes.Buffer
	buf.Grow(44 + dataSize)

	// RIFF header
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	// fmt chunk: PCM, mono, 16-bit
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(SampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))

	// data chunk of zero samples
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(make([]byte, dataSize))

	return buf.Bytes()
}
