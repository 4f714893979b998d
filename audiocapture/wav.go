package audiocapture

import (
	"bytes"
	"encoding/binary"
	"math"
)

// EncodeWAV wraps mono float32 samples in a 16-bit PCM WAV container.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataLen := len(samples) * 2
	var buf bytes.Buffer
	buf.Grow(44 + dataLen)

	le := binary.LittleEndian
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(1)) // PCM
	_ = binary.Write(&buf, le, uint16(1)) // mono
	_ = binary.Write(&buf, le, uint32(sampleRate))
	_ = binary.Write(&buf, le, uint32(sampleRate*2))
	_ = binary.Write(&buf, le, uint16(2))
	_ = binary.Write(&buf, le, uint16(16))

	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(dataLen))
	for _, s := range samples {
		s = max(-1, min(1, s))
		_ = binary.Write(&buf, le, int16(math.Round(float64(s)*32767)))
	}
	return buf.Bytes()
}
