package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// pcmScale maps float samples in [-1, 1] onto the int16 range.
const pcmScale = 32768

// EncodeFrame converts float samples to a base64 PCM [Blob] tagged
// [MIMEInputPCM].
//
// Each sample is multiplied by 32768, truncated toward zero and narrowed to
// int16 with two's-complement wrap-around. Values are NOT clamped: 1.0
// encodes as -32768 and anything outside [-1, 1] overflows silently. Use
// [EncodeFrameClamped] to saturate instead.
func EncodeFrame(samples []float32) Blob {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(int32(float64(s) * pcmScale))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return Blob{
		Data:     base64.StdEncoding.EncodeToString(buf),
		MIMEType: MIMEInputPCM,
	}
}

// EncodeFrameClamped is like [EncodeFrame] but saturates samples to the
// int16 range instead of wrapping.
func EncodeFrameClamped(samples []float32) Blob {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Trunc(float64(s) * pcmScale)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
	}
	return Blob{
		Data:     base64.StdEncoding.EncodeToString(buf),
		MIMEType: MIMEInputPCM,
	}
}

// DecodeChunk reinterprets pcm as little-endian int16 samples, scales them
// back to [-1, 1) and de-interleaves them into channels. The frame count is
// len(pcm)/2/channels; a trailing partial frame is ignored.
func DecodeChunk(pcm []byte, sampleRate, channels int) Buffer {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / 2 / channels
	data := make([][]float32, channels)
	for ch := range data {
		data[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(pcm[off:]))
			data[ch][i] = float32(s) / pcmScale
		}
	}
	return Buffer{SampleRate: sampleRate, Data: data}
}

// DecodeBase64Chunk decodes a base64 PCM payload with [DecodeChunk].
func DecodeBase64Chunk(data string, sampleRate, channels int) (Buffer, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: decode base64: %w", err)
	}
	return DecodeChunk(pcm, sampleRate, channels), nil
}
