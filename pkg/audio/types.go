// Package audio holds the PCM codec used between local devices and the
// remote live endpoint.
//
// Microphone input is captured as float32 samples in [-1, 1] and sent as
// 16-bit little-endian PCM at [InputSampleRate]. Replies arrive as 16-bit
// PCM at [OutputSampleRate] and are decoded back to float32 [Buffer]s for
// playback.
package audio

import "time"

const (
	// InputSampleRate is the capture rate expected by the live endpoint.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of audio replies from the live endpoint.
	OutputSampleRate = 24000

	// MIMEInputPCM tags encoded microphone frames.
	MIMEInputPCM = "audio/pcm;rate=16000"

	// MIMEJPEG tags encoded camera stills.
	MIMEJPEG = "image/jpeg"
)

// Blob is a transport payload: base64 data tagged with a MIME type.
type Blob struct {
	// Data is the base64 (standard encoding) payload.
	Data string

	// MIMEType describes the decoded payload, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// Buffer is decoded, playable audio. Data holds one slice per channel, each
// with the same number of frames.
type Buffer struct {
	SampleRate int
	Data       [][]float32
}

// Channels returns the number of channels in b.
func (b Buffer) Channels() int { return len(b.Data) }

// Frames returns the number of sample frames per channel.
func (b Buffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the playback length of b.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(b.Frames()) * int64(time.Second) / int64(b.SampleRate))
}
