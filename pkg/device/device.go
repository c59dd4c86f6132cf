// Package device defines the local media capabilities a coaching session
// needs: microphone and camera capture, a media recorder, a preview display
// and a speaker output with a monotonic clock.
//
// Concrete backends live in sub-packages. The null backend needs no hardware
// and is always available; gstreamer and portaudio backends are compiled in
// with the matching build tags.
package device

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/padelcore/padelcore/pkg/audio"
)

var (
	// ErrPermissionDenied is returned when the user or the OS refuses access
	// to a capture device.
	ErrPermissionDenied = errors.New("device: permission denied")

	// ErrDeviceUnavailable is returned when a requested device does not exist
	// or cannot be opened.
	ErrDeviceUnavailable = errors.New("device: unavailable")

	// ErrNotReady is returned by VideoSource.Snapshot before the first frame.
	ErrNotReady = errors.New("device: no frame available yet")

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("device: closed")
)

// Constraints selects which devices to acquire.
type Constraints struct {
	Audio bool
	Video bool

	// SampleRate is the microphone rate. Zero means [audio.InputSampleRate].
	SampleRate int

	// Width and Height are the preferred camera resolution. Zero lets the
	// backend choose.
	Width  int
	Height int
}

// WithDefaults returns c with zero fields filled in.
func (c Constraints) WithDefaults() Constraints {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.InputSampleRate
	}
	if c.Video {
		if c.Width <= 0 {
			c.Width = 640
		}
		if c.Height <= 0 {
			c.Height = 480
		}
	}
	return c
}

// TrackKind identifies the media type of a Track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is one live capture device inside a Stream.
type Track interface {
	Kind() TrackKind
	Label() string

	// Stop releases the underlying device. Idempotent.
	Stop()

	// Live reports whether the track is still capturing.
	Live() bool
}

// AudioSource is the processing node attached to the microphone track.
type AudioSource interface {
	// SampleRate is the rate of delivered blocks.
	SampleRate() int

	// Connect starts delivering mono blocks of exactly blockSize samples.
	// The channel is closed by Disconnect or Close.
	Connect(blockSize int) (<-chan []float32, error)

	// Disconnect stops block delivery. Idempotent.
	Disconnect() error

	// Close releases the processing context. Idempotent.
	Close() error
}

// VideoSource exposes the latest camera frame.
type VideoSource interface {
	// Ready reports whether at least one frame has been decoded.
	Ready() bool

	// Snapshot returns a copy of the current frame.
	Snapshot() (image.Image, error)
}

// Recorder encodes the stream into a container format in timed chunks.
type Recorder interface {
	// MIMEType is the container type of the produced chunks.
	MIMEType() string

	// Start begins recording and emits one chunk roughly every timeslice.
	// The channel is closed after the final chunk following Stop.
	Start(timeslice time.Duration) (<-chan []byte, error)

	// Stop asks the recorder to flush and finish. Idempotent.
	Stop() error
}

// Stream is the set of tracks granted by a Backend.
type Stream interface {
	Tracks() []Track

	// Audio returns the microphone processing node, or nil when the stream
	// has no audio track.
	Audio() AudioSource

	// Video returns the camera frame source, or nil when the stream has no
	// video track.
	Video() VideoSource

	// NewRecorder returns a recorder over all tracks of the stream.
	NewRecorder() (Recorder, error)
}

// StopTracks stops every track of s and reports how many were stopped.
func StopTracks(s Stream) int {
	n := 0
	for _, t := range s.Tracks() {
		t.Stop()
		n++
	}
	return n
}

// Voice is one scheduled playback.
type Voice interface {
	// Stop cancels the voice whether or not it has started. Idempotent.
	Stop()

	// Done is closed when the voice finished playing or was stopped.
	Done() <-chan struct{}
}

// Output is a speaker with a monotonic clock.
type Output interface {
	SampleRate() int

	// CurrentTime is the time elapsed on the output clock since it opened.
	CurrentTime() time.Duration

	// Play schedules buf to start at the given clock time. A time in the past
	// starts immediately.
	Play(buf audio.Buffer, at time.Duration) (Voice, error)

	// Close stops every voice and releases the device. Idempotent.
	Close() error
}

// Backend grants access to local devices.
type Backend interface {
	// Acquire opens the devices requested by c. It fails with an error
	// wrapping ErrPermissionDenied or ErrDeviceUnavailable.
	Acquire(ctx context.Context, c Constraints) (Stream, error)

	// OpenOutput opens the speaker. sampleRate is a hint; callers must
	// consult Output.SampleRate.
	OpenOutput(sampleRate int) (Output, error)
}

// Split is a Backend that captures from one backend and plays through
// another, e.g. a GStreamer camera with a PortAudio speaker.
type Split struct {
	Capture Backend
	Output  Backend
}

var _ Backend = Split{}

// Acquire delegates to Capture.
func (s Split) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	return s.Capture.Acquire(ctx, c)
}

// OpenOutput delegates to Output.
func (s Split) OpenOutput(sampleRate int) (Output, error) {
	return s.Output.OpenOutput(sampleRate)
}
