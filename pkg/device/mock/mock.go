// Package mock provides test doubles for the device package interfaces.
//
// Backend hands out a Stream whose microphone blocks, camera readiness and
// recorder chunks are pushed by the test, and an Output whose clock only
// moves when the test advances it.
package mock

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/padelcore/padelcore/pkg/audio"
	"github.com/padelcore/padelcore/pkg/device"
)

var (
	_ device.Backend     = (*Backend)(nil)
	_ device.Stream      = (*Stream)(nil)
	_ device.AudioSource = (*AudioSource)(nil)
	_ device.VideoSource = (*VideoSource)(nil)
	_ device.Recorder    = (*Recorder)(nil)
	_ device.Output      = (*Output)(nil)
)

// Backend is a mock implementation of device.Backend.
type Backend struct {
	mu sync.Mutex

	// AcquireErr, if non-nil, is returned from Acquire.
	AcquireErr error

	// OutputErr, if non-nil, is returned from OpenOutput.
	OutputErr error

	// Stream is returned from Acquire. If nil, a new one is built from the
	// requested constraints.
	Stream *Stream

	// Output is returned from OpenOutput. If nil, a new one is created.
	Output *Output

	// AcquireCalls records the constraints of every Acquire call.
	AcquireCalls []device.Constraints

	// AcquireGate, if non-nil, holds Acquire until it is closed or the
	// context ends, like a pending permission prompt.
	AcquireGate chan struct{}
}

// Acquire records the call and returns Stream or AcquireErr.
func (b *Backend) Acquire(ctx context.Context, c device.Constraints) (device.Stream, error) {
	b.mu.Lock()
	b.AcquireCalls = append(b.AcquireCalls, c)
	gate := b.AcquireGate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.AcquireErr != nil {
		return nil, b.AcquireErr
	}
	if b.Stream == nil {
		b.Stream = NewStream(c)
	}
	return b.Stream, nil
}

// OpenOutput returns Output or OutputErr.
func (b *Backend) OpenOutput(sampleRate int) (device.Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OutputErr != nil {
		return nil, b.OutputErr
	}
	if b.Output == nil {
		b.Output = NewOutput(sampleRate)
	}
	return b.Output, nil
}

// AcquireCount returns the number of Acquire calls so far.
func (b *Backend) AcquireCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.AcquireCalls)
}

// CurrentStream returns the stream handed out by Acquire, if any.
func (b *Backend) CurrentStream() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Stream
}

// CurrentOutput returns the output handed out by OpenOutput, if any.
func (b *Backend) CurrentOutput() *Output {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Output
}

// ── Stream ────────────────────────────────────────────────────────────────────

// Stream is a mock implementation of device.Stream.
type Stream struct {
	AudioTrack *Track
	VideoTrack *Track
	Mic        *AudioSource
	Camera     *VideoSource
	Rec        *Recorder

	// RecorderErr, if non-nil, is returned from NewRecorder.
	RecorderErr error
}

// NewStream builds a stream with the tracks c asks for.
func NewStream(c device.Constraints) *Stream {
	c = c.WithDefaults()
	s := &Stream{Rec: NewRecorder()}
	if c.Audio {
		s.AudioTrack = &Track{kind: device.TrackAudio}
		s.Mic = NewAudioSource(c.SampleRate)
	}
	if c.Video {
		s.VideoTrack = &Track{kind: device.TrackVideo}
		s.Camera = &VideoSource{Frame: image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))}
	}
	return s
}

func (s *Stream) Tracks() []device.Track {
	var out []device.Track
	if s.AudioTrack != nil {
		out = append(out, s.AudioTrack)
	}
	if s.VideoTrack != nil {
		out = append(out, s.VideoTrack)
	}
	return out
}

func (s *Stream) Audio() device.AudioSource {
	if s.Mic == nil {
		return nil
	}
	return s.Mic
}

func (s *Stream) Video() device.VideoSource {
	if s.Camera == nil {
		return nil
	}
	return s.Camera
}

func (s *Stream) NewRecorder() (device.Recorder, error) {
	if s.RecorderErr != nil {
		return nil, s.RecorderErr
	}
	return s.Rec, nil
}

// Track is a mock implementation of device.Track.
type Track struct {
	kind device.TrackKind

	mu    sync.Mutex
	stops int
}

func (t *Track) Kind() device.TrackKind { return t.kind }
func (t *Track) Label() string          { return "mock " + string(t.kind) }

func (t *Track) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
}

func (t *Track) Live() bool { return t.Stops() == 0 }

// Stops returns how many times Stop was called.
func (t *Track) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// ── AudioSource ───────────────────────────────────────────────────────────────

// AudioSource is a mock microphone node. Push feeds blocks to the connected
// consumer.
type AudioSource struct {
	rate int

	mu          sync.Mutex
	out         chan []float32
	connected   bool
	BlockSize   int
	Disconnects int
	Closes      int
}

// NewAudioSource returns a mock microphone at rate.
func NewAudioSource(rate int) *AudioSource {
	return &AudioSource{rate: rate}
}

func (a *AudioSource) SampleRate() int { return a.rate }

func (a *AudioSource) Connect(blockSize int) (<-chan []float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Closes > 0 {
		return nil, device.ErrClosed
	}
	a.BlockSize = blockSize
	a.out = make(chan []float32, 64)
	a.connected = true
	return a.out, nil
}

// Push delivers one block. It reports false if the source is not connected.
func (a *AudioSource) Push(block []float32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return false
	}
	a.out <- block
	return true
}

// Connected reports whether a consumer is attached.
func (a *AudioSource) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *AudioSource) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Disconnects++
	if a.connected {
		close(a.out)
		a.connected = false
	}
	return nil
}

func (a *AudioSource) Close() error {
	_ = a.Disconnect()
	a.mu.Lock()
	a.Closes++
	a.mu.Unlock()
	return nil
}

// Counts returns the number of Disconnect and Close calls.
func (a *AudioSource) Counts() (disconnects, closes int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Disconnects, a.Closes
}

// ── VideoSource ───────────────────────────────────────────────────────────────

// VideoSource is a mock camera. It reports ready once Frame is set and
// NotReady is false.
type VideoSource struct {
	mu        sync.Mutex
	Frame     image.Image
	NotReady  bool
	Snapshots int
}

// SetReady toggles readiness.
func (v *VideoSource) SetReady(ready bool) {
	v.mu.Lock()
	v.NotReady = !ready
	v.mu.Unlock()
}

func (v *VideoSource) Ready() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.NotReady && v.Frame != nil
}

func (v *VideoSource) Snapshot() (image.Image, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.NotReady || v.Frame == nil {
		return nil, device.ErrNotReady
	}
	v.Snapshots++
	return v.Frame, nil
}

// SnapshotCount returns how many snapshots were taken.
func (v *VideoSource) SnapshotCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Snapshots
}

// ── Recorder ──────────────────────────────────────────────────────────────────

// Recorder is a mock media recorder. Push emits a chunk while recording;
// Final chunks are emitted when Stop is called.
type Recorder struct {
	mu        sync.Mutex
	out       chan []byte
	started   bool
	stopped   bool
	Timeslice time.Duration
	Stops     int

	// Final is emitted after Stop, before the channel closes.
	Final [][]byte
}

// NewRecorder returns an idle mock recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) MIMEType() string { return "video/webm" }

func (r *Recorder) Start(timeslice time.Duration) (<-chan []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Timeslice = timeslice
	r.out = make(chan []byte, 64)
	r.started = true
	return r.out, nil
}

// Push emits a chunk. It reports false unless recording.
func (r *Recorder) Push(chunk []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.stopped {
		return false
	}
	r.out <- chunk
	return true
}

// Recording reports whether Start was called and Stop was not.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started && !r.stopped
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stops++
	if !r.started || r.stopped {
		return nil
	}
	r.stopped = true
	for _, c := range r.Final {
		r.out <- c
	}
	close(r.out)
	return nil
}

// StopCount returns how many times Stop was called.
func (r *Recorder) StopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Stops
}

// ── Output ────────────────────────────────────────────────────────────────────

// PlayCall records one Output.Play.
type PlayCall struct {
	At       time.Duration
	Duration time.Duration
}

// Output wraps a device.Mixer whose clock moves only through Advance or
// Render, and records every Play.
type Output struct {
	*device.Mixer

	mu     sync.Mutex
	plays  []PlayCall
	closes int
}

// NewOutput returns a mock speaker at sampleRate.
func NewOutput(sampleRate int) *Output {
	return &Output{Mixer: device.NewMixer(sampleRate)}
}

func (o *Output) Play(buf audio.Buffer, at time.Duration) (device.Voice, error) {
	o.mu.Lock()
	o.plays = append(o.plays, PlayCall{At: at, Duration: buf.Duration()})
	o.mu.Unlock()
	return o.Mixer.Play(buf, at)
}

func (o *Output) Close() error {
	o.mu.Lock()
	o.closes++
	o.mu.Unlock()
	return o.Mixer.Close()
}

// Plays returns a copy of the recorded Play calls.
func (o *Output) Plays() []PlayCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PlayCall(nil), o.plays...)
}

// Closes returns the number of Close calls.
func (o *Output) Closes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closes
}
