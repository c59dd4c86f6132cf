//go:build portaudio

// Package portaudio implements device.Backend for audio-only sessions on top
// of PortAudio: the default input device as microphone and the default output
// device as speaker. It provides no camera; acquiring video fails with
// device.ErrDeviceUnavailable.
//
// Build with -tags portaudio; requires the PortAudio library.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/padelcore/padelcore/pkg/device"
)

var _ device.Backend = (*Backend)(nil)

// outputFrames is the speaker callback size (20 ms at 24 kHz).
const outputFrames = 480

// Backend is the PortAudio device backend. Close terminates the library.
type Backend struct {
	mu   sync.Mutex
	init bool
}

// New initialises PortAudio.
func New() (*Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Backend{init: true}, nil
}

// Close terminates PortAudio.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.init {
		return nil
	}
	b.init = false
	return portaudio.Terminate()
}

// classify maps a PortAudio error onto the device taxonomy.
func classify(err error) error {
	if errors.Is(err, portaudio.DeviceUnavailable) || errors.Is(err, portaudio.InvalidDevice) {
		return fmt.Errorf("portaudio: %v: %w", err, device.ErrDeviceUnavailable)
	}
	if strings.Contains(strings.ToLower(err.Error()), "permission") {
		return fmt.Errorf("portaudio: %v: %w", err, device.ErrPermissionDenied)
	}
	return fmt.Errorf("portaudio: %v: %w", err, device.ErrDeviceUnavailable)
}

// Acquire opens the default input device.
func (b *Backend) Acquire(ctx context.Context, c device.Constraints) (device.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Video {
		return nil, fmt.Errorf("portaudio: no camera support: %w", device.ErrDeviceUnavailable)
	}
	if !c.Audio {
		return nil, fmt.Errorf("portaudio: no tracks requested: %w", device.ErrDeviceUnavailable)
	}
	c = c.WithDefaults()

	in, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, classify(err)
	}
	mic := &micSource{rate: c.SampleRate, dev: in}
	t := &track{label: in.Name, mic: mic, live: true}
	return &stream{track: t, mic: mic}, nil
}

// OpenOutput opens the default output device with a callback that renders a
// device.Mixer.
func (b *Backend) OpenOutput(sampleRate int) (device.Output, error) {
	o := &output{Mixer: device.NewMixer(sampleRate)}
	st, err := portaudio.OpenDefaultStream(0, 1, float64(o.SampleRate()), outputFrames, o.callback)
	if err != nil {
		return nil, classify(err)
	}
	if err := st.Start(); err != nil {
		st.Close()
		return nil, classify(err)
	}
	o.stream = st
	return o, nil
}

// ── stream ─────────────────────────────────────────────────────────────────────

type stream struct {
	track *track
	mic   *micSource
}

func (s *stream) Tracks() []device.Track    { return []device.Track{s.track} }
func (s *stream) Audio() device.AudioSource { return s.mic }
func (s *stream) Video() device.VideoSource { return nil }

func (s *stream) NewRecorder() (device.Recorder, error) {
	return nil, fmt.Errorf("portaudio: recording not supported: %w", device.ErrDeviceUnavailable)
}

type track struct {
	label string
	mic   *micSource

	mu   sync.Mutex
	live bool
}

func (t *track) Kind() device.TrackKind { return device.TrackAudio }
func (t *track) Label() string          { return t.label }

func (t *track) Stop() {
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
	_ = t.mic.Close()
}

func (t *track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// ── microphone ─────────────────────────────────────────────────────────────────

// micSource reads blocking blocks from the input device on its own goroutine.
type micSource struct {
	rate int
	dev  *portaudio.DeviceInfo

	mu     sync.Mutex
	st     *portaudio.Stream
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

func (m *micSource) SampleRate() int { return m.rate }

func (m *micSource) Connect(blockSize int) (<-chan []float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, device.ErrClosed
	}
	if m.st != nil {
		return nil, fmt.Errorf("portaudio: microphone already connected")
	}

	buf := make([]float32, blockSize)
	params := portaudio.LowLatencyParameters(m.dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(m.rate)
	params.FramesPerBuffer = blockSize
	st, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, classify(err)
	}
	if err := st.Start(); err != nil {
		st.Close()
		return nil, classify(err)
	}

	m.st = st
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	out := make(chan []float32, 4)
	go m.read(st, buf, out, m.stop, m.done)
	return out, nil
}

func (m *micSource) read(st *portaudio.Stream, buf []float32, out chan<- []float32, stop, done chan struct{}) {
	defer close(done)
	defer close(out)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := st.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			slog.Warn("portaudio: microphone read failed", "err", err)
			return
		}
		block := make([]float32, len(buf))
		copy(block, buf)
		select {
		case out <- block:
		case <-stop:
			return
		}
	}
}

func (m *micSource) Disconnect() error {
	m.mu.Lock()
	st, stop, done := m.st, m.stop, m.done
	m.st = nil
	m.mu.Unlock()
	if st == nil {
		return nil
	}

	close(stop)
	errStop := st.Stop()
	<-done
	return errors.Join(errStop, st.Close())
}

func (m *micSource) Close() error {
	err := m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return err
}

// ── speaker ────────────────────────────────────────────────────────────────────

type output struct {
	*device.Mixer
	stream *portaudio.Stream
	once   sync.Once
}

// callback runs on the PortAudio thread.
func (o *output) callback(out []float32) {
	o.Render(out)
}

func (o *output) Close() error {
	var err error
	o.once.Do(func() {
		err = errors.Join(o.stream.Stop(), o.stream.Close())
	})
	return errors.Join(err, o.Mixer.Close())
}
