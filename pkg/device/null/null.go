// Package null implements a device.Backend without hardware.
//
// The microphone delivers silence in real time, the camera shows a flat gray
// frame, the recorder produces no data and the speaker discards what it
// renders while keeping an accurate clock. It lets the service run on hosts
// with no media stack and gives the session pipeline something deterministic
// to talk to.
package null

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"github.com/padelcore/padelcore/pkg/device"
)

var _ device.Backend = (*Backend)(nil)

// renderPeriod is how often the speaker clock advances.
const renderPeriod = 20 * time.Millisecond

// Backend is the null device backend.
type Backend struct{}

// New returns a null Backend.
func New() *Backend { return &Backend{} }

// Acquire returns a stream with the requested tracks.
func (b *Backend) Acquire(ctx context.Context, c device.Constraints) (device.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c = c.WithDefaults()
	s := &stream{}
	if c.Audio {
		s.audio = &track{kind: device.TrackAudio, label: "null microphone", live: true}
		s.src = &silence{rate: c.SampleRate}
		s.tracks = append(s.tracks, s.audio)
	}
	if c.Video {
		s.tracks = append(s.tracks, &track{kind: device.TrackVideo, label: "null camera", live: true})
		s.video = newGrayFrame(c.Width, c.Height)
	}
	return s, nil
}

// OpenOutput returns a Mixer whose clock advances in real time.
func (b *Backend) OpenOutput(sampleRate int) (device.Output, error) {
	o := &output{
		Mixer: device.NewMixer(sampleRate),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go o.run()
	return o, nil
}

// ── stream ─────────────────────────────────────────────────────────────────────

type stream struct {
	tracks []device.Track
	audio  *track
	src    *silence
	video  *grayFrame
}

func (s *stream) Tracks() []device.Track { return s.tracks }

func (s *stream) Audio() device.AudioSource {
	if s.src == nil {
		return nil
	}
	return s.src
}

func (s *stream) Video() device.VideoSource {
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *stream) NewRecorder() (device.Recorder, error) { return &recorder{}, nil }

type track struct {
	kind  device.TrackKind
	label string

	mu   sync.Mutex
	live bool
}

func (t *track) Kind() device.TrackKind { return t.kind }
func (t *track) Label() string          { return t.label }

func (t *track) Stop() {
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
}

func (t *track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// ── microphone ─────────────────────────────────────────────────────────────────

// silence emits zero blocks at the pace a real microphone would.
type silence struct {
	rate int

	mu     sync.Mutex
	stop   chan struct{}
	closed bool
}

func (s *silence) SampleRate() int { return s.rate }

func (s *silence) Connect(blockSize int) (<-chan []float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, device.ErrClosed
	}
	if s.stop != nil {
		close(s.stop)
	}
	stop := make(chan struct{})
	s.stop = stop
	out := make(chan []float32, 4)
	period := time.Duration(blockSize) * time.Second / time.Duration(s.rate)

	go func() {
		defer close(out)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case out <- make([]float32, blockSize):
				default:
				}
			}
		}
	}()
	return out, nil
}

func (s *silence) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	return nil
}

func (s *silence) Close() error {
	_ = s.Disconnect()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ── camera ─────────────────────────────────────────────────────────────────────

type grayFrame struct {
	img *image.RGBA
}

func newGrayFrame(w, h int) *grayFrame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: 0x80}}, image.Point{}, draw.Src)
	return &grayFrame{img: img}
}

func (g *grayFrame) Ready() bool { return true }

func (g *grayFrame) Snapshot() (image.Image, error) {
	cp := image.NewRGBA(g.img.Bounds())
	copy(cp.Pix, g.img.Pix)
	return cp, nil
}

// ── recorder ───────────────────────────────────────────────────────────────────

type recorder struct {
	mu     sync.Mutex
	slicer *device.Slicer
}

func (r *recorder) MIMEType() string { return "video/webm" }

// Start slices an empty stream, so the channel stays quiet until Stop closes
// it.
func (r *recorder) Start(timeslice time.Duration) (<-chan []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slicer == nil {
		r.slicer = device.NewSlicer(timeslice, 1)
	}
	return r.slicer.Chunks(), nil
}

func (r *recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slicer != nil {
		r.slicer.Close()
	}
	return nil
}

// ── speaker ────────────────────────────────────────────────────────────────────

type output struct {
	*device.Mixer

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (o *output) run() {
	defer close(o.done)
	ticker := time.NewTicker(renderPeriod)
	defer ticker.Stop()
	start := time.Now()
	var rendered int64
	for {
		select {
		case <-o.stop:
			return
		case now := <-ticker.C:
			target := int64(now.Sub(start)) * int64(o.SampleRate()) / int64(time.Second)
			if n := target - rendered; n > 0 {
				o.Render(make([]float32, n))
				rendered = target
			}
		}
	}
}

func (o *output) Close() error {
	o.once.Do(func() {
		close(o.stop)
		<-o.done
	})
	return o.Mixer.Close()
}
