//go:build gstreamer

package gstreamer

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/padelcore/padelcore/pkg/device"
)

// stream owns one capture pipeline. The pipeline is set to NULL once every
// track is stopped and no recording is in flight.
type stream struct {
	pipeline *gst.Pipeline
	c        device.Constraints

	tracks []device.Track
	mic    *micSource
	cam    *camera
	rec    *recorder

	mu       sync.Mutex
	live     int
	released bool
}

func newStream(p *gst.Pipeline, c device.Constraints) (*stream, error) {
	s := &stream{pipeline: p, c: c}

	if c.Video {
		el, err := p.GetElementByName("frames")
		if err != nil {
			return nil, fmt.Errorf("gstreamer: frames sink: %w", err)
		}
		s.cam = newCamera(app.SinkFromElement(el), c.Width, c.Height)
		s.tracks = append(s.tracks, &track{kind: device.TrackVideo, label: "camera", live: true, release: s.release})
	}
	if c.Audio {
		el, err := p.GetElementByName("pcm")
		if err != nil {
			return nil, fmt.Errorf("gstreamer: pcm sink: %w", err)
		}
		s.mic = newMicSource(app.SinkFromElement(el), c.SampleRate)
		s.tracks = append(s.tracks, &track{kind: device.TrackAudio, label: "microphone", live: true, release: s.release})
	}
	s.live = len(s.tracks)

	el, err := p.GetElementByName("record")
	if err != nil {
		return nil, fmt.Errorf("gstreamer: record sink: %w", err)
	}
	var valves []*gst.Element
	for _, name := range []string{"vrec", "arec"} {
		if v, err := p.GetElementByName(name); err == nil && v != nil {
			valves = append(valves, v)
		}
	}
	s.rec = &recorder{stream: s, sink: app.SinkFromElement(el), valves: valves}
	return s, nil
}

func (s *stream) start(ctx context.Context) error {
	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		return classify(err)
	}
	return waitPlaying(ctx, s.pipeline)
}

// release is called whenever a track stops or a recording finishes.
func (s *stream) release() {
	s.mu.Lock()
	if s.live > 0 {
		s.live--
	}
	done := s.live == 0 && !s.rec.active() && !s.released
	if done {
		s.released = true
	}
	s.mu.Unlock()

	if done {
		slog.Debug("gstreamer: releasing capture pipeline")
		s.pipeline.SetState(gst.StateNull)
	}
}

// recordingDone releases the pipeline if the tracks are already gone.
func (s *stream) recordingDone() {
	s.mu.Lock()
	done := s.live == 0 && !s.released
	if done {
		s.released = true
	}
	s.mu.Unlock()
	if done {
		s.pipeline.SetState(gst.StateNull)
	}
}

func (s *stream) Tracks() []device.Track { return s.tracks }

func (s *stream) Audio() device.AudioSource {
	if s.mic == nil {
		return nil
	}
	return s.mic
}

func (s *stream) Video() device.VideoSource {
	if s.cam == nil {
		return nil
	}
	return s.cam
}

func (s *stream) NewRecorder() (device.Recorder, error) { return s.rec, nil }

// ── camera ─────────────────────────────────────────────────────────────────────

type camera struct {
	w, h int

	mu    sync.Mutex
	frame []byte
}

func newCamera(sink *app.Sink, w, h int) *camera {
	c := &camera{w: w, h: h}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			data := pullBytes(sink)
			if len(data) != w*h*4 {
				return gst.FlowOK
			}
			c.mu.Lock()
			c.frame = data
			c.mu.Unlock()
			return gst.FlowOK
		},
	})
	return c
}

func (c *camera) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame != nil
}

func (c *camera) Snapshot() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frame == nil {
		return nil, device.ErrNotReady
	}
	img := image.NewRGBA(image.Rect(0, 0, c.w, c.h))
	copy(img.Pix, c.frame)
	return img, nil
}

// pullBytes copies the payload of the next sample out of sink.
func pullBytes(sink *app.Sink) []byte {
	sample := sink.PullSample()
	if sample == nil {
		return nil
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil
	}
	data := buffer.Map(gst.MapRead).Bytes()
	out := make([]byte, len(data))
	copy(out, data)
	buffer.Unmap()
	return out
}

// ── microphone ─────────────────────────────────────────────────────────────────

// micSource slices the F32LE appsink stream into fixed blocks.
type micSource struct {
	rate int

	mu        sync.Mutex
	out       chan []float32
	blockSize int
	pending   []float32
	dropped   uint64
	closed    bool
}

func newMicSource(sink *app.Sink, rate int) *micSource {
	m := &micSource{rate: rate}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			m.push(pullBytes(sink))
			return gst.FlowOK
		},
	})
	return m
}

func (m *micSource) push(raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.out == nil {
		return
	}
	for i := 0; i+4 <= len(raw); i += 4 {
		m.pending = append(m.pending, math.Float32frombits(binary.LittleEndian.Uint32(raw[i:])))
	}
	for len(m.pending) >= m.blockSize {
		block := make([]float32, m.blockSize)
		copy(block, m.pending)
		m.pending = m.pending[m.blockSize:]
		select {
		case m.out <- block:
		default:
			m.dropped++
		}
	}
}

func (m *micSource) SampleRate() int { return m.rate }

func (m *micSource) Connect(blockSize int) (<-chan []float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, device.ErrClosed
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("gstreamer: invalid block size %d", blockSize)
	}
	if m.out != nil {
		close(m.out)
	}
	m.blockSize = blockSize
	m.pending = nil
	m.out = make(chan []float32, 16)
	return m.out, nil
}

func (m *micSource) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.out != nil {
		close(m.out)
		m.out = nil
		if m.dropped > 0 {
			slog.Debug("gstreamer: microphone blocks dropped", "count", m.dropped)
		}
	}
	return nil
}

func (m *micSource) Close() error {
	_ = m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ── recorder ───────────────────────────────────────────────────────────────────

// recorder opens the recording valves and slices muxer output into
// timeslice-sized chunks.
type recorder struct {
	stream *stream
	sink   *app.Sink
	valves []*gst.Element

	mu      sync.Mutex
	slicer  *device.Slicer
	eos     chan struct{}
	running bool
}

func (r *recorder) MIMEType() string { return "video/webm" }

func (r *recorder) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *recorder) Start(timeslice time.Duration) (<-chan []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return r.slicer.Chunks(), nil
	}
	slicer := device.NewSlicer(timeslice, 8)
	eos := make(chan struct{})

	r.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			_, _ = slicer.Write(pullBytes(sink))
			return gst.FlowOK
		},
		EOSFunc: func(*app.Sink) {
			close(eos)
		},
	})
	for _, v := range r.valves {
		if err := v.SetProperty("drop", false); err != nil {
			slicer.Close()
			return nil, fmt.Errorf("gstreamer: open valve: %w", err)
		}
	}

	r.slicer, r.eos, r.running = slicer, eos, true
	return slicer.Chunks(), nil
}

// Stop sends EOS so the muxer writes its trailer, then emits the remainder
// and closes the chunk channel without waiting for the reader.
func (r *recorder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	slicer, eos := r.slicer, r.eos
	r.mu.Unlock()

	var err error
	if !r.stream.pipeline.SendEvent(gst.NewEOSEvent()) {
		err = fmt.Errorf("gstreamer: recorder: EOS event rejected")
	} else {
		select {
		case <-eos:
		case <-time.After(eosTimeout):
			err = fmt.Errorf("gstreamer: recorder: timed out waiting for EOS")
		}
	}
	slicer.Close()

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	r.stream.recordingDone()
	return err
}
