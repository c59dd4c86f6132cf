//go:build gstreamer

// Package gstreamer implements device.Backend on top of a GStreamer pipeline.
//
// One pipeline per stream captures the camera and the microphone. Tees split
// each source into a live branch (RGBA frames and 16 kHz float PCM pulled
// through appsinks) and a recording branch (VP8 + Opus muxed into WebM) that
// stays closed behind a valve until the recorder starts.
//
// Build with -tags gstreamer; requires the GStreamer 1.x development files.
package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/padelcore/padelcore/pkg/device"
)

var _ device.Backend = (*Backend)(nil)

const (
	// startTimeout bounds how long Acquire waits for the pipeline to play.
	startTimeout = 5 * time.Second

	// eosTimeout bounds how long Recorder.Stop waits for the muxer to drain.
	eosTimeout = 3 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithVideoSource sets the camera source element description, e.g.
// "v4l2src device=/dev/video2". Defaults to "autovideosrc".
func WithVideoSource(desc string) Option {
	return func(b *Backend) { b.videoSrc = desc }
}

// WithAudioSource sets the microphone source element description. Defaults
// to "autoaudiosrc".
func WithAudioSource(desc string) Option {
	return func(b *Backend) { b.audioSrc = desc }
}

// WithAudioSink sets the speaker sink element description. Defaults to
// "autoaudiosink".
func WithAudioSink(desc string) Option {
	return func(b *Backend) { b.audioSink = desc }
}

// ── Backend ────────────────────────────────────────────────────────────────────

// Backend acquires devices through GStreamer.
type Backend struct {
	videoSrc  string
	audioSrc  string
	audioSink string
}

// New initialises GStreamer and returns a Backend.
func New(opts ...Option) *Backend {
	gst.Init(nil)
	b := &Backend{
		videoSrc:  "autovideosrc",
		audioSrc:  "autoaudiosrc",
		audioSink: "autoaudiosink",
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Acquire builds and starts a capture pipeline for the requested tracks.
func (b *Backend) Acquire(ctx context.Context, c device.Constraints) (device.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c = c.WithDefaults()
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("gstreamer: no tracks requested: %w", device.ErrDeviceUnavailable)
	}

	launch := b.captureLaunch(c)
	slog.Debug("gstreamer: building capture pipeline", "launch", launch)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: parse pipeline: %v: %w", err, device.ErrDeviceUnavailable)
	}

	s, err := newStream(pipeline, c)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, err
	}
	if err := s.start(ctx); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, err
	}
	return s, nil
}

// captureLaunch returns the gst-launch description of the capture pipeline.
func (b *Backend) captureLaunch(c device.Constraints) string {
	var parts []string
	if c.Video || c.Audio {
		parts = append(parts, "webmmux name=mux streamable=true ! appsink name=record sync=false emit-signals=false")
	}
	if c.Video {
		parts = append(parts, fmt.Sprintf(
			"%s ! videoconvert ! videoscale ! video/x-raw,width=%d,height=%d ! tee name=vt "+
				"vt. ! queue leaky=downstream max-size-buffers=1 ! videoconvert ! video/x-raw,format=RGBA ! "+
				"appsink name=frames sync=false max-buffers=1 drop=true "+
				"vt. ! queue ! valve name=vrec drop=true ! videoconvert ! vp8enc deadline=1 ! queue ! mux.",
			b.videoSrc, c.Width, c.Height,
		))
	}
	if c.Audio {
		parts = append(parts, fmt.Sprintf(
			"%s ! tee name=at "+
				"at. ! queue ! audioconvert ! audioresample ! audio/x-raw,format=F32LE,rate=%d,channels=1 ! "+
				"appsink name=pcm sync=false "+
				"at. ! queue ! valve name=arec drop=true ! audioconvert ! audioresample ! opusenc ! queue ! mux.",
			b.audioSrc, c.SampleRate,
		))
	}
	return strings.Join(parts, " ")
}

// classify maps a GStreamer error onto the device taxonomy.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not authorized"):
		return fmt.Errorf("gstreamer: %v: %w", err, device.ErrPermissionDenied)
	default:
		return fmt.Errorf("gstreamer: %v: %w", err, device.ErrDeviceUnavailable)
	}
}

// waitPlaying polls the bus until the pipeline reaches PLAYING or fails.
func waitPlaying(ctx context.Context, p *gst.Pipeline) error {
	bus := p.GetPipelineBus()
	deadline := time.Now().Add(startTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Warn("gstreamer: pipeline error", "err", gerr.Error(), "debug", gerr.DebugString())
			return classify(errors.New(gerr.Error()))
		case gst.MessageStateChanged:
			if msg.Source() != p.GetName() {
				continue
			}
			if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying {
				return nil
			}
		}
	}
	return fmt.Errorf("gstreamer: pipeline did not start within %s: %w", startTimeout, device.ErrDeviceUnavailable)
}

// ── tracks ─────────────────────────────────────────────────────────────────────

type track struct {
	kind    device.TrackKind
	label   string
	release func()

	mu   sync.Mutex
	live bool
}

func (t *track) Kind() device.TrackKind { return t.kind }
func (t *track) Label() string          { return t.label }

func (t *track) Stop() {
	t.mu.Lock()
	if !t.live {
		t.mu.Unlock()
		return
	}
	t.live = false
	t.mu.Unlock()
	t.release()
}

func (t *track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}
