// Package capture turns local microphone blocks and camera frames into
// realtime input payloads and feeds them, in order, to a live session.
//
// Payloads produced before the session is open wait in a bounded pending
// queue. Once the session opens they are flushed in arrival order and every
// later payload goes through a single writer goroutine, so the remote side
// sees audio and images in the order they were captured.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/padelcore/padelcore/internal/observe"
	"github.com/padelcore/padelcore/pkg/audio"
	"github.com/padelcore/padelcore/pkg/device"
)

// Config controls encoding and queueing.
type Config struct {
	// BlockSize is the number of samples per microphone block. Default 4096.
	BlockSize int

	// FrameInterval is the camera still period. Default 1s.
	FrameInterval time.Duration

	// MaxFrameWidth caps the width of encoded stills; wider frames are
	// downscaled preserving aspect ratio. Zero disables scaling. Default 640.
	MaxFrameWidth int

	// JPEGQuality is the still quality in [1, 100]. Default 80.
	JPEGQuality int

	// PendingLimit bounds the pre-open queue; the oldest payload is dropped
	// beyond it. Default 64.
	PendingLimit int

	// QueueSize is the capacity of the writer channel. Default 32.
	QueueSize int

	// ClampInput saturates out-of-range samples instead of letting them wrap.
	ClampInput bool
}

// WithDefaults returns c with zero fields filled in.
func (c Config) WithDefaults() Config {
	if c.BlockSize <= 0 {
		c.BlockSize = 4096
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = time.Second
	}
	if c.MaxFrameWidth < 0 {
		c.MaxFrameWidth = 0
	} else if c.MaxFrameWidth == 0 {
		c.MaxFrameWidth = 640
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = 80
	}
	if c.PendingLimit <= 0 {
		c.PendingLimit = 64
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	return c
}

// Sink receives realtime input. live.SessionHandle satisfies it.
type Sink interface {
	SendRealtimeInput(blob audio.Blob) error
}

// Stats counts what happened to payloads.
type Stats struct {
	Sent          int
	SendErrors    int
	DroppedFull   int // writer queue full
	DroppedClosed int // submitted after Close
	DroppedStale  int // evicted from the pending queue
	Pending       int
}

// Pipeline encodes and forwards payloads for one session.
type Pipeline struct {
	cfg     Config
	metrics *observe.Metrics

	mu      sync.Mutex
	pending []audio.Blob
	queue   chan audio.Blob
	done    chan struct{}
	open    bool
	closed  bool
	stats   Stats

	// Updated by the writer without p.mu, which Open holds while flushing.
	sent       atomic.Int64
	sendErrors atomic.Int64
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithMetrics records payload counters on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New returns a Pipeline in the pre-open state.
func New(cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg.WithDefaults()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// EncodeAudio encodes one microphone block.
func (p *Pipeline) EncodeAudio(block []float32) audio.Blob {
	if p.cfg.ClampInput {
		return audio.EncodeFrameClamped(block)
	}
	return audio.EncodeFrame(block)
}

// EncodeImage downscales img to MaxFrameWidth and encodes it as JPEG.
func (p *Pipeline) EncodeImage(img image.Image) (audio.Blob, error) {
	img = Downscale(img, p.cfg.MaxFrameWidth)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.cfg.JPEGQuality}); err != nil {
		return audio.Blob{}, fmt.Errorf("capture: encode jpeg: %w", err)
	}
	return audio.Blob{
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		MIMEType: audio.MIMEJPEG,
	}, nil
}

// Downscale returns img scaled to at most maxWidth pixels wide. Images that
// already fit, or a maxWidth <= 0, are returned unchanged.
func Downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := max(1, b.Dy()*maxWidth/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// SubmitAudio encodes and submits one microphone block.
func (p *Pipeline) SubmitAudio(block []float32) {
	p.Submit(p.EncodeAudio(block))
}

// SubmitFrame snapshots src and submits the still. It reports false without
// error when the source has no frame yet.
func (p *Pipeline) SubmitFrame(src device.VideoSource) (bool, error) {
	if src == nil || !src.Ready() {
		return false, nil
	}
	img, err := src.Snapshot()
	if err != nil {
		return false, fmt.Errorf("capture: snapshot: %w", err)
	}
	blob, err := p.EncodeImage(img)
	if err != nil {
		return false, err
	}
	p.Submit(blob)
	return true, nil
}

// Submit queues blob for sending. Before Open it goes to the pending queue;
// after Open it goes to the writer, or is dropped and counted when the
// writer is backed up.
func (p *Pipeline) Submit(blob audio.Blob) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		p.stats.DroppedClosed++
		p.recordDrop(blob, "closed")
	case !p.open:
		if len(p.pending) >= p.cfg.PendingLimit {
			clear(p.pending[:1])
			p.pending = p.pending[1:]
			p.stats.DroppedStale++
			p.recordDrop(blob, "pending_limit")
		}
		p.pending = append(p.pending, blob)
	default:
		select {
		case p.queue <- blob:
		default:
			p.stats.DroppedFull++
			p.recordDrop(blob, "queue_full")
		}
	}
}

// Open starts the writer on sink and flushes the pending queue in order.
// The flush blocks until every pending payload is accepted by the writer.
func (p *Pipeline) Open(sink Sink) {
	p.mu.Lock()
	if p.open || p.closed {
		p.mu.Unlock()
		return
	}
	pending := p.pending
	p.pending = nil
	p.queue = make(chan audio.Blob, p.cfg.QueueSize)
	p.done = make(chan struct{})
	p.open = true
	queue := p.queue

	go p.write(sink, queue, p.done)

	// Flushing under the lock keeps later Submits behind the backlog.
	for _, b := range pending {
		queue <- b
	}
	p.mu.Unlock()

	if len(pending) > 0 {
		slog.Debug("capture: flushed pending payloads", "count", len(pending))
	}
}

// write is the only goroutine that talks to sink.
func (p *Pipeline) write(sink Sink, queue <-chan audio.Blob, done chan<- struct{}) {
	defer close(done)
	warned := false
	for blob := range queue {
		err := sink.SendRealtimeInput(blob)
		if err != nil {
			p.sendErrors.Add(1)
			if !warned {
				slog.Warn("capture: send failed", "mime", blob.MIMEType, "err", err)
				warned = true
			}
			continue
		}
		p.sent.Add(1)
		if p.metrics != nil {
			p.metrics.RecordCapture(context.Background(), kindOf(blob))
		}
	}
}

// Close stops accepting payloads, lets the writer drain what it already
// holds and waits for it to exit. Idempotent.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	dropped := len(p.pending)
	p.pending = nil
	p.stats.DroppedClosed += dropped
	queue, done := p.queue, p.done
	p.mu.Unlock()

	if queue != nil {
		close(queue)
		<-done
	}
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Pending = len(p.pending)
	s.Sent = int(p.sent.Load())
	s.SendErrors = int(p.sendErrors.Load())
	return s
}

func (p *Pipeline) recordDrop(blob audio.Blob, reason string) {
	if p.metrics != nil {
		p.metrics.RecordCaptureDrop(context.Background(), kindOf(blob), reason)
	}
}

func kindOf(blob audio.Blob) string {
	if strings.HasPrefix(blob.MIMEType, "image/") {
		return "image"
	}
	return "audio"
}
