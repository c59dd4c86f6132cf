package device

import (
	"image"
	"sync"
)

// Preview is the local display a session attaches its camera stream to.
// It serves the latest frame to whoever asks, e.g. an HTTP preview endpoint.
type Preview struct {
	mu  sync.Mutex
	src VideoSource
}

// Attach shows s on the display. A stream without video clears it.
func (p *Preview) Attach(s Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.src = s.Video()
}

// Detach clears the display.
func (p *Preview) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.src = nil
}

// Attached reports whether a video source is shown.
func (p *Preview) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src != nil
}

// Frame returns the current frame of the attached source.
func (p *Preview) Frame() (image.Image, error) {
	p.mu.Lock()
	src := p.src
	p.mu.Unlock()
	if src == nil || !src.Ready() {
		return nil, ErrNotReady
	}
	return src.Snapshot()
}
