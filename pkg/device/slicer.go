package device

import (
	"bytes"
	"sync"
	"time"
)

// Slicer turns a byte stream from a muxer into chunks emitted every
// timeslice, the way a browser MediaRecorder does. Write may be called from
// any goroutine. Close never blocks on a reader that has gone away.
type Slicer struct {
	mu  sync.Mutex
	buf bytes.Buffer

	out  chan []byte
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSlicer starts slicing every timeslice (default 1s) into a channel with
// room for capacity chunks.
func NewSlicer(timeslice time.Duration, capacity int) *Slicer {
	if timeslice <= 0 {
		timeslice = time.Second
	}
	s := &Slicer{
		out:  make(chan []byte, capacity),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run(timeslice)
	return s
}

// Chunks returns the chunk channel. It is closed by Close after the
// remainder has been handed over.
func (s *Slicer) Chunks() <-chan []byte { return s.out }

// Write appends muxer output to the current chunk.
func (s *Slicer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

// Close stops slicing and emits whatever is buffered as a final chunk. If the
// channel is full the remainder is delivered by a background goroutine, so
// Close returns without waiting for the reader.
func (s *Slicer) Close() {
	s.once.Do(func() {
		close(s.stop)
		<-s.done

		chunk := s.take()
		if len(chunk) == 0 {
			close(s.out)
			return
		}
		select {
		case s.out <- chunk:
			close(s.out)
		default:
			go func() {
				s.out <- chunk
				close(s.out)
			}()
		}
	})
}

func (s *Slicer) run(timeslice time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			chunk := s.take()
			if len(chunk) == 0 {
				continue
			}
			select {
			case s.out <- chunk:
			case <-s.stop:
				s.unread(chunk)
				return
			}
		}
	}
}

func (s *Slicer) take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Len() == 0 {
		return nil
	}
	chunk := bytes.Clone(s.buf.Bytes())
	s.buf.Reset()
	return chunk
}

// unread puts chunk back in front of anything written since it was taken.
func (s *Slicer) unread(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rest := s.buf.Bytes()
	merged := make([]byte, 0, len(chunk)+len(rest))
	merged = append(append(merged, chunk...), rest...)
	s.buf.Reset()
	s.buf.Write(merged)
}
