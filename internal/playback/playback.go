// Package playback schedules decoded audio replies back-to-back on a speaker
// clock so that consecutive chunks never overlap.
package playback

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/padelcore/padelcore/pkg/audio"
	"github.com/padelcore/padelcore/pkg/device"
)

// Scheduled describes one chunk placed on the output timeline.
type Scheduled struct {
	Start    time.Duration
	Duration time.Duration
}

// End returns the time the chunk stops playing.
func (s Scheduled) End() time.Duration { return s.Start + s.Duration }

// Scheduler places reply chunks on an [device.Output]. A Scheduler belongs
// to exactly one session.
//
// Each chunk starts at max(nextStart, output clock) and nextStart advances by
// the chunk's duration, so start(n+1) >= start(n)+dur(n) always holds. If a
// chunk arrives after the previous one finished there is an audible gap; no
// buffering ahead is attempted.
type Scheduler struct {
	out      device.Output
	channels int

	mu        sync.Mutex
	nextStart time.Duration
	live      map[device.Voice]struct{}
	stopped   bool
}

// New returns a Scheduler for out. Chunks are mono PCM at
// [audio.OutputSampleRate].
func New(out device.Output) *Scheduler {
	return &Scheduler{
		out:      out,
		channels: 1,
		live:     make(map[device.Voice]struct{}),
	}
}

// NextStart returns the earliest time the next chunk may start.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Live returns the number of chunks scheduled and not yet finished.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Enqueue decodes a base64 PCM reply and schedules it.
func (s *Scheduler) Enqueue(blob audio.Blob) (Scheduled, error) {
	pcm, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return Scheduled{}, fmt.Errorf("playback: decode base64: %w", err)
	}
	return s.EnqueuePCM(pcm)
}

// EnqueuePCM schedules raw 16-bit little-endian PCM at
// [audio.OutputSampleRate]. It is resampled when the speaker runs at a
// different rate.
func (s *Scheduler) EnqueuePCM(pcm []byte) (Scheduled, error) {
	rate := audio.OutputSampleRate
	if outRate := s.out.SampleRate(); outRate > 0 && outRate != rate {
		pcm = audio.ResampleMono16(pcm, rate, outRate)
		rate = outRate
	}
	return s.Schedule(audio.DecodeChunk(pcm, rate, s.channels))
}

// Schedule places buf on the output timeline.
func (s *Scheduler) Schedule(buf audio.Buffer) (Scheduled, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return Scheduled{}, fmt.Errorf("playback: scheduler stopped")
	}

	start := max(s.nextStart, s.out.CurrentTime())
	voice, err := s.out.Play(buf, start)
	if err != nil {
		return Scheduled{}, fmt.Errorf("playback: play: %w", err)
	}
	dur := buf.Duration()
	s.nextStart = start + dur
	s.live[voice] = struct{}{}
	go s.reap(voice)

	slog.Debug("playback: chunk scheduled", "start", start, "duration", dur)
	return Scheduled{Start: start, Duration: dur}, nil
}

// reap drops voice from the live set once it finishes.
func (s *Scheduler) reap(voice device.Voice) {
	<-voice.Done()
	s.mu.Lock()
	delete(s.live, voice)
	s.mu.Unlock()
}

// Interrupt force-stops every scheduled chunk but keeps accepting new ones.
// nextStart is left where it was; it never moves backwards within a session.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// StopAll force-stops every scheduled chunk and rejects further scheduling.
// It returns the number of chunks that were still live.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return s.stopLocked()
}

func (s *Scheduler) stopLocked() int {
	n := len(s.live)
	for v := range s.live {
		v.Stop()
	}
	clear(s.live)
	return n
}
