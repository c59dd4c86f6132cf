package device

import (
	"sync"
	"time"

	"github.com/padelcore/padelcore/pkg/audio"
)

var _ Output = (*Mixer)(nil)

// Mixer is a pull-driven [Output]. Voices are placed on a sample timeline;
// each call to Render fills the next block of mono samples and advances the
// clock by exactly that many samples. Backends drive Render from an audio
// callback or a ticker, tests drive it by hand.
type Mixer struct {
	rate int

	mu     sync.Mutex
	pos    int64 // samples rendered since open
	voices []*mixVoice
	closed bool
}

// NewMixer returns a Mixer running at sampleRate (mono).
func NewMixer(sampleRate int) *Mixer {
	if sampleRate <= 0 {
		sampleRate = audio.OutputSampleRate
	}
	return &Mixer{rate: sampleRate}
}

// SampleRate returns the output rate.
func (m *Mixer) SampleRate() int { return m.rate }

// CurrentTime returns the clock position.
func (m *Mixer) CurrentTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samplesToDuration(m.pos)
}

func (m *Mixer) samplesToDuration(n int64) time.Duration {
	return time.Duration(n * int64(time.Second) / int64(m.rate))
}

func (m *Mixer) durationToSamples(d time.Duration) int64 {
	return int64(d) * int64(m.rate) / int64(time.Second)
}

// Play schedules buf at clock time at. Multi-channel buffers are averaged
// down to mono. buf must already be at the mixer's rate.
func (m *Mixer) Play(buf audio.Buffer, at time.Duration) (Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	start := m.durationToSamples(at)
	if start < m.pos {
		start = m.pos
	}
	v := &mixVoice{
		start: start,
		data:  downmix(buf),
		done:  make(chan struct{}),
	}
	if len(v.data) == 0 {
		v.finish()
		return v, nil
	}
	m.voices = append(m.voices, v)
	return v, nil
}

// Render mixes the next len(out) samples into out and advances the clock.
// Voices that finish inside the block are completed.
func (m *Mixer) Render(out []float32) {
	clear(out)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	blockStart := m.pos
	blockEnd := blockStart + int64(len(out))
	live := m.voices[:0]
	for _, v := range m.voices {
		if v.stopped() {
			continue
		}
		end := v.start + int64(len(v.data))
		from := max(v.start, blockStart)
		to := min(end, blockEnd)
		for i := from; i < to; i++ {
			out[i-blockStart] += v.data[i-v.start]
		}
		if end <= blockEnd {
			v.finish()
			continue
		}
		live = append(live, v)
	}
	clear(m.voices[len(live):])
	m.voices = live
	m.pos = blockEnd
}

// Advance renders d worth of samples into a scratch buffer.
func (m *Mixer) Advance(d time.Duration) {
	n := m.durationToSamples(d)
	if n <= 0 {
		return
	}
	m.Render(make([]float32, n))
}

// Pending returns the number of voices not yet finished.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.voices {
		if !v.stopped() {
			n++
		}
	}
	return n
}

// Close stops every voice. Further Play calls fail with ErrClosed.
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, v := range m.voices {
		v.finish()
	}
	m.voices = nil
	return nil
}

func downmix(buf audio.Buffer) []float32 {
	switch buf.Channels() {
	case 0:
		return nil
	case 1:
		return buf.Data[0]
	}
	out := make([]float32, buf.Frames())
	scale := 1 / float32(buf.Channels())
	for _, ch := range buf.Data {
		for i := range out {
			out[i] += ch[i] * scale
		}
	}
	return out
}

// mixVoice is a scheduled buffer inside a Mixer.
type mixVoice struct {
	start int64
	data  []float32

	once sync.Once
	done chan struct{}
}

func (v *mixVoice) finish() { v.once.Do(func() { close(v.done) }) }

func (v *mixVoice) stopped() bool {
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

// Stop cancels the voice.
func (v *mixVoice) Stop() { v.finish() }

// Done is closed when the voice ends.
func (v *mixVoice) Done() <-chan struct{} { return v.done }
