package recording

import (
	"bytes"
	"strings"
	"sync"
)

// DefaultMIMEType is the container the recorder produces unless told
// otherwise.
const DefaultMIMEType = "video/webm"

// Buffer collects recorder chunks for one session. Chunks are kept in
// arrival order; the buffer is drained once by [Bridge.Finalize].
type Buffer struct {
	mu       sync.Mutex
	mimeType string
	chunks   [][]byte
	size     int
}

// NewBuffer returns an empty buffer for media of the given type. An empty
// mimeType selects [DefaultMIMEType].
func NewBuffer(mimeType string) *Buffer {
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	return &Buffer{mimeType: mimeType}
}

// MIMEType returns the media type of the assembled recording.
func (b *Buffer) MIMEType() string { return b.mimeType }

// Append adds chunk to the end of the buffer. Empty chunks are ignored.
func (b *Buffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
	b.mu.Unlock()
}

// Len returns the number of chunks held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Size returns the total number of bytes held.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Take concatenates every chunk into one media object and empties the
// buffer. It returns [ErrEmptyRecording] when nothing was recorded.
func (b *Buffer) Take() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		return nil, ErrEmptyRecording
	}
	media := bytes.Join(b.chunks, nil)
	b.chunks = nil
	b.size = 0
	return media, nil
}

// Reset discards every chunk.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.chunks = nil
	b.size = 0
	b.mu.Unlock()
}

// Transcript accumulates model text for one session.
type Transcript struct {
	mu sync.Mutex
	sb strings.Builder
}

// Append adds s to the transcript.
func (t *Transcript) Append(s string) {
	t.mu.Lock()
	t.sb.WriteString(s)
	t.mu.Unlock()
}

// String returns the accumulated text.
func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sb.String()
}

// Take returns the accumulated text and clears it.
func (t *Transcript) Take() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.sb.String()
	t.sb.Reset()
	return s
}

// Reset clears the transcript.
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.sb.Reset()
	t.mu.Unlock()
}
