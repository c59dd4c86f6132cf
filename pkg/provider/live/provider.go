// Package live defines the Provider interface for bidirectional live AI
// sessions.
//
// A live provider wraps a real-time multimodal model that accepts a stream of
// media chunks (microphone PCM, camera stills) and answers with streamed audio
// plus optional transcriptions, all over a single long-lived connection.
//
// The central abstraction is SessionHandle. Outbound media is pushed with
// SendRealtimeInput; everything the model sends back arrives in order on the
// Messages channel.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"

	"github.com/padelcore/padelcore/pkg/audio"
)

// ErrSessionClosed is returned by SendRealtimeInput after Close.
var ErrSessionClosed = errors.New("live: session closed")

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Instructions is the system instruction describing the coach persona.
	Instructions string

	// Voice is the prebuilt voice name used for synthesised replies. Empty
	// selects the provider default.
	Voice string

	// InputTranscription asks the model to transcribe what the user says.
	InputTranscription bool

	// OutputTranscription asks the model to transcribe its own audio replies.
	OutputTranscription bool
}

// Part is one element of a model turn: either text or inline media.
type Part struct {
	Text string

	// InlineData carries base64 media, typically "audio/pcm;rate=24000".
	InlineData *audio.Blob
}

// Message is one server event. Several fields may be set at once.
type Message struct {
	// Parts holds the model-turn content of this event, in order.
	Parts []Part

	// InputTranscription is an incremental transcript fragment of the user's
	// speech.
	InputTranscription string

	// OutputTranscription is an incremental transcript fragment of the model's
	// spoken reply.
	OutputTranscription string

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool

	// Interrupted reports that the model stopped generating because the user
	// started speaking.
	Interrupted bool
}

// Audio returns the inline media parts of m in order.
func (m Message) Audio() []audio.Blob {
	var out []audio.Blob
	for _, p := range m.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			out = append(out, *p.InlineData)
		}
	}
	return out
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds. Zero means no documented limit.
	MaxSessionDurationMs int

	// InputSampleRate is the PCM rate the model expects for microphone input.
	InputSampleRate int

	// OutputSampleRate is the PCM rate of audio replies.
	OutputSampleRate int

	// Voices lists the prebuilt voice names.
	Voices []string
}

// SessionHandle represents an open live session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendRealtimeInput delivers one media chunk to the model. It blocks until
	// the chunk has been written to the transport.
	SendRealtimeInput(blob audio.Blob) error

	// Messages returns the channel of server events. The channel is closed
	// when the session ends, either by Close or by a remote close or error.
	// After it closes, call Err to learn why.
	Messages() <-chan Message

	// Err returns the error that ended the session, or nil if it ended cleanly.
	Err() error

	// Close terminates the session and closes the Messages channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect establishes a new session. The returned handle accepts input
	// immediately. The caller owns the handle and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
