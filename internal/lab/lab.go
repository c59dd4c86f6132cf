// Package lab exposes the non-live "AI Lab" operations of Padel Core: still
// image analysis, simulated video analysis, a streamed deep-thinking query,
// grounded web and maps search, and multi-turn chat.
//
// [Service] validates input, keeps chat sessions and records metrics and
// spans; the model calls themselves go through a [Provider].
package lab

import (
	"context"
	"errors"
	"iter"
)

var (
	// ErrInvalidInput is returned for empty prompts or unusable media.
	ErrInvalidInput = errors.New("lab: invalid input")

	// ErrChatNotFound is returned for an unknown chat ID.
	ErrChatNotFound = errors.New("lab: chat not found")
)

// Source is a grounding reference attached to an answer.
type Source struct {
	// Kind is "web" or "maps".
	Kind  string `json:"kind"`
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Answer is a grounded model response.
type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// LatLng is a position used to ground maps queries.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Chat is one multi-turn conversation.
type Chat interface {
	Send(ctx context.Context, text string) (string, error)
}

// Provider performs the model calls behind the lab operations.
type Provider interface {
	// AnalyzeImage answers prompt about the given image.
	AnalyzeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)

	// AnalyzeVideo produces a simulated analysis of a match clip described
	// by prompt. No video is uploaded.
	AnalyzeVideo(ctx context.Context, prompt string) (string, error)

	// Think streams the answer of a reasoning model with an extended
	// thinking budget.
	Think(ctx context.Context, prompt string) iter.Seq2[string, error]

	// Search answers query grounded on web search results.
	Search(ctx context.Context, query string) (Answer, error)

	// SearchMaps answers query grounded on maps results near at.
	SearchMaps(ctx context.Context, query string, at LatLng) (Answer, error)

	// NewChat opens a conversation with the given system instruction.
	NewChat(ctx context.Context, instructions string) (Chat, error)
}
