package app

import (
	"context"
	"strings"
	"sync"

	"github.com/padelcore/padelcore/internal/recording"
)

var _ recording.TitlePrompter = (*TitleSlot)(nil)

// TitleSlot answers the end-of-session title prompt with a value set ahead
// of time, typically from the HTTP request that stops the session. When
// nothing was set the suggested title is accepted so that a recording ended
// by the remote side is still kept.
type TitleSlot struct {
	mu      sync.Mutex
	title   string
	discard bool
}

// Set stores the answer. An empty title accepts the suggestion; discard
// declines the save.
func (t *TitleSlot) Set(title string, discard bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.title = strings.TrimSpace(title)
	t.discard = discard
}

// PromptTitle implements recording.TitlePrompter.
func (t *TitleSlot) PromptTitle(_ context.Context, suggested string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.discard:
		return "", nil
	case t.title != "":
		return t.title, nil
	default:
		return suggested, nil
	}
}
