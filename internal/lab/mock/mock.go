// Package mock provides a test double for lab.Provider.
//
// Every method records its call and returns the matching canned field. Err,
// when set, is returned by every operation.
package mock

import (
	"context"
	"iter"
	"sync"

	"github.com/padelcore/padelcore/internal/lab"
)

var _ lab.Provider = (*Provider)(nil)

// Call records one provider invocation.
type Call struct {
	Op       string
	Prompt   string
	MIMEType string
	Image    []byte
	At       lab.LatLng
}

// Provider is a mock implementation of lab.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by AnalyzeImage, AnalyzeVideo and chat Send.
	Text string

	// Chunks are yielded by Think.
	Chunks []string

	// Answer is returned by Search and SearchMaps.
	Answer lab.Answer

	// Err, if non-nil, is returned by every operation.
	Err error

	calls []Call
	chats []*Chat
}

func (p *Provider) record(c Call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
	return p.Err
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// Chats returns the chats opened so far.
func (p *Provider) Chats() []*Chat {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Chat, len(p.chats))
	copy(out, p.chats)
	return out
}

// AnalyzeImage implements lab.Provider.
func (p *Provider) AnalyzeImage(_ context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if err := p.record(Call{Op: "image", Prompt: prompt, Image: image, MIMEType: mimeType}); err != nil {
		return "", err
	}
	return p.Text, nil
}

// AnalyzeVideo implements lab.Provider.
func (p *Provider) AnalyzeVideo(_ context.Context, prompt string) (string, error) {
	if err := p.record(Call{Op: "video", Prompt: prompt}); err != nil {
		return "", err
	}
	return p.Text, nil
}

// Think implements lab.Provider. It yields Chunks, then Err if set.
func (p *Provider) Think(_ context.Context, prompt string) iter.Seq2[string, error] {
	err := p.record(Call{Op: "think", Prompt: prompt})
	return func(yield func(string, error) bool) {
		for _, c := range p.Chunks {
			if !yield(c, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}

// Search implements lab.Provider.
func (p *Provider) Search(_ context.Context, query string) (lab.Answer, error) {
	if err := p.record(Call{Op: "search", Prompt: query}); err != nil {
		return lab.Answer{}, err
	}
	return p.Answer, nil
}

// SearchMaps implements lab.Provider.
func (p *Provider) SearchMaps(_ context.Context, query string, at lab.LatLng) (lab.Answer, error) {
	if err := p.record(Call{Op: "maps", Prompt: query, At: at}); err != nil {
		return lab.Answer{}, err
	}
	return p.Answer, nil
}

// NewChat implements lab.Provider.
func (p *Provider) NewChat(_ context.Context, instructions string) (lab.Chat, error) {
	if err := p.record(Call{Op: "chat", Prompt: instructions}); err != nil {
		return nil, err
	}
	c := &Chat{Instructions: instructions, reply: p.Text, provider: p}
	p.mu.Lock()
	p.chats = append(p.chats, c)
	p.mu.Unlock()
	return c, nil
}

// Chat is a mock lab.Chat that records sent messages.
type Chat struct {
	Instructions string

	mu       sync.Mutex
	reply    string
	provider *Provider
	messages []string
}

// Send records text and returns the provider's Text, or its Err.
func (c *Chat) Send(_ context.Context, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, text)
	if c.provider != nil {
		c.provider.mu.Lock()
		err := c.provider.Err
		c.provider.mu.Unlock()
		if err != nil {
			return "", err
		}
	}
	return c.reply, nil
}

// Messages returns the messages sent so far.
func (c *Chat) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	copy(out, c.messages)
	return out
}
