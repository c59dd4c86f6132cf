package resilience

import (
	"context"
	"errors"
	"iter"

	"github.com/padelcore/padelcore/internal/lab"
)

var (
	_ lab.Provider = (*Lab)(nil)
	_ lab.Chat     = (*labChat)(nil)
)

// Lab guards a [lab.Provider] with one circuit breaker shared by all of its
// operations, since they reach the same upstream. Invalid input does not
// count as an upstream failure.
type Lab struct {
	provider lab.Provider
	breaker  *CircuitBreaker
}

// NewLab wraps p. cfg.Name defaults to "lab"; a nil cfg.Counts ignores
// cancellation and [lab.ErrInvalidInput].
func NewLab(p lab.Provider, cfg CircuitBreakerConfig) *Lab {
	if cfg.Name == "" {
		cfg.Name = "lab"
	}
	if cfg.Counts == nil {
		cfg.Counts = func(err error) bool {
			return countsByDefault(err) && !errors.Is(err, lab.ErrInvalidInput)
		}
	}
	return &Lab{provider: p, breaker: NewCircuitBreaker(cfg)}
}

// Breaker returns the shared breaker.
func (l *Lab) Breaker() *CircuitBreaker { return l.breaker }

func (l *Lab) AnalyzeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	return guard(l.breaker, func() (string, error) {
		return l.provider.AnalyzeImage(ctx, prompt, image, mimeType)
	})
}

func (l *Lab) AnalyzeVideo(ctx context.Context, prompt string) (string, error) {
	return guard(l.breaker, func() (string, error) {
		return l.provider.AnalyzeVideo(ctx, prompt)
	})
}

// Think streams through the breaker. The outcome is recorded when the stream
// ends or the consumer stops early; stopping early counts as success.
func (l *Lab) Think(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		done, err := l.breaker.Allow()
		if err != nil {
			yield("", err)
			return
		}
		var streamErr error
		defer func() { done(streamErr) }()
		for chunk, err := range l.provider.Think(ctx, prompt) {
			if err != nil {
				streamErr = err
			}
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

func (l *Lab) Search(ctx context.Context, query string) (lab.Answer, error) {
	return guard(l.breaker, func() (lab.Answer, error) {
		return l.provider.Search(ctx, query)
	})
}

func (l *Lab) SearchMaps(ctx context.Context, query string, at lab.LatLng) (lab.Answer, error) {
	return guard(l.breaker, func() (lab.Answer, error) {
		return l.provider.SearchMaps(ctx, query, at)
	})
}

// NewChat opens a chat whose messages go through the same breaker.
func (l *Lab) NewChat(ctx context.Context, instructions string) (lab.Chat, error) {
	c, err := guard(l.breaker, func() (lab.Chat, error) {
		return l.provider.NewChat(ctx, instructions)
	})
	if err != nil {
		return nil, err
	}
	return &labChat{chat: c, breaker: l.breaker}, nil
}

type labChat struct {
	chat    lab.Chat
	breaker *CircuitBreaker
}

func (c *labChat) Send(ctx context.Context, text string) (string, error) {
	return guard(c.breaker, func() (string, error) {
		return c.chat.Send(ctx, text)
	})
}

// guard runs fn through cb. This is a package-level function because Go does
// not support method-level type parameters.
func guard[R any](cb *CircuitBreaker, fn func() (R, error)) (R, error) {
	var result R
	err := cb.Execute(func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}
