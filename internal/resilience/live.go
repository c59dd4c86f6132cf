package resilience

import (
	"context"
	"fmt"

	"github.com/padelcore/padelcore/pkg/provider/live"
)

var _ live.Provider = (*Live)(nil)

// Live guards a [live.Provider] with a circuit breaker around Connect. An
// established session is not affected by the breaker.
type Live struct {
	provider live.Provider
	breaker  *CircuitBreaker
}

// NewLive wraps p. cfg.Name defaults to "live".
func NewLive(p live.Provider, cfg CircuitBreakerConfig) *Live {
	if cfg.Name == "" {
		cfg.Name = "live"
	}
	return &Live{provider: p, breaker: NewCircuitBreaker(cfg)}
}

// Connect implements live.Provider.
func (l *Live) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	var h live.SessionHandle
	err := l.breaker.Execute(func() error {
		var err error
		h, err = l.provider.Connect(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resilience: connect: %w", err)
	}
	return h, nil
}

// Capabilities implements live.Provider.
func (l *Live) Capabilities() live.Capabilities { return l.provider.Capabilities() }

// Breaker returns the breaker guarding Connect.
func (l *Live) Breaker() *CircuitBreaker { return l.breaker }
