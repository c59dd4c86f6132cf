// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to push server events and inspect what was sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Push(live.Message{TurnComplete: true})
package mock

import (
	"context"
	"sync"

	"github.com/padelcore/padelcore/pkg/audio"
	"github.com/padelcore/padelcore/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	Ctx context.Context
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh
	// Session from NewSession.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect block until it is closed or ctx is
	// done. Use it to hold a session in the connecting state.
	Gate chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

var _ live.Provider = (*Provider)(nil)

// Session is a mock implementation of live.SessionHandle.
type Session struct {
	mu sync.Mutex

	messages  chan live.Message
	closed    bool
	closeOnce sync.Once

	// SendErr, if non-nil, is returned by SendRealtimeInput.
	SendErr error

	// EndErr is reported by Err once the session has ended.
	EndErr error

	// Sent records every blob passed to SendRealtimeInput in order.
	Sent []audio.Blob

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with a buffered message channel.
func NewSession() *Session {
	return &Session{messages: make(chan live.Message, 64)}
}

// Push delivers a server event. It is a no-op after the session ended.
func (s *Session) Push(msg live.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.messages <- msg
}

// End simulates a remote close. A non-nil err is reported by Err.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.EndErr = err
	}
	s.finish()
}

func (s *Session) finish() {
	s.closed = true
	s.closeOnce.Do(func() { close(s.messages) })
}

// SendRealtimeInput records the blob.
func (s *Session) SendRealtimeInput(blob audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Sent = append(s.Sent, blob)
	return nil
}

// SentBlobs returns a copy of the recorded blobs.
func (s *Session) SentBlobs() []audio.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Blob(nil), s.Sent...)
}

// Messages returns the server event channel.
func (s *Session) Messages() <-chan live.Message { return s.messages }

// Err returns EndErr.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EndErr
}

// Close marks the session closed and closes the message channel.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.finish()
	return nil
}

// Closes returns the number of Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

var _ live.SessionHandle = (*Session)(nil)
