package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/padelcore/padelcore/internal/capture"
	"github.com/padelcore/padelcore/internal/config"
	"github.com/padelcore/padelcore/internal/observe"
	"github.com/padelcore/padelcore/internal/recording"
	"github.com/padelcore/padelcore/internal/session"
	"github.com/padelcore/padelcore/pkg/device"
	"github.com/padelcore/padelcore/pkg/provider/live"
)

// SessionManager runs at most one coaching session at a time. Sessions are
// single-use; each Start creates a fresh one. The last session stays
// inspectable after it ends. All exported methods are safe for concurrent
// use.
type SessionManager struct {
	devices device.Backend
	live    live.Provider
	bridge  *recording.Bridge
	capture capture.Config
	metrics *observe.Metrics
	preview *device.Preview
	prompt  recording.TitlePrompter

	mu      sync.Mutex
	coach   config.CoachConfig
	current *session.Session
	title   *TitleSlot
	// starting is closed once the current session's Start has returned.
	starting chan struct{}
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Devices device.Backend
	Live    live.Provider

	// Bridge persists video recordings. Nil discards them.
	Bridge *recording.Bridge

	Coach   config.CoachConfig
	Capture capture.Config
	Metrics *observe.Metrics

	// Preview mirrors the camera of video sessions. Optional.
	Preview *device.Preview

	// Prompter, if set, names recordings instead of the title passed to
	// Stop. The terminal command uses it to ask on stdin.
	Prompter recording.TitlePrompter
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		devices: cfg.Devices,
		live:    cfg.Live,
		bridge:  cfg.Bridge,
		capture: cfg.Capture,
		metrics: cfg.Metrics,
		preview: cfg.Preview,
		prompt:  cfg.Prompter,
		coach:   cfg.Coach,
	}
}

// SetCoach replaces the coach prompts and voice used by the next session.
func (sm *SessionManager) SetCoach(c config.CoachConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.coach = c
}

// Start begins a new session in the given mode. title, if non-empty, names
// the recording unless Stop overrides it. Returns [session.ErrSessionActive]
// while another session is running.
func (sm *SessionManager) Start(ctx context.Context, mode session.Mode, title string) (session.Snapshot, error) {
	sm.mu.Lock()
	if sm.current != nil && !isDone(sm.current) {
		id := sm.current.ID()
		sm.mu.Unlock()
		return session.Snapshot{}, fmt.Errorf("app: start: session %s: %w", id, session.ErrSessionActive)
	}
	if sm.live == nil {
		sm.mu.Unlock()
		return session.Snapshot{}, fmt.Errorf("app: start: no live provider configured: %w", session.ErrConnection)
	}

	slot := &TitleSlot{}
	slot.Set(title, false)
	var prompter recording.TitlePrompter = slot
	if sm.prompt != nil {
		prompter = sm.prompt
	}

	sess := session.New(session.Config{
		Mode:         mode,
		Instructions: sm.coach.InstructionsFor(string(mode)),
		Voice:        sm.coach.VoiceOrDefault(),
		Capture:      sm.capture,
		Title:        prompter,
	}, session.Deps{
		Devices: sm.devices,
		Live:    sm.live,
		Bridge:  sm.bridge,
	}, sm.options()...)

	// The slot is claimed before devices are acquired so Stop and Current
	// stay responsive while Start waits. A failed session stays visible.
	starting := make(chan struct{})
	sm.current, sm.title, sm.starting = sess, slot, starting
	sm.mu.Unlock()

	err := sess.Start(ctx)
	close(starting)
	if err != nil {
		return sess.Snapshot(), fmt.Errorf("app: start: %w", err)
	}
	slog.Info("session started", "session_id", sess.ID(), "mode", mode)
	return sess.Snapshot(), nil
}

// Stop ends the current session and waits for teardown, including saving
// the recording. title names the recording (empty accepts the suggestion);
// discard drops it. If ctx ends first, Stop returns ctx.Err() while
// teardown continues in the background.
func (sm *SessionManager) Stop(ctx context.Context, title string, discard bool) (session.Snapshot, error) {
	sm.mu.Lock()
	sess, slot, starting := sm.current, sm.title, sm.starting
	sm.mu.Unlock()
	if sess == nil {
		return session.Snapshot{}, ErrNoSession
	}
	if slot != nil && (title != "" || discard) {
		slot.Set(title, discard)
	}

	errCh := make(chan error, 1)
	go func() {
		err := sess.Stop()
		// A Start still acquiring devices unwinds on its own; wait for it
		// so the snapshot is final.
		<-starting
		errCh <- err
	}()
	select {
	case err := <-errCh:
		snap := sess.Snapshot()
		slog.Info("session stopped", "session_id", sess.ID(), "status", snap.Status)
		if err != nil {
			return snap, fmt.Errorf("app: stop: %w", err)
		}
		return snap, nil
	case <-ctx.Done():
		return sess.Snapshot(), ctx.Err()
	}
}

// Current returns the snapshot of the running or most recent session.
func (sm *SessionManager) Current() (session.Snapshot, bool) {
	sm.mu.Lock()
	sess := sm.current
	sm.mu.Unlock()
	if sess == nil {
		return session.Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// Done returns the done channel of the current session, or nil.
func (sm *SessionManager) Done() <-chan struct{} {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.current == nil {
		return nil
	}
	return sm.current.Done()
}

// IsActive reports whether a session is running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current != nil && !isDone(sm.current)
}

// Shutdown stops a running session. Its recording keeps the title given at
// start, or the suggested one.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	if !sm.IsActive() {
		return nil
	}
	_, err := sm.Stop(ctx, "", false)
	return err
}

func (sm *SessionManager) options() []session.Option {
	opts := []session.Option{
		session.WithEvents(func(ev session.Event) {
			switch ev.Kind {
			case session.EventStatus:
				slog.Debug("session status", "status", ev.Text)
			case session.EventEnded:
				slog.Debug("session teardown complete")
			}
		}),
	}
	if sm.metrics != nil {
		opts = append(opts, session.WithMetrics(sm.metrics))
	}
	if sm.preview != nil {
		opts = append(opts, session.WithPreview(sm.preview))
	}
	return opts
}

// isDone reports whether s has finished. A session whose Start failed is
// done as well.
func isDone(s *session.Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
