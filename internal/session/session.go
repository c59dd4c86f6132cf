// Package session runs one live coaching session: it acquires the local
// devices, opens the remote live session, streams microphone audio (and, in
// video mode, camera stills) through the capture pipeline, plays audio
// replies gap-free, records the stream, and tears everything down in a fixed
// order when the session ends.
//
// A [Session] is single-use. All of its state is owned by one coordinating
// goroutine started by [Session.Start]; other goroutines talk to it through
// channels and read it through [Session.Snapshot].
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/padelcore/padelcore/internal/capture"
	"github.com/padelcore/padelcore/internal/observe"
	"github.com/padelcore/padelcore/internal/playback"
	"github.com/padelcore/padelcore/internal/recording"
	"github.com/padelcore/padelcore/pkg/audio"
	"github.com/padelcore/padelcore/pkg/device"
	"github.com/padelcore/padelcore/pkg/provider/live"
)

// Errors reported by Start and carried in [Snapshot.Err].
var (
	// ErrPermissionDenied means the user or the OS refused device access.
	ErrPermissionDenied = device.ErrPermissionDenied

	// ErrDeviceUnavailable means a requested device could not be opened.
	ErrDeviceUnavailable = device.ErrDeviceUnavailable

	// ErrConnection means the live session could not be opened or failed
	// while open.
	ErrConnection = errors.New("session: connection failed")

	// ErrSessionActive is returned when a session is already starting or
	// running.
	ErrSessionActive = errors.New("session: a session is already active")

	// ErrStopped is returned by Start when Stop was called while devices
	// were being acquired.
	ErrStopped = errors.New("session: stopped before start completed")
)

// Mode selects what a session captures.
type Mode string

const (
	// ModeVoice streams the microphone only.
	ModeVoice Mode = "voice"

	// ModeVideo streams microphone and camera stills and records the
	// session locally.
	ModeVideo Mode = "video"
)

// ParseMode converts s to a Mode. The empty string selects ModeVoice.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeVoice:
		return ModeVoice, nil
	case ModeVideo:
		return ModeVideo, nil
	}
	return "", fmt.Errorf("session: unknown mode %q", s)
}

// State is the lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status messages.
const (
	StatusIdle            = "Ready to analyze"
	StatusDisconnected    = "Disconnected"
	StatusStartingCamera  = "Starting camera..."
	StatusCameraReady     = "Camera ready. Connecting to AI..."
	StatusConnecting      = "Connecting..."
	StatusVoiceOpen       = "Connected. Speak now!"
	StatusVideoOpen       = "Connected. Live analysis..."
	StatusFinishing       = "Finishing session..."
	StatusCameraError     = "Error: could not access the camera."
	StatusStartError      = "Error starting the session."
	StatusConnectionError = "Connection error. Try again."
)

// Config holds per-session settings.
type Config struct {
	Mode Mode

	// Instructions is the system instruction sent on connect.
	Instructions string

	// Voice is the prebuilt reply voice. Empty uses the provider default.
	Voice string

	// Capture configures encoding and queueing of outbound payloads.
	Capture capture.Config

	// RecorderTimeslice is the recorder chunk period. Default 1s.
	RecorderTimeslice time.Duration

	// RecorderDrainTimeout bounds how long teardown waits for the recorder
	// to flush its final chunk. Default 3s.
	RecorderDrainTimeout time.Duration

	// Title names the recording at the end of a video session. Nil
	// discards the recording.
	Title recording.TitlePrompter
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeVoice
	}
	c.Capture = c.Capture.WithDefaults()
	if c.RecorderTimeslice <= 0 {
		c.RecorderTimeslice = time.Second
	}
	if c.RecorderDrainTimeout <= 0 {
		c.RecorderDrainTimeout = 3 * time.Second
	}
	return c
}

// Deps are the collaborators a session uses.
type Deps struct {
	Devices device.Backend
	Live    live.Provider

	// Bridge persists the recording of a video session. Nil skips
	// finalization.
	Bridge *recording.Bridge
}

// EventKind identifies an [Event].
type EventKind int

const (
	// EventStatus carries a new status message.
	EventStatus EventKind = iota

	// EventUserText carries transcribed user speech.
	EventUserText

	// EventAgentText carries transcribed model speech.
	EventAgentText

	// EventEnded is sent once after teardown.
	EventEnded
)

// Event is a notification published while the session runs.
type Event struct {
	Kind EventKind
	Text string
}

// Snapshot is a point-in-time copy of a session's observable state.
type Snapshot struct {
	ID              string
	Mode            Mode
	State           State
	Status          string
	UserTranscript  string
	AgentTranscript string
	StartedAt       time.Time
	OpenedAt        time.Time
	EndedAt         time.Time
	Capture         capture.Stats
	Recording       *recording.Result
	Err             error
}

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithMetrics records session metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithPreview attaches the camera stream to p while the session runs.
func WithPreview(p *device.Preview) Option {
	return func(s *Session) { s.preview = p }
}

// WithEvents calls fn for every published event. fn runs on the session's
// goroutine and must not block.
func WithEvents(fn func(Event)) Option {
	return func(s *Session) { s.onEvent = fn }
}

// Session is one live coaching session.
type Session struct {
	id      string
	cfg     Config
	deps    Deps
	metrics *observe.Metrics
	preview *device.Preview
	onEvent func(Event)

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	started  bool
	snap     Snapshot
	user     strings.Builder
	agent    strings.Builder
	teardown error

	// Owned by the coordinating goroutine after Start hands over.
	baseCtx    context.Context
	stream     device.Stream
	output     device.Output
	mic        device.AudioSource
	pipeline   *capture.Pipeline
	scheduler  *playback.Scheduler
	buffer     *recording.Buffer
	transcript *recording.Transcript
	recorder   device.Recorder
	recChunks  <-chan []byte
	ticker     *time.Ticker
	handle     live.SessionHandle

	cancelConnect context.CancelFunc
	connResult    chan connectResult
	connDone      chan struct{}
}

type connectResult struct {
	handle live.SessionHandle
	err    error
	took   time.Duration
}

// New returns an idle session.
func New(cfg Config, deps Deps, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		deps:   deps,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.snap = Snapshot{ID: s.id, Mode: cfg.Mode, State: StateIdle, Status: StatusIdle}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Mode returns the capture mode.
func (s *Session) Mode() Mode { return s.cfg.Mode }

// Done is closed once the session has fully torn down, or immediately after
// a failed Start.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	snap.UserTranscript = s.user.String()
	snap.AgentTranscript = s.agent.String()
	if s.pipeline != nil {
		snap.Capture = s.pipeline.Stats()
	}
	return snap
}

// Start acquires the devices and begins connecting. It returns once the
// devices are held and the connection attempt is under way; the session
// becomes Open asynchronously. On device failure the session stays Idle and
// the error wraps [ErrPermissionDenied] or [ErrDeviceUnavailable].
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.started = true
	s.snap.StartedAt = time.Now()
	s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "session.start",
		observeAttrs(s.id, s.cfg.Mode)...)
	defer span.End()
	log := observe.Logger(ctx).With("session_id", s.id, "mode", string(s.cfg.Mode))

	video := s.cfg.Mode == ModeVideo
	if video {
		s.setStatus(StatusStartingCamera)
	}

	if s.stopRequested() {
		s.fail(nil, StatusDisconnected)
		return ErrStopped
	}

	// Acquisition may wait on a permission prompt; Stop cancels it.
	acquireCtx, cancelAcquire := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.stopCh:
			cancelAcquire()
		case <-acquireCtx.Done():
		}
	}()
	stream, err := s.deps.Devices.Acquire(acquireCtx, device.Constraints{
		Audio:      true,
		Video:      video,
		SampleRate: audio.InputSampleRate,
	})
	cancelAcquire()
	if err != nil && s.stopRequested() {
		s.fail(nil, StatusDisconnected)
		log.Info("session: stopped while acquiring devices")
		return ErrStopped
	}
	if err != nil {
		status := StatusStartError
		if video {
			status = StatusCameraError
		}
		s.fail(err, status)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("session: acquire devices failed", "err", err)
		return fmt.Errorf("session: acquire devices: %w", err)
	}

	out, err := s.deps.Devices.OpenOutput(audio.OutputSampleRate)
	if err != nil {
		device.StopTracks(stream)
		s.fail(err, StatusStartError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("session: open speaker failed", "err", err)
		return fmt.Errorf("session: open output: %w", err)
	}

	if s.stopRequested() {
		_ = out.Close()
		device.StopTracks(stream)
		s.fail(nil, StatusDisconnected)
		return ErrStopped
	}

	s.baseCtx = context.WithoutCancel(ctx)
	s.stream = stream
	s.output = out
	s.mic = stream.Audio()
	s.scheduler = playback.New(out)
	s.buffer = recording.NewBuffer("")
	s.transcript = &recording.Transcript{}
	var pipeOpts []capture.Option
	if s.metrics != nil {
		pipeOpts = append(pipeOpts, capture.WithMetrics(s.metrics))
	}
	pipeline := capture.New(s.cfg.Capture, pipeOpts...)

	if video && s.preview != nil {
		s.preview.Attach(stream)
	}

	connCtx, cancel := context.WithCancel(s.baseCtx)
	s.cancelConnect = cancel
	s.connResult = make(chan connectResult, 1)
	s.connDone = make(chan struct{})

	s.mu.Lock()
	s.pipeline = pipeline
	s.snap.State = StateConnecting
	s.mu.Unlock()
	if video {
		s.setStatus(StatusCameraReady)
	} else {
		s.setStatus(StatusConnecting)
	}

	go s.connect(connCtx, live.SessionConfig{
		Instructions:        s.cfg.Instructions,
		Voice:               s.cfg.Voice,
		InputTranscription:  true,
		OutputTranscription: true,
	})
	go s.run()

	log.Info("session: started, connecting")
	return nil
}

// Stop ends the session and waits for teardown to finish, including
// finalization of the recording. It is safe to call from any state and any
// number of times; every call returns the joined teardown error.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardown
}

func (s *Session) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// fail records a start failure, leaves the session Idle and closes done.
func (s *Session) fail(err error, status string) {
	s.mu.Lock()
	s.snap.State = StateIdle
	s.snap.Err = err
	s.snap.EndedAt = time.Now()
	s.mu.Unlock()
	s.setStatus(status)
	s.emit(Event{Kind: EventEnded})
	close(s.done)
}

func (s *Session) connect(ctx context.Context, cfg live.SessionConfig) {
	defer close(s.connDone)
	start := time.Now()
	h, err := s.deps.Live.Connect(ctx, cfg)
	s.connResult <- connectResult{handle: h, err: err, took: time.Since(start)}
}

// ── Coordinating loop ────────────────────────────────────────────────────────

// run owns every piece of session state until teardown completes.
func (s *Session) run() {
	defer close(s.done)

	var (
		micCh   <-chan []float32
		msgCh   <-chan live.Message
		tickCh  <-chan time.Time
		connCh  = s.connResult
		cause   error
		errored bool
	)

loop:
	for {
		select {
		case <-s.stopCh:
			break loop

		case res := <-connCh:
			connCh = nil
			if res.err != nil {
				cause = fmt.Errorf("%w: %w", ErrConnection, res.err)
				errored = true
				break loop
			}
			s.handle = res.handle
			micCh, tickCh = s.open(res.took)
			msgCh = s.handle.Messages()

		case block, ok := <-micCh:
			if !ok {
				micCh = nil
				slog.Warn("session: microphone stopped delivering audio", "session_id", s.id)
				continue
			}
			s.pipeline.SubmitAudio(block)

		case <-tickCh:
			if _, err := s.pipeline.SubmitFrame(s.stream.Video()); err != nil {
				slog.Debug("session: frame skipped", "session_id", s.id, "err", err)
			}

		case chunk, ok := <-s.recChunks:
			if !ok {
				s.recChunks = nil
				continue
			}
			s.buffer.Append(chunk)

		case msg, ok := <-msgCh:
			if !ok {
				if err := s.handle.Err(); err != nil {
					cause = fmt.Errorf("%w: %w", ErrConnection, err)
					errored = true
				}
				slog.Info("session: remote closed the session", "session_id", s.id, "err", cause)
				break loop
			}
			s.handleMessage(msg)
		}
	}

	if errored {
		s.mu.Lock()
		s.snap.State = StateError
		s.snap.Err = cause
		s.mu.Unlock()
		s.setStatus(StatusConnectionError)
		slog.Warn("session: live session failed", "session_id", s.id, "err", cause)
	}
	s.shutdown(errored)
}

// open wires capture, the recorder and the frame ticker once the remote
// session is open.
func (s *Session) open(took time.Duration) (<-chan []float32, <-chan time.Time) {
	ctx := s.baseCtx
	if s.metrics != nil {
		s.metrics.ConnectDuration.Record(ctx, took.Seconds())
		s.metrics.ActiveSessions.Add(ctx, 1)
		s.metrics.RecordProviderRequest(ctx, "live", "connect", "ok")
	}
	video := s.cfg.Mode == ModeVideo

	var micCh <-chan []float32
	if s.mic != nil {
		ch, err := s.mic.Connect(s.cfg.Capture.BlockSize)
		if err != nil {
			slog.Warn("session: connect microphone failed", "session_id", s.id, "err", err)
		} else {
			micCh = ch
		}
	}

	var tickCh <-chan time.Time
	if video {
		s.startRecorder()
		s.ticker = time.NewTicker(s.cfg.Capture.FrameInterval)
		tickCh = s.ticker.C
	}

	s.pipeline.Open(s.handle)

	s.mu.Lock()
	s.snap.State = StateOpen
	s.snap.OpenedAt = time.Now()
	s.mu.Unlock()
	if video {
		s.setStatus(StatusVideoOpen)
	} else {
		s.setStatus(StatusVoiceOpen)
	}
	slog.Info("session: open", "session_id", s.id, "connect_ms", took.Milliseconds())
	return micCh, tickCh
}

func (s *Session) startRecorder() {
	rec, err := s.stream.NewRecorder()
	if err != nil {
		slog.Warn("session: recorder unavailable, session will not be saved", "session_id", s.id, "err", err)
		return
	}
	chunks, err := rec.Start(s.cfg.RecorderTimeslice)
	if err != nil {
		slog.Warn("session: start recorder failed", "session_id", s.id, "err", err)
		return
	}
	s.recorder = rec
	s.recChunks = chunks
	s.buffer = recording.NewBuffer(rec.MIMEType())
}

func (s *Session) handleMessage(msg live.Message) {
	video := s.cfg.Mode == ModeVideo

	if t := msg.InputTranscription; t != "" && !video {
		s.mu.Lock()
		s.user.WriteString(t)
		s.mu.Unlock()
		s.emit(Event{Kind: EventUserText, Text: t})
	}
	if t := msg.OutputTranscription; t != "" {
		if video {
			s.transcript.Append(t)
		}
		s.mu.Lock()
		s.agent.WriteString(t)
		s.mu.Unlock()
		s.emit(Event{Kind: EventAgentText, Text: t})
	}
	if msg.TurnComplete && !video {
		s.mu.Lock()
		s.user.WriteString("\n")
		s.agent.WriteString("\n")
		s.mu.Unlock()
	}
	if msg.Interrupted {
		if n := s.scheduler.Interrupt(); n > 0 {
			slog.Debug("session: reply interrupted", "session_id", s.id, "stopped", n)
		}
	}
	for _, blob := range msg.Audio() {
		if _, err := s.scheduler.Enqueue(blob); err != nil {
			slog.Warn("session: schedule reply audio failed", "session_id", s.id, "err", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.PlaybackChunks.Add(s.baseCtx, 1)
		}
	}
}

// ── Teardown ─────────────────────────────────────────────────────────────────

// shutdown releases everything in a fixed order. Every step runs even when
// an earlier one fails; errors are joined.
func (s *Session) shutdown(errored bool) {
	ctx, span := observe.StartSpan(s.baseCtx, "session.stop", observeAttrs(s.id, s.cfg.Mode)...)
	defer span.End()

	s.mu.Lock()
	wasOpen := s.snap.State == StateOpen || (errored && !s.snap.OpenedAt.IsZero())
	s.snap.State = StateClosing
	s.mu.Unlock()
	if s.cfg.Mode == ModeVideo && !errored {
		s.setStatus(StatusFinishing)
	}

	var errs []error

	// 1. Frame ticker.
	if s.ticker != nil {
		s.ticker.Stop()
	}

	// 2. Remote close, not awaited. A connect still in flight is cancelled
	// and any session it yields is closed.
	s.cancelConnect()
	if s.handle != nil {
		h := s.handle
		go func() {
			if err := h.Close(); err != nil {
				slog.Debug("session: remote close", "session_id", s.id, "err", err)
			}
		}()
	} else {
		go s.discardLateConnect()
	}

	// 3. Audio processing node and the capture writer behind it.
	if s.mic != nil {
		if err := s.mic.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("session: disconnect microphone: %w", err))
		}
	}
	s.pipeline.Close()

	// 4. Audio contexts.
	if s.mic != nil {
		if err := s.mic.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close input: %w", err))
		}
	}
	if err := s.output.Close(); err != nil {
		errs = append(errs, fmt.Errorf("session: close output: %w", err))
	}

	// 5. Scheduled playback.
	s.scheduler.StopAll()

	// 6. Device tracks.
	device.StopTracks(s.stream)

	// 7. Display.
	if s.preview != nil && s.cfg.Mode == ModeVideo {
		s.preview.Detach()
	}

	// 8. Recorder and persistence.
	var result *recording.Result
	if s.recorder != nil {
		if err := s.recorder.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("session: stop recorder: %w", err))
		}
		s.drainRecorder()
		if s.deps.Bridge != nil {
			res, err := s.deps.Bridge.Finalize(ctx, recording.Request{
				Buffer:     s.buffer,
				Transcript: s.transcript,
				Prompter:   s.cfg.Title,
				OnStatus:   s.setStatus,
			})
			if err != nil {
				errs = append(errs, err)
			}
			result = &res
		} else {
			s.buffer.Reset()
			s.transcript.Reset()
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("session: teardown finished with errors", "session_id", s.id, "err", err)
	}

	now := time.Now()
	s.mu.Lock()
	startedAt := s.snap.StartedAt
	s.snap.State = StateIdle
	s.snap.EndedAt = now
	s.snap.Recording = result
	s.teardown = err
	s.mu.Unlock()

	switch {
	case result != nil:
		// Finalize already published the outcome.
	case errored:
		s.setStatus(StatusConnectionError)
	case s.cfg.Mode == ModeVoice:
		s.setStatus(StatusDisconnected)
	default:
		s.setStatus(StatusIdle)
	}

	if s.metrics != nil {
		s.metrics.SessionDuration.Record(ctx, now.Sub(startedAt).Seconds(),
			metric.WithAttributes(attribute.String("mode", string(s.cfg.Mode))))
		if wasOpen {
			s.metrics.ActiveSessions.Add(ctx, -1)
		}
		if errored {
			s.metrics.RecordProviderError(ctx, "live", "session")
		}
	}
	slog.Info("session: stopped", "session_id", s.id, "duration", now.Sub(startedAt).Round(time.Millisecond))
	s.emit(Event{Kind: EventEnded})
}

// drainRecorder collects the chunks the recorder flushes after Stop.
func (s *Session) drainRecorder() {
	if s.recChunks == nil {
		return
	}
	timeout := time.NewTimer(s.cfg.RecorderDrainTimeout)
	defer timeout.Stop()
	for {
		select {
		case chunk, ok := <-s.recChunks:
			if !ok {
				s.recChunks = nil
				return
			}
			s.buffer.Append(chunk)
		case <-timeout.C:
			slog.Warn("session: recorder did not finish in time", "session_id", s.id)
			// Let the recorder finish its late sends.
			go audio.Drain(s.recChunks)
			s.recChunks = nil
			return
		}
	}
}

// discardLateConnect closes a session that finished connecting after the
// session was already being torn down.
func (s *Session) discardLateConnect() {
	<-s.connDone
	select {
	case res := <-s.connResult:
		if res.handle != nil {
			_ = res.handle.Close()
		}
	default:
	}
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	s.snap.Status = status
	s.mu.Unlock()
	s.emit(Event{Kind: EventStatus, Text: status})
}

func (s *Session) emit(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func observeAttrs(id string, mode Mode) []trace.SpanStartOption {
	return []trace.SpanStartOption{trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.String("session.mode", string(mode)),
	)}
}
