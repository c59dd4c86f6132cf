// Package api serves the Padel Core HTTP interface: session control, the
// camera preview, saved recordings, AI Lab requests, health probes and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/padelcore/padelcore/internal/health"
	"github.com/padelcore/padelcore/internal/lab"
	"github.com/padelcore/padelcore/internal/observe"
	"github.com/padelcore/padelcore/internal/resilience"
	"github.com/padelcore/padelcore/internal/session"
	"github.com/padelcore/padelcore/pkg/device"
	"github.com/padelcore/padelcore/pkg/store"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// ErrNoSession is returned by [Sessions.Stop] when no session exists.
var ErrNoSession = errors.New("api: no session")

// Sessions controls the single coaching session.
type Sessions interface {
	Start(ctx context.Context, mode session.Mode, title string) (session.Snapshot, error)
	Stop(ctx context.Context, title string, discard bool) (session.Snapshot, error)
	Current() (session.Snapshot, bool)
}

// Config holds the collaborators of a [Server]. Nil fields disable the
// matching routes, which then answer 503.
type Config struct {
	Sessions Sessions
	Store    store.Store
	Lab      *lab.Service
	Preview  *device.Preview
	Health   *health.Handler

	// Metrics instruments every request. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler serves GET /metrics.
	MetricsHandler http.Handler
}

// Server is the HTTP handler tree.
type Server struct {
	cfg     Config
	handler http.Handler
}

var _ http.Handler = (*Server)(nil)

// New builds a Server from cfg.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/recordings", s.listRecordings)
	mux.HandleFunc("GET /api/recordings/{id}/media", s.recordingMedia)
	mux.HandleFunc("DELETE /api/recordings/{id}", s.deleteRecording)

	mux.HandleFunc("POST /api/session", s.startSession)
	mux.HandleFunc("GET /api/session", s.getSession)
	mux.HandleFunc("DELETE /api/session", s.stopSession)
	mux.HandleFunc("GET /api/session/preview.jpg", s.preview)

	mux.HandleFunc("POST /api/lab/image", s.labImage)
	mux.HandleFunc("POST /api/lab/video", s.labVideo)
	mux.HandleFunc("POST /api/lab/query", s.labQuery)
	mux.HandleFunc("POST /api/lab/search", s.labSearch)
	mux.HandleFunc("POST /api/lab/maps", s.labMaps)
	mux.HandleFunc("POST /api/lab/chats", s.labStartChat)
	mux.HandleFunc("POST /api/lab/chats/{id}/messages", s.labChatMessage)
	mux.HandleFunc("DELETE /api/lab/chats/{id}", s.labEndChat)

	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	s.handler = observe.Middleware(m)(mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ── Helpers ────────────────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto an HTTP status and logs server-side failures.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, lab.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, lab.ErrChatNotFound), errors.Is(err, ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, errUnavailable), errors.Is(err, session.ErrDeviceUnavailable), errors.Is(err, device.ErrNotReady),
		errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrConnection):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var (
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("not configured")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}
