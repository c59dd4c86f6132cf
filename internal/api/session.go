package api

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/padelcore/padelcore/internal/capture"
	"github.com/padelcore/padelcore/internal/session"
	"github.com/padelcore/padelcore/pkg/device"
)

// previewWidth caps the width of preview frames.
const previewWidth = 640

type startRequest struct {
	Mode  string `json:"mode"`
	Title string `json:"title"`
}

type stopRequest struct {
	Title   string `json:"title"`
	Discard bool   `json:"discard"`
}

type recordingResultView struct {
	Outcome string `json:"outcome"`
	ID      int64  `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type sessionView struct {
	ID              string               `json:"id"`
	Mode            string               `json:"mode"`
	State           string               `json:"state"`
	Status          string               `json:"status"`
	UserTranscript  string               `json:"user_transcript"`
	AgentTranscript string               `json:"agent_transcript"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	OpenedAt        *time.Time           `json:"opened_at,omitempty"`
	EndedAt         *time.Time           `json:"ended_at,omitempty"`
	Capture         capture.Stats        `json:"capture"`
	Recording       *recordingResultView `json:"recording,omitempty"`
	Error           string               `json:"error,omitempty"`
}

func viewSession(snap session.Snapshot) sessionView {
	v := sessionView{
		ID:              snap.ID,
		Mode:            string(snap.Mode),
		State:           snap.State.String(),
		Status:          snap.Status,
		UserTranscript:  snap.UserTranscript,
		AgentTranscript: snap.AgentTranscript,
		StartedAt:       timePtr(snap.StartedAt),
		OpenedAt:        timePtr(snap.OpenedAt),
		EndedAt:         timePtr(snap.EndedAt),
		Capture:         snap.Capture,
	}
	if snap.Err != nil {
		v.Error = snap.Err.Error()
	}
	if res := snap.Recording; res != nil {
		rv := &recordingResultView{
			Outcome: res.Outcome.String(),
			ID:      res.ID,
			Title:   res.Title,
			Status:  res.Status,
		}
		if res.Err != nil {
			rv.Error = res.Err.Error()
		}
		v.Recording = rv
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sessions == nil {
		writeError(w, r, fmt.Errorf("sessions: %w", errUnavailable))
		return
	}
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Mode == "" {
		req.Mode = string(session.ModeVoice)
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		writeError(w, r, badRequest("%v", err))
		return
	}
	snap, err := s.cfg.Sessions.Start(r.Context(), mode, req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSession(snap))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sessions == nil {
		writeError(w, r, fmt.Errorf("sessions: %w", errUnavailable))
		return
	}
	snap, ok := s.cfg.Sessions.Current()
	if !ok {
		writeError(w, r, ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(snap))
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sessions == nil {
		writeError(w, r, fmt.Errorf("sessions: %w", errUnavailable))
		return
	}
	var req stopRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.cfg.Sessions.Stop(r.Context(), req.Title, req.Discard)
	if err != nil && snap.ID == "" {
		writeError(w, r, err)
		return
	}
	// A teardown error is already reflected in the snapshot.
	writeJSON(w, http.StatusOK, viewSession(snap))
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Preview == nil || !s.cfg.Preview.Attached() {
		writeError(w, r, fmt.Errorf("preview: %w", device.ErrNotReady))
		return
	}
	img, err := s.cfg.Preview.Frame()
	if err != nil {
		writeError(w, r, fmt.Errorf("preview: %w", err))
		return
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, capture.Downscale(img, previewWidth), &jpeg.Options{Quality: 80}); err != nil {
		writeError(w, r, fmt.Errorf("preview: encode: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}
