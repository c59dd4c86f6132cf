package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/padelcore/padelcore/pkg/store"
)

type recordingView struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Date     time.Time `json:"date"`
	MIMEType string    `json:"mime_type"`
	Size     int64     `json:"size"`
	Analysis string    `json:"analysis"`
}

func viewRecording(rec store.Recording) recordingView {
	return recordingView{
		ID:       rec.ID,
		Title:    rec.Title,
		Date:     rec.Date,
		MIMEType: rec.MIMEType,
		Size:     rec.Size,
		Analysis: rec.Analysis,
	}
}

func (s *Server) listRecordings(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, r, fmt.Errorf("recordings: %w", errUnavailable))
		return
	}
	recs, err := s.cfg.Store.List(r.Context())
	if err != nil {
		writeError(w, r, fmt.Errorf("list recordings: %w", err))
		return
	}
	out := make([]recordingView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, viewRecording(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) recordingMedia(w http.ResponseWriter, r *http.Request) {
	id, err := recordingID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.cfg.Store == nil {
		writeError(w, r, fmt.Errorf("recordings: %w", errUnavailable))
		return
	}
	rec, err := s.cfg.Store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, fmt.Errorf("get recording %d: %w", id, err))
		return
	}
	mime := rec.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(rec.Media)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", fmt.Sprintf("recording-%d.webm", rec.ID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Media)
}

func (s *Server) deleteRecording(w http.ResponseWriter, r *http.Request) {
	id, err := recordingID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.cfg.Store == nil {
		writeError(w, r, fmt.Errorf("recordings: %w", errUnavailable))
		return
	}
	if err := s.cfg.Store.Delete(r.Context(), id); err != nil {
		writeError(w, r, fmt.Errorf("delete recording %d: %w", id, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func recordingID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid recording id %q", raw)
	}
	return id, nil
}
