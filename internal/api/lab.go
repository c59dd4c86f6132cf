package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/padelcore/padelcore/internal/lab"
)

// maxImageUpload bounds multipart image uploads.
const maxImageUpload = 20 << 20

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type textResponse struct {
	Text string `json:"text"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type mapsRequest struct {
	Query     string  `json:"query"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type chatResponse struct {
	ID       string `json:"id"`
	Greeting string `json:"greeting"`
}

type chatMessage struct {
	Text string `json:"text"`
}

func (s *Server) labService(w http.ResponseWriter, r *http.Request) (*lab.Service, bool) {
	if s.cfg.Lab == nil {
		writeError(w, r, fmt.Errorf("lab: %w", errUnavailable))
		return nil, false
	}
	return s.cfg.Lab, true
}

func (s *Server) labImage(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.labService(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImageUpload)
	if err := r.ParseMultipartForm(maxImageUpload); err != nil {
		writeError(w, r, badRequest("multipart form: %v", err))
		return
	}
	f, hdr, err := r.FormFile("image")
	if err != nil {
		writeError(w, r, badRequest("image file: %v", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, r, badRequest("read image: %v", err))
		return
	}
	mime := hdr.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}

	text, err := svc.AnalyzeImage(r.Context(), r.FormValue("prompt"), data, mime)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Text: text})
}

func (s *Server) labVideo(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.labService(w, r)
	if !ok {
		return
	}
	var req promptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	text, err := svc.AnalyzeVideo(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Text: text})
}

// labQuery streams the deep-thinking answer as plain text. Once the first
// chunk is written the status is fixed; a later failure ends the body early
// and is only logged.
func (s *Server) labQuery(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.labService(w, r)
	if !ok {
		return
	}
	var req promptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	started := false
	for chunk, err := range svc.Think(r.Context(), req.Prompt) {
		if err != nil {
			if !started {
				writeError(w, r, err)
				return
			}
			_ = rc.Flush()
			return
		}
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return
		}
	}
	if !started {
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) labSearch(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.labService(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ans, err := svc.Search(r.Context(), req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) labMaps(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.labService(w, r)
	if !ok {
		return
	}
	var req mapsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ans, err := svc.SearchMaps(r.Context(), req.Query, lab.LatLng{Latitude: req.Latitude, Longitude: req.Longitude})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) labStartChat(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.labService(w, r)
	if !ok {
		return
	}
	id, greeting, err := svc.StartChat(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chatResponse{ID: id, Greeting: greeting})
}

func (s *Server) labChatMessage(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.labService(w, r)
	if !ok {
		return
	}
	var req chatMessage
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reply, err := svc.SendChat(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatMessage{Text: reply})
}

func (s *Server) labEndChat(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.labService(w, r)
	if !ok {
		return
	}
	svc.EndChat(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}
