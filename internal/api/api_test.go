package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/padelcore/padelcore/internal/api"
	"github.com/padelcore/padelcore/internal/health"
	"github.com/padelcore/padelcore/internal/lab"
	labmock "github.com/padelcore/padelcore/internal/lab/mock"
	"github.com/padelcore/padelcore/internal/recording"
	"github.com/padelcore/padelcore/internal/resilience"
	"github.com/padelcore/padelcore/internal/session"
	"github.com/padelcore/padelcore/pkg/device"
	devmock "github.com/padelcore/padelcore/pkg/device/mock"
	"github.com/padelcore/padelcore/pkg/store"
	"github.com/padelcore/padelcore/pkg/store/memstore"
)

// fakeSessions is a scripted api.Sessions.
type fakeSessions struct {
	mu       sync.Mutex
	snap     session.Snapshot
	has      bool
	startErr error

	startMode  session.Mode
	startTitle string
	stopTitle  string
	stopDisc   bool
}

func (f *fakeSessions) Start(_ context.Context, mode session.Mode, title string) (session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startMode, f.startTitle = mode, title
	if f.startErr != nil {
		return session.Snapshot{}, f.startErr
	}
	f.snap = session.Snapshot{ID: "s1", Mode: mode, State: session.StateConnecting, Status: session.StatusConnecting, StartedAt: time.Now()}
	f.has = true
	return f.snap, nil
}

func (f *fakeSessions) Stop(_ context.Context, title string, discard bool) (session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.has {
		return session.Snapshot{}, api.ErrNoSession
	}
	f.stopTitle, f.stopDisc = title, discard
	f.snap.State = session.StateIdle
	f.snap.Recording = &recording.Result{Outcome: recording.OutcomeSaved, ID: 7, Title: title, Status: recording.StatusSaved(title)}
	f.snap.Status = f.snap.Recording.Status
	return f.snap, nil
}

func (f *fakeSessions) Current() (session.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.has
}

type fixture struct {
	srv      *api.Server
	store    *memstore.Store
	sessions *fakeSessions
	lab      *labmock.Provider
	preview  *device.Preview
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		sessions: &fakeSessions{},
		lab:      &labmock.Provider{Text: "analysis", Chunks: []string{"think ", "hard"}, Answer: lab.Answer{Text: "answer"}},
		preview:  &device.Preview{},
	}
	f.srv = api.New(api.Config{
		Sessions: f.sessions,
		Store:    f.store,
		Lab:      lab.NewService(f.lab),
		Preview:  f.preview,
		Health:   health.New(health.PingChecker("store", f.store)),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, want, rec.Body.String())
	}
}

// ── Recordings ────────────────────────────────────────────────────────────────

func TestRecordings(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.Save(ctx, store.Recording{
		Title: "Session A", Date: time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC),
		MIMEType: "video/webm", Media: []byte("webm-data"), Analysis: "good footwork",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec := f.do(t, "GET", "/api/recordings", "")
	wantStatus(t, rec, http.StatusOK)
	list := decode[[]map[string]any](t, rec)
	if len(list) != 1 || list[0]["title"] != "Session A" || list[0]["size"] != float64(9) {
		t.Fatalf("list = %v", list)
	}
	if _, ok := list[0]["media"]; ok {
		t.Error("list must not embed media")
	}

	rec = f.do(t, "GET", fmt.Sprintf("/api/recordings/%d/media", id), "")
	wantStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "video/webm" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.String() != "webm-data" {
		t.Errorf("media = %q", rec.Body.String())
	}

	wantStatus(t, f.do(t, "DELETE", fmt.Sprintf("/api/recordings/%d", id), ""), http.StatusNoContent)
	wantStatus(t, f.do(t, "DELETE", fmt.Sprintf("/api/recordings/%d", id), ""), http.StatusNotFound)
	wantStatus(t, f.do(t, "GET", fmt.Sprintf("/api/recordings/%d/media", id), ""), http.StatusNotFound)
	wantStatus(t, f.do(t, "GET", "/api/recordings/abc/media", ""), http.StatusBadRequest)
}

func TestRecordings_NoStore(t *testing.T) {
	t.Parallel()
	srv := api.New(api.Config{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/recordings", nil))
	wantStatus(t, rec, http.StatusServiceUnavailable)
}

// ── Session ───────────────────────────────────────────────────────────────────

func TestSession_Lifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	wantStatus(t, f.do(t, "GET", "/api/session", ""), http.StatusNotFound)
	wantStatus(t, f.do(t, "DELETE", "/api/session", ""), http.StatusNotFound)

	rec := f.do(t, "POST", "/api/session", `{"mode":"video","title":"Drills"}`)
	wantStatus(t, rec, http.StatusCreated)
	started := decode[map[string]any](t, rec)
	if started["mode"] != "video" || started["state"] != "connecting" {
		t.Errorf("start body = %v", started)
	}
	if f.sessions.startMode != session.ModeVideo || f.sessions.startTitle != "Drills" {
		t.Errorf("Start got mode %q title %q", f.sessions.startMode, f.sessions.startTitle)
	}

	wantStatus(t, f.do(t, "GET", "/api/session", ""), http.StatusOK)

	rec = f.do(t, "DELETE", "/api/session", `{"title":"Session A"}`)
	wantStatus(t, rec, http.StatusOK)
	stopped := decode[map[string]any](t, rec)
	recording, _ := stopped["recording"].(map[string]any)
	if recording["outcome"] != "saved" || recording["title"] != "Session A" {
		t.Errorf("stop body = %v", stopped)
	}
	if f.sessions.stopTitle != "Session A" || f.sessions.stopDisc {
		t.Errorf("Stop got title %q discard %v", f.sessions.stopTitle, f.sessions.stopDisc)
	}
}

func TestSession_StartDefaultsToVoice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	wantStatus(t, f.do(t, "POST", "/api/session", ""), http.StatusCreated)
	if f.sessions.startMode != session.ModeVoice {
		t.Errorf("mode = %q, want voice", f.sessions.startMode)
	}
}

func TestSession_StartErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "bad mode", body: `{"mode":"hologram"}`, want: http.StatusBadRequest},
		{name: "bad json", body: `{"mode":`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"speed":1}`, want: http.StatusBadRequest},
		{name: "active", err: fmt.Errorf("app: start: %w", session.ErrSessionActive), want: http.StatusConflict},
		{name: "stopped while starting", err: fmt.Errorf("app: start: %w", session.ErrStopped), want: http.StatusConflict},
		{name: "permission", err: fmt.Errorf("x: %w", session.ErrPermissionDenied), want: http.StatusForbidden},
		{name: "no device", err: fmt.Errorf("x: %w", session.ErrDeviceUnavailable), want: http.StatusServiceUnavailable},
		{name: "connection", err: fmt.Errorf("x: %w", session.ErrConnection), want: http.StatusBadGateway},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.sessions.startErr = tt.err
			body := tt.body
			if body == "" {
				body = `{"mode":"voice"}`
			}
			rec := f.do(t, "POST", "/api/session", body)
			wantStatus(t, rec, tt.want)
			if e := decode[map[string]string](t, rec); e["error"] == "" {
				t.Error("error body missing")
			}
		})
	}
}

func TestSession_Preview(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	wantStatus(t, f.do(t, "GET", "/api/session/preview.jpg", ""), http.StatusServiceUnavailable)

	f.preview.Attach(devmock.NewStream(device.Constraints{Video: true, Width: 1280, Height: 720}))
	rec := f.do(t, "GET", "/api/session/preview.jpg", "")
	wantStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	img, err := jpeg.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	if w := img.Bounds().Dx(); w != 640 {
		t.Errorf("preview width = %d, want 640", w)
	}
}

// ── Lab ───────────────────────────────────────────────────────────────────────

func TestLab_Image(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("prompt", "Check my grip")
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="grip.png"`)
	h.Set("Content-Type", "image/png")
	part, _ := mw.CreatePart(h)
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	_ = mw.Close()

	req := httptest.NewRequest("POST", "/api/lab/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	wantStatus(t, rec, http.StatusOK)
	if got := decode[map[string]string](t, rec)["text"]; got != "analysis" {
		t.Errorf("text = %q", got)
	}
	calls := f.lab.Calls()
	if len(calls) != 1 || calls[0].Prompt != "Check my grip" || calls[0].MIMEType != "image/png" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestLab_ImageMissingFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("prompt", "Check my grip")
	_ = mw.Close()

	req := httptest.NewRequest("POST", "/api/lab/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	wantStatus(t, rec, http.StatusBadRequest)
}

func TestLab_VideoAndSearch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/lab/video", `{"prompt":"my bandeja"}`)
	wantStatus(t, rec, http.StatusOK)
	if got := decode[map[string]string](t, rec)["text"]; got != "analysis" {
		t.Errorf("video text = %q", got)
	}
	wantStatus(t, f.do(t, "POST", "/api/lab/video", `{"prompt":""}`), http.StatusBadRequest)

	rec = f.do(t, "POST", "/api/lab/search", `{"query":"world ranking"}`)
	wantStatus(t, rec, http.StatusOK)
	if got := decode[lab.Answer](t, rec); got.Text != "answer" {
		t.Errorf("search = %+v", got)
	}

	wantStatus(t, f.do(t, "POST", "/api/lab/maps", `{"query":"courts","latitude":120}`), http.StatusBadRequest)
	wantStatus(t, f.do(t, "POST", "/api/lab/maps", `{"query":"courts","latitude":41.4,"longitude":2.2}`), http.StatusOK)
}

func TestLab_QueryStreams(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/lab/query", `{"prompt":"plan a week"}`)
	wantStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "think hard" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if !rec.Flushed {
		t.Error("stream was not flushed")
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestLab_QueryErrorBeforeFirstChunk(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.lab.Chunks = nil
	f.lab.Err = errors.New("quota")

	rec := f.do(t, "POST", "/api/lab/query", `{"prompt":"plan a week"}`)
	wantStatus(t, rec, http.StatusInternalServerError)
}

func TestLab_Chat(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/lab/chats", "")
	wantStatus(t, rec, http.StatusCreated)
	chat := decode[map[string]string](t, rec)
	if chat["id"] == "" || chat["greeting"] != lab.ChatGreeting {
		t.Fatalf("chat = %v", chat)
	}

	path := "/api/lab/chats/" + chat["id"] + "/messages"
	rec = f.do(t, "POST", path, `{"text":"how do I lob?"}`)
	wantStatus(t, rec, http.StatusOK)
	if got := decode[map[string]string](t, rec)["text"]; got != "analysis" {
		t.Errorf("reply = %q", got)
	}

	wantStatus(t, f.do(t, "DELETE", "/api/lab/chats/"+chat["id"], ""), http.StatusNoContent)
	wantStatus(t, f.do(t, "POST", path, `{"text":"again"}`), http.StatusNotFound)
}

func TestLab_NotConfigured(t *testing.T) {
	t.Parallel()
	srv := api.New(api.Config{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/lab/video", strings.NewReader(`{"prompt":"x"}`)))
	wantStatus(t, rec, http.StatusServiceUnavailable)
}

func TestLab_CircuitOpen(t *testing.T) {
	t.Parallel()
	guarded := resilience.NewLab(&labmock.Provider{Err: errors.New("upstream down")},
		resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	srv := api.New(api.Config{Lab: lab.NewService(guarded)})

	do := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/lab/video", strings.NewReader(`{"prompt":"x"}`)))
		return rec
	}
	wantStatus(t, do(), http.StatusInternalServerError)
	wantStatus(t, do(), http.StatusServiceUnavailable)
}

// ── Probes ────────────────────────────────────────────────────────────────────

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	wantStatus(t, f.do(t, "GET", "/healthz", ""), http.StatusOK)
	wantStatus(t, f.do(t, "GET", "/readyz", ""), http.StatusOK)

	rec := f.do(t, "GET", "/metrics", "")
	wantStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "# metrics") {
		t.Errorf("metrics body = %q", rec.Body.String())
	}
}
