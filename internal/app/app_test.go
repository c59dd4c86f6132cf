package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/padelcore/padelcore/internal/app"
	"github.com/padelcore/padelcore/internal/config"
	labmock "github.com/padelcore/padelcore/internal/lab/mock"
	"github.com/padelcore/padelcore/internal/observe"
	devmock "github.com/padelcore/padelcore/pkg/device/mock"
	livemock "github.com/padelcore/padelcore/pkg/provider/live/mock"
	"github.com/padelcore/padelcore/pkg/store"
	"github.com/padelcore/padelcore/pkg/store/memstore"
)

// testConfig returns a minimal config bound to an ephemeral port.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Coach: config.CoachConfig{Voice: "Kore"},
	}
}

// testProviders returns mock providers for every slot.
func testProviders() *app.Providers {
	return &app.Providers{
		Live:    &livemock.Provider{},
		Lab:     &labmock.Provider{Text: "Nice volley."},
		Devices: &devmock.Backend{},
		Store:   memstore.New(),
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(metric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// closeCountingStore counts Close calls.
type closeCountingStore struct {
	*memstore.Store
	closes int
}

func (s *closeCountingStore) Close() error {
	s.closes++
	return nil
}

var _ store.Store = (*closeCountingStore)(nil)

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders(), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application.Lab() == nil {
		t.Error("Lab() = nil with a lab provider configured")
	}
	if application.Sessions() == nil || application.Handler() == nil || application.Store() == nil {
		t.Error("New() left a subsystem unset")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if _, ok := application.Store().(*memstore.Store); !ok {
		t.Errorf("Store() = %T; want in-memory fallback", application.Store())
	}
	if application.Lab() != nil {
		t.Error("Lab() != nil without a lab provider")
	}

	// Without a live provider sessions cannot start.
	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"mode":"voice"}`)))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("POST /api/session status = %d; want 502", rec.Code)
	}
}

func TestNew_NilConfig(t *testing.T) {
	t.Parallel()
	if _, err := app.New(context.Background(), nil, testProviders()); err == nil {
		t.Fatal("New(nil config) succeeded")
	}
}

func TestApp_SessionOverHTTP(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	application, err := app.New(context.Background(), testConfig(), providers, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	h := application.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"mode":"voice"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body)
	}

	live := providers.Live.(*livemock.Provider)
	waitFor(t, "connect", func() bool { return len(live.Calls()) == 1 })
	if got := live.Calls()[0].Cfg.Voice; got != "Kore" {
		t.Errorf("voice = %q; want Kore", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/session", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d: %s", rec.Code, rec.Body)
	}
	if application.Sessions().IsActive() {
		t.Error("session still active after DELETE /api/session")
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	application, err := app.New(context.Background(), testConfig(), providers, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	application.ApplyConfig(config.ConfigDiff{
		CoachChanged: true,
		NewCoach:     config.CoachConfig{VoiceInstructions: "Be brief.", Voice: "Charon"},
	})

	ctx := context.Background()
	if _, err := application.Sessions().Start(ctx, "voice", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	live := providers.Live.(*livemock.Provider)
	waitFor(t, "connect", func() bool { return len(live.Calls()) == 1 })
	if _, err := application.Sessions().Stop(ctx, "", false); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	cfg := live.Calls()[0].Cfg
	if cfg.Instructions != "Be brief." || cfg.Voice != "Charon" {
		t.Errorf("connect config = %+v", cfg)
	}
}

func TestApp_LabOverHTTP(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders(), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/lab/video", strings.NewReader(`{"prompt":"my backhand"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body struct{ Text string }
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Text != "Nice volley." {
		t.Errorf("text = %q", body.Text)
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	st := &closeCountingStore{Store: memstore.New()}
	providers := testProviders()
	providers.Store = st
	application, err := app.New(context.Background(), testConfig(), providers, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := application.Sessions().Start(context.Background(), "voice", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if application.Sessions().IsActive() {
		t.Error("session still active after Shutdown")
	}
	if st.closes != 1 {
		t.Errorf("store Close calls = %d, want 1", st.closes)
	}

	// A second Shutdown is a no-op.
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
	if st.closes != 1 {
		t.Errorf("store Close calls after second Shutdown = %d, want 1", st.closes)
	}
}

func TestApp_ShutdownDeadline(t *testing.T) {
	t.Parallel()

	st := &closeCountingStore{Store: memstore.New()}
	providers := testProviders()
	providers.Store = st
	application, err := app.New(context.Background(), testConfig(), providers, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := application.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Shutdown() error = %v; want context.Canceled", err)
	}
	if st.closes != 0 {
		t.Errorf("store closed despite expired context")
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders(), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Run in background.
	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	// Give Run a moment to start listening.
	time.Sleep(50 * time.Millisecond)

	// Cancel context to trigger shutdown.
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run() did not return within 15s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}
