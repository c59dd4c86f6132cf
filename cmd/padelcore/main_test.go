package main

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/padelcore/padelcore/internal/config"
	"github.com/padelcore/padelcore/internal/resilience"
	"github.com/padelcore/padelcore/pkg/device"
	devmock "github.com/padelcore/padelcore/pkg/device/mock"
	"github.com/padelcore/padelcore/pkg/device/null"
	"github.com/padelcore/padelcore/pkg/store/memstore"
	"github.com/padelcore/padelcore/pkg/store/sqlite"
)

func newTestRegistry() *config.Registry {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	return reg
}

func TestBuildProviders_Defaults(t *testing.T) {
	t.Parallel()

	ps, cleanup, err := buildProviders(context.Background(), &config.Config{}, newTestRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	defer cleanup()

	if ps.Live != nil || ps.Lab != nil {
		t.Errorf("providers = %+v; want no live or lab provider", ps)
	}
	if _, ok := ps.Devices.(*null.Backend); !ok {
		t.Errorf("Devices = %T; want *null.Backend", ps.Devices)
	}
	if _, ok := ps.Store.(*memstore.Store); !ok {
		t.Errorf("Store = %T; want *memstore.Store", ps.Store)
	}
}

func TestBuildProviders_Mocks(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Providers.Live.Name = "mock"
	cfg.Providers.Lab.Name = "mock"

	ps, cleanup, err := buildProviders(context.Background(), cfg, newTestRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	defer cleanup()
	if ps.Live == nil || ps.Lab == nil {
		t.Errorf("providers = %+v; want mock live and lab", ps)
	}
}

func TestBuildProviders_GuardsRemoteProviders(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Providers.Live = config.ProviderEntry{Name: "gemini-live", APIKey: "test-key"}
	cfg.Providers.Lab = config.ProviderEntry{Name: "gemini", APIKey: "test-key"}

	ps, cleanup, err := buildProviders(context.Background(), cfg, newTestRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	defer cleanup()
	if _, ok := ps.Live.(*resilience.Live); !ok {
		t.Errorf("Live = %T; want *resilience.Live", ps.Live)
	}
	if _, ok := ps.Lab.(*resilience.Lab); !ok {
		t.Errorf("Lab = %T; want *resilience.Lab", ps.Lab)
	}
}

func TestBuildProviders_SplitDevices(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	speaker := &devmock.Backend{}
	reg.RegisterDevices("speaker", func(config.DeviceEntry) (device.Backend, error) { return speaker, nil })

	cfg := &config.Config{}
	cfg.Devices.Output = "speaker"

	ps, cleanup, err := buildProviders(context.Background(), cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	defer cleanup()

	split, ok := ps.Devices.(device.Split)
	if !ok {
		t.Fatalf("Devices = %T; want device.Split", ps.Devices)
	}
	if _, ok := split.Capture.(*null.Backend); !ok {
		t.Errorf("Capture = %T; want *null.Backend", split.Capture)
	}
	if split.Output != speaker {
		t.Errorf("Output = %v; want the registered speaker backend", split.Output)
	}
}

func TestBuildProviders_DeviceNotCompiledIn(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	if reg.HasDevices("gstreamer") {
		t.Skip("built with -tags gstreamer")
	}
	cfg := &config.Config{}
	cfg.Devices.Capture = "gstreamer"

	_, _, err := buildProviders(context.Background(), cfg, reg)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v; want ErrProviderNotRegistered", err)
	}
	if !strings.Contains(err.Error(), "-tags gstreamer") {
		t.Errorf("err = %q; want a build tag hint", err)
	}
}

func TestBuildProviders_SQLite(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Storage = config.StorageConfig{
		Driver: config.StorageSQLite,
		DSN:    filepath.Join(t.TempDir(), "recordings.db"),
	}
	ps, cleanup, err := buildProviders(context.Background(), cfg, newTestRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	defer cleanup()
	defer ps.Store.Close()

	if _, ok := ps.Store.(*sqlite.Store); !ok {
		t.Errorf("Store = %T; want *sqlite.Store", ps.Store)
	}
}

func TestConsole_EnterThenPrompt(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()
	c := newConsole(pr)

	// With no pending Read a line is the stop keypress.
	go pw.Write([]byte("\n")) //nolint:errcheck
	select {
	case <-c.enter:
	case <-time.After(2 * time.Second):
		t.Fatal("enter not signalled")
	}

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := c.Read(buf)
		got <- string(buf[:n])
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(c.demand) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Read did not register demand")
		}
		time.Sleep(time.Millisecond)
	}
	go pw.Write([]byte("Bandeja drills\n")) //nolint:errcheck

	select {
	case line := <-got:
		if line != "Bandeja drills\n" {
			t.Errorf("Read = %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prompt answer not delivered")
	}
	select {
	case <-c.enter:
		t.Error("prompt answer also signalled enter")
	default:
	}
}

func TestConsole_EOF(t *testing.T) {
	t.Parallel()

	c := newConsole(strings.NewReader(""))
	buf := make([]byte, 8)
	if _, err := c.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("Read error = %v; want io.EOF", err)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	if got := slogLevel(config.LogDebug); got.String() != "DEBUG" {
		t.Errorf("slogLevel(debug) = %v", got)
	}
	if got := slogLevel(""); got.String() != "INFO" {
		t.Errorf("slogLevel(\"\") = %v", got)
	}
}
