package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/padelcore/padelcore/internal/app"
	"github.com/padelcore/padelcore/internal/config"
	"github.com/padelcore/padelcore/internal/lab"
	labgemini "github.com/padelcore/padelcore/internal/lab/gemini"
	labmock "github.com/padelcore/padelcore/internal/lab/mock"
	"github.com/padelcore/padelcore/internal/resilience"
	"github.com/padelcore/padelcore/pkg/device"
	"github.com/padelcore/padelcore/pkg/device/null"
	"github.com/padelcore/padelcore/pkg/provider/live"
	livegemini "github.com/padelcore/padelcore/pkg/provider/live/gemini"
	livemock "github.com/padelcore/padelcore/pkg/provider/live/mock"
	"github.com/padelcore/padelcore/pkg/store"
	"github.com/padelcore/padelcore/pkg/store/memstore"
	"github.com/padelcore/padelcore/pkg/store/postgres"
	"github.com/padelcore/padelcore/pkg/store/sqlite"
)

// deviceFactories holds the device backends compiled into this binary.
// Backends that need cgo register themselves from build-tagged files.
var deviceFactories = map[string]func(config.DeviceEntry) (device.Backend, error){
	"null": func(config.DeviceEntry) (device.Backend, error) { return null.New(), nil },
}

// registerBuiltinProviders wires all built-in factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []livegemini.Option
		if entry.Model != "" {
			opts = append(opts, livegemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, livegemini.WithBaseURL(entry.BaseURL))
		}
		if v := entry.StringOption("voice"); v != "" {
			opts = append(opts, livegemini.WithVoice(v))
		}
		return livegemini.New(entry.APIKey, opts...), nil
	})

	// mock answers nothing; useful to exercise devices without an API key.
	reg.RegisterLive("mock", func(config.ProviderEntry) (live.Provider, error) {
		return &livemock.Provider{}, nil
	})

	// ── AI Lab ────────────────────────────────────────────────────────────────

	reg.RegisterLab("gemini", func(ctx context.Context, entry config.ProviderEntry) (lab.Provider, error) {
		opts := []labgemini.Option{
			labgemini.WithModel(entry.Model),
			labgemini.WithProModel(entry.StringOption("pro_model")),
		}
		if entry.BaseURL != "" {
			opts = append(opts, labgemini.WithBaseURL(entry.BaseURL))
		}
		return labgemini.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterLab("mock", func(context.Context, config.ProviderEntry) (lab.Provider, error) {
		return &labmock.Provider{Text: "This is a mock analysis."}, nil
	})

	// ── Devices ───────────────────────────────────────────────────────────────

	for name, factory := range deviceFactories {
		reg.RegisterDevices(name, factory)
	}

	// ── Stores ────────────────────────────────────────────────────────────────

	reg.RegisterStore(config.StorageMemory, func(context.Context, config.StorageConfig) (store.Store, error) {
		return memstore.New(), nil
	})
	reg.RegisterStore(config.StorageSQLite, func(ctx context.Context, c config.StorageConfig) (store.Store, error) {
		return sqlite.Open(ctx, c.DSN)
	})
	reg.RegisterStore(config.StoragePostgres, func(ctx context.Context, c config.StorageConfig) (store.Store, error) {
		return postgres.NewStore(ctx, c.DSN)
	})
}

// buildProviders instantiates everything named in cfg using the registry and
// returns it in an [app.Providers] for the application to consume. The
// returned func releases device backends that hold native resources; the
// store is owned by the app and closed by its Shutdown.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, func(), error) {
	ps := &app.Providers{}
	var closers []io.Closer
	cleanup := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("device backend close error", "err", err)
			}
		}
	}

	if name := cfg.Providers.Live.Name; name != "" {
		p, err := reg.CreateLive(cfg.Providers.Live)
		if err != nil {
			return nil, nil, fmt.Errorf("create live provider %q: %w", name, err)
		}
		ps.Live = p
		if name != "mock" {
			ps.Live = resilience.NewLive(p, resilience.CircuitBreakerConfig{Name: "live/" + name})
		}
		slog.Info("provider created", "kind", "live", "name", name)
	}

	if name := cfg.Providers.Lab.Name; name != "" {
		p, err := reg.CreateLab(ctx, cfg.Providers.Lab)
		if err != nil {
			return nil, nil, fmt.Errorf("create lab provider %q: %w", name, err)
		}
		ps.Lab = p
		if name != "mock" {
			ps.Lab = resilience.NewLab(p, resilience.CircuitBreakerConfig{Name: "lab/" + name})
		}
		slog.Info("provider created", "kind", "lab", "name", name)
	}

	captureName := orDefault(cfg.Devices.Capture, "null")
	outputName := orDefault(cfg.Devices.Output, captureName)
	capture, err := createDevices(reg, captureName, cfg.Devices.Options)
	if err != nil {
		return nil, nil, err
	}
	if c, ok := capture.(io.Closer); ok {
		closers = append(closers, c)
	}
	ps.Devices = capture
	if outputName != captureName {
		output, err := createDevices(reg, outputName, cfg.Devices.Options)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if c, ok := output.(io.Closer); ok {
			closers = append(closers, c)
		}
		ps.Devices = device.Split{Capture: capture, Output: output}
	}
	slog.Info("devices created", "capture", captureName, "output", outputName)

	st, err := reg.CreateStore(ctx, cfg.Storage)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("open %q store: %w", orDefault(string(cfg.Storage.Driver), "memory"), err)
	}
	ps.Store = st
	slog.Info("recording store opened", "driver", orDefault(string(cfg.Storage.Driver), "memory"))

	return ps, cleanup, nil
}

func createDevices(reg *config.Registry, name string, opts map[string]any) (device.Backend, error) {
	b, err := reg.CreateDevices(config.DeviceEntry{Name: name, Options: opts})
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return nil, fmt.Errorf("device backend %q is not compiled in (build with -tags %s): %w", name, name, err)
	}
	if err != nil {
		return nil, fmt.Errorf("create device backend %q: %w", name, err)
	}
	return b, nil
}
