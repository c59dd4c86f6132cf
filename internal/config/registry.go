package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/padelcore/padelcore/internal/lab"
	"github.com/padelcore/padelcore/pkg/device"
	"github.com/padelcore/padelcore/pkg/provider/live"
	"github.com/padelcore/padelcore/pkg/store"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	live    map[string]func(ProviderEntry) (live.Provider, error)
	lab     map[string]func(context.Context, ProviderEntry) (lab.Provider, error)
	devices map[string]func(DeviceEntry) (device.Backend, error)
	stores  map[StorageDriver]func(context.Context, StorageConfig) (store.Store, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:    make(map[string]func(ProviderEntry) (live.Provider, error)),
		lab:     make(map[string]func(context.Context, ProviderEntry) (lab.Provider, error)),
		devices: make(map[string]func(DeviceEntry) (device.Backend, error)),
		stores:  make(map[StorageDriver]func(context.Context, StorageConfig) (store.Store, error)),
	}
}

// RegisterLive registers a live provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterLab registers an AI Lab provider factory under name.
func (r *Registry) RegisterLab(name string, factory func(context.Context, ProviderEntry) (lab.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lab[name] = factory
}

// RegisterDevices registers a device backend factory under name.
func (r *Registry) RegisterDevices(name string, factory func(DeviceEntry) (device.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// RegisterStore registers a recordings store factory for driver.
func (r *Registry) RegisterStore(driver StorageDriver, factory func(context.Context, StorageConfig) (store.Store, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[driver] = factory
}

// HasDevices reports whether a device backend is registered under name.
func (r *Registry) HasDevices(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[name]
	return ok
}

// CreateLive instantiates a live provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	r.mu.RLock()
	factory, ok := r.live[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLab instantiates an AI Lab provider using the factory registered under entry.Name.
func (r *Registry) CreateLab(ctx context.Context, entry ProviderEntry) (lab.Provider, error) {
	r.mu.RLock()
	factory, ok := r.lab[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: lab/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(ctx, entry)
}

// CreateDevices instantiates a device backend using the factory registered under entry.Name.
func (r *Registry) CreateDevices(entry DeviceEntry) (device.Backend, error) {
	r.mu.RLock()
	factory, ok := r.devices[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: devices/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateStore opens the recordings store for cfg.Driver. An empty driver
// selects [StorageMemory].
func (r *Registry) CreateStore(ctx context.Context, cfg StorageConfig) (store.Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = StorageMemory
	}
	r.mu.RLock()
	factory, ok := r.stores[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: store/%q", ErrProviderNotRegistered, cfg.Driver)
	}
	return factory(ctx, cfg)
}
