package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":    {"gemini-live", "mock"},
	"lab":     {"gemini", "mock"},
	"capture": {"null", "gstreamer", "portaudio"},
	"output":  {"null", "gstreamer", "portaudio"},
}

// APIKeyEnvVars are consulted in order to fill empty provider API keys.
var APIKeyEnvVars = []string{"PADELCORE_API_KEY", "GEMINI_API_KEY"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills API keys from the
// environment and validates the result. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills empty provider API keys from the first non-empty variable in
// [APIKeyEnvVars].
func ApplyEnv(cfg *Config, getenv func(string) string) {
	var key string
	for _, name := range APIKeyEnvVars {
		if v := getenv(name); v != "" {
			key = v
			break
		}
	}
	if key == "" {
		return
	}
	if cfg.Providers.Live.APIKey == "" {
		cfg.Providers.Live.APIKey = key
	}
	if cfg.Providers.Lab.APIKey == "" {
		cfg.Providers.Lab.APIKey = key
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("lab", cfg.Providers.Lab.Name)
	if cfg.Providers.Live.Name == "" {
		slog.Warn("providers.live is not configured; coaching sessions will not be available")
	} else if cfg.Providers.Live.Name != "mock" && cfg.Providers.Live.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.live.api_key is required (or set %s)", APIKeyEnvVars[0]))
	}
	if cfg.Providers.Lab.Name != "" && cfg.Providers.Lab.Name != "mock" && cfg.Providers.Lab.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.lab.api_key is required (or set %s)", APIKeyEnvVars[0]))
	}

	// Capture
	c := cfg.Capture
	if c.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("capture.block_size %d must not be negative", c.BlockSize))
	}
	if c.FrameInterval < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_interval %s must not be negative", c.FrameInterval))
	}
	if c.JPEGQuality < 0 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("capture.jpeg_quality %d is out of range [0, 100]", c.JPEGQuality))
	}
	if c.PendingLimit < 0 {
		errs = append(errs, fmt.Errorf("capture.pending_limit %d must not be negative", c.PendingLimit))
	}

	// Devices
	validateProviderName("capture", cfg.Devices.Capture)
	validateProviderName("output", cfg.Devices.Output)

	// Storage
	switch d := cfg.Storage.Driver; {
	case d == "" || d == StorageMemory:
		slog.Debug("storage.driver is memory; recordings are lost on restart")
	case !d.IsValid():
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: memory, sqlite, postgres", d))
	case cfg.Storage.DSN == "":
		errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", d))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
