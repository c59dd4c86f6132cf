// Package config provides the configuration schema, loader, and provider registry
// for the Padel Core coaching service.
package config

import "time"

// LogLevel controls log verbosity for the Padel Core server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StorageDriver selects the recordings store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

// IsValid reports whether d is a recognised storage driver.
func (d StorageDriver) IsValid() bool {
	switch d {
	case StorageMemory, StorageSQLite, StoragePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure for Padel Core.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Coach     CoachConfig     `yaml:"coach"`
	Capture   CaptureConfig   `yaml:"capture"`
	Devices   DevicesConfig   `yaml:"devices"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig selects the model providers. Each entry names a factory
// registered in the [Registry].
type ProvidersConfig struct {
	// Live is the realtime voice/video coaching provider.
	Live ProviderEntry `yaml:"live"`

	// Lab serves the non-realtime AI Lab requests.
	Lab ProviderEntry `yaml:"lab"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini-live").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. When empty it
	// is filled from PADELCORE_API_KEY or GEMINI_API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] when it is a string, otherwise "".
func (e ProviderEntry) StringOption(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// CoachConfig holds the prompts and voice of the live coach. Changes apply
// to the next session.
type CoachConfig struct {
	// VoiceInstructions is the system instruction for voice-only sessions.
	VoiceInstructions string `yaml:"voice_instructions"`

	// VideoInstructions is the system instruction for video sessions.
	VideoInstructions string `yaml:"video_instructions"`

	// Voice is the prebuilt voice name (e.g., "Zephyr").
	Voice string `yaml:"voice"`
}

// Default coach prompts used when the config leaves them empty.
const (
	DefaultVoiceInstructions = "You are an expert, friendly padel coach. Answer the player's questions about " +
		"technique, tactics and training clearly and concisely."
	DefaultVideoInstructions = "You are an expert padel coach watching the player through the camera. " +
		"Give short, concrete feedback about posture, footwork and stroke technique as they play."
	DefaultVoice = "Zephyr"
)

// InstructionsFor returns the configured instructions for the given mode
// ("voice" or "video"), falling back to the defaults.
func (c CoachConfig) InstructionsFor(mode string) string {
	if mode == "video" {
		if c.VideoInstructions != "" {
			return c.VideoInstructions
		}
		return DefaultVideoInstructions
	}
	if c.VoiceInstructions != "" {
		return c.VoiceInstructions
	}
	return DefaultVoiceInstructions
}

// VoiceOrDefault returns the configured voice or [DefaultVoice].
func (c CoachConfig) VoiceOrDefault() string {
	if c.Voice != "" {
		return c.Voice
	}
	return DefaultVoice
}

// CaptureConfig tunes the capture pipeline. Zero values select the
// pipeline defaults.
type CaptureConfig struct {
	// BlockSize is the number of microphone samples per payload.
	BlockSize int `yaml:"block_size"`

	// FrameInterval is the camera still period (e.g., "1s").
	FrameInterval time.Duration `yaml:"frame_interval"`

	// MaxFrameWidth caps the width of encoded stills.
	MaxFrameWidth int `yaml:"max_frame_width"`

	// JPEGQuality is the still quality in [1, 100].
	JPEGQuality int `yaml:"jpeg_quality"`

	// PendingLimit bounds the payloads queued before the session opens.
	PendingLimit int `yaml:"pending_limit"`

	// ClampInput saturates out-of-range microphone samples instead of
	// letting them wrap.
	ClampInput bool `yaml:"clamp_input"`
}

// DevicesConfig selects the local media backends.
type DevicesConfig struct {
	// Capture names the microphone/camera backend: "null", "gstreamer" or
	// "portaudio". Default "null".
	Capture string `yaml:"capture"`

	// Output names the speaker backend. Defaults to Capture; every backend
	// can play audio.
	Output string `yaml:"output"`

	// Options holds backend-specific settings such as GStreamer source
	// descriptions.
	Options map[string]any `yaml:"options"`
}

// DeviceEntry is what a device backend factory receives.
type DeviceEntry struct {
	Name    string
	Options map[string]any
}

// StringOption returns Options[key] when it is a string, otherwise "".
func (e DeviceEntry) StringOption(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// StorageConfig selects where saved recordings live.
type StorageConfig struct {
	// Driver is "memory", "sqlite" or "postgres". Default "memory".
	Driver StorageDriver `yaml:"driver"`

	// DSN is the sqlite file path or the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is reported as the service.name resource attribute.
	// Default "padelcore".
	ServiceName string `yaml:"service_name"`
}
