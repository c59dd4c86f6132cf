package config_test

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/padelcore/padelcore/internal/config"
)

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

providers:
  live:
    name: gemini-live
    api_key: live-key
    model: gemini-2.5-flash-native-audio-preview-09-2025
    options:
      voice: Zephyr
  lab:
    name: gemini
    api_key: lab-key
    options:
      pro_model: gemini-2.5-pro

coach:
  video_instructions: Watch my footwork.
  voice: Puck

capture:
  block_size: 2048
  frame_interval: 500ms
  max_frame_width: 320
  jpeg_quality: 70
  pending_limit: 16
  clamp_input: true

devices:
  capture: gstreamer
  output: portaudio
  options:
    video_source: v4l2src device=/dev/video0

storage:
  driver: sqlite
  dsn: /var/lib/padelcore/recordings.db

telemetry:
  service_name: padelcore-test
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Providers.Live.Name != "gemini-live" || cfg.Providers.Live.APIKey != "live-key" {
		t.Errorf("providers.live: got %+v", cfg.Providers.Live)
	}
	if got := cfg.Providers.Live.StringOption("voice"); got != "Zephyr" {
		t.Errorf("providers.live.options.voice: got %q", got)
	}
	if got := cfg.Providers.Lab.StringOption("pro_model"); got != "gemini-2.5-pro" {
		t.Errorf("providers.lab.options.pro_model: got %q", got)
	}
	if cfg.Capture.FrameInterval != 500*time.Millisecond {
		t.Errorf("capture.frame_interval: got %s, want 500ms", cfg.Capture.FrameInterval)
	}
	if !cfg.Capture.ClampInput || cfg.Capture.BlockSize != 2048 || cfg.Capture.JPEGQuality != 70 {
		t.Errorf("capture: got %+v", cfg.Capture)
	}
	if cfg.Devices.Capture != "gstreamer" || cfg.Devices.Output != "portaudio" {
		t.Errorf("devices: got %+v", cfg.Devices)
	}
	if cfg.Storage.Driver != config.StorageSQLite || cfg.Storage.DSN == "" {
		t.Errorf("storage: got %+v", cfg.Storage)
	}
	if cfg.Telemetry.ServiceName != "padelcore-test" {
		t.Errorf("telemetry.service_name: got %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"", "{}"} {
		if _, err := config.LoadFromReader(strings.NewReader(doc)); err != nil {
			t.Errorf("LoadFromReader(%q): %v", doc, err)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  port: 80\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

// ── Coach defaults ────────────────────────────────────────────────────────────

func TestCoachConfig_Defaults(t *testing.T) {
	t.Parallel()
	var c config.CoachConfig
	if got := c.InstructionsFor("voice"); got != config.DefaultVoiceInstructions {
		t.Errorf("voice instructions = %q", got)
	}
	if got := c.InstructionsFor("video"); got != config.DefaultVideoInstructions {
		t.Errorf("video instructions = %q", got)
	}
	if got := c.VoiceOrDefault(); got != config.DefaultVoice {
		t.Errorf("voice = %q", got)
	}

	c = config.CoachConfig{VoiceInstructions: "v", VideoInstructions: "w", Voice: "Kore"}
	if c.InstructionsFor("voice") != "v" || c.InstructionsFor("video") != "w" || c.VoiceOrDefault() != "Kore" {
		t.Errorf("configured values not returned: %+v", c)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("verbose should be invalid")
	}
}

func TestExampleConfig(t *testing.T) {
	t.Parallel()

	data, err := os.ReadFile("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("read example: %v", err)
	}
	// Decode without the environment so the test does not depend on it.
	cfg := &config.Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		t.Fatalf("decode example: %v", err)
	}
	config.ApplyEnv(cfg, func(string) string { return "example-key" })
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate(example) = %v", err)
	}
	if cfg.Devices.Capture != "null" || cfg.Capture.FrameInterval != time.Second {
		t.Errorf("example decoded as %+v", cfg)
	}
}
