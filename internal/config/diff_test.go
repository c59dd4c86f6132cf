package config_test

import (
	"slices"
	"testing"

	"github.com/padelcore/padelcore/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		return &config.Config{
			Server:    config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
			Providers: config.ProvidersConfig{Live: config.ProviderEntry{Name: "gemini-live", APIKey: "k"}},
			Coach:     config.CoachConfig{VoiceInstructions: "be kind", Voice: "Zephyr"},
			Storage:   config.StorageConfig{Driver: config.StorageMemory},
		}
	}

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLevel   bool
		wantCoach   bool
		wantRestart []string
	}{
		{name: "identical", mutate: func(*config.Config) {}},
		{name: "log level", mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug }, wantLevel: true},
		{name: "coach prompt", mutate: func(c *config.Config) { c.Coach.VideoInstructions = "watch feet" }, wantCoach: true},
		{name: "coach voice", mutate: func(c *config.Config) { c.Coach.Voice = "Puck" }, wantCoach: true},
		{name: "listen addr", mutate: func(c *config.Config) { c.Server.ListenAddr = ":9090" }, wantRestart: []string{"server.listen_addr"}},
		{name: "live model", mutate: func(c *config.Config) { c.Providers.Live.Model = "other" }, wantRestart: []string{"providers.live"}},
		{
			name: "storage and capture",
			mutate: func(c *config.Config) {
				c.Storage = config.StorageConfig{Driver: config.StorageSQLite, DSN: "x.db"}
				c.Capture.BlockSize = 2048
			},
			wantRestart: []string{"capture", "storage"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, updated := base(), base()
			tt.mutate(updated)

			d := config.Diff(old, updated)
			if d.LogLevelChanged != tt.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tt.wantLevel)
			}
			if d.LogLevelChanged && d.NewLogLevel != updated.Server.LogLevel {
				t.Errorf("NewLogLevel = %q", d.NewLogLevel)
			}
			if d.CoachChanged != tt.wantCoach {
				t.Errorf("CoachChanged = %v, want %v", d.CoachChanged, tt.wantCoach)
			}
			if d.CoachChanged && d.NewCoach != updated.Coach {
				t.Errorf("NewCoach = %+v", d.NewCoach)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
			wantAny := tt.wantLevel || tt.wantCoach || len(tt.wantRestart) > 0
			if d.HasChanges() != wantAny {
				t.Errorf("HasChanges() = %v, want %v", d.HasChanges(), wantAny)
			}
		})
	}
}
