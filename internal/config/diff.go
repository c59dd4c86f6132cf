package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CoachChanged is true if the coach instructions or voice changed. The
	// new values apply to the next session.
	CoachChanged bool
	NewCoach     CoachConfig

	// RestartRequired lists the top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// HasChanges reports whether d carries any change.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.CoachChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Coach != new.Coach {
		d.CoachChanged = true
		d.NewCoach = new.Coach
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !providerEntryEqual(old.Providers.Live, new.Providers.Live) {
		d.RestartRequired = append(d.RestartRequired, "providers.live")
	}
	if !providerEntryEqual(old.Providers.Lab, new.Providers.Lab) {
		d.RestartRequired = append(d.RestartRequired, "providers.lab")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Devices.Capture != new.Devices.Capture || old.Devices.Output != new.Devices.Output {
		d.RestartRequired = append(d.RestartRequired, "devices")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}

	return d
}

// providerEntryEqual compares the scalar fields of two entries. Options are
// not compared.
func providerEntryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
