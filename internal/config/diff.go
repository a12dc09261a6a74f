package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// and theme thresholds apply without a restart; every other changed section
// is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThemesChanged bool
	NewThemes     ThemesConfig

	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ThemesChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.Themes != new.Themes {
		d.ThemesChanged = true
		d.NewThemes = new.Themes
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", old.Server, new.Server},
		{"database", old.Database, new.Database},
		{"redis", old.Redis, new.Redis},
		{"auth", old.Auth, new.Auth},
		{"providers", old.Providers, new.Providers},
		{"pipeline", old.Pipeline, new.Pipeline},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
