package config_test

import (
	"slices"
	"testing"

	"github.com/onyria/onyria/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()
	base := func() *config.Config {
		return &config.Config{
			LogLevel: config.LogInfo,
			Themes:   config.ThemesConfig{MinDreams: 2, MinOccurrence: 2},
			Pipeline: config.PipelineConfig{FallbackChain: map[string][]string{"a": {"b"}}},
		}
	}

	t.Run("identical", func(t *testing.T) {
		t.Parallel()
		if d := config.Diff(base(), base()); !d.Empty() {
			t.Errorf("Diff = %+v, want empty", d)
		}
	})

	t.Run("hot reloadable", func(t *testing.T) {
		t.Parallel()
		next := base()
		next.LogLevel = config.LogDebug
		next.Themes.MinOccurrence = 5
		d := config.Diff(base(), next)
		if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
			t.Errorf("log level diff = %+v", d)
		}
		if !d.ThemesChanged || d.NewThemes.MinOccurrence != 5 {
			t.Errorf("themes diff = %+v", d)
		}
		if len(d.RestartRequired) != 0 {
			t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
		}
	})

	t.Run("restart required", func(t *testing.T) {
		t.Parallel()
		next := base()
		next.Database.DSN = "postgres://elsewhere"
		next.Pipeline.FallbackChain["a"] = []string{"c"}
		d := config.Diff(base(), next)
		want := []string{"database", "pipeline"}
		if !slices.Equal(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
		}
	})
}
