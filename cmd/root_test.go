package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/wil-sub001/internal/changewatch"
	"github.com/microsoft/wil-sub001/internal/config"
)

func writeTestFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	c, err := loadConfig(viper.New(), "", t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 4, c.Executor.Workers)
	require.Equal(t, filepath.Join(home, ".config", "changewatch", "journal.db"), c.Journal.Path)
	require.False(t, c.Tracing.Enabled)
}

func TestLoadConfig_ProjectFileAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cwd := t.TempDir()
	path := filepath.Join(cwd, ".changewatch", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(`
watch:
  recursive: true
  quiet_window: 250ms
  paths: ["~/notes"]
journal:
  path: ~/j.db
`), 0o600))
	t.Setenv("CHANGEWATCH_EXECUTOR_WORKERS", "9")

	v := viper.New()
	c, err := loadConfig(v, "", cwd)
	require.NoError(t, err)
	require.Equal(t, path, v.ConfigFileUsed())
	require.True(t, c.Watch.Recursive)
	require.Equal(t, 250*time.Millisecond, c.Watch.QuietWindow)
	require.Equal(t, []string{config.ExpandHome("~/notes")}, c.Watch.Paths)
	require.Equal(t, config.ExpandHome("~/j.db"), c.Journal.Path)
	require.Equal(t, 9, c.Executor.Workers)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"), t.TempDir())
	require.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executor:\n  workers: -2\n"), 0o600))

	_, err := loadConfig(viper.New(), path, t.TempDir())
	require.ErrorContains(t, err, "executor.workers")
}

func TestFormatChange(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.Local)
	line := formatChange(at, changewatch.Delete, "/tmp/x")
	require.Contains(t, line, "05:06:07.008")
	require.Contains(t, line, "delete")
	require.Contains(t, line, "/tmp/x")
}
