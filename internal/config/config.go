// Package config provides configuration types, defaults and persistence for
// changewatch.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/microsoft/wil-sub001/internal/executor"
	"github.com/microsoft/wil-sub001/internal/log"
	"github.com/microsoft/wil-sub001/internal/tracing"
)

// AppName names the config directory and environment prefix.
const AppName = "changewatch"

// Config holds all configuration options for changewatch.
type Config struct {
	Executor executor.Config `mapstructure:"executor"`
	Log      LogConfig       `mapstructure:"log"`
	Tracing  tracing.Config  `mapstructure:"tracing"`
	Watch    WatchConfig     `mapstructure:"watch"`
	Journal  JournalConfig   `mapstructure:"journal"`
}

// LogConfig controls the debug log file.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info (default), warn, error
	File  string `mapstructure:"file"`  // empty disables file logging unless --debug
}

// WatchConfig holds defaults for the watch command.
type WatchConfig struct {
	Paths       []string      `mapstructure:"paths"`        // watched when no arguments are given
	Recursive   bool          `mapstructure:"recursive"`
	QuietWindow time.Duration `mapstructure:"quiet_window"` // 0 prints every change
}

// JournalConfig controls the SQLite change journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Executor: executor.Config{Workers: executor.DefaultWorkers},
		Log:      LogConfig{Level: "info"},
		Tracing:  tracing.DefaultConfig(),
		Watch: WatchConfig{
			QuietWindow: 0,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    DefaultJournalPath(),
		},
	}
}

func userConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", AppName)
}

// DefaultConfigPath returns ~/.config/changewatch/config.yaml, or "" when
// the home directory is unknown.
func DefaultConfigPath() string {
	dir := userConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// DefaultJournalPath returns ~/.config/changewatch/journal.db, or "".
func DefaultJournalPath() string {
	dir := userConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "journal.db")
}

// DefaultTracesFilePath returns ~/.config/changewatch/traces/traces.jsonl, or "".
func DefaultTracesFilePath() string {
	dir := userConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// ResolveConfigPath picks the config file to load: the project-local
// .changewatch/config.yaml under cwd when present, else the user config.
func ResolveConfigPath(cwd string) string {
	local := filepath.Join(cwd, "."+AppName, "config.yaml")
	if _, err := os.Stat(local); err == nil {
		return local
	}
	return DefaultConfigPath()
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate checks the whole configuration and joins every problem found.
func (c Config) Validate() error {
	return errors.Join(
		ValidateExecutor(c.Executor),
		ValidateLog(c.Log),
		ValidateTracing(c.Tracing),
		ValidateWatch(c.Watch),
		ValidateJournal(c.Journal),
	)
}

// ValidateExecutor rejects negative worker counts. Zero means the default.
func ValidateExecutor(cfg executor.Config) error {
	if cfg.Workers < 0 {
		return fmt.Errorf("executor.workers must not be negative, got %d", cfg.Workers)
	}
	return nil
}

// ValidateLog checks the log level name.
func ValidateLog(cfg LogConfig) error {
	switch strings.ToLower(cfg.Level) {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", cfg.Level)
	}
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(cfg tracing.Config) error {
	if cfg.SampleRate < 0.0 || cfg.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", cfg.SampleRate)
	}

	if cfg.Exporter != "" {
		switch cfg.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", cfg.Exporter)
		}
	}

	if cfg.Enabled {
		if cfg.Exporter == "file" && cfg.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if cfg.Exporter == "otlp" && cfg.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// ValidateWatch checks watch defaults.
func ValidateWatch(cfg WatchConfig) error {
	if cfg.QuietWindow < 0 {
		return fmt.Errorf("watch.quiet_window must not be negative, got %s", cfg.QuietWindow)
	}
	for i, p := range cfg.Paths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("watch.paths[%d]: path is empty", i)
		}
	}
	return nil
}

// ValidateJournal requires a path when the journal is enabled.
func ValidateJournal(cfg JournalConfig) error {
	if cfg.Enabled && cfg.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	return nil
}

// DefaultConfigTemplate returns the default config as YAML with comments.
func DefaultConfigTemplate() string {
	return `# changewatch configuration

# Completion handlers for all watchers share this many goroutines.
executor:
  workers: 4

log:
  # debug, info, warn, error
  level: info
  # Set to write a log file; --debug uses ./debug.log when this is empty.
  file: ""

watch:
  # Paths watched when "changewatch watch" gets no arguments.
  paths: []
  # Watch whole directory trees.
  recursive: false
  # Print a path/kind pair at most once per window, e.g. 500ms. 0 prints all.
  quiet_window: 0s

journal:
  # Record every delivered change in a SQLite database.
  enabled: true
  path: ~/.config/changewatch/journal.db

# Distributed tracing of watcher creation and notification handling.
tracing:
  enabled: false
  # none, file, stdout, otlp
  exporter: file
  file_path: ~/.config/changewatch/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
  service_name: changewatch
`
}

// WriteDefaultConfig creates a config file at the given path with default
// settings and comments, creating the parent directory if needed.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
