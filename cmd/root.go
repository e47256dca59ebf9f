package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/microsoft/wil-sub001/internal/config"
	"github.com/microsoft/wil-sub001/internal/log"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config

	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "changewatch",
	Short: "Watch files and directories for changes",
	Long: `changewatch reports changes to files and directory trees as they happen,
records them in a local journal, and stops cleanly once a watched object is deleted.`,
	Version:            version,
	SilenceUsage:       true,
	PersistentPreRunE:  setupLogging,
	PersistentPostRunE: teardownLogging,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .changewatch/config.yaml or ~/.config/changewatch/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (also CHANGEWATCH_DEBUG=1)")
}

var configErr error

func initConfig() {
	cwd, _ := os.Getwd()
	cfg, configErr = loadConfig(viper.GetViper(), cfgFile, cwd)
}

// loadConfig reads configuration into v from explicit, or from the default
// lookup locations when explicit is empty. A missing file is not an error.
func loadConfig(v *viper.Viper, explicit, cwd string) (config.Config, error) {
	defaults := config.Defaults()
	v.SetDefault("executor.workers", defaults.Executor.Workers)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.file", defaults.Log.File)
	v.SetDefault("watch.paths", defaults.Watch.Paths)
	v.SetDefault("watch.recursive", defaults.Watch.Recursive)
	v.SetDefault("watch.quiet_window", defaults.Watch.QuietWindow)
	v.SetDefault("journal.enabled", defaults.Journal.Enabled)
	v.SetDefault("journal.path", defaults.Journal.Path)
	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	v.SetDefault("tracing.file_path", config.DefaultTracesFilePath())
	v.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	v.SetEnvPrefix(strings.ToUpper(config.AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := explicit
	if path == "" {
		path = config.ResolveConfigPath(cwd)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// Only an explicitly requested file has to exist.
			if explicit != "" || !os.IsNotExist(err) {
				return config.Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var c config.Config
	if err := v.Unmarshal(&c); err != nil {
		return config.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	c.Journal.Path = config.ExpandHome(c.Journal.Path)
	c.Tracing.FilePath = config.ExpandHome(c.Tracing.FilePath)
	for i, p := range c.Watch.Paths {
		c.Watch.Paths[i] = config.ExpandHome(p)
	}
	if err := c.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func setupLogging(_ *cobra.Command, _ []string) error {
	if configErr != nil {
		return configErr
	}

	debug := os.Getenv("CHANGEWATCH_DEBUG") != "" || debugFlag
	path := cfg.Log.File
	if debug && path == "" {
		path = "debug.log"
	}
	if path == "" {
		log.Reset()
		return nil
	}

	cleanup, err := log.Init(config.ExpandHome(path))
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logCleanup = cleanup
	if !debug {
		log.SetMinLevel(log.ParseLevel(cfg.Log.Level))
	}
	log.Info(log.CatCLI, "changewatch starting", "version", version, "debug", debug, "logPath", path,
		"config", viper.ConfigFileUsed())
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if logCleanup != nil {
		log.Reset()
		logCleanup()
		logCleanup = nil
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
