package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/microsoft/wil-sub001/internal/config"
	"github.com/microsoft/wil-sub001/internal/executor"
	"github.com/microsoft/wil-sub001/internal/journal"
	"github.com/microsoft/wil-sub001/internal/log"
	"github.com/microsoft/wil-sub001/internal/tracing"
)

var watchCmd = &cobra.Command{
	Use:   "watch [path...]",
	Short: "Print changes to files or directories as they happen",
	Long: `Watch one or more files or directories and print a line for every change.

A watch on a path ends when the object at that path is deleted; the command
exits once every watched path is gone, or on Ctrl+C.

Example:
  changewatch watch ./config.yaml
  changewatch watch -r --quiet-window 500ms ./src ./docs`,
	RunE: runWatch,
}

var (
	watchRecursive bool
	watchQuiet     time.Duration
	watchNoJournal bool
	watchSave      bool
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVarP(&watchRecursive, "recursive", "r", false, "watch whole directory trees")
	watchCmd.Flags().DurationVar(&watchQuiet, "quiet-window", 0, "print a path/kind pair at most once per window")
	watchCmd.Flags().BoolVar(&watchNoJournal, "no-journal", false, "do not record changes in the journal")
	watchCmd.Flags().BoolVar(&watchSave, "save", false, "store these paths and flags as the watch defaults")
}

func runWatch(cmd *cobra.Command, args []string) error {
	watchCfg := cfg.Watch
	if len(args) > 0 {
		watchCfg.Paths = args
	}
	if cmd.Flags().Changed("recursive") {
		watchCfg.Recursive = watchRecursive
	}
	if cmd.Flags().Changed("quiet-window") {
		watchCfg.QuietWindow = watchQuiet
	}
	if err := config.ValidateWatch(watchCfg); err != nil {
		return err
	}
	if len(watchCfg.Paths) == 0 {
		return fmt.Errorf("no paths given and watch.paths is empty")
	}

	if watchSave {
		path := viper.ConfigFileUsed()
		if path == "" {
			path = config.DefaultConfigPath()
		}
		if err := config.SaveWatch(path, watchCfg); err != nil {
			return fmt.Errorf("saving watch defaults: %w", err)
		}
		log.Info(log.CatConfig, "Saved watch defaults", "path", path)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.ErrorErr(log.CatTrace, "Failed to flush traces", err)
		}
	}()

	var jr *journal.Journal
	if cfg.Journal.Enabled && !watchNoJournal {
		jr, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer func() { _ = jr.Close() }()
	}

	pool := executor.NewPool(cfg.Executor)
	defer pool.Close()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, noteStyle.Render(fmt.Sprintf("Watching %d path(s). Press Ctrl+C to stop.", len(watchCfg.Paths))))

	res, err := runSession(ctx, sessionOptions{
		Paths:       watchCfg.Paths,
		Recursive:   watchCfg.Recursive,
		QuietWindow: watchCfg.QuietWindow,
		Out:         out,
		Journal:     jr,
		Pool:        pool,
		Tracer:      provider.Tracer(),
	})
	if err != nil {
		return err
	}

	stats := pool.Stats()
	log.Info(log.CatCLI, "Watch finished", "delivered", res.Delivered, "suppressed", res.Suppressed,
		"deleted", res.Deleted, "invocations", stats.Invocations)
	_, _ = fmt.Fprintln(out, noteStyle.Render(fmt.Sprintf("%d change(s), %d hidden by quiet window.", res.Delivered, res.Suppressed)))
	return nil
}
