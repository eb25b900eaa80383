// Package commands wires the retrywatch CLI.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jholhewres/retrywatch/pkg/retrywatch/config"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/paths"
)

// version is set at build time via -ldflags.
var version = "dev"

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "retrywatch",
		Short: "Auto-retry watcher for IDE agent panes",
		Long: `Retrywatch attaches to a local IDE's remote-debugging endpoint,
injects a monitor into its pages and webviews, and auto-clicks agent
"Retry" buttons that appear inside error contexts. A banned-command
safety gate blocks retries that would re-run destructive commands.

Examples:
  retrywatch watch
  retrywatch watch --config ./config.yaml
  retrywatch status
  retrywatch setup`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file path (default: "+paths.ResolveConfigPath()+")")
	root.PersistentFlags().Bool("verbose", false, "enable debug logging")

	root.AddCommand(newWatchCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newSetupCmd())
	root.AddCommand(newConsoleCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// resolveConfig loads the config honoring the --config flag, environment
// overrides and the default state-dir location. A missing file yields
// defaults rather than an error so first runs work out of the box.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	// .env beside the process, if present. Ignore absence.
	_ = godotenv.Load()

	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = paths.ResolveConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), path, nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// newLogger builds the process logger from config and the --verbose flag.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
