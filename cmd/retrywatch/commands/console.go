// Package commands – console.go provides an interactive REPL over a live
// watcher, useful for debugging button detection against a running IDE.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/retrywatch/pkg/retrywatch/paths"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/watcher"
)

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Start the watcher with an interactive control console",
		Long: `Start the watcher and drop into a REPL for poking at it:

  status   show lifecycle state and connection count
  stats    show aggregate monitor counters
  reset    zero monitor counters in every page
  targets  list pooled target identifiers
  quit     stop the watcher and exit`,
		RunE: runConsole,
	}
}

func consoleCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("status"),
		readline.PcItem("stats"),
		readline.PcItem("reset"),
		readline.PcItem("targets"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
		readline.PcItem("exit"),
	)
}

func consoleHistoryFile() string {
	dir, err := paths.EnsureStateDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "console_history")
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	w := watcher.New(cfg, nil, nil, logger)
	w.Start(ctx)
	defer w.Stop()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mretrywatch>\033[0m ",
		HistoryFile:     consoleHistoryFile(),
		HistoryLimit:    500,
		AutoComplete:    consoleCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("console unavailable: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(os.Stdout, "Watcher running. Type 'help' for commands, Ctrl+D to exit.")

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			continue

		case "status":
			st := w.Status()
			fmt.Printf("running=%t connections=%d\n", st.Running, st.Connections)

		case "stats":
			stats := w.AggregateStats()
			fmt.Printf("clicks=%d blocked=%d accept_all_clicks=%d\n",
				stats.Clicks, stats.Blocked, stats.AcceptAllClicks)

		case "reset":
			w.ResetStats(ctx)
			fmt.Println("counters reset")

		case "targets":
			keys := w.Targets()
			if len(keys) == 0 {
				fmt.Println("(no pooled targets)")
				continue
			}
			for _, key := range keys {
				fmt.Println(" ", key)
			}

		case "help":
			fmt.Println("commands: status, stats, reset, targets, quit")

		case "quit", "exit", "q":
			return nil

		default:
			fmt.Println("unknown command; try 'help'")
		}
	}
}
