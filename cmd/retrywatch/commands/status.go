// Package commands – status.go probes the debugging endpoint once and
// prints what it finds.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/retrywatch/pkg/retrywatch/discovery"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Scan the port range once and list debuggable targets",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	scanner := discovery.NewScanner(logger)
	targets := scanner.Scan(cmd.Context(), cfg.BasePort, cfg.PortRadius)

	if len(targets) == 0 {
		fmt.Printf("No debuggable targets on ports %d-%d.\n",
			cfg.BasePort-cfg.PortRadius, cfg.BasePort+cfg.PortRadius)
		fmt.Println("Is the IDE running with remote debugging enabled?")
		return nil
	}

	fmt.Printf("Found %d target(s):\n", len(targets))
	for _, t := range targets {
		title := t.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("  %-12s %-8s %s\n", t.Key(), t.Type, title)
	}
	return nil
}
