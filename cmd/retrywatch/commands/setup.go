// Package commands – setup.go runs the interactive configuration wizard.
package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/retrywatch/pkg/retrywatch/config"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/paths"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Configure retrywatch interactively",
		Long: `Walk through the watcher settings and write config.yaml to the state
directory. Existing values are used as defaults, so re-running setup
only changes what you edit.`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		// A broken existing config should not block re-configuration.
		cfg = config.DefaultConfig()
		configPath = paths.ResolveConfigPath()
	}

	basePort := strconv.Itoa(cfg.BasePort)
	radius := strconv.Itoa(cfg.PortRadius)
	maxConns := strconv.Itoa(cfg.MaxConnections)
	pollSeconds := strconv.Itoa(int(cfg.PollInterval.Seconds()))
	acceptAll := cfg.AcceptAll

	validateInt := func(min, max int) func(string) error {
		return func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("not a number")
			}
			if n < min || n > max {
				return fmt.Errorf("must be between %d and %d", min, max)
			}
			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Remote debugging port").
				Description("Center of the port scan; the IDE's --remote-debugging-port").
				Value(&basePort).
				Validate(validateInt(1024, 65535)),
			huh.NewInput().
				Title("Port scan radius").
				Description("Also probe this many ports on either side").
				Value(&radius).
				Validate(validateInt(0, 50)),
			huh.NewInput().
				Title("Max connections").
				Description("Pool cap; oldest connection is evicted beyond this").
				Value(&maxConns).
				Validate(validateInt(1, 100)),
			huh.NewInput().
				Title("Poll interval (seconds)").
				Description("How often each page is rescanned for buttons").
				Value(&pollSeconds).
				Validate(validateInt(1, 300)),
			huh.NewConfirm().
				Title("Also click \"Accept All\" buttons?").
				Description("Off by default; retry clicking works either way").
				Value(&acceptAll),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.BasePort, _ = strconv.Atoi(basePort)
	cfg.PortRadius, _ = strconv.Atoi(radius)
	cfg.MaxConnections, _ = strconv.Atoi(maxConns)
	if n, err := strconv.Atoi(pollSeconds); err == nil {
		cfg.PollInterval = time.Duration(n) * time.Second
	}
	cfg.AcceptAll = acceptAll

	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := paths.EnsureStateDir(); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := cfg.Save(configPath); err != nil {
		return err
	}

	fmt.Printf("\nConfig written to %s\n", configPath)
	fmt.Println("Run 'retrywatch watch' to start.")
	return nil
}
