package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nightgate/nightgate/internal/reqlog"
)

// openCmd is the manual override: opens the network immediately, clears the
// nightly outcome log and exits. Useful after a crash left the deny rules
// installed.
var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the network immediately and clear the nightly log",
	RunE: func(cmd *cobra.Command, args []string) error {
		fw, err := buildFirewall(cfg, false)
		if err != nil {
			return fmt.Errorf("init firewall: %w", err)
		}

		if err := fw.AllowAll(cmd.Context()); err != nil {
			return fmt.Errorf("open network: %w", err)
		}

		if err := reqlog.New(cfg.Outcomes.Path, 0).Clear(); err != nil {
			slog.Warn("Failed to clear outcome log", "error", err)
		}

		fmt.Println("Network opened.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(openCmd)
}
