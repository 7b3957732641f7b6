package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nightgate/nightgate/internal/oracle"
)

// testCmd performs one oracle round trip so a new install can verify its API
// key and transport before the first night.
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Verify oracle connectivity with one round trip",
	RunE: func(cmd *cobra.Command, args []string) error {
		orc, err := buildOracle(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("init oracle: %w", err)
		}

		fmt.Printf("Contacting %s...\n", orc.Name())

		verdict, err := orc.Evaluate(cmd.Context(), []oracle.Turn{
			{Role: "user", Text: "This is a connectivity test from the router. Deny this request."},
		}, oracle.Metadata{Now: time.Now()})
		if err != nil {
			return fmt.Errorf("oracle round trip: %w", err)
		}

		fmt.Printf("Oracle responded: status=%s message=%q\n", verdict.Status, verdict.Message)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
}
