package main

import (
	"fmt"
	"os"

	"github.com/nightgate/nightgate/internal/config"
	"github.com/nightgate/nightgate/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "nightgate",
	Short: "Nightgate router gatekeeper",
	Long:  `Nightgate is a captive-portal gatekeeper that closes the home network at night and makes clients justify access to an AI doorkeeper.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/nightgate/config.yaml)")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("server.port", config.DefaultServerPort, "portal port")
	rootCmd.PersistentFlags().String("oracle.provider", config.DefaultOracleProvider, "oracle provider (gemini, openai, anthropic)")
	rootCmd.PersistentFlags().String("oracle.model", config.DefaultOracleModel, "oracle model name")
}
