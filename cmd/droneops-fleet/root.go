package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"droneops-fleet/internal/config"
	"droneops-fleet/internal/logging"
)

var (
	cfgPath    string
	schemaPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "droneops-fleet",
	Short: "Drone fleet controller",
	Long:  "droneops-fleet discovers drones over UDP, tracks their liveness and dispatches commands to them.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config/fleet.yaml", "Path to fleet configuration YAML")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "", "Path to CUE schema file (embedded schema when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(droneCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// loadConfig reads the configuration and builds the process logger from it.
func loadConfig() (*config.FleetConfig, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath, schemaPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	return cfg, log, nil
}
