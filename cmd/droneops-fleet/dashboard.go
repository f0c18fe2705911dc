package main

import (
	"github.com/spf13/cobra"

	"droneops-fleet/internal/dashboard"
)

var dashboardOut string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render the Grafana dashboard",
	Long:  "dashboard writes the Grafana dashboard for the GreptimeDB status table. GREPTIMEDB_DATASOURCE_UID must be set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		return dashboard.Render(dashboardOut, dashboard.Options{Table: cfg.Greptime.Table, TTL: cfg.TTL})
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOut, "out", "build", "Output directory")
}
