package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"droneops-fleet/internal/admin"
	"droneops-fleet/internal/fleet"
)

var (
	serveOutput  string
	serveLogFile string
	serveNoAdmin bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleet controller",
	Long:  "serve listens for drone announces on the discovery port and exposes the admin API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		logFile := serveLogFile
		if logFile == "" {
			logFile = cfg.LogFile
		}
		writer, log, cleanup, err := newWriters(cfg, serveOutput, logFile, log)
		if err != nil {
			return err
		}
		defer cleanup()

		controllerID := os.Getenv("CONTROLLER_ID")
		if controllerID == "" {
			controllerID, _ = os.Hostname()
		}

		ctrl, err := fleet.New(cfg,
			fleet.WithLogger(log),
			fleet.WithSink(writer),
			fleet.WithControllerID(controllerID),
		)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if !ctrl.Start(ctx) {
			log.Warn("discovery unavailable, serving known drones only", "port", cfg.DiscoveryPort)
		}
		defer ctrl.Stop()

		var srv *admin.Server
		if !serveNoAdmin {
			srv = admin.NewServer(ctrl, ctrl.Metrics().Handler(), log)
			go func() {
				if err := srv.Start(cfg.AdminAddr); err != nil {
					log.Error("admin server failed", "err", err)
					stop()
				}
			}()
		}

		<-ctx.Done()
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("admin shutdown", "err", err)
			}
		}
		log.Info("fleet controller stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOutput, "output", outputAuto, fmt.Sprintf("Console output: %s, %s, %s, %s or %s", outputAuto, outputJSON, outputColor, outputTUI, outputNone))
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Path to export announce status rows (JSONL)")
	serveCmd.Flags().BoolVar(&serveNoAdmin, "no-admin", false, "Do not start the admin API")
}
