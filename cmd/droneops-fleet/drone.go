package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"droneops-fleet/internal/agent"
	"droneops-fleet/internal/protocol"
	"droneops-fleet/internal/telemetry"
)

var (
	droneController string
	droneIDs        []string
	droneCount      int
	droneModel      string
	dronePort       int
	droneInterval   time.Duration
	droneTick       time.Duration
	droneLat        float64
	droneLon        float64
	droneEncoding   string
)

var droneCmd = &cobra.Command{
	Use:   "drone",
	Short: "Run simulated drones",
	Long:  "drone starts simulated field units that announce to a controller and answer its commands.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, err := loadConfig()
		if err != nil {
			return err
		}
		codec, err := protocol.CodecByName(droneEncoding)
		if err != nil {
			return err
		}
		ids := droneIDs
		for len(ids) < droneCount {
			ids = append(ids, "drone-"+uuid.NewString()[:8])
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var wg sync.WaitGroup
		errs := make(chan error, len(ids))
		for i, id := range ids {
			port := 0
			if dronePort > 0 {
				port = dronePort + i
			}
			a := agent.New(agent.Config{
				ID:               id,
				Model:            droneModel,
				Port:             port,
				Controller:       droneController,
				AnnounceInterval: droneInterval,
				TickInterval:     droneTick,
				// spread the fleet out a little
				Home: telemetry.Position{Lat: droneLat + float64(i)*0.0005, Lon: droneLon},
				Seed: time.Now().UnixNano() + int64(i),
			}, codec, log)
			if err := a.Listen(ctx); err != nil {
				return fmt.Errorf("drone %s: %w", id, err)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := a.Run(ctx); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		return <-errs
	},
}

func init() {
	droneCmd.Flags().StringVar(&droneController, "controller", "127.0.0.1:8888", "Controller discovery address")
	droneCmd.Flags().StringSliceVar(&droneIDs, "id", nil, "Drone identifiers (repeatable)")
	droneCmd.Flags().IntVar(&droneCount, "count", 1, "Number of drones to simulate")
	droneCmd.Flags().StringVar(&droneModel, "model", "small-fpv", "Drone model (small-fpv, medium-uav, large-uav)")
	droneCmd.Flags().IntVar(&dronePort, "port", 14550, "First command port, 0 for random ports")
	droneCmd.Flags().DurationVar(&droneInterval, "interval", 5*time.Second, "Announce interval")
	droneCmd.Flags().DurationVar(&droneTick, "tick", time.Second, "Simulation tick interval")
	droneCmd.Flags().Float64Var(&droneLat, "lat", 48.2082, "Home latitude")
	droneCmd.Flags().Float64Var(&droneLon, "lon", 16.3738, "Home longitude")
	droneCmd.Flags().StringVar(&droneEncoding, "encoding", "json", "Wire encoding (json or cbor)")
}
