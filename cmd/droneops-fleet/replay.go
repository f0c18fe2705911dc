package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"droneops-fleet/internal/protocol"
	"droneops-fleet/internal/sink"
	"droneops-fleet/internal/transport"
)

var (
	replayInput    string
	replaySpeed    float64
	replayTarget   string
	replayOutput   string
	replayEncoding string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay an announce log file",
	Long: "replay feeds status rows from a JSONL log back into the configured sinks, " +
		"or re-announces them to a controller when --target is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		var writer sink.StatusWriter
		if replayTarget != "" {
			codec, err := protocol.CodecByName(replayEncoding)
			if err != nil {
				return err
			}
			addr, err := transport.ResolveAddrString(replayTarget)
			if err != nil {
				return err
			}
			writer = sink.NewAnnounceWriter(addr, codec)
		} else {
			w, _, cleanup, err := newWriters(cfg, replayOutput, "", log)
			if err != nil {
				return err
			}
			defer cleanup()
			writer = w
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return sink.ReplayLogFile(ctx, replayInput, writer, replaySpeed)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to status log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier")
	replayCmd.Flags().StringVar(&replayTarget, "target", "", "Controller discovery address to re-announce to")
	replayCmd.Flags().StringVar(&replayOutput, "output", outputJSON, "Console output when no target is set")
	replayCmd.Flags().StringVar(&replayEncoding, "encoding", "json", "Wire encoding for --target (json or cbor)")
	replayCmd.MarkFlagRequired("input")
}
