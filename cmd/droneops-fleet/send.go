package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"droneops-fleet/internal/protocol"
	"droneops-fleet/internal/transport"
)

var (
	sendController string
	sendTimeout    time.Duration
	sendEncoding   string
)

var sendCmd = &cobra.Command{
	Use:   "send <drone-id> <command> [key=value ...]",
	Short: "Send a command through a controller",
	Long: "send asks a running controller to relay a command to a drone and prints the result. " +
		"The controller must run with relay_commands enabled.",
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		codec, err := protocol.CodecByName(sendEncoding)
		if err != nil {
			return err
		}
		params, err := parseParams(args[2:])
		if err != nil {
			return err
		}
		msg := &protocol.Command{
			Command:     args[1],
			TargetDrone: args[0],
			Params:      params,
			Timestamp:   protocol.Now(),
			RequestID:   uuid.NewString(),
		}
		payload, err := codec.Encode(msg)
		if err != nil {
			return err
		}
		addr, err := transport.ResolveAddrString(sendController)
		if err != nil {
			return err
		}
		reply, err := transport.Exchange(context.Background(), addr, payload, sendTimeout)
		if err != nil {
			return fmt.Errorf("no reply from controller: %w", err)
		}
		decoded, _, err := protocol.DecodeAny(reply)
		if err != nil {
			return err
		}
		resp, ok := decoded.(*protocol.CommandResponse)
		if !ok {
			return fmt.Errorf("unexpected %s reply", decoded.Kind())
		}
		out, err := json.MarshalIndent(resp.Outcome(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		if res := resp.Outcome(); !res.Success {
			return fmt.Errorf("command failed: %s", res.Error)
		}
		return nil
	},
}

// parseParams turns key=value pairs into command parameters. Numbers and
// booleans are typed, everything else stays a string.
func parseParams(pairs []string) (protocol.Params, error) {
	params := protocol.Params{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", p)
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			params[k] = f
		} else if b, err := strconv.ParseBool(v); err == nil {
			params[k] = b
		} else {
			params[k] = v
		}
	}
	return params, nil
}

func init() {
	sendCmd.Flags().StringVar(&sendController, "controller", "127.0.0.1:8888", "Controller discovery address")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "How long to wait for the relayed result")
	sendCmd.Flags().StringVar(&sendEncoding, "encoding", "json", "Wire encoding (json or cbor)")
}
