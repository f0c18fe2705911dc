package sink

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"time"

	"droneops-fleet/internal/protocol"
	"droneops-fleet/internal/telemetry"
	"droneops-fleet/internal/transport"
)

// ReplayLog replays status rows from r to writer. A speed >0 accelerates playback.
// If speed <= 0, no artificial delay is inserted.
func ReplayLog(ctx context.Context, r io.Reader, writer StatusWriter, speed float64) error {
	dec := json.NewDecoder(r)
	var prev time.Time
	for {
		var row telemetry.StatusRow
		if err := dec.Decode(&row); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if !prev.IsZero() && speed > 0 {
			diff := row.Timestamp.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if diff > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(diff):
				}
			}
		}
		if err := writer.Write(row); err != nil {
			return err
		}
		prev = row.Timestamp
	}
}

// ReplayLogFile opens a file and replays its status rows.
func ReplayLogFile(ctx context.Context, path string, writer StatusWriter, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ReplayLog(ctx, f, writer, speed)
}

// AnnounceWriter turns status rows back into announce datagrams sent to a
// controller, so a recorded session can be fed to a live listener.
type AnnounceWriter struct {
	addr  *net.UDPAddr
	codec protocol.Codec
}

// NewAnnounceWriter targets the discovery port at addr.
func NewAnnounceWriter(addr *net.UDPAddr, codec protocol.Codec) *AnnounceWriter {
	if codec == nil {
		codec = protocol.JSON
	}
	return &AnnounceWriter{addr: addr, codec: codec}
}

// Write sends the row as a drone_announce.
func (w *AnnounceWriter) Write(row telemetry.StatusRow) error {
	b, err := w.codec.Encode(row.Announce())
	if err != nil {
		return err
	}
	return transport.SendTo(context.Background(), w.addr, b)
}
