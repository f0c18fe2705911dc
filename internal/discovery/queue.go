package discovery

import (
	"log/slog"

	"droneops-fleet/internal/metrics"
	"droneops-fleet/internal/sink"
	"droneops-fleet/internal/telemetry"
)

// maxBatch bounds how many queued rows go to the sink in one call.
const maxBatch = 64

// sinkQueue hands status rows to the sink on its own goroutine so slow
// backends never hold up the receive loop. Rows offered while the buffer
// is full are dropped.
type sinkQueue struct {
	w       sink.StatusWriter
	rows    chan telemetry.StatusRow
	done    chan struct{}
	metrics *metrics.Metrics
	log     *slog.Logger
}

func newSinkQueue(w sink.StatusWriter, size int, m *metrics.Metrics, log *slog.Logger) *sinkQueue {
	q := &sinkQueue{
		w:       w,
		rows:    make(chan telemetry.StatusRow, size),
		done:    make(chan struct{}),
		metrics: m,
		log:     log,
	}
	go q.drain()
	return q
}

// offer queues row without blocking. It reports false when the row was
// dropped.
func (q *sinkQueue) offer(row telemetry.StatusRow) bool {
	select {
	case q.rows <- row:
		return true
	default:
		if q.metrics != nil {
			q.metrics.SinkDropped.Inc()
		}
		q.log.Warn("status sink queue full, dropping row", "drone_id", row.DroneID)
		return false
	}
}

// close stops accepting rows, flushes what is queued and waits for the
// drain goroutine. Only the goroutine that calls offer may call close.
func (q *sinkQueue) close() {
	close(q.rows)
	<-q.done
}

func (q *sinkQueue) drain() {
	defer close(q.done)
	batch := make([]telemetry.StatusRow, 0, maxBatch)
	for row := range q.rows {
		batch = append(batch[:0], row)
	fill:
		for len(batch) < maxBatch {
			select {
			case r, ok := <-q.rows:
				if !ok {
					break fill
				}
				batch = append(batch, r)
			default:
				break fill
			}
		}
		if err := sink.WriteBatch(q.w, batch); err != nil {
			q.log.Warn("status sink failed", "rows", len(batch), "err", err)
		}
	}
}
