// Package metricslog periodically logs a human-readable metrics summary,
// adapted from the teacher's RunMetrics (metrics.go): same ticker-driven
// goroutine shape, but reporting aggregator/hash-pipeline gauges instead of
// datagram byte counters, and using go-humanize to format the uptime. A line
// is logged on every tick; only a failed bosses query skips one.
package metricslog

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"raidhub/internal/aggregator"
)

// QueueDepther reports the hash pipeline's current backlog, for inclusion
// in the periodic log line.
type QueueDepther interface {
	QueueDepth() int
}

// Run logs aggregator stats every interval until ctx is canceled.
func Run(ctx context.Context, client aggregator.Client, queue QueueDepther, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bosses, err := client.Bosses()
			if err != nil {
				slog.Warn("metricslog: bosses query failed", "err", err)
				continue
			}
			var depth int
			if queue != nil {
				depth = queue.QueueDepth()
			}
			slog.Info("aggregator stats",
				"bosses", len(bosses),
				"hash_queue_depth", depth,
				"uptime", humanize.RelTime(start, time.Now(), "", ""),
			)
		}
	}
}
