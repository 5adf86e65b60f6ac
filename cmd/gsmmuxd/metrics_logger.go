package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tkarvone/gsmmuxd/internal/metrics"
)

// startMetricsLogger periodically logs the local metrics mirror, for
// deployments that don't scrape Prometheus. A non-positive interval
// disables it (the default).
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"serial_rx", snap.SerialRx,
					"serial_tx", snap.SerialTx,
					"endpoint_rx", snap.EndpointRx,
					"endpoint_tx", snap.EndpointTx,
					"dropped", snap.Dropped,
					"pings", snap.Pings,
					"restarts", snap.Restarts,
					"channels_open", snap.ChannelsOpen,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
