package dispatcher

import (
	"context"
	"time"

	"fleet-steward/agent/internal/logger"
)

// WatchConnectivity probes the ledger every interval and calls onRestore when it
// becomes reachable after being unreachable. It returns when ctx ends.
func WatchConnectivity(ctx context.Context, probe func(context.Context) error, interval time.Duration, onRestore func()) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	online := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(ctx, interval)
		err := probe(pctx)
		cancel()
		switch {
		case err != nil && online:
			logger.Warnf("dispatch: ledger unreachable: %v", err)
			online = false
		case err == nil && !online:
			logger.Info("dispatch: ledger reachable again")
			online = true
			onRestore()
		}
	}
}
