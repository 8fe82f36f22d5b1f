package distributor

import (
	"context"
	"time"

	"github.com/pavandhadge/datadistributor/internal/ddstate"
)

const disabledMetricsInterval = 5 * time.Second

// emitDisabledMetrics publishes a zero-valued ShardMetrics for every shard
// range known so far while DD sits disabled (§4.1 step 6), so an external
// dashboard doesn't keep showing the last non-zero reading. It returns once
// the toggle flips on or ctx is done.
func emitDisabledMetrics(ctx context.Context, es *EnabledState, ranges []ddstate.KeyRange, publish func(ddstate.ShardMetrics)) {
	ticker := time.NewTicker(disabledMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if es.IsEnabled() {
				return
			}
			for _, r := range ranges {
				publish(ddstate.ShardMetrics{Range: r})
			}
		}
	}
}
