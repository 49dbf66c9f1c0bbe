// Package natreaper implements the periodic NAT expiry loop: a ticker
// that reclaims idle NAT entries so the table never silently fills
// with stale bindings.
package natreaper

import (
	"time"

	"go.uber.org/zap"

	"github.com/your-org/5g-upf/internal/nat"
)

// Reaper periodically expires idle NAT entries.
type Reaper struct {
	Table    *nat.Table
	Interval time.Duration
	Logger   *zap.Logger
}

// Run blocks until stop is closed, calling Table.Cleanup on Interval.
func (r *Reaper) Run(stop <-chan struct{}) {
	interval := r.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := r.Table.Cleanup(); n > 0 {
				r.Logger.Debug("natreaper: expired idle entries", zap.Int("count", n))
			}
		}
	}
}
