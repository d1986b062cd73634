package postgres

import (
	"context"
	"time"

	"github.com/surrealdb/surreallms/pkg/logger"
)

// DefaultReapInterval is how often a Reaper sweeps when no interval is set.
const DefaultReapInterval = time.Minute

// Reaper deletes expired rows in the background. Reads already ignore
// expired rows; the reaper only reclaims space.
type Reaper struct {
	store    *Store
	interval time.Duration
	log      logger.Logger
}

func NewReaper(store *Store, interval time.Duration, log logger.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Reaper{store: store, interval: interval, log: log}
}

// Run sweeps on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.store.Sweep(ctx)
			if err != nil {
				r.log.Warn("expiry sweep failed", "err", err)
				continue
			}
			if n > 0 {
				r.log.Debug("expired rows removed", "rows", n)
			}
		}
	}
}
