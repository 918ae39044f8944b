package lockmanager

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Cleaner periodically drops unused lock heads.
type Cleaner struct {
	lm       *LockManager
	interval time.Duration
	log      zerolog.Logger
}

// NewCleaner returns a Cleaner for lm running every interval.
func NewCleaner(lm *LockManager, interval time.Duration, log zerolog.Logger) *Cleaner {
	return &Cleaner{
		lm:       lm,
		interval: interval,
		log:      log,
	}
}

// Run sweeps until ctx is done.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	c.
		log.
		Debug().
		Dur("interval", c.interval).
		Msg("lock head cleaner started")
	for {
		select {
		case <-ctx.Done():
			c.
				log.
				Debug().
				Msg("lock head cleaner stopped")
			return
		case <-ticker.C:
			c.lm.CleanupUnusedLocks()
		}
	}
}
