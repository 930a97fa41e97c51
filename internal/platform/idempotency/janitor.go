package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultCleanupBatch = 200

// Janitor purges expired idempotency records in batches.
type Janitor struct {
	store  Store
	batch  int
	clock  clockFunc
	logger Logger

	// cron jobs and the maintenance endpoint may overlap
	mu sync.Mutex
}

// NewJanitor constructs a Janitor. batch <= 0 falls back to 200.
func NewJanitor(store Store, batch int, logger Logger) (*Janitor, error) {
	if store == nil {
		return nil, errors.New("idempotency janitor: store is required")
	}
	if batch <= 0 {
		batch = defaultCleanupBatch
	}
	return &Janitor{store: store, batch: batch, clock: time.Now, logger: logger}, nil
}

// Run deletes expired records until a batch comes back short, returning the total removed.
func (j *Janitor) Run(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		removed, err := j.store.CleanupExpired(ctx, j.clock().UTC(), j.batch)
		total += removed
		if err != nil {
			return total, fmt.Errorf("idempotency cleanup: %w", err)
		}
		if removed < j.batch {
			return total, nil
		}
	}
}

// Schedule registers Run on the cron scheduler using a cron schedule, e.g. "@every 1h".
func (j *Janitor) Schedule(c *cron.Cron, schedule string, timeout time.Duration) (cron.EntryID, error) {
	if c == nil {
		return 0, errors.New("idempotency janitor: cron scheduler is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		removed, err := j.Run(ctx)
		if j.logger == nil {
			return
		}
		if err != nil {
			j.logger.Printf("idempotency: scheduled cleanup failed after removing %d records: %v", removed, err)
			return
		}
		if removed > 0 {
			j.logger.Printf("idempotency: scheduled cleanup removed %d records", removed)
		}
	})
}
