package instance

import (
	"context"
	"sync"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/procman/procman/internal/metrics"
	"github.com/procman/procman/persistence"
)

// DefaultTTL is the default *minimum* period of time to keep cache records in
// memory after they were last used.
const DefaultTTL = 1 * time.Hour

// Cache is an in-memory cache of process instances.
//
// Each record doubles as the instance's lock. All operations on an instance
// are performed while holding its record.
type Cache struct {
	// TTL is the *minimum* period of time to keep cache records in memory after
	// they were last used. If it is non-positive, DefaultTTL is used.
	TTL time.Duration

	// Logger is the target for log messages about modifications to the cache.
	Logger logging.Logger

	// Metrics records the number of locked instances. It may be nil.
	Metrics *metrics.Metrics

	records sync.Map
}

// Acquire locks and returns the cache record for the instance with the given
// handle.
//
// If the record has already been acquired, it blocks until the record is
// released or ctx is canceled.
func (c *Cache) Acquire(ctx context.Context, h persistence.Handle) (*Record, error) {
	for {
		rec := &Record{
			handle: h,
			cache:  c,
		}

		if x, loaded := c.records.LoadOrStore(h, rec); loaded {
			rec = x.(*Record)
		} else if logging.IsDebug(c.Logger) {
			logging.Debug(
				c.Logger,
				"record added: %s (%p)",
				h,
				rec,
			)
		}

		if err := rec.m.Lock(ctx); err != nil {
			return nil, err
		}

		if rec.state != removed {
			if rec.stale.Swap(false) {
				rec.Instance = nil
				rec.Model = nil
			}

			c.Metrics.Locked(1)

			return rec, nil
		}

		// This record was removed while we waited for the lock. Unlock it in
		// case there are other acquirers blocked on it, then try again.
		rec.m.Unlock()
	}
}

// Invalidate discards the cached state of the instance with the given handle.
//
// If the record is currently acquired, the holder's copy is unaffected. The
// next acquirer finds an empty record and must reload the instance.
func (c *Cache) Invalidate(h persistence.Handle) {
	if x, ok := c.records.Load(h); ok {
		x.(*Record).stale.Store(true)
	}
}

// InvalidateAll discards the cached state of every instance.
func (c *Cache) InvalidateAll() {
	c.records.Range(
		func(_, x interface{}) bool {
			x.(*Record).stale.Store(true)
			return true
		},
	)
}

// Run manages evicting idle records from the cache until ctx is canceled.
func (c *Cache) Run(ctx context.Context) error {
	for {
		if err := linger.Sleep(ctx, c.TTL, DefaultTTL); err != nil {
			return err
		}

		c.records.Range(
			func(_, x interface{}) bool {
				rec := x.(*Record)
				rec.evict()
				return true
			},
		)
	}
}
