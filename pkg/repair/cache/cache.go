// Package cache implements a concurrent, self-refreshing cache mapping a
// table and its repair configuration to the table's current repair state.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/scylladb/go-log"
	"go.uber.org/atomic"

	"github.com/masokol/ecchronos/pkg/repair/state"
)

// constructionRetries bounds the number of extra attempts made against the
// factory for a single getOrCreate call before the placeholder is dropped
// for a later caller to retry. Initial construction, unlike a background
// refresh, has a caller blocked on it, so a few quick retries are worth
// absorbing a single transient collaborator blip.
const constructionRetries = 2

// DefaultRefreshInterval is the background refresh cadence used when none
// is configured.
const DefaultRefreshInterval = 5 * time.Second

// ErrClosed is returned by Snapshot and Update once the cache has been
// closed.
var ErrClosed = errors.New("cache: closed")

// Key identifies a cache entry: a table together with the repair
// configuration it is being tracked under.
type Key struct {
	Table  state.TableRef
	Config state.Config
}

type entry struct {
	once sync.Once
	rs   state.RepairState
	err  error
}

// Cache maps (table, Config) to a RepairState, loading it at most once per
// key via the injected Factory and refreshing every entry on a fixed
// background cadence. It is safe for concurrent use.
type Cache struct {
	factory  state.Factory
	logger   log.Logger
	interval time.Duration

	entries sync.Map // Key -> *entry

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Cache and starts its background refresh worker. Close must
// be called to release the worker.
func New(factory state.Factory, logger log.Logger, refreshInterval time.Duration) *Cache {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}

	c := &Cache{
		factory:  factory,
		logger:   logger,
		interval: refreshInterval,
		stopCh:   make(chan struct{}),
	}

	c.wg.Add(1)
	go c.refreshLoop()

	return c
}

// Snapshot returns the current snapshot for (table, cfg), loading the entry
// via the factory if it is not already present. Concurrent calls for the
// same key invoke the factory at most once.
func (c *Cache) Snapshot(ctx context.Context, table state.TableRef, cfg state.Config) (state.Snapshot, error) {
	if c.closed.Load() {
		return state.Snapshot{}, ErrClosed
	}

	e, err := c.getOrCreate(ctx, Key{Table: table, Config: cfg})
	if err != nil {
		return state.Snapshot{}, err
	}
	return e.rs.Snapshot(), nil
}

// Update ensures the entry for (table, cfg) exists, then forces an
// immediate RepairState.Update on it.
func (c *Cache) Update(ctx context.Context, table state.TableRef, cfg state.Config) error {
	if c.closed.Load() {
		return ErrClosed
	}

	e, err := c.getOrCreate(ctx, Key{Table: table, Config: cfg})
	if err != nil {
		return err
	}
	return e.rs.Update(ctx)
}

func (c *Cache) getOrCreate(ctx context.Context, key Key) (*entry, error) {
	actual, _ := c.entries.LoadOrStore(key, &entry{})
	e, _ := actual.(*entry)

	e.once.Do(func() {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 10 * time.Millisecond
		b := backoff.WithContext(backoff.WithMaxRetries(eb, constructionRetries), ctx)

		var rs state.RepairState
		err := backoff.Retry(func() error {
			var err error
			rs, err = c.factory.Create(ctx, key.Table, key.Config)
			return err
		}, b)
		if err != nil {
			e.err = err
			return
		}
		e.rs = rs
	})

	if e.err != nil {
		// A failed construction must not permanently poison the key: drop
		// the placeholder so a later caller can retry. Racers that hit the
		// same failed attempt still only triggered one sequence of
		// Factory.Create calls (the initial call plus its bounded retries).
		c.entries.CompareAndDelete(key, actual)
		return nil, e.err
	}
	return e, nil
}

// refreshLoop is the single dedicated background worker that refreshes
// every known entry on a fixed cadence.
func (c *Cache) refreshLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.refreshAll()
		}
	}
}

func (c *Cache) refreshAll() {
	ctx := context.Background()

	c.entries.Range(func(k, v any) bool {
		key, _ := k.(Key)
		e, _ := v.(*entry)
		if e.err != nil || e.rs == nil {
			return true
		}

		if err := e.rs.Update(ctx); err != nil {
			c.logger.Error(ctx, "Failed to refresh repair state", "table", key.Table.String(), "error", err)
		}
		return true
	})
}

// Close stops accepting new background refreshes and joins the worker,
// bounded by ctx. It is idempotent; the cache is unusable afterwards.
func (c *Cache) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stopCh)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
