// Package failurelog scans an external meter registry for failed repair
// session counters and logs a warning when enough failures have
// accumulated since the last tick.
package failurelog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scylladb/go-log"
)

// DefaultInterval is the poll cadence used when none is configured.
const DefaultInterval = 10 * time.Minute

// MeterName is the well-known meter this package polls, tagged with
// keyspace, table and successful=false.
const MeterName = "REPAIR_SESSIONS"

// FailedSessionCount is one meter's current failed-session count for a
// table, as returned by a MeterRegistry.
type FailedSessionCount struct {
	Keyspace string
	Table    string
	Count    int64
}

// MeterRegistry is the external collaborator this package polls. It must
// return only meters tagged successful=false under MeterName.
type MeterRegistry interface {
	FailedSessionCounts(ctx context.Context) ([]FailedSessionCount, error)
}

type tableKey struct {
	keyspace string
	table    string
}

// Logger polls a MeterRegistry on a fixed cadence and logs a warning line
// per table whose failed-session count grew enough, in aggregate, to cross
// a configured threshold.
type Logger struct {
	registry  MeterRegistry
	logger    log.Logger
	interval  time.Duration
	threshold int64

	mu        sync.Mutex
	lastCount map[tableKey]int64

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a Logger and starts its background worker.
func New(registry MeterRegistry, logger log.Logger, interval time.Duration, threshold int64) *Logger {
	if interval <= 0 {
		interval = DefaultInterval
	}

	l := &Logger{
		registry:  registry,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
		lastCount: make(map[tableKey]int64),
		stopCh:    make(chan struct{}),
	}

	l.wg.Add(1)
	go l.run()

	return l
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.LogIfThresholdPassed(context.Background())
		}
	}
}

// LogIfThresholdPassed runs one tick immediately. It is exported so callers
// (and tests) can drive it outside the timer cadence.
func (l *Logger) LogIfThresholdPassed(ctx context.Context) {
	counts, err := l.registry.FailedSessionCounts(ctx)
	if err != nil {
		l.logger.Error(ctx, "Failed to query meter registry for failed repair sessions", "error", err)
		return
	}
	if len(counts) == 0 {
		// RegistryAbsent: no matching meters is a no-op tick, not a fault.
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	type diff struct {
		key   tableKey
		value int64
	}
	var (
		diffs []diff
		sum   int64
	)

	for _, c := range counts {
		key := tableKey{keyspace: c.Keyspace, table: c.Table}
		d := c.Count - l.lastCount[key]
		if d > 0 {
			diffs = append(diffs, diff{key: key, value: d})
			l.lastCount[key] = c.Count
			sum += d
		}
	}

	if sum < l.threshold {
		return
	}

	minutes := int64(l.interval / time.Minute)
	for _, d := range diffs {
		l.logger.Error(ctx, fmt.Sprintf(
			"Table %s.%s had %d failed repair sessions in the last %d minutes",
			d.key.keyspace, d.key.table, d.value, minutes,
		))
	}
}

// Close shuts the worker down, bounded by ctx.
func (l *Logger) Close(ctx context.Context) error {
	l.once.Do(func() { close(l.stopCh) })

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
