// Package metrics implements a periodic pull of repair gauges from
// registered table repair states into an external metrics sink.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/scylladb/go-log"

	"github.com/masokol/ecchronos/pkg/repair/state"
)

// DefaultInterval is the pull cadence used when none is configured.
const DefaultInterval = 5 * time.Second

// Sink receives the gauge values the Supplier pulls on each tick. It is the
// external metrics backend; this package never implements one itself.
type Sink interface {
	SetLastRepairedAt(table state.TableRef, unixMillis int64)
	SetRepairedRatio(table state.TableRef, ratio float64)
	SetRemainingRepairTime(table state.TableRef, ms int64)
}

type registration struct {
	rs  state.RepairState
	cfg state.Config
}

// Supplier pulls gauges from a set of registered (table, RepairState,
// Config) triples on a single-threaded periodic worker and pushes them to a
// Sink. register/unregister are safe to call from any goroutine.
type Supplier struct {
	sink     Sink
	logger   log.Logger
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	table map[state.TableRef]registration

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a Supplier and starts its background worker.
func New(sink Sink, logger log.Logger, interval time.Duration) *Supplier {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s := &Supplier{
		sink:     sink,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		table:    make(map[state.TableRef]registration),
		stopCh:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// Register starts reporting metrics for table using rs and cfg. It is
// idempotent when called again with the identical pair, and replaces the
// existing registration for table when the pair differs.
func (s *Supplier) Register(table state.TableRef, rs state.RepairState, cfg state.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table[table] = registration{rs: rs, cfg: cfg}
}

// Unregister stops reporting metrics for table. It is a no-op if table is
// not currently registered.
func (s *Supplier) Unregister(table state.TableRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.table, table)
}

func (s *Supplier) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(context.Background())
		}
	}
}

func (s *Supplier) tick(ctx context.Context) {
	s.mu.Lock()
	snapshot := make(map[state.TableRef]registration, len(s.table))
	for k, v := range s.table {
		snapshot[k] = v
	}
	s.mu.Unlock()

	now := s.now()
	for table, reg := range snapshot {
		if err := reg.rs.Update(ctx); err != nil {
			s.logger.Error(ctx, "Failed to update repair state before reporting metrics", "table", table.String(), "error", err)
			continue
		}

		snap := reg.rs.Snapshot()
		s.sink.SetLastRepairedAt(table, snap.LastCompletedAt)
		s.sink.SetRepairedRatio(table, snap.Progress(now, reg.cfg))
		s.sink.SetRemainingRepairTime(table, snap.NextRunMs(reg.cfg)-now.UnixMilli())
	}
}

// Close shuts the worker down, bounded by ctx.
func (s *Supplier) Close(ctx context.Context) error {
	s.once.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
