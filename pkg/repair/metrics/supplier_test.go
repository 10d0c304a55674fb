package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scylladb/go-log"
	"go.uber.org/goleak"

	"github.com/masokol/ecchronos/pkg/repair/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeState struct {
	mu     sync.Mutex
	snap   state.Snapshot
	failOn int64 // if >0, Update fails this many times before succeeding
}

func (f *fakeState) Update(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn > 0 {
		f.failOn--
		return errTest
	}
	return nil
}

func (f *fakeState) Snapshot() state.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errTest = testErr("update failed")

type fakeSink struct {
	mu     sync.Mutex
	ticks  int
	lastAt map[state.TableRef]int64
	ratio  map[state.TableRef]float64
}

func newFakeSink() *fakeSink {
	return &fakeSink{lastAt: map[state.TableRef]int64{}, ratio: map[state.TableRef]float64{}}
}

func (s *fakeSink) SetLastRepairedAt(table state.TableRef, ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAt[table] = ms
	s.ticks++
}

func (s *fakeSink) SetRepairedRatio(table state.TableRef, ratio float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratio[table] = ratio
}

func (s *fakeSink) SetRemainingRepairTime(state.TableRef, int64) {}

func TestSupplierPushesRegisteredTables(t *testing.T) {
	sink := newFakeSink()
	sup := New(sink, log.NewDevelopment(), 10*time.Millisecond)
	defer sup.Close(context.Background())

	table := state.TableRef{Keyspace: "ks", Table: "t"}
	fs := &fakeState{snap: state.NewSnapshot([]state.VnodeRepairState{{LastRepairedAt: 1000}}, true, 0)}
	sup.Register(table, fs, state.Config{IntervalMs: 1000})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		n := sink.ticks
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.lastAt[table] != 1000 {
		t.Errorf("expected last repaired at 1000, got %d", sink.lastAt[table])
	}
}

func TestSupplierUnregisterStopsReporting(t *testing.T) {
	sink := newFakeSink()
	sup := New(sink, log.NewDevelopment(), 10*time.Millisecond)
	defer sup.Close(context.Background())

	table := state.TableRef{Keyspace: "ks", Table: "t"}
	fs := &fakeState{}
	sup.Register(table, fs, state.Config{})
	sup.Unregister(table)

	time.Sleep(50 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if _, ok := sink.lastAt[table]; ok {
		t.Error("expected no metrics for an unregistered table")
	}
}

func TestSupplierUnregisterAbsentIsNoop(t *testing.T) {
	sup := New(newFakeSink(), log.NewDevelopment(), time.Hour)
	defer sup.Close(context.Background())

	sup.Unregister(state.TableRef{Keyspace: "ks", Table: "absent"})
}

func TestSupplierToleratesUpdateFailure(t *testing.T) {
	sink := newFakeSink()
	sup := New(sink, log.NewDevelopment(), 10*time.Millisecond)
	defer sup.Close(context.Background())

	table := state.TableRef{Keyspace: "ks", Table: "t"}
	fs := &fakeState{failOn: 100}
	sup.Register(table, fs, state.Config{})

	time.Sleep(50 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if _, ok := sink.lastAt[table]; ok {
		t.Error("expected no metrics pushed while update keeps failing")
	}
}

func TestSupplierClose(t *testing.T) {
	sup := New(newFakeSink(), log.NewDevelopment(), time.Hour)
	if err := sup.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sup.Close(context.Background()); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}
}
