package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scylladb/go-log"
	"go.uber.org/goleak"

	"github.com/masokol/ecchronos/pkg/repair/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func noopLogger() log.Logger {
	return log.NewDevelopment()
}

type fakeState struct {
	mu       sync.Mutex
	snap     state.Snapshot
	updates  int
	updateFn func() error
}

func (f *fakeState) Update(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateFn != nil {
		return f.updateFn()
	}
	return nil
}

func (f *fakeState) Snapshot() state.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

type fakeFactory struct {
	calls   atomic.Int64
	fail    bool
	created func(state.TableRef, state.Config) *fakeState
}

func (f *fakeFactory) Create(ctx context.Context, table state.TableRef, cfg state.Config) (state.RepairState, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, errTest
	}
	if f.created != nil {
		return f.created(table, cfg), nil
	}
	return &fakeState{}, nil
}

var errTest = &testError{"factory failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestSnapshotAtMostOnceLoad(t *testing.T) {
	factory := &fakeFactory{}
	c := New(factory, noopLogger(), time.Hour)
	defer c.Close(context.Background())

	table := state.TableRef{Keyspace: "ks", Table: "t"}
	cfg := state.Config{IntervalMs: 1000}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Snapshot(context.Background(), table, cfg); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := factory.calls.Load(); got != 1 {
		t.Errorf("expected factory to be called exactly once, got %d", got)
	}
}

func TestUpdateForcesImmediateUpdate(t *testing.T) {
	fs := &fakeState{}
	factory := &fakeFactory{created: func(state.TableRef, state.Config) *fakeState { return fs }}
	c := New(factory, noopLogger(), time.Hour)
	defer c.Close(context.Background())

	table := state.TableRef{Keyspace: "ks", Table: "t"}
	cfg := state.Config{}

	if err := c.Update(context.Background(), table, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.updates != 1 {
		t.Errorf("expected 1 update, got %d", fs.updates)
	}
}

func TestBackgroundRefreshToleratesPerKeyFailure(t *testing.T) {
	failing := &fakeState{updateFn: func() error { return errTest }}
	ok := &fakeState{}

	factory := &fakeFactory{created: func(table state.TableRef, _ state.Config) *fakeState {
		if table.Table == "bad" {
			return failing
		}
		return ok
	}}

	c := New(factory, noopLogger(), 10*time.Millisecond)
	defer c.Close(context.Background())

	ctx := context.Background()
	if _, err := c.Snapshot(ctx, state.TableRef{Keyspace: "ks", Table: "bad"}, state.Config{}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Snapshot(ctx, state.TableRef{Keyspace: "ks", Table: "good"}, state.Config{}); err != nil {
		t.Fatal(err)
	}

	// Give the refresh worker a few ticks; a failing entry must not stop
	// the other entry from being refreshed.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		ok.mu.Lock()
		updates := ok.updates
		ok.mu.Unlock()
		if updates >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	ok.mu.Lock()
	defer ok.mu.Unlock()
	if ok.updates < 2 {
		t.Errorf("expected the healthy entry to keep being refreshed, got %d updates", ok.updates)
	}
}

func TestGetOrCreateRetriesBeforeGivingUp(t *testing.T) {
	factory := &fakeFactory{fail: true}
	c := New(factory, noopLogger(), time.Hour)
	defer c.Close(context.Background())

	table := state.TableRef{Keyspace: "ks", Table: "t"}
	cfg := state.Config{}

	if _, err := c.Snapshot(context.Background(), table, cfg); err == nil {
		t.Fatal("expected an error when the factory always fails")
	}

	if got := factory.calls.Load(); got != constructionRetries+1 {
		t.Errorf("expected %d factory calls (initial + retries), got %d", constructionRetries+1, got)
	}
}

func TestGetOrCreateRetrySucceedsWithinBudget(t *testing.T) {
	attempt := 0
	factory := &fakeFactory{}
	factory.created = func(state.TableRef, state.Config) *fakeState { return &fakeState{} }

	table := state.TableRef{Keyspace: "ks", Table: "t"}
	cfg := state.Config{}

	c := New(&flakyFactory{failTimes: 1, inner: factory, attempt: &attempt}, noopLogger(), time.Hour)
	defer c.Close(context.Background())

	// The factory fails once, then succeeds; that single failure must be
	// absorbed by the retry inside getOrCreate, invisible to the caller.
	if _, err := c.Snapshot(context.Background(), table, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetOrCreateDropsPlaceholderAfterExhaustingRetries(t *testing.T) {
	factory := &fakeFactory{fail: true}
	c := New(factory, noopLogger(), time.Hour)
	defer c.Close(context.Background())

	table := state.TableRef{Keyspace: "ks", Table: "t"}
	cfg := state.Config{}

	if _, err := c.Snapshot(context.Background(), table, cfg); err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}

	// A later caller must be able to retry once the underlying problem is
	// gone, rather than being stuck behind a permanently failed entry.
	factory.fail = false
	if _, err := c.Snapshot(context.Background(), table, cfg); err != nil {
		t.Fatalf("expected the dropped placeholder to allow a fresh attempt, got: %v", err)
	}
}

type flakyFactory struct {
	failTimes int
	attempt   *int
	inner     *fakeFactory
}

func (f *flakyFactory) Create(ctx context.Context, table state.TableRef, cfg state.Config) (state.RepairState, error) {
	*f.attempt++
	if *f.attempt <= f.failTimes {
		return nil, errTest
	}
	return f.inner.Create(ctx, table, cfg)
}

func TestCloseIsIdempotentAndBlocksFurtherUse(t *testing.T) {
	c := New(&fakeFactory{}, noopLogger(), time.Hour)

	ctx := context.Background()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}

	_, err := c.Snapshot(ctx, state.TableRef{Keyspace: "ks", Table: "t"}, state.Config{})
	if err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
