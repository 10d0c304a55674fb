// Package collab declares the external collaborators a TableRepairJob
// consumes but never implements: transport, history, locking, metrics and
// policy decisions all live outside this module's scope.
package collab

import (
	"context"

	"github.com/masokol/ecchronos/pkg/repair/state"
)

// History is an opaque handle to the repair-history backend. The job
// carries it through to each task unexamined.
type History interface{}

// JmxProxyFactory is an opaque handle to per-host transport proxies. The
// job carries it through to each task unexamined.
type JmxProxyFactory interface{}

// LockFactory is an opaque handle to the distributed lock backend used to
// serialize repair of a replica set. The job carries it through to each
// task unexamined.
type LockFactory interface{}

// Metrics is an opaque handle to the per-task repair metrics backend. The
// job carries it through to each task unexamined.
type Metrics interface{}

// StorageStats reports a table's on-disk data size in bytes. Zero means
// unknown.
type StorageStats interface {
	DataSizeBytes(ctx context.Context, table state.TableRef) (int64, error)
}

// Policy gates whether a job may currently run, independent of its repair
// schedule (maintenance windows, cluster health, manual pause switches).
// A job consults every registered Policy; if any reports not runnable,
// the job is BLOCKED.
type Policy interface {
	Runnable(ctx context.Context, table state.TableRef) bool
}

// BaseScheduler supplies the priority mapping a job's own bookkeeping
// feeds into, and receives the post-execution hook once the job has
// finished its own update.
type BaseScheduler interface {
	PriorityFor(lastCompletedAt int64) int32
	PostExecute(ctx context.Context, successful bool, taskID string)
}
