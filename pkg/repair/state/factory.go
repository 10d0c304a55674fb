package state

import "context"

// RepairState recomputes and serves Snapshots for a single (table, Config)
// pair. Update recomputes the snapshot from history and topology
// collaborators; Snapshot returns the most recently computed value without
// recomputing it. Implementations must make Snapshot safe to call while a
// concurrent Update is in progress, and must never hand out a torn value.
type RepairState interface {
	Update(ctx context.Context) error
	Snapshot() Snapshot
}

// Factory constructs a fresh RepairState for a table and its repair
// Config. It is the seam that keeps this package free of history and
// transport details.
type Factory interface {
	Create(ctx context.Context, table TableRef, cfg Config) (RepairState, error)
}
