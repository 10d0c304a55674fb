// Package job implements the scheduling facet that turns a table's current
// repair Snapshot into a status, a progress ratio, a next-run timestamp and
// a sequence of ready-to-execute repair tasks.
package job

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/scylladb/go-log"
	"github.com/scylladb/go-set/strset"

	"github.com/masokol/ecchronos/pkg/partition"
	"github.com/masokol/ecchronos/pkg/repair/cache"
	"github.com/masokol/ecchronos/pkg/repair/collab"
	"github.com/masokol/ecchronos/pkg/repair/state"
	"github.com/masokol/ecchronos/pkg/token"
)

// Status is a TableRepairJob's point-in-time schedule state.
type Status int

const (
	StatusCompleted Status = iota
	StatusOnTime
	StatusLate
	StatusOverdue
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "COMPLETED"
	case StatusOnTime:
		return "ON_TIME"
	case StatusLate:
		return "LATE"
	case StatusOverdue:
		return "OVERDUE"
	case StatusBlocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// fullRange is FULL_RANGE as a big.Int, the tokens-per-task value used
// when a config requests FULL_REPAIR or a table's data size is unknown.
var fullRange = token.New().FullRangeSize()

// Task is one unit of schedulable repair work: a replica repair group
// together with the token size to split it into and the external
// collaborators it is run with. The core never executes a Task; it only
// produces them.
type Task struct {
	JobID           uuid.UUID
	Table           state.TableRef
	Config          state.Config
	Group           state.ReplicaRepairGroup
	TokensPerTask   *big.Int
	Priority        int32
	History         collab.History
	Metrics         collab.Metrics
	LockFactory     collab.LockFactory
	JmxProxyFactory collab.JmxProxyFactory
}

// Replicas returns the deduplicated set of hosts holding the task's group,
// the unit a LockFactory acquires locks against.
func (t Task) Replicas() *strset.Set {
	return strset.New(t.Group.Replicas...)
}

// SubRanges partitions the task's group ranges, in group order, with
// TokensPerTask as the target size: they are split into sub-ranges of that
// size or combined into units no larger than it, as partition.Partition
// decides from the first range.
func (t Task) SubRanges() ([]partition.Task, error) {
	ranges := make([]token.Range, len(t.Group.Vnodes))
	for i, v := range t.Group.Vnodes {
		ranges[i] = v.Range
	}
	return partition.Partition(ranges, t.TokensPerTask)
}

// Job is the scheduling facet for a single table: TableRepairJob.
type Job struct {
	id     uuid.UUID
	table  state.TableRef
	config state.Config
	logger log.Logger

	cache        *cache.Cache
	storageStats collab.StorageStats
	history      collab.History
	metrics      collab.Metrics
	lockFactory  collab.LockFactory
	jmxFactory   collab.JmxProxyFactory
	policies     []collab.Policy
	scheduler    collab.BaseScheduler

	now func() time.Time
}

// Config bundles a Job's construction parameters.
type Config struct {
	ID           uuid.UUID
	Table        state.TableRef
	RepairConfig state.Config
	Logger       log.Logger

	Cache        *cache.Cache
	StorageStats collab.StorageStats
	History      collab.History
	Metrics      collab.Metrics
	LockFactory  collab.LockFactory
	JmxFactory   collab.JmxProxyFactory
	Policies     []collab.Policy
	Scheduler    collab.BaseScheduler
}

// New creates a Job. ID defaults to a freshly generated uuid when the zero
// value is passed.
func New(cfg Config) *Job {
	id := cfg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	return &Job{
		id:           id,
		table:        cfg.Table,
		config:       cfg.RepairConfig,
		logger:       cfg.Logger,
		cache:        cfg.Cache,
		storageStats: cfg.StorageStats,
		history:      cfg.History,
		metrics:      cfg.Metrics,
		lockFactory:  cfg.LockFactory,
		jmxFactory:   cfg.JmxFactory,
		policies:     cfg.Policies,
		scheduler:    cfg.Scheduler,
		now:          time.Now,
	}
}

// ID returns the job's identifier.
func (j *Job) ID() uuid.UUID {
	return j.id
}

func (j *Job) snapshot(ctx context.Context) (state.Snapshot, error) {
	return j.cache.Snapshot(ctx, j.table, j.config)
}

// Runnable reports whether every registered Policy currently permits this
// job to run, and the snapshot itself allows repair.
func (j *Job) Runnable(ctx context.Context) (bool, error) {
	snap, err := j.snapshot(ctx)
	if err != nil {
		return false, err
	}
	if !snap.CanRepair {
		return false, nil
	}
	for _, p := range j.policies {
		if !p.Runnable(ctx, j.table) {
			return false, nil
		}
	}
	return true, nil
}

// Priority returns -1 if the snapshot reports it cannot be repaired.
// Otherwise it maps the minimum last_completed_at across replica groups
// through the base scheduler's priority function.
func (j *Job) Priority(ctx context.Context) (int32, error) {
	snap, err := j.snapshot(ctx)
	if err != nil {
		return -1, err
	}
	return j.priorityFromSnapshot(snap), nil
}

func (j *Job) priorityFromSnapshot(snap state.Snapshot) int32 {
	if !snap.CanRepair {
		return -1
	}

	minCompletedAt := j.now().UnixMilli()
	for _, g := range snap.Groups {
		if g.LastCompletedAt < minCompletedAt {
			minCompletedAt = g.LastCompletedAt
		}
	}
	return j.scheduler.PriorityFor(minCompletedAt)
}

// Status evaluates the fixed-order status rules against a snapshot taken
// at the start of this call.
func (j *Job) Status(ctx context.Context) (Status, error) {
	snap, err := j.snapshot(ctx)
	if err != nil {
		return StatusBlocked, err
	}
	return j.statusFromSnapshot(ctx, snap), nil
}

func (j *Job) statusFromSnapshot(ctx context.Context, snap state.Snapshot) Status {
	if j.priorityFromSnapshot(snap) != -1 {
		for _, p := range j.policies {
			if !p.Runnable(ctx, j.table) {
				return StatusBlocked
			}
		}
	}

	now := j.now().UnixMilli()
	sinceLastRepair := now - snap.LastCompletedAt

	switch {
	case sinceLastRepair >= j.config.ErrorMs:
		return StatusOverdue
	case sinceLastRepair >= j.config.WarningMs:
		return StatusLate
	case sinceLastRepair >= j.config.IntervalMs-snap.EstimatedRepairTimeMs:
		return StatusOnTime
	default:
		return StatusCompleted
	}
}

// Progress returns the fraction of vnodes repaired within the table's
// configured interval, as of a snapshot taken at the start of this call.
func (j *Job) Progress(ctx context.Context) (float64, error) {
	snap, err := j.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snap.Progress(j.now(), j.config), nil
}

// NextRunMs returns the unix-millis timestamp this job is next due, which
// may be in the past.
func (j *Job) NextRunMs(ctx context.Context) (int64, error) {
	snap, err := j.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snap.NextRunMs(j.config), nil
}

// tokensPerTask computes the token size to split each replica repair group
// into for a single snapshot, falling back to the full ring range whenever
// the table's data size is unknown (reported as zero) or smaller than the
// configured target repair size.
func (j *Job) tokensPerTask(ctx context.Context, snap state.Snapshot) (*big.Int, error) {
	if j.config.TargetRepairSizeBytes == state.FullRepair {
		return fullRange, nil
	}

	tableBytes, err := j.storageStats.DataSizeBytes(ctx, j.table)
	if err != nil {
		return nil, errors.Wrap(err, "get table data size")
	}
	if tableBytes == 0 {
		return fullRange, nil
	}

	ring := token.New()
	sumTokens := new(big.Int)
	for _, r := range snap.RangesInOrder() {
		sumTokens.Add(sumTokens, ring.RangeSize(r))
	}

	targetRepairs := tableBytes / j.config.TargetRepairSizeBytes
	if targetRepairs == 0 {
		return fullRange, nil
	}

	return new(big.Int).Div(sumTokens, big.NewInt(targetRepairs)), nil
}

// Tasks builds one Task per replica repair group in snapshot order, each
// carrying the snapshot-wide tokens-per-task size.
func (j *Job) Tasks(ctx context.Context) ([]Task, error) {
	snap, err := j.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	tokensPerTask, err := j.tokensPerTask(ctx, snap)
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, len(snap.Groups))
	for i, g := range snap.Groups {
		tasks[i] = Task{
			JobID:           j.id,
			Table:           j.table,
			Config:          j.config,
			Group:           g,
			TokensPerTask:   tokensPerTask,
			Priority:        j.scheduler.PriorityFor(g.LastCompletedAt),
			History:         j.history,
			Metrics:         j.metrics,
			LockFactory:     j.lockFactory,
			JmxProxyFactory: j.jmxFactory,
		}
	}
	return tasks, nil
}

// PostExecute forces an immediate cache refresh for this job's table,
// logs how long that took, swallows refresh failures, then delegates to
// the base scheduler.
func (j *Job) PostExecute(ctx context.Context, successful bool, taskID string) {
	start := time.Now()
	if err := j.cache.Update(ctx, j.table, j.config); err != nil {
		j.logger.Error(ctx, "Failed to update repair state after task execution", "table", j.table.String(), "error", err)
	}
	j.logger.Info(ctx, "Repair state update after task execution", "table", j.table.String(), "duration_ms", time.Since(start).Milliseconds())

	j.scheduler.PostExecute(ctx, successful, taskID)
}

// RefreshState forces an immediate cache refresh for this job's table.
func (j *Job) RefreshState(ctx context.Context) error {
	return j.cache.Update(ctx, j.table, j.config)
}
