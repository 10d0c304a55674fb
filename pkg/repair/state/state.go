// Package state holds the immutable data model a RepairState produces: the
// per-vnode repair freshness of a table and the replica groups derived from
// it. Everything in this package is a plain value; producing a Snapshot from
// history and topology is the job of a Factory collaborator, kept
// deliberately out of this package.
package state

import (
	"time"

	"github.com/masokol/ecchronos/pkg/token"
)

// TableRef identifies the table a RepairState belongs to.
type TableRef struct {
	Keyspace string
	Table    string
}

func (t TableRef) String() string {
	return t.Keyspace + "." + t.Table
}

// FullRepair is the sentinel for Config.TargetRepairSizeBytes that requests
// a single repair unit covering the whole ring.
const FullRepair int64 = -1

// Config is a table's repair configuration. It is comparable, so it can be
// used together with a TableRef as a cache key.
type Config struct {
	IntervalMs            int64
	WarningMs             int64
	ErrorMs               int64
	TargetRepairSizeBytes int64
}

// VnodeRepairState is the repair freshness of a single vnode.
type VnodeRepairState struct {
	Range                 token.Range
	Replicas              []string
	LastRepairedAt        int64 // unix millis
	EstimatedRepairTimeMs int64
}

// ReplicaRepairGroup is a maximal set of vnode states sharing an identical
// replica set. Groups are the unit of lock acquisition downstream.
type ReplicaRepairGroup struct {
	Replicas        []string
	Vnodes          []VnodeRepairState
	LastCompletedAt int64 // unix millis, min(LastRepairedAt) across Vnodes
}

// groupVnodes buckets vnodes by replica set, preserving the ring order of
// first appearance, and computes each group's LastCompletedAt.
func groupVnodes(vnodes []VnodeRepairState) []ReplicaRepairGroup {
	index := make(map[uint64]int)
	var groups []ReplicaRepairGroup

	for _, v := range vnodes {
		h := replicaSetHash(v.Replicas)
		i, ok := index[h]
		if !ok {
			i = len(groups)
			index[h] = i
			groups = append(groups, ReplicaRepairGroup{
				Replicas:        v.Replicas,
				LastCompletedAt: v.LastRepairedAt,
			})
		}
		g := &groups[i]
		g.Vnodes = append(g.Vnodes, v)
		if v.LastRepairedAt < g.LastCompletedAt {
			g.LastCompletedAt = v.LastRepairedAt
		}
	}
	return groups
}

// Snapshot is an immutable, cheap-to-copy planning view of a table's repair
// state at a point in time.
type Snapshot struct {
	Vnodes                []VnodeRepairState // ring order
	Groups                []ReplicaRepairGroup
	LastCompletedAt       int64
	CanRepair             bool
	EstimatedRepairTimeMs int64
}

// NewSnapshot builds a Snapshot from vnodes in ring order, deriving groups
// and LastCompletedAt.
func NewSnapshot(vnodes []VnodeRepairState, canRepair bool, estimatedRepairTimeMs int64) Snapshot {
	s := Snapshot{
		Vnodes:                append([]VnodeRepairState(nil), vnodes...),
		Groups:                groupVnodes(vnodes),
		CanRepair:             canRepair,
		EstimatedRepairTimeMs: estimatedRepairTimeMs,
	}
	s.LastCompletedAt = minLastCompletedAt(s.Groups)
	return s
}

func minLastCompletedAt(groups []ReplicaRepairGroup) int64 {
	if len(groups) == 0 {
		return 0
	}
	min := groups[0].LastCompletedAt
	for _, g := range groups[1:] {
		if g.LastCompletedAt < min {
			min = g.LastCompletedAt
		}
	}
	return min
}

// FreshVnodeCount returns the number of vnodes last repaired no longer ago
// than maxAge before now.
func (s Snapshot) FreshVnodeCount(now time.Time, maxAge time.Duration) int {
	nowMs := now.UnixMilli()
	count := 0
	for _, v := range s.Vnodes {
		if nowMs-v.LastRepairedAt <= maxAge.Milliseconds() {
			count++
		}
	}
	return count
}

// Progress returns the fraction of vnodes last repaired within cfg's
// interval, in [0, 1]. An empty vnode set yields 0.
func (s Snapshot) Progress(now time.Time, cfg Config) float64 {
	if len(s.Vnodes) == 0 {
		return 0
	}
	fresh := s.FreshVnodeCount(now, time.Duration(cfg.IntervalMs)*time.Millisecond)
	return float64(fresh) / float64(len(s.Vnodes))
}

// NextRunMs is the unix-millis timestamp this snapshot's table is next due
// for repair under cfg. It may be in the past.
func (s Snapshot) NextRunMs(cfg Config) int64 {
	return s.LastCompletedAt + cfg.IntervalMs - s.EstimatedRepairTimeMs
}

// RangesInOrder returns the snapshot's vnode ranges in ring order.
func (s Snapshot) RangesInOrder() []token.Range {
	ranges := make([]token.Range, len(s.Vnodes))
	for i, v := range s.Vnodes {
		ranges[i] = v.Range
	}
	return ranges
}
