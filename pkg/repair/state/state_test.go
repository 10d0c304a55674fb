package state

import (
	"testing"
	"time"

	"github.com/masokol/ecchronos/pkg/token"
)

func TestNewSnapshotGroupsByReplicaSet(t *testing.T) {
	vnodes := []VnodeRepairState{
		{Range: token.Range{Start: 0, End: 10}, Replicas: []string{"a", "b"}, LastRepairedAt: 100},
		{Range: token.Range{Start: 10, End: 20}, Replicas: []string{"b", "a"}, LastRepairedAt: 50},
		{Range: token.Range{Start: 20, End: 30}, Replicas: []string{"c", "d"}, LastRepairedAt: 200},
	}

	snap := NewSnapshot(vnodes, true, 0)

	if len(snap.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(snap.Groups))
	}
	if len(snap.Groups[0].Vnodes) != 2 {
		t.Errorf("expected group 0 to have 2 vnodes, got %d", len(snap.Groups[0].Vnodes))
	}
	if snap.Groups[0].LastCompletedAt != 50 {
		t.Errorf("expected group 0 last completed at 50, got %d", snap.Groups[0].LastCompletedAt)
	}
	if snap.Groups[1].LastCompletedAt != 200 {
		t.Errorf("expected group 1 last completed at 200, got %d", snap.Groups[1].LastCompletedAt)
	}
	if snap.LastCompletedAt != 50 {
		t.Errorf("expected snapshot last completed at 50, got %d", snap.LastCompletedAt)
	}
}

func TestNewSnapshotEmpty(t *testing.T) {
	snap := NewSnapshot(nil, false, 0)
	if len(snap.Groups) != 0 {
		t.Errorf("expected no groups, got %d", len(snap.Groups))
	}
	if snap.LastCompletedAt != 0 {
		t.Errorf("expected 0, got %d", snap.LastCompletedAt)
	}
}

func TestFreshVnodeCount(t *testing.T) {
	vnodes := []VnodeRepairState{
		{LastRepairedAt: 1000},
		{LastRepairedAt: 500},
	}
	snap := NewSnapshot(vnodes, true, 0)

	now := time.UnixMilli(1000)
	if got := snap.FreshVnodeCount(now, 100*time.Millisecond); got != 1 {
		t.Errorf("expected 1 fresh vnode, got %d", got)
	}
	if got := snap.FreshVnodeCount(now, 1000*time.Millisecond); got != 2 {
		t.Errorf("expected 2 fresh vnodes, got %d", got)
	}
}
