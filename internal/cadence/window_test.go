package cadence

import (
	"context"
	"testing"
	"time"

	"github.com/masokol/ecchronos/pkg/repair/state"
)

func TestWindowBlocksDuringItsDuration(t *testing.T) {
	w, err := NewWindow("0 2 * * *", 2*time.Hour) // daily 02:00-04:00 UTC
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	table := state.TableRef{Keyspace: "ks", Table: "t"}

	w.now = func() time.Time { return time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC) }
	if w.Runnable(context.Background(), table) {
		t.Error("expected window to block repairs at 03:00")
	}

	w.now = func() time.Time { return time.Date(2026, 1, 2, 5, 0, 0, 0, time.UTC) }
	if !w.Runnable(context.Background(), table) {
		t.Error("expected window to allow repairs at 05:00")
	}
}

func TestNewWindowRejectsInvalidExpression(t *testing.T) {
	if _, err := NewWindow("not a cron expr", time.Hour); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestNewWindowRejectsNonPositiveDuration(t *testing.T) {
	if _, err := NewWindow("0 2 * * *", 0); err == nil {
		t.Fatal("expected an error for a non-positive duration")
	}
}
