// Package cadence adapts cron expressions into the Policy gate the job
// package consults, giving the orchestrator a way to block repairs during
// recurring maintenance windows without touching its scheduling math.
package cadence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/masokol/ecchronos/pkg/repair/state"
)

// maxLookbackTicks bounds how many past occurrences Window.Runnable will
// scan looking for one that covers now. It is generous enough for any
// cron cadence down to once a minute over a multi-day window.
const maxLookbackTicks = 10000

// Window is a recurring maintenance window, defined by a standard cron
// expression marking its start and a duration it stays open for. It
// implements collab.Policy: repairs are blocked while the window is open.
type Window struct {
	schedule cron.Schedule
	duration time.Duration
	now      func() time.Time
}

// NewWindow parses expr as a standard 5-field cron expression and builds
// a Window that is open for duration starting at each occurrence.
func NewWindow(expr string, duration time.Duration) (*Window, error) {
	if duration <= 0 {
		return nil, errors.New("cadence: window duration must be > 0")
	}

	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errors.Wrap(err, "parse cron expression")
	}

	return &Window{schedule: schedule, duration: duration, now: time.Now}, nil
}

// Runnable implements collab.Policy: it reports false while now falls
// inside an occurrence of the window.
func (w *Window) Runnable(context.Context, state.TableRef) bool {
	return !w.isOpen(w.now())
}

func (w *Window) isOpen(now time.Time) bool {
	t := now.Add(-w.duration)
	for i := 0; i < maxLookbackTicks; i++ {
		next := w.schedule.Next(t)
		if next.After(now) {
			return false
		}
		if !next.After(now) && next.Add(w.duration).After(now) {
			return true
		}
		t = next
	}
	return false
}
