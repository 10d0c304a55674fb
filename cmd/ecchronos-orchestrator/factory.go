package main

import (
	"context"

	"github.com/masokol/ecchronos/pkg/repair/state"
)

// staticFactory is a placeholder state.Factory that reports every table as
// already fully repaired. It has no history or transport dependency, so a
// deployment can boot and serve metrics before a real, collaborator-backed
// factory is wired in.
type staticFactory struct{}

func (staticFactory) Create(context.Context, state.TableRef, state.Config) (state.RepairState, error) {
	return &staticState{}, nil
}

type staticState struct{}

func (*staticState) Update(context.Context) error { return nil }

func (*staticState) Snapshot() state.Snapshot {
	return state.NewSnapshot(nil, true, 0)
}
