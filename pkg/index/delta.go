// Copyright © 2018 One Concern

package index

import (
	"fmt"
	"sort"

	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/model"
)

// ConflictError reports an external key claimed by an entity while owned by another one
type ConflictError struct {
	Index    model.IndexName
	Key      string
	Owner    model.Key
	Claimant model.Key
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s %q is already owned by %s, cannot be claimed by %s",
		status.ErrConflict, e.Index, e.Key, e.Owner, e.Claimant)
}

// Unwrap yields the conflict sentinel
func (e *ConflictError) Unwrap() error {
	return status.ErrConflict
}

// Delta is a validated change of an index
type Delta struct {
	Index   model.IndexName
	Adds    map[string]model.Key
	Removes map[string]model.Key
}

// IsEmpty tells if the delta changes nothing
func (d Delta) IsEmpty() bool {
	return len(d.Adds) == 0 && len(d.Removes) == 0
}

// Builder aggregates the index changes of all entities taking part in a batch
type Builder struct {
	snapshot *Snapshot
	claims   map[string][]model.Key
	removes  map[string]model.Key
}

// NewBuilder prepares changes against an index snapshot
func NewBuilder(snapshot *Snapshot) *Builder {
	return &Builder{
		snapshot: snapshot,
		claims:   make(map[string][]model.Key),
		removes:  make(map[string]model.Key),
	}
}

// Snapshot the changes are validated against
func (b *Builder) Snapshot() *Snapshot {
	return b.snapshot
}

// Add claims keys for an owner
func (b *Builder) Add(owner model.Key, keys ...string) *Builder {
	for _, key := range keys {
		b.claims[key] = append(b.claims[key], owner)
	}
	return b
}

// Remove releases keys held by an owner
func (b *Builder) Remove(owner model.Key, keys ...string) *Builder {
	for _, key := range keys {
		b.removes[key] = owner
	}
	return b
}

// Build validates uniqueness against the snapshot and yields the net delta.
//
// Removing a key not owned by the remover is a no-op. Claiming a key owned by another entity is
// a conflict, unless that entity releases it in the same batch. Two entities claiming the same key
// in one batch conflict.
func (b *Builder) Build() (Delta, error) {
	delta := Delta{
		Index:   b.snapshot.Name,
		Adds:    make(map[string]model.Key),
		Removes: make(map[string]model.Key),
	}

	for key, owner := range b.removes {
		if current, ok := b.snapshot.Owner(key); ok && current == owner {
			delta.Removes[key] = owner
		}
	}

	keys := make([]string, 0, len(b.claims))
	for key := range b.claims {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		claimants := b.claims[key]
		claimant := claimants[0]
		for _, other := range claimants[1:] {
			if other != claimant {
				return Delta{}, &ConflictError{Index: delta.Index, Key: key, Owner: claimant, Claimant: other}
			}
		}

		current, owned := b.snapshot.Owner(key)
		switch {
		case !owned:
			delta.Adds[key] = claimant
		case current == claimant:
			// already owned: nothing to do, unless released in the same batch
			if _, released := delta.Removes[key]; released {
				delete(delta.Removes, key)
			}
		default:
			if _, released := delta.Removes[key]; !released {
				return Delta{}, &ConflictError{Index: delta.Index, Key: key, Owner: current, Claimant: claimant}
			}
			delete(delta.Removes, key)
			delta.Adds[key] = claimant
		}
	}
	return delta, nil
}

// ComputeDelta validates the keys gained and lost by a single owner against a snapshot
func ComputeDelta(snapshot *Snapshot, owner model.Key, adds, removes []string) (Delta, error) {
	return NewBuilder(snapshot).Add(owner, adds...).Remove(owner, removes...).Build()
}
